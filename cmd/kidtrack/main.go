// Command kidtrack inspects and maintains a KidTrack database.
//
//	kidtrack [-db PATH] profiles
//	kidtrack [-db PATH] activities [-profile ID]
//	kidtrack [-db PATH] reminders [-profile ID]
//	kidtrack [-db PATH] export [-o FILE]
//	kidtrack [-db PATH] import FILE
//	kidtrack [-db PATH] report [-weekly | -upcoming | -overdue]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kittclouds/kidtrack/internal/report"
	"github.com/kittclouds/kidtrack/internal/store"
)

var errUsage = errors.New("usage: kidtrack [-db PATH] profiles|activities|reminders|export|import|report")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := store.LoadConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("kidtrack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Path, "db", cfg.Path, "path to the sqlite database (default: KIDTRACK_DB_PATH)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	logger := newLogger(stderr, os.Getenv("KIDTRACK_LOG_LEVEL"))
	s, err := store.Open(ctx, cfg, store.WithLogger(logger), store.WithResetHook(func(from int) {
		logger.Warn("database was recreated, previous data discarded", slog.Int("from_version", from))
	}))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "profiles":
		profiles, err := s.Profiles().GetAll(ctx)
		if err != nil {
			return err
		}
		return writeJSON(stdout, profiles)
	case "activities", "reminders":
		return list(ctx, s, cmd, rest, stdout, stderr)
	case "export":
		return export(ctx, s, rest, stdout, stderr)
	case "import":
		if len(rest) != 1 {
			return errUsage
		}
		data, err := os.ReadFile(rest[0])
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		if err := s.Import(ctx, data); err != nil {
			return err
		}
		logger.Info("import complete", slog.String("file", rest[0]))
		return nil
	case "report":
		return printReport(ctx, s, rest, stdout, stderr)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func list(ctx context.Context, s *store.Store, cmd string, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	profile := fs.Int64("profile", 0, "only rows for this profile ID")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var rows any
	var err error
	switch {
	case cmd == "activities" && *profile > 0:
		rows, err = s.Activities().GetByProfile(ctx, *profile)
	case cmd == "activities":
		rows, err = s.Activities().GetAll(ctx)
	case *profile > 0:
		rows, err = s.Reminders().GetByProfile(ctx, *profile)
	default:
		rows, err = s.Reminders().GetAll(ctx)
	}
	if err != nil {
		return err
	}
	return writeJSON(stdout, rows)
}

func export(ctx context.Context, s *store.Store, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("o", "", "write to FILE instead of stdout")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	data, err := s.Export(ctx)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = fmt.Fprintln(stdout, string(data))
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

func printReport(ctx context.Context, s *store.Store, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	weekly := fs.Bool("weekly", false, "summarize the current week only")
	upcoming := fs.Bool("upcoming", false, "list activities dated today or later")
	overdue := fs.Bool("overdue", false, "list activities dated before today")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	now := time.Now()
	switch {
	case *upcoming:
		acts, err := report.Upcoming(ctx, s.Activities(), now)
		if err != nil {
			return err
		}
		return writeJSON(stdout, acts)
	case *overdue:
		acts, err := report.Overdue(ctx, s.Activities(), now)
		if err != nil {
			return err
		}
		return writeJSON(stdout, acts)
	case *weekly:
		summary, err := report.Weekly(ctx, s.Activities(), now)
		if err != nil {
			return err
		}
		return writeJSON(stdout, summary)
	}

	stats, err := report.Build(ctx, s.Activities(), now)
	if err != nil {
		return err
	}
	return writeJSON(stdout, stats)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
