package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kittclouds/kidtrack/internal/store/migrations"
)

// Migration upgrades the on-disk schema from one version to another.
// Apply runs inside the bootstrap transaction.
type Migration struct {
	From  int
	To    int
	Name  string
	Apply func(ctx context.Context, tx *sqlx.Tx) error
}

// SQLMigration builds a Migration that executes a SQL script.
func SQLMigration(from, to int, name, script string) Migration {
	return Migration{
		From: from,
		To:   to,
		Name: name,
		Apply: func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, script)
			return err
		},
	}
}

// DefaultMigrations returns the embedded step migrations, ordered by From.
func DefaultMigrations() ([]Migration, error) {
	return loadMigrations(migrations.FS)
}

func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		parts := strings.SplitN(strings.TrimSuffix(name, ".sql"), "_", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("migration %s: name must start with FROM_TO", name)
		}
		from, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("migration %s: parse from version: %w", name, err)
		}
		to, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("migration %s: parse to version: %w", name, err)
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, SQLMigration(from, to, name, string(content)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out, nil
}

// migrationPath picks, at each step, the registered upgrade that jumps
// furthest without overshooting target. It returns nil when no chain of
// migrations reaches target.
func migrationPath(registered []Migration, from, target int) []Migration {
	if from >= target {
		return nil
	}
	var path []Migration
	current := from
	for current < target {
		best := -1
		for i, m := range registered {
			if m.From != current || m.To <= current || m.To > target {
				continue
			}
			if best < 0 || m.To > registered[best].To {
				best = i
			}
		}
		if best < 0 {
			return nil
		}
		path = append(path, registered[best])
		current = registered[best].To
	}
	return path
}

var errNoMigrationPath = errors.New("no migration path")

// bootstrap brings the store to the compiled schema: create on first open,
// migrate on hash drift or on an unstamped file with an older user_version,
// then validate. Everything runs in one transaction
// so a failed open leaves the file untouched.
func (s *Store) bootstrap(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin bootstrap", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createMetadataSQL); err != nil {
		return &StorageError{Op: "create metadata table", Err: err}
	}
	hash, found, err := readIdentityHash(ctx, tx)
	if err != nil {
		return &StorageError{Op: "read identity hash", Err: err}
	}

	var reset bool
	var previous int
	if !found {
		// Files written before the metadata table existed carry only user_version.
		if previous, err = readUserVersion(ctx, tx); err != nil {
			return &StorageError{Op: "bootstrap", Err: err}
		}
	}
	switch {
	case !found && previous > 0 && previous < SchemaVersion:
		s.logger.Info("upgrading unstamped store", "from", previous, "to", SchemaVersion)
		reset, err = s.upgrade(ctx, tx, previous)
		if err != nil {
			return err
		}
	case !found:
		s.logger.Info("creating schema", "version", SchemaVersion, "hash", IdentityHash)
		if err := createTables(ctx, tx); err != nil {
			return err
		}
		if err := writeIdentityHash(ctx, tx, IdentityHash, SchemaVersion); err != nil {
			return &StorageError{Op: "create schema", Err: err}
		}
	case hash != IdentityHash:
		previous, err = readUserVersion(ctx, tx)
		if err != nil {
			return &StorageError{Op: "migrate", Err: err}
		}
		reset, err = s.upgrade(ctx, tx, previous)
		if err != nil {
			return err
		}
	}

	if err := validateSchema(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit bootstrap", Err: err}
	}
	if reset {
		schemaResetsTotal.Inc()
		if s.opts.onDestructiveReset != nil {
			s.opts.onDestructiveReset(previous)
		}
	}
	return nil
}

// upgrade runs the migration chain from previous to SchemaVersion, falling
// back to a destructive rebuild when allowed. It reports whether the
// rebuild happened.
func (s *Store) upgrade(ctx context.Context, tx *sqlx.Tx, previous int) (bool, error) {
	path := migrationPath(s.opts.migrations, previous, SchemaVersion)
	if path == nil {
		if !s.cfg.DestructiveFallback {
			return false, &ValidationError{
				Table:  metadataTable,
				Reason: fmt.Sprintf("%v from version %d to %d", errNoMigrationPath, previous, SchemaVersion),
			}
		}
		s.logger.Warn("no migration path, recreating tables",
			slog.Int("from", previous), slog.Int("to", SchemaVersion))
		if err := dropTables(ctx, tx); err != nil {
			return false, err
		}
		if err := createTables(ctx, tx); err != nil {
			return false, err
		}
		if err := writeIdentityHash(ctx, tx, IdentityHash, SchemaVersion); err != nil {
			return false, &StorageError{Op: "reset schema", Err: err}
		}
		return true, nil
	}

	for _, m := range path {
		if err := m.Apply(ctx, tx); err != nil {
			return false, &StorageError{Op: fmt.Sprintf("migration %d->%d (%s)", m.From, m.To, m.Name), Err: err}
		}
		s.logger.Info("applied migration", "from", m.From, "to", m.To, "name", m.Name)
	}
	if err := writeIdentityHash(ctx, tx, IdentityHash, SchemaVersion); err != nil {
		return false, &StorageError{Op: "migrate", Err: err}
	}
	return false, nil
}

func createTables(ctx context.Context, tx *sqlx.Tx) error {
	for _, t := range Schema {
		if _, err := tx.ExecContext(ctx, t.CreateSQL()); err != nil {
			return &StorageError{Op: "create table " + t.Name, Err: err}
		}
	}
	return nil
}

func dropTables(ctx context.Context, tx *sqlx.Tx) error {
	for _, name := range tableNames() {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
			return &StorageError{Op: "drop table " + name, Err: err}
		}
	}
	return nil
}
