package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/ncruces/go-sqlite3/vfs/memdb"
)

// Store is the SQLite-backed data store. It owns the database handle, the
// statement cache and the three repositories, all built before Open
// returns. Safe for concurrent use.
type Store struct {
	cfg    Config
	opts   options
	logger *slog.Logger

	db      *sqlx.DB
	cache   *statementCache
	exec    *executor
	tracker *Tracker

	activities *ActivityRepository
	reminders  *ReminderRepository
	profiles   *ProfileRepository

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	logger             *slog.Logger
	migrations         []Migration
	onDestructiveReset func(fromVersion int)
}

// Option customizes Open.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMigrations registers migrations in addition to the built-in ones.
func WithMigrations(migrations ...Migration) Option {
	return func(o *options) {
		o.migrations = append(o.migrations, migrations...)
	}
}

// WithResetHook is called after a destructive schema rebuild with the
// version that was discarded.
func WithResetHook(fn func(fromVersion int)) Option {
	return func(o *options) {
		o.onDestructiveReset = fn
	}
}

// OpenMemory opens a private in-memory store with the default configuration.
func OpenMemory(ctx context.Context, opts ...Option) (*Store, error) {
	return Open(ctx, DefaultConfig(), opts...)
}

// Open opens the database described by cfg, creates, migrates or validates
// the schema, and returns a ready store. A schema that cannot be reconciled
// fails with *ValidationError.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	cfg.applyDefaults()
	builtin, err := DefaultMigrations()
	if err != nil {
		return nil, err
	}
	o := options{logger: slog.Default(), migrations: builtin}
	for _, opt := range opts {
		opt(&o)
	}

	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open database", Err: err}
	}
	// Idle connections are never reaped; an in-memory database lives only
	// as long as one of them stays open.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "ping database", Err: err}
	}

	s := &Store{cfg: cfg, opts: o, logger: o.logger, db: db}
	if err := s.bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.tracker = NewTracker(o.logger, tableNames()...)
	s.cache = newStatementCache(db)
	s.exec = &executor{db: db, tracker: s.tracker, logger: o.logger}
	s.activities = &ActivityRepository{repo: newRepository(activityMapping, s.exec, s.cache)}
	s.reminders = &ReminderRepository{repo: newRepository(reminderMapping, s.exec, s.cache)}
	s.profiles = &ProfileRepository{repo: newRepository(profileMapping, s.exec, s.cache)}

	o.logger.Info("store opened", slog.String("path", cfg.Path), slog.Int("version", SchemaVersion))
	return s, nil
}

func (c Config) dsn() (string, error) {
	busy := c.BusyTimeout / time.Millisecond
	if c.inMemory() {
		return fmt.Sprintf("file:/kidtrack-%s.db?vfs=memdb&_pragma=busy_timeout(%d)", uuid.NewString(), busy), nil
	}
	abs, err := filepath.Abs(c.Path)
	if err != nil {
		return "", fmt.Errorf("resolve database path: %w", err)
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)", abs, busy), nil
}

func (s *Store) Activities() *ActivityRepository { return s.activities }
func (s *Store) Reminders() *ReminderRepository   { return s.reminders }
func (s *Store) Profiles() *ProfileRepository     { return s.profiles }

// Tracker returns the invalidation tracker observers subscribe to.
func (s *Store) Tracker() *Tracker { return s.tracker }

// RunInTransaction runs work atomically. Repository calls made with the ctx
// passed to work join the transaction; if work returns an error or panics
// nothing it wrote is kept. Calls nest: an inner RunInTransaction joins the
// outer one.
func (s *Store) RunInTransaction(ctx context.Context, work func(ctx context.Context) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.exec.run(ctx, work)
}

// DeleteProfileCascade removes a profile together with its activities and
// reminders in one transaction.
func (s *Store) DeleteProfileCascade(ctx context.Context, profileID int64) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.activities.DeleteByProfile(ctx, profileID); err != nil {
			return err
		}
		if _, err := s.reminders.DeleteByProfile(ctx, profileID); err != nil {
			return err
		}
		_, err := s.profiles.DeleteByID(ctx, profileID)
		return err
	})
}

// DeleteActivityCascade removes an activity and the reminders attached to it
// in one transaction.
func (s *Store) DeleteActivityCascade(ctx context.Context, activityID int64) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.reminders.DeleteByActivity(ctx, activityID); err != nil {
			return err
		}
		_, err := s.activities.DeleteByID(ctx, activityID)
		return err
	})
}

// Close waits for the running write transaction, flushes the WAL into the
// database file and releases every resource. It must not be called from
// inside a transaction. Calling it again is a no-op.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.exec.writeMu.Lock()
		s.closed.Store(true)
		s.exec.closed = true
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("close statements", slog.Any("error", err))
		}
		s.exec.writeMu.Unlock()

		// Observers may still read while the queue drains; they get ErrClosed.
		s.tracker.Close()
		if !s.cfg.inMemory() {
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				s.logger.Warn("checkpoint on close", slog.Any("error", err))
			}
		}
		if err := s.db.Close(); err != nil {
			s.closeErr = &StorageError{Op: "close database", Err: err}
		}
	})
	return s.closeErr
}

// =============================================================================
// Export/Import
// =============================================================================

// Snapshot is the JSON document produced by Export.
type Snapshot struct {
	Profiles   []UserProfile `json:"profiles"`
	Activities []Activity    `json:"activities"`
	Reminders  []Reminder    `json:"reminders"`
}

// Export serializes every table from one consistent read.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var data Snapshot
	err := s.exec.snapshot(ctx, func(ctx context.Context) error {
		var err error
		if data.Profiles, err = s.profiles.GetAll(ctx); err != nil {
			return fmt.Errorf("export profiles: %w", err)
		}
		if data.Activities, err = s.activities.GetAll(ctx); err != nil {
			return fmt.Errorf("export activities: %w", err)
		}
		if data.Reminders, err = s.reminders.GetAll(ctx); err != nil {
			return fmt.Errorf("export reminders: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(data)
}

// Import replaces all data with an exported snapshot, keeping identities.
// It runs as one transaction; empty input is a no-op.
func (s *Store) Import(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("import unmarshal: %w", err)
	}

	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		q := s.exec.querier(ctx)
		for _, table := range tableNames() {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
				return &StorageError{Op: "clear " + table, Err: err}
			}
			touch(ctx, table)
		}
		for _, p := range snap.Profiles {
			if _, err := s.profiles.Insert(ctx, p); err != nil {
				return fmt.Errorf("import profile %d: %w", p.ID, err)
			}
		}
		for _, a := range snap.Activities {
			if _, err := s.activities.Insert(ctx, a); err != nil {
				return fmt.Errorf("import activity %d: %w", a.ID, err)
			}
		}
		for _, r := range snap.Reminders {
			if _, err := s.reminders.Insert(ctx, r); err != nil {
				return fmt.Errorf("import reminder %d: %w", r.ID, err)
			}
		}
		return nil
	})
}

// Compile-time interface check
var _ Storer = (*Store)(nil)
