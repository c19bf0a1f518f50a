package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// seedFile creates a database file with the given statements, bypassing the store.
func seedFile(t *testing.T, stmts ...string) Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.db")
	db, err := sqlx.Open("sqlite3", "file:"+path)
	require.NoError(t, err)
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.Close())

	cfg := DefaultConfig()
	cfg.Path = path
	return cfg
}

func stamp(hash string, version int) []string {
	return []string{
		createMetadataSQL,
		fmt.Sprintf("INSERT INTO %s (id, identity_hash) VALUES (1, '%s')", metadataTable, hash),
		fmt.Sprintf("PRAGMA user_version = %d", version),
	}
}

func TestCreateSQL(t *testing.T) {
	require.Equal(t,
		`CREATE TABLE IF NOT EXISTS "profiles" ("id" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, "name" TEXT NOT NULL, "age" INTEGER NOT NULL, "photoUrl" TEXT)`,
		Schema[2].CreateSQL())
	require.Len(t, IdentityHash, 16)
	require.Equal(t, IdentityHash, computeIdentityHash(Schema))
}

func TestFreshStoreIsStamped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	hash, found, err := readIdentityHash(ctx, s.db)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, IdentityHash, hash)

	v, err := readUserVersion(ctx, s.db)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, v)

	for _, table := range Schema {
		cols, err := ReadTableInfo(ctx, s.db, table.Name)
		require.NoError(t, err)
		require.Nil(t, compareTable(table, cols))
	}
}

func TestOpenRejectsMissingColumn(t *testing.T) {
	cfg := seedFile(t,
		Schema[0].CreateSQL(),
		Schema[1].CreateSQL(),
		`CREATE TABLE profiles (id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, name TEXT NOT NULL, age INTEGER NOT NULL)`,
	)

	_, err := Open(context.Background(), cfg, WithLogger(quietLogger()))
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, TableProfiles, verr.Table)
	require.Equal(t, []string{"photoUrl"}, verr.Missing)
	require.Len(t, verr.Expected, 4)
	require.Len(t, verr.Found, 3)
	require.Contains(t, err.Error(), "photoUrl")
}

func TestCompareTable(t *testing.T) {
	expected := Schema[2]

	reordered := []Column{expected.Columns[3], expected.Columns[1], expected.Columns[0], expected.Columns[2]}
	require.Nil(t, compareTable(expected, reordered))

	nullable := append([]Column(nil), expected.Columns...)
	nullable[1].NotNull = false
	verr := compareTable(expected, nullable)
	require.NotNil(t, verr)
	require.Equal(t, []string{"name"}, verr.Mismatched)

	extra := append(append([]Column(nil), expected.Columns...), Column{Name: "nickname", Type: TypeText})
	verr = compareTable(expected, extra)
	require.NotNil(t, verr)
	require.Equal(t, []string{"nickname"}, verr.Unexpected)

	verr = compareTable(expected, nil)
	require.NotNil(t, verr)
	require.Equal(t, "table does not exist", verr.Reason)

	// VARCHAR has TEXT affinity.
	varchar := append([]Column(nil), expected.Columns...)
	varchar[1].Type = "VARCHAR(64)"
	require.Nil(t, compareTable(expected, varchar))
}

func TestMigratesVersionFourStore(t *testing.T) {
	ctx := context.Background()
	stmts := []string{
		Schema[0].CreateSQL(),
		Schema[2].CreateSQL(),
		`CREATE TABLE reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
			timeMinutes INTEGER NOT NULL,
			frequency TEXT NOT NULL,
			associatedActivityId INTEGER NOT NULL,
			profileId INTEGER NOT NULL,
			daysBefore INTEGER NOT NULL,
			eventDateTimestamp INTEGER NOT NULL
		)`,
		`INSERT INTO reminders (id, timeMinutes, frequency, associatedActivityId, profileId, daysBefore, eventDateTimestamp)
		 VALUES (7, 480, 'daily', 0, 1, 2, 1000)`,
	}
	cfg := seedFile(t, append(stmts, stamp("version-four", 4)...)...)

	var resets int
	s, err := Open(ctx, cfg, WithLogger(quietLogger()), WithResetHook(func(int) { resets++ }))
	require.NoError(t, err)
	defer s.Close()
	require.Zero(t, resets)

	got, err := s.Reminders().GetByID(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, &Reminder{
		ID:                 7,
		Name:               "",
		TimeMinutes:        480,
		Frequency:          FrequencyDaily,
		ProfileID:          1,
		DaysBefore:         2,
		EventDateTimestamp: 1000,
		SnoozeEnabled:      true,
	}, got)

	hash, _, err := readIdentityHash(ctx, s.db)
	require.NoError(t, err)
	require.Equal(t, IdentityHash, hash)
	v, err := readUserVersion(ctx, s.db)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, v)

	// New rows continue after the migrated ones.
	id, err := s.Reminders().Insert(ctx, Reminder{Name: "new", Frequency: FrequencyOnce})
	require.NoError(t, err)
	require.Equal(t, int64(8), id)
}

func TestMigratesUnstampedLegacyStore(t *testing.T) {
	ctx := context.Background()
	cfg := seedFile(t,
		`CREATE TABLE room_master_table (id INTEGER PRIMARY KEY, identity_hash TEXT)`,
		`INSERT INTO room_master_table (id, identity_hash) VALUES (42, 'legacy')`,
		Schema[0].CreateSQL(),
		Schema[2].CreateSQL(),
		`CREATE TABLE reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
			timeMinutes INTEGER NOT NULL,
			frequency TEXT NOT NULL,
			associatedActivityId INTEGER NOT NULL,
			profileId INTEGER NOT NULL,
			daysBefore INTEGER NOT NULL,
			eventDateTimestamp INTEGER NOT NULL
		)`,
		`INSERT INTO reminders (id, timeMinutes, frequency, associatedActivityId, profileId, daysBefore, eventDateTimestamp)
		 VALUES (3, 420, 'weekly', 0, 1, 0, 0)`,
		`PRAGMA user_version = 4`,
	)

	var resets int
	s, err := Open(ctx, cfg, WithLogger(quietLogger()), WithResetHook(func(int) { resets++ }))
	require.NoError(t, err)
	defer s.Close()
	require.Zero(t, resets)

	got, err := s.Reminders().GetByID(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 420, got.TimeMinutes)
	require.Equal(t, FrequencyWeekly, got.Frequency)
	require.True(t, got.SnoozeEnabled)

	hash, found, err := readIdentityHash(ctx, s.db)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, IdentityHash, hash)
	v, err := readUserVersion(ctx, s.db)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, v)
}

func TestDestructiveFallback(t *testing.T) {
	ctx := context.Background()
	stmts := append([]string{
		`CREATE TABLE activities (id INTEGER PRIMARY KEY, legacy TEXT)`,
		`INSERT INTO activities (id, legacy) VALUES (1, 'gone')`,
	}, stamp("ancient", 99)...)

	t.Run("enabled", func(t *testing.T) {
		cfg := seedFile(t, stmts...)
		before := testutil.ToFloat64(schemaResetsTotal)

		var from int
		s, err := Open(ctx, cfg, WithLogger(quietLogger()), WithResetHook(func(v int) { from = v }))
		require.NoError(t, err)
		defer s.Close()

		require.Equal(t, 99, from)
		require.Equal(t, before+1, testutil.ToFloat64(schemaResetsTotal))
		all, err := s.Activities().GetAll(ctx)
		require.NoError(t, err)
		require.Empty(t, all)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := seedFile(t, stmts...)
		cfg.DestructiveFallback = false

		_, err := Open(ctx, cfg, WithLogger(quietLogger()))
		require.ErrorIs(t, err, ErrValidation)
		require.Contains(t, err.Error(), "no migration path")
	})
}

func TestCustomMigrationTakesLongestStep(t *testing.T) {
	ctx := context.Background()
	var applied bool
	skip := Migration{From: 3, To: 5, Name: "rebuild", Apply: func(ctx context.Context, tx *sqlx.Tx) error {
		applied = true
		for _, stmt := range []string{
			`DROP TABLE reminders`,
			Schema[1].CreateSQL(),
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}}

	cfg := seedFile(t, append([]string{
		Schema[0].CreateSQL(),
		Schema[2].CreateSQL(),
		`CREATE TABLE reminders (id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, timeMinutes INTEGER NOT NULL)`,
	}, stamp("version-three", 3)...)...)

	s, err := Open(ctx, cfg, WithLogger(quietLogger()), WithMigrations(skip))
	require.NoError(t, err)
	defer s.Close()
	require.True(t, applied)
}

func TestMigrationPath(t *testing.T) {
	steps := []Migration{
		{From: 1, To: 2}, {From: 2, To: 3}, {From: 1, To: 3}, {From: 3, To: 5}, {From: 3, To: 4}, {From: 4, To: 5},
	}
	path := migrationPath(steps, 1, 5)
	require.Len(t, path, 2)
	require.Equal(t, [2]int{1, 3}, [2]int{path[0].From, path[0].To})
	require.Equal(t, [2]int{3, 5}, [2]int{path[1].From, path[1].To})

	require.Nil(t, migrationPath(steps, 0, 5))
	require.Nil(t, migrationPath(steps, 5, 5))
	require.Nil(t, migrationPath(steps[:2], 1, 5))
}

func TestLoadMigrations(t *testing.T) {
	builtin, err := DefaultMigrations()
	require.NoError(t, err)
	require.Len(t, builtin, 4)
	for i, m := range builtin {
		require.Equal(t, i+1, m.From)
		require.Equal(t, i+2, m.To)
	}
	require.Len(t, migrationPath(builtin, 1, SchemaVersion), 4)

	_, err = loadMigrations(fstest.MapFS{"bad.sql": {Data: []byte("SELECT 1")}})
	require.Error(t, err)
	_, err = loadMigrations(fstest.MapFS{"x_2_oops.sql": {Data: []byte("SELECT 1")}})
	require.Error(t, err)
}
