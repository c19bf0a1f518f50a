package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/jmoiron/sqlx"
)

// SchemaVersion is the version stamped in PRAGMA user_version.
const SchemaVersion = 5

const metadataTable = "schema_identity"

// TableSchema is the compiled description of one table.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// CreateSQL renders the CREATE TABLE statement for the descriptor.
func (t TableSchema) CreateSQL() string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		def := quoteIdent(c.Name) + " " + c.Type
		if c.PrimaryKeyPosition == 1 {
			def += " PRIMARY KEY AUTOINCREMENT"
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(t.Name), strings.Join(defs, ", "))
}

// Schema lists every data table, in creation order.
var Schema = []TableSchema{
	{Name: TableActivities, Columns: activityMapping.columns()},
	{Name: TableReminders, Columns: reminderMapping.columns()},
	{Name: TableProfiles, Columns: profileMapping.columns()},
}

// IdentityHash fingerprints the compiled schema. A store whose recorded
// hash differs needs migration.
var IdentityHash = computeIdentityHash(Schema)

func computeIdentityHash(tables []TableSchema) string {
	stmts := make([]string, len(tables))
	for i, t := range tables {
		stmts[i] = t.CreateSQL()
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(stmts, "\n")))
}

func tableNames() []string {
	names := make([]string, len(Schema))
	for i, t := range Schema {
		names[i] = t.Name
	}
	return names
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// =============================================================================
// Metadata
// =============================================================================

const createMetadataSQL = `CREATE TABLE IF NOT EXISTS ` + metadataTable + ` (id INTEGER PRIMARY KEY, identity_hash TEXT)`

func readIdentityHash(ctx context.Context, q sqlx.QueryerContext) (string, bool, error) {
	var hash sql.NullString
	err := sqlx.GetContext(ctx, q, &hash, `SELECT identity_hash FROM `+metadataTable+` WHERE id = 1`)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash.String, hash.Valid, nil
}

func writeIdentityHash(ctx context.Context, tx *sqlx.Tx, hash string, version int) error {
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO `+metadataTable+` (id, identity_hash) VALUES (1, ?)`, hash); err != nil {
		return fmt.Errorf("write identity hash: %w", err)
	}
	// PRAGMA cannot be parameterized.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("stamp version %d: %w", version, err)
	}
	return nil
}

func readUserVersion(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	var v int
	if err := sqlx.GetContext(ctx, q, &v, "PRAGMA user_version"); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// =============================================================================
// Validation
// =============================================================================

type tableInfoRow struct {
	CID          int            `db:"cid"`
	Name         string         `db:"name"`
	Type         string         `db:"type"`
	NotNull      int            `db:"notnull"`
	DefaultValue sql.NullString `db:"dflt_value"`
	PK           int            `db:"pk"`
}

// ReadTableInfo returns the live columns of table, empty if it does not exist.
func ReadTableInfo(ctx context.Context, q sqlx.QueryerContext, table string) ([]Column, error) {
	var rows []tableInfoRow
	if err := sqlx.SelectContext(ctx, q, &rows, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table))); err != nil {
		return nil, fmt.Errorf("read table info %s: %w", table, err)
	}
	cols := make([]Column, len(rows))
	for i, r := range rows {
		cols[i] = Column{
			Name:               r.Name,
			Type:               r.Type,
			NotNull:            r.NotNull != 0,
			PrimaryKeyPosition: r.PK,
		}
	}
	return cols, nil
}

// validateSchema compares every table with its descriptor and returns the
// first mismatch as a *ValidationError.
func validateSchema(ctx context.Context, q sqlx.QueryerContext) error {
	for _, t := range Schema {
		found, err := ReadTableInfo(ctx, q, t.Name)
		if err != nil {
			return &StorageError{Op: "validate schema", Err: err}
		}
		if verr := compareTable(t, found); verr != nil {
			return verr
		}
	}
	return nil
}

// compareTable matches columns by name, so ordering differences in the live
// table are not drift.
func compareTable(expected TableSchema, found []Column) *ValidationError {
	verr := &ValidationError{Table: expected.Name, Expected: expected.Columns, Found: found}
	if len(found) == 0 {
		verr.Reason = "table does not exist"
		return verr
	}

	live := make(map[string]Column, len(found))
	for _, c := range found {
		live[c.Name] = c
	}
	want := make(map[string]struct{}, len(expected.Columns))
	for _, c := range expected.Columns {
		want[c.Name] = struct{}{}
		got, ok := live[c.Name]
		if !ok {
			verr.Missing = append(verr.Missing, c.Name)
			continue
		}
		if typeAffinity(got.Type) != typeAffinity(c.Type) ||
			got.NotNull != c.NotNull ||
			got.PrimaryKeyPosition != c.PrimaryKeyPosition {
			verr.Mismatched = append(verr.Mismatched, c.Name)
		}
	}
	for _, c := range found {
		if _, ok := want[c.Name]; !ok {
			verr.Unexpected = append(verr.Unexpected, c.Name)
		}
	}
	if len(verr.Missing) == 0 && len(verr.Unexpected) == 0 && len(verr.Mismatched) == 0 {
		return nil
	}
	sort.Strings(verr.Unexpected)
	return verr
}

// typeAffinity applies SQLite's column affinity rules to a declared type.
func typeAffinity(declared string) string {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "INT"):
		return "INTEGER"
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return "TEXT"
	case t == "", strings.Contains(t, "BLOB"):
		return "BLOB"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return "REAL"
	default:
		return "NUMERIC"
	}
}
