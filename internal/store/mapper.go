package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kittclouds/kidtrack/pkg/pool"
)

// SQLite type affinities used by the descriptors.
const (
	TypeInteger = "INTEGER"
	TypeText    = "TEXT"
)

// Column describes one column of a table.
// PrimaryKeyPosition is 1-based; 0 means the column is not part of the key.
type Column struct {
	Name               string `json:"name"`
	Type               string `json:"type"`
	NotNull            bool   `json:"notNull"`
	PrimaryKeyPosition int    `json:"primaryKeyPosition"`
}

func (c Column) String() string {
	return fmt.Sprintf("%s %s notNull=%t pk=%d", c.Name, c.Type, c.NotNull, c.PrimaryKeyPosition)
}

var errNull = errors.New("unexpected NULL")

// field binds one column to one entity attribute.
type field[T any] struct {
	Column
	encode func(*T) (any, error)
	decode func(*T, any) error
}

// mapping is the row mapper for one entity type: the table it lives in and
// its fields in insertion order. The first field is the identity.
type mapping[T any] struct {
	table  string
	fields []field[T]
	id     func(*T) *int64
}

func newMapping[T any](table string, id func(*T) *int64, fields ...field[T]) *mapping[T] {
	return &mapping[T]{
		table:  table,
		fields: append([]field[T]{identityField(id)}, fields...),
		id:     id,
	}
}

// columns returns the descriptor list for the schema.
func (m *mapping[T]) columns() []Column {
	cols := make([]Column, len(m.fields))
	for i, f := range m.fields {
		cols[i] = f.Column
	}
	return cols
}

// encode writes the bind arguments for e into a pooled slice, in field order.
// Callers return the slice with pool.PutArgs.
func (m *mapping[T]) encode(e *T) (*[]any, error) {
	args := pool.GetArgs()
	for _, f := range m.fields {
		v, err := f.encode(e)
		if err != nil {
			pool.PutArgs(args)
			return nil, &ConstraintError{Table: m.table, Column: f.Name, Err: err}
		}
		*args = append(*args, v)
	}
	return args, nil
}

// decode builds an entity from a name-keyed row.
func (m *mapping[T]) decode(row map[string]any) (T, error) {
	var e T
	for _, f := range m.fields {
		raw, ok := row[f.Name]
		if !ok {
			return e, &StorageError{
				Op:  "decode " + m.table,
				Err: fmt.Errorf("column %s not in result set", f.Name),
			}
		}
		if err := f.decode(&e, raw); err != nil {
			if errors.Is(err, errNull) {
				err = fmt.Errorf("%w: %s.%s: %v", ErrCorrupt, m.table, f.Name, err)
			} else {
				err = fmt.Errorf("%s.%s: %w", m.table, f.Name, err)
			}
			return e, &StorageError{Op: "decode " + m.table, Err: err}
		}
	}
	return e, nil
}

// scanAll drains rows into entities. Cancellation is checked between rows;
// the cursor is closed before any return.
func (m *mapping[T]) scanAll(ctx context.Context, rows *sqlx.Rows) ([]T, error) {
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := pool.GetRow()
		if err := rows.MapScan(row); err != nil {
			pool.PutRow(row)
			return nil, &StorageError{Op: "scan " + m.table, Err: err}
		}
		e, err := m.decode(row)
		pool.PutRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "scan " + m.table, Err: err}
	}
	return out, nil
}

// =============================================================================
// Field kinds
// =============================================================================

func identityField[T any](ref func(*T) *int64) field[T] {
	return field[T]{
		Column: Column{Name: "id", Type: TypeInteger, NotNull: true, PrimaryKeyPosition: 1},
		encode: func(e *T) (any, error) {
			v := *ref(e)
			if v < 0 {
				return nil, fmt.Errorf("identity must not be negative, got %d", v)
			}
			return v, nil
		},
		decode: func(e *T, raw any) error {
			v, err := asInt64(raw)
			if err != nil {
				return err
			}
			*ref(e) = v
			return nil
		},
	}
}

func int64Field[T any](name string, ref func(*T) *int64) field[T] {
	return field[T]{
		Column: Column{Name: name, Type: TypeInteger, NotNull: true},
		encode: func(e *T) (any, error) { return *ref(e), nil },
		decode: func(e *T, raw any) error {
			v, err := asInt64(raw)
			if err != nil {
				return err
			}
			*ref(e) = v
			return nil
		},
	}
}

// boundedIntField stores an int in an INTEGER column and rejects values
// outside [lo, hi] in both directions.
func boundedIntField[T any](name string, lo, hi int64, ref func(*T) *int) field[T] {
	check := func(v int64) error {
		if v < lo || v > hi {
			return fmt.Errorf("value %d outside [%d, %d]", v, lo, hi)
		}
		return nil
	}
	return field[T]{
		Column: Column{Name: name, Type: TypeInteger, NotNull: true},
		encode: func(e *T) (any, error) {
			v := int64(*ref(e))
			if err := check(v); err != nil {
				return nil, err
			}
			return v, nil
		},
		decode: func(e *T, raw any) error {
			v, err := asInt64(raw)
			if err != nil {
				return err
			}
			if err := check(v); err != nil {
				return err
			}
			*ref(e) = int(v)
			return nil
		},
	}
}

func textField[T any](name string, ref func(*T) *string) field[T] {
	return field[T]{
		Column: Column{Name: name, Type: TypeText, NotNull: true},
		encode: func(e *T) (any, error) { return *ref(e), nil },
		decode: func(e *T, raw any) error {
			v, err := asText(raw)
			if err != nil {
				return err
			}
			*ref(e) = v
			return nil
		},
	}
}

func nullableTextField[T any](name string, ref func(*T) **string) field[T] {
	return field[T]{
		Column: Column{Name: name, Type: TypeText},
		encode: func(e *T) (any, error) {
			if p := *ref(e); p != nil {
				return *p, nil
			}
			return nil, nil
		},
		decode: func(e *T, raw any) error {
			if raw == nil {
				*ref(e) = nil
				return nil
			}
			v, err := asText(raw)
			if err != nil {
				return err
			}
			*ref(e) = &v
			return nil
		},
	}
}

func boolField[T any](name string, ref func(*T) *bool) field[T] {
	return field[T]{
		Column: Column{Name: name, Type: TypeInteger, NotNull: true},
		encode: func(e *T) (any, error) { return boolToInt(*ref(e)), nil },
		decode: func(e *T, raw any) error {
			v, err := asInt64(raw)
			if err != nil {
				return err
			}
			*ref(e) = v != 0
			return nil
		},
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func asInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, errNull
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case bool:
		return boolToInt(v), nil
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return 0, fmt.Errorf("non-integral value %v", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
	default:
		return 0, fmt.Errorf("cannot read %T as integer", raw)
	}
}

func asText(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", errNull
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("cannot read %T as text", raw)
	}
}
