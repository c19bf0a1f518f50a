package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ncruces/go-sqlite3"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrValidation  = errors.New("schema validation failed")
	ErrConstraint  = errors.New("constraint violated")
	ErrTransaction = errors.New("transaction failed")
	ErrStorage     = errors.New("storage failure")

	// ErrCorrupt marks data read back from disk that breaks a declared
	// constraint, such as NULL in a NOT NULL column.
	ErrCorrupt = errors.New("store corruption detected")

	ErrClosed = errors.New("store is closed")
)

// ValidationError reports a table whose live shape differs from the
// compiled descriptor.
type ValidationError struct {
	Table      string
	Expected   []Column
	Found      []Column
	Missing    []string
	Unexpected []string
	Mismatched []string
	Reason     string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema validation failed for table %s", e.Table)
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing columns %v", e.Missing)
	}
	if len(e.Unexpected) > 0 {
		fmt.Fprintf(&b, "; unexpected columns %v", e.Unexpected)
	}
	if len(e.Mismatched) > 0 {
		fmt.Fprintf(&b, "; mismatched columns %v", e.Mismatched)
	}
	fmt.Fprintf(&b, "\n expected: %s\n found: %s", formatColumns(e.Expected), formatColumns(e.Found))
	return b.String()
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConstraintError reports a write rejected because a value falls outside
// its column's declared domain or violates a store constraint.
type ConstraintError struct {
	Table  string
	Column string
	Err    error
}

func (e *ConstraintError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("constraint violated on %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("constraint violated on %s.%s: %v", e.Table, e.Column, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

func (e *ConstraintError) Is(target error) bool { return target == ErrConstraint }

// TransactionError wraps the failure that caused a transaction to roll back.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction rolled back: %v", e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool { return target == ErrTransaction }

// StorageError wraps an underlying I/O or driver failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// translate classifies a driver error raised while writing to table.
func translate(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) && serr.Code() == sqlite3.CONSTRAINT {
		return &ConstraintError{Table: table, Err: err}
	}
	return &StorageError{Op: op, Err: err}
}

func formatColumns(cols []Column) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, c.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
