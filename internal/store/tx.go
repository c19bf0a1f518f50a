package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	errNestedFailure = errors.New("nested transaction failed")
	errReadOnly      = errors.New("write inside read-only snapshot")
)

type txKey struct{}

// txState is the open transaction carried in a context. The context may be
// shared by goroutines of the same unit of work.
type txState struct {
	tx       *sqlx.Tx
	readOnly bool

	mu      sync.Mutex
	touched map[string]struct{}
	// failed is set when a nested unit of work returned an error, even if
	// the enclosing work chose to ignore it.
	failed bool
}

func txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// touch records that table was written by the transaction in ctx.
func touch(ctx context.Context, table string) {
	if st := txFrom(ctx); st != nil {
		st.mu.Lock()
		st.touched[table] = struct{}{}
		st.mu.Unlock()
	}
}

func (st *txState) fail() {
	st.mu.Lock()
	st.failed = true
	st.mu.Unlock()
}

func (st *txState) hasFailed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.failed
}

func (st *txState) tables() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]string, 0, len(st.touched))
	for t := range st.touched {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// executor runs units of work under a single-writer discipline.
type executor struct {
	db      *sqlx.DB
	tracker *Tracker
	logger  *slog.Logger

	writeMu sync.Mutex
	closed  bool // guarded by writeMu
}

// querier returns the transaction in ctx or the shared handle.
func (x *executor) querier(ctx context.Context) sqlx.ExtContext {
	if st := txFrom(ctx); st != nil {
		return st.tx
	}
	return x.db
}

// run executes work in a transaction. A call made with a transaction already
// in ctx joins it, and only the outermost call commits. Once begun, the
// transaction ignores cancellation of ctx and always ends in commit or
// rollback.
func (x *executor) run(ctx context.Context, work func(ctx context.Context) error) error {
	if st := txFrom(ctx); st != nil {
		if st.readOnly {
			return &TransactionError{Err: errReadOnly}
		}
		if err := work(ctx); err != nil {
			st.fail()
			return err
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	if x.closed {
		return ErrClosed
	}

	ctx, span := tracer.Start(ctx, "store.transaction")
	defer span.End()

	base := context.WithoutCancel(ctx)
	tx, err := x.db.BeginTxx(base, nil)
	if err != nil {
		return &TransactionError{Err: &StorageError{Op: "begin transaction", Err: err}}
	}
	defer tx.Rollback()

	st := &txState{tx: tx, touched: make(map[string]struct{})}
	err = work(context.WithValue(base, txKey{}, st))
	if err == nil && st.hasFailed() {
		err = errNestedFailure
	}
	if err == nil {
		if cerr := tx.Commit(); cerr != nil {
			err = &StorageError{Op: "commit", Err: cerr}
		}
	}
	if err != nil {
		tx.Rollback()
		transactionsTotal.WithLabelValues("rollback").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		x.logger.Debug("transaction rolled back", slog.Any("error", err))
		var terr *TransactionError
		if errors.As(err, &terr) {
			return err
		}
		return &TransactionError{Err: err}
	}

	transactionsTotal.WithLabelValues("commit").Inc()
	tables := st.tables()
	span.SetAttributes(attribute.StringSlice("store.tables", tables))
	// Still under writeMu, so observers see commits in commit order.
	x.tracker.notify(tables)
	return nil
}

// snapshot runs fn against a read-only transaction so every read inside it
// sees the same committed state.
func (x *executor) snapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	tx, err := x.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return &StorageError{Op: "begin snapshot", Err: err}
	}
	defer tx.Rollback()
	st := &txState{tx: tx, readOnly: true, touched: make(map[string]struct{})}
	return fn(context.WithValue(ctx, txKey{}, st))
}
