package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kittclouds/kidtrack/pkg/pool"
)

// repository is the CRUD engine shared by the entity repositories. It is
// immutable after construction.
type repository[T any] struct {
	m       *mapping[T]
	exec    *executor
	cache   *statementCache
	adapter *insertAdapter
}

func newRepository[T any](m *mapping[T], exec *executor, cache *statementCache) *repository[T] {
	return &repository[T]{
		m:       m,
		exec:    exec,
		cache:   cache,
		adapter: cache.adapter(m.table, m.columns()),
	}
}

// put upserts e under key and returns the stored identity. The entity is
// encoded before the transaction opens, so a domain violation comes back as
// a bare *ConstraintError.
func (r *repository[T]) put(ctx context.Context, key RecordKey, e T) (int64, error) {
	if !key.IsNew() && key.ID() <= 0 {
		return 0, &ConstraintError{
			Table:  r.m.table,
			Column: "id",
			Err:    fmt.Errorf("replace target must be positive, got %d", key.ID()),
		}
	}
	*r.m.id(&e) = key.ID()
	args, err := r.m.encode(&e)
	if err != nil {
		return 0, err
	}
	defer pool.PutArgs(args)
	if err := r.adapter.stmt.warm(ctx); err != nil {
		return 0, err
	}

	var id int64
	err = r.exec.run(ctx, func(ctx context.Context) error {
		res, err := r.execShared(ctx, "insert into "+r.m.table, r.adapter.stmt, *args...)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return &StorageError{Op: "insert into " + r.m.table, Err: err}
		}
		touch(ctx, r.m.table)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// deleteWhere runs a single-statement delete and returns the rows removed.
// The table is only reported as changed when something was removed.
func (r *repository[T]) deleteWhere(ctx context.Context, query string, arg any) (int64, error) {
	ss := r.cache.statement(query)
	if err := ss.warm(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := r.exec.run(ctx, func(ctx context.Context) error {
		res, err := r.execShared(ctx, "delete from "+r.m.table, ss, arg)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return &StorageError{Op: "delete from " + r.m.table, Err: err}
		}
		if n > 0 {
			touch(ctx, r.m.table)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *repository[T]) execShared(ctx context.Context, op string, ss *sharedStatement, args ...any) (sql.Result, error) {
	stmt, release, err := ss.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, translate(op, r.m.table, err)
	}
	return res, nil
}

// list runs a read query and decodes every row by column name.
func (r *repository[T]) list(ctx context.Context, query string, args ...any) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stmt, release, err := r.cache.statement(query).acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := stmt.QueryxContext(ctx, args...)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, &StorageError{Op: "query " + r.m.table, Err: err}
	}
	return r.m.scanAll(ctx, rows)
}

// get returns the first row of query, or nil when there is none.
func (r *repository[T]) get(ctx context.Context, query string, args ...any) (*T, error) {
	found, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}
