package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
)

// statementCache owns every compiled statement the repositories reuse:
// one insert adapter per table plus one shared statement per query text.
type statementCache struct {
	db     *sqlx.DB
	closed atomic.Bool

	mu         sync.Mutex
	adapters   map[string]*insertAdapter
	statements map[string]*sharedStatement
}

func newStatementCache(db *sqlx.DB) *statementCache {
	return &statementCache{
		db:         db,
		adapters:   make(map[string]*insertAdapter),
		statements: make(map[string]*sharedStatement),
	}
}

// insertAdapter is the upsert for one table. The identity is bound through
// nullif so that 0 lets SQLite assign a fresh rowid.
type insertAdapter struct {
	table   string
	columns []string
	stmt    *sharedStatement
}

func insertSQL(table string, columns []Column) (string, []string) {
	names := make([]string, len(columns))
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
		quoted[i] = quoteIdent(c.Name)
		marks[i] = "?"
		if c.PrimaryKeyPosition == 1 {
			marks[i] = "nullif(?, 0)"
		}
	}
	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ","), strings.Join(marks, ","))
	return query, names
}

// adapter returns the insert adapter for table, building it on first use.
func (c *statementCache) adapter(table string, columns []Column) *insertAdapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.adapters[table]; ok {
		return a
	}
	query, names := insertSQL(table, columns)
	a := &insertAdapter{table: table, columns: names, stmt: c.statementLocked(query)}
	c.adapters[table] = a
	return a
}

// statement returns the shared statement for query. Preparation is deferred
// until the first acquire.
func (c *statementCache) statement(query string) *sharedStatement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statementLocked(query)
}

func (c *statementCache) statementLocked(query string) *sharedStatement {
	if s, ok := c.statements[query]; ok {
		return s
	}
	s := &sharedStatement{cache: c, query: query}
	c.statements[query] = s
	return s
}

// Close closes every prepared statement. Later acquires fail with ErrClosed.
func (c *statementCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, s := range c.statements {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sharedStatement is a compiled statement that at most one caller holds at a
// time. A caller that finds it held gets a fresh statement of its own, so
// parameter binding from two callers never interleaves.
type sharedStatement struct {
	cache *statementCache
	query string
	held  atomic.Bool

	mu   sync.Mutex
	stmt *sqlx.Stmt
}

// acquire returns a statement scoped to ctx and the func that releases it.
// The release func must run on every exit path. Inside a transaction it
// never takes a second connection from the pool: an unprepared or held
// statement is compiled privately on the transaction's connection.
func (s *sharedStatement) acquire(ctx context.Context) (*sqlx.Stmt, func(), error) {
	if s.cache.closed.Load() {
		return nil, nil, ErrClosed
	}
	st := txFrom(ctx)
	if s.held.CompareAndSwap(false, true) {
		var stmt *sqlx.Stmt
		var err error
		if st == nil {
			stmt, err = s.prepared(ctx)
		} else {
			stmt = s.current()
		}
		if err != nil {
			s.held.Store(false)
			return nil, nil, err
		}
		if stmt != nil {
			if st != nil {
				stmt = st.tx.StmtxContext(ctx, stmt)
			}
			return stmt, func() { s.held.Store(false) }, nil
		}
		s.held.Store(false)
	}

	var fresh *sqlx.Stmt
	var err error
	if st != nil {
		fresh, err = st.tx.PreparexContext(ctx, s.query)
	} else {
		fresh, err = s.cache.db.PreparexContext(ctx, s.query)
	}
	if err != nil {
		return nil, nil, &StorageError{Op: "prepare", Err: err}
	}
	statementPreparesTotal.WithLabelValues("fresh").Inc()
	return fresh, func() { fresh.Close() }, nil
}

// warm compiles the shared statement ahead of a transaction so that the
// transaction can reuse it. It does nothing when ctx already carries one.
func (s *sharedStatement) warm(ctx context.Context) error {
	if s.cache.closed.Load() {
		return ErrClosed
	}
	if txFrom(ctx) != nil {
		return nil
	}
	_, err := s.prepared(ctx)
	return err
}

func (s *sharedStatement) current() *sqlx.Stmt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stmt
}

func (s *sharedStatement) prepared(ctx context.Context) (*sqlx.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stmt != nil {
		return s.stmt, nil
	}
	stmt, err := s.cache.db.PreparexContext(ctx, s.query)
	if err != nil {
		return nil, &StorageError{Op: "prepare", Err: err}
	}
	statementPreparesTotal.WithLabelValues("cached").Inc()
	s.stmt = stmt
	return stmt, nil
}

func (s *sharedStatement) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stmt == nil {
		return nil
	}
	err := s.stmt.Close()
	s.stmt = nil
	return err
}
