package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// Store binds a database handle to the dialect that built its statements.
// Dialects build SQL, the store runs it.
type Store struct {
	logger  logger.Logger
	dialect internal.Dialect
	scheme  string
	url     string
	db      *sql.DB
}

// New connects to the database named by the URL, selecting the dialect by
// scheme.
func New(ctx context.Context, log logger.Logger, urlString string) (*Store, error) {
	dialect, scheme, err := internal.LookupDialect(urlString)
	if err != nil {
		return nil, err
	}
	db, err := dialect.Connect(ctx, log, urlString)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", scheme, err)
	}
	return &Store{
		logger:  log.WithPrefix("[store]"),
		dialect: dialect,
		scheme:  scheme,
		url:     urlString,
		db:      db,
	}, nil
}

// NewWithDB wraps an existing database handle, used by tests.
func NewWithDB(log logger.Logger, dialect internal.Dialect, scheme string, db *sql.DB) *Store {
	return &Store{
		logger:  log.WithPrefix("[store]"),
		dialect: dialect,
		scheme:  scheme,
		db:      db,
	}
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the dialect the store was opened with.
func (s *Store) Dialect() internal.Dialect {
	return s.dialect
}

// Scheme returns the registered scheme of the dialect.
func (s *Store) Scheme() string {
	return s.scheme
}

// DB exposes the raw handle for introspection helpers.
func (s *Store) DB() *sql.DB {
	return s.db
}

func observe(started time.Time) {
	internal.QueryDuration.Observe(time.Since(started).Seconds())
}

// Select runs a list statement and shapes each row into a record.
func (s *Store) Select(ctx context.Context, m *internal.Model, stmt internal.Statement) ([]internal.Record, error) {
	defer observe(time.Now())
	s.logger.Trace("sql: %s %v", stmt.SQL, stmt.Args)
	rows, err := s.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(m, rows)
}

// SelectOne runs a single row statement. It returns nil without an error
// when no row matched.
func (s *Store) SelectOne(ctx context.Context, m *internal.Model, stmt internal.Statement) (internal.Record, error) {
	recs, err := s.Select(ctx, m, stmt)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Count runs a COUNT statement.
func (s *Store) Count(ctx context.Context, stmt internal.Statement) (int64, error) {
	defer observe(time.Now())
	s.logger.Trace("sql: %s %v", stmt.SQL, stmt.Args)
	var count int64
	if err := s.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Exec runs a mutation statement and returns the affected row count.
func (s *Store) Exec(ctx context.Context, stmt internal.Statement) (int64, error) {
	defer observe(time.Now())
	s.logger.Trace("sql: %s %v", stmt.SQL, stmt.Args)
	res, err := s.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Insert runs an insert statement and returns the generated primary key, or
// nil when the key was supplied by the caller.
func (s *Store) Insert(ctx context.Context, m *internal.Model, stmt internal.Statement) (any, error) {
	defer observe(time.Now())
	s.logger.Trace("sql: %s %v", stmt.SQL, stmt.Args)
	switch stmt.PKFrom {
	case internal.PKScan:
		var pk any
		if err := s.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&pk); err != nil {
			return nil, err
		}
		t, _ := m.ColumnType(m.PrimaryKeyName())
		return internal.ShapeValue(t, pk), nil
	case internal.PKLastInsert:
		res, err := s.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return id, nil
	default:
		if _, err := s.db.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

// Executer returns a plain SQL runner honoring dry-run, for the migrate,
// seed and load flows that execute generated statements.
func (s *Store) Executer(ctx context.Context, dryRun bool) func(sql string) error {
	return util.SQLExecuter(ctx, s.logger, s.db, dryRun)
}

// Describe returns the live shape of a table when the dialect supports
// introspection, or an error when it does not.
func (s *Store) Describe(ctx context.Context, table string) (*internal.TableDescription, error) {
	migration, ok := s.dialect.(internal.DialectMigration)
	if !ok {
		return nil, errors.New("dialect does not support schema introspection")
	}
	return migration.Describe(ctx, s.db, table)
}

func scanRecords(m *internal.Model, rows *sql.Rows) ([]internal.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := make([]internal.Record, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		res = append(res, internal.ShapeRow(m, columns, values))
	}
	return res, rows.Err()
}
