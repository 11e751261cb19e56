package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"qazna.org/authcore/internal/auth"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL implementation of auth.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ auth.Store = (*Store)(nil)

// PoolConfig sizes the database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPool matches what the service runs with in production.
var DefaultPool = PoolConfig{
	MaxOpenConns:    50,
	MaxIdleConns:    25,
	ConnMaxLifetime: 15 * time.Minute,
	ConnMaxIdleTime: 5 * time.Minute,
}

// Open connects through the pgx stdlib driver. It does not ping.
func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock replaces the time source used for liveness checks.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageError("DB_PING_FAILED", err)
	}
	return nil
}

func (s *Store) Identities(context.Context) auth.IdentityRepository {
	return identities{conn: s.conn()}
}

func (s *Store) RefreshSessions(context.Context) auth.RefreshSessionStore {
	return sessions{conn: s.conn()}
}

func (s *Store) Roles(context.Context) auth.RoleRepository {
	return roles{conn: s.conn()}
}

// InTx runs fn in a read-committed transaction. Identity lookups inside fn lock
// the row so concurrent rotations for the same identity serialize.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx auth.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("TX_BEGIN_FAILED", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, txStore{conn: conn{q: tx, tx: true, now: s.now}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageError("TX_COMMIT_FAILED", err)
	}
	return nil
}

func (s *Store) conn() conn {
	return conn{q: s.db, db: s.db, now: s.now}
}

// conn is the handle shared by the repositories. db is set outside
// transactions so multi-statement operations can open their own.
type conn struct {
	q   querier
	db  *sql.DB
	tx  bool
	now func() time.Time
}

func (c conn) lockClause() string {
	if c.tx {
		return " for update"
	}
	return ""
}

// atomic runs fn inside the current transaction or a new one.
func (c conn) atomic(ctx context.Context, fn func(q querier) error) error {
	if c.tx {
		return fn(c.q)
	}
	if c.db == nil {
		return errors.New("pg: no database handle")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("TX_BEGIN_FAILED", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageError("TX_COMMIT_FAILED", err)
	}
	return nil
}

type txStore struct {
	conn conn
}

func (t txStore) Identities(context.Context) auth.IdentityRepository {
	return identities{conn: t.conn}
}

func (t txStore) RefreshSessions(context.Context) auth.RefreshSessionStore {
	return sessions{conn: t.conn}
}

func (t txStore) Roles(context.Context) auth.RoleRepository {
	return roles{conn: t.conn}
}

// InTx joins the surrounding transaction.
func (t txStore) InTx(ctx context.Context, fn func(ctx context.Context, tx auth.Store) error) error {
	return fn(ctx, t)
}
