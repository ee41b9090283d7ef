package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"storefront.org/internal/market"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SQL stores the pair as two rows of a key/value table.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps an open database. Call Migrate before first use.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// OpenSQLite opens (creating if needed) a local SQLite token file.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return openSQL(ctx, db, SQLite)
}

// OpenPostgres opens a shared Postgres-backed store.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return openSQL(ctx, db, Postgres)
}

func openSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQL, error) {
	s := NewSQL(db, dialect)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the token table if it does not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `create table if not exists client_tokens (
		name text primary key,
		value text not null
	)`)
	if err != nil {
		return fmt.Errorf("migrate client_tokens: %w", err)
	}
	return nil
}

func (s *SQL) Load(ctx context.Context) (market.TokenPair, error) {
	q := fmt.Sprintf(`select name, value from client_tokens where name in (%s, %s)`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))
	rows, err := s.db.QueryContext(ctx, q, KeyAccessToken, KeyRefreshToken)
	if err != nil {
		return market.TokenPair{}, fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()

	var pair market.TokenPair
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return market.TokenPair{}, fmt.Errorf("scan token: %w", err)
		}
		switch name {
		case KeyAccessToken:
			pair.AccessToken = value
		case KeyRefreshToken:
			pair.RefreshToken = value
		}
	}
	if err := rows.Err(); err != nil {
		return market.TokenPair{}, fmt.Errorf("load tokens: %w", err)
	}
	return pair, nil
}

func (s *SQL) Save(ctx context.Context, pair market.TokenPair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert := fmt.Sprintf(`insert into client_tokens(name, value) values (%s, %s)
		on conflict (name) do update set value = excluded.value`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))
	del := fmt.Sprintf(`delete from client_tokens where name = %s`, s.dialect.placeholder(1))

	for _, kv := range [][2]string{{KeyAccessToken, pair.AccessToken}, {KeyRefreshToken, pair.RefreshToken}} {
		if kv[1] == "" {
			if _, err := tx.ExecContext(ctx, del, kv[0]); err != nil {
				return fmt.Errorf("delete %s: %w", kv[0], err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert, kv[0], kv[1]); err != nil {
			return fmt.Errorf("save %s: %w", kv[0], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQL) Clear(ctx context.Context) error {
	q := fmt.Sprintf(`delete from client_tokens where name in (%s, %s)`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))
	if _, err := s.db.ExecContext(ctx, q, KeyAccessToken, KeyRefreshToken); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}

func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
