// Package credstore provides CredentialStore implementations: a Postgres
// store for production and an in-memory store for tests and local runs.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tokengate/tokengate"
)

// Postgres error codes worth distinguishing: duplicate keys on insert, and
// text that does not parse as a uuid. The latter happens when a tampered
// reset link is looked up and must read as "no such user", not as an
// infrastructure failure.
const (
	uniqueViolation = "23505"
	invalidTextRep  = "22P02"
)

// Postgres stores accounts in a users table (see schema.sql). It satisfies
// tokengate.CredentialStore.
type Postgres struct {
	db *sqlx.DB
}

// Open connects and pings. The caller owns the returned store and should
// Close it on shutdown.
func Open(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

type userRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Verified     bool      `db:"verified"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *userRow) record() *tokengate.UserRecord {
	return &tokengate.UserRecord{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Verified:     r.Verified,
		CreatedAt:    r.CreatedAt,
	}
}

func (s *Postgres) Create(ctx context.Context, email, passwordHash string) (*tokengate.UserRecord, error) {
	const query = `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, password_hash, verified, created_at`

	var row userRow
	if err := s.db.GetContext(ctx, &row, query, email, passwordHash); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, tokengate.ErrAccountExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return row.record(), nil
}

func (s *Postgres) FindByEmail(ctx context.Context, email string) (*tokengate.UserRecord, error) {
	const query = `
		SELECT id, email, password_hash, verified, created_at
		FROM users WHERE email = $1`

	var row userRow
	if err := s.db.GetContext(ctx, &row, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tokengate.ErrUserNotFound
		}
		return nil, fmt.Errorf("select user by email: %w", err)
	}
	return row.record(), nil
}

func (s *Postgres) FindByID(ctx context.Context, id string) (*tokengate.UserRecord, error) {
	const query = `
		SELECT id, email, password_hash, verified, created_at
		FROM users WHERE id = $1`

	var row userRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tokengate.ErrUserNotFound
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == invalidTextRep {
			return nil, tokengate.ErrUserNotFound
		}
		return nil, fmt.Errorf("select user by id: %w", err)
	}
	return row.record(), nil
}

func (s *Postgres) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2 WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return tokengate.ErrUserNotFound
	}
	return nil
}

func (s *Postgres) MarkVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET verified = TRUE WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return tokengate.ErrUserNotFound
	}
	return nil
}
