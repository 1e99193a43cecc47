package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumdao/gatehouse/core"
	"github.com/quorumdao/gatehouse/ports"
)

// schema is applied on startup. The sessions table is foreign-keyed to users
// by address so a credential can never outlive or reference a deleted
// profile.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	address      TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	organization TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	token      TEXT PRIMARY KEY,
	address    TEXT NOT NULL REFERENCES users(address) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON sessions (expires_at);
`

// PostgresStore implements CredentialStore and ProfileStore on a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	const op = "store.postgres.New"

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStore{db: pool}, nil
}

// EnsureSchema creates the users and sessions tables if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const op = "store.postgres.EnsureSchema"

	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// Insert durably records an issued credential.
func (s *PostgresStore) Insert(ctx context.Context, cred *core.Credential) error {
	const op = "store.postgres.Insert"

	query := `
        INSERT INTO sessions(token, address, created_at, expires_at)
        VALUES ($1, $2, $3, $4)
    `

	_, err := s.db.Exec(ctx, query, cred.Token, cred.Address, cred.IssuedAt, cred.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return fmt.Errorf("%s: %w", op, core.ErrAlreadyExists)
			case pgerrcode.ForeignKeyViolation:
				return fmt.Errorf("%s: %w", op, core.ErrProfileRequired)
			}
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Exists reports whether a session row matches both token and address.
func (s *PostgresStore) Exists(ctx context.Context, token, address string) (bool, error) {
	const op = "store.postgres.Exists"

	query := `
        SELECT EXISTS(
            SELECT 1 FROM sessions WHERE token = $1 AND address = $2
        )
    `

	var exists bool
	if err := s.db.QueryRow(ctx, query, token, address).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}

// Delete removes a session row. Deleting an absent row is a no-op.
func (s *PostgresStore) Delete(ctx context.Context, token string) error {
	const op = "store.postgres.Delete"

	query := `DELETE FROM sessions WHERE token = $1`

	if _, err := s.db.Exec(ctx, query, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteExpired purges sessions whose expiry is at or before now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "store.postgres.DeleteExpired"

	query := `DELETE FROM sessions WHERE expires_at <= $1`

	tag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// ProfileByAddress returns the profile for a lower-cased address.
func (s *PostgresStore) ProfileByAddress(ctx context.Context, address string) (*core.Profile, error) {
	const op = "store.postgres.ProfileByAddress"

	query := `
        SELECT address, name, organization, created_at
        FROM users
        WHERE address = $1
    `

	var profile core.Profile
	err := s.db.QueryRow(ctx, query, address).Scan(
		&profile.Address,
		&profile.Name,
		&profile.Organization,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, core.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &profile, nil
}

// SaveProfile creates a user record.
func (s *PostgresStore) SaveProfile(ctx context.Context, profile *core.Profile) error {
	const op = "store.postgres.SaveProfile"

	query := `
        INSERT INTO users(address, name, organization, created_at)
        VALUES ($1, $2, $3, $4)
    `

	_, err := s.db.Exec(ctx, query, profile.Address, profile.Name, profile.Organization, profile.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, core.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

var (
	_ ports.CredentialStore = (*PostgresStore)(nil)
	_ ports.ProfileStore    = (*PostgresStore)(nil)
)
