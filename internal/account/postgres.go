package account

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// PostgresStore keeps accounts in the accounts table.
type PostgresStore struct {
	db *sql.DB
}

// RunMigrations applies every pending migration to the database at url.
func RunMigrations(url string) error {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return fmt.Errorf("account: open for migrate: %w", err)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("account: migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("account: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("account: migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("account: migrate up: %w", err)
	}
	return nil
}

// OpenPostgres connects to url and verifies the connection.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("account: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("account: ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Create(ctx context.Context, a Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, password_hash, profile_image, created_at) VALUES ($1, $2, $3, $4)`,
		a.Username, a.PasswordHash, a.ProfileImage, a.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("account: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, username string) (Account, error) {
	var a Account
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, profile_image, created_at FROM accounts WHERE username = $1`,
		username).Scan(&a.Username, &a.PasswordHash, &a.ProfileImage, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("account: select: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) SetProfileImage(ctx context.Context, username, ref string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET profile_image = $2 WHERE username = $1`, username, ref)
	if err != nil {
		return fmt.Errorf("account: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("account: update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, password_hash, profile_image, created_at FROM accounts ORDER BY username COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("account: list: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Username, &a.PasswordHash, &a.ProfileImage, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("account: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
