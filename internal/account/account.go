// Package account persists registered credentials and profile data. Two
// backends are provided: an embedded Badger store for single-node setups
// and a Postgres store.
package account

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrExists is returned by Create when the username is taken.
	ErrExists = errors.New("account: username already exists")
	// ErrNotFound is returned when no account matches the username.
	ErrNotFound = errors.New("account: not found")
)

// Account is one registered user.
type Account struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	ProfileImage string    `json:"profile_image,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the credential store used by the HTTP API.
type Store interface {
	// Create inserts a new account. Usernames are case-sensitive.
	Create(ctx context.Context, a Account) error
	Get(ctx context.Context, username string) (Account, error)
	SetProfileImage(ctx context.Context, username, ref string) error
	// List returns every account ordered by username.
	List(ctx context.Context) ([]Account, error)
	Close() error
}

var (
	_ Store = (*BadgerStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
