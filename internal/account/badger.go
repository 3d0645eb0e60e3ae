package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

const keyPrefix = "account:"

// BadgerStore keeps accounts as JSON values under "account:<username>".
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a store at path. An empty path keeps the
// data in memory only.
func OpenBadger(path string, log zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{log.With().Str("component", "badger").Logger()})
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("account: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Create(_ context.Context, a Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("account: marshal: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(keyPrefix + a.Username)
		if _, err := txn.Get(key); err == nil {
			return ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("account: lookup: %w", err)
		}
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) Get(_ context.Context, username string) (Account, error) {
	var a Account
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		a, err = getAccount(txn, username)
		return err
	})
	return a, err
}

func (s *BadgerStore) SetProfileImage(_ context.Context, username, ref string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		a, err := getAccount(txn, username)
		if err != nil {
			return err
		}
		a.ProfileImage = ref
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("account: marshal: %w", err)
		}
		return txn.Set([]byte(keyPrefix+username), data)
	})
}

func (s *BadgerStore) List(_ context.Context) ([]Account, error) {
	var out []Account
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var a Account
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return fmt.Errorf("account: decode: %w", err)
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func getAccount(txn *badger.Txn, username string) (Account, error) {
	item, err := txn.Get([]byte(keyPrefix + username))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("account: get: %w", err)
	}

	var a Account
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &a)
	}); err != nil {
		return Account{}, fmt.Errorf("account: decode: %w", err)
	}
	return a, nil
}

// badgerLogger routes Badger's internal logging into zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}
