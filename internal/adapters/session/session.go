// Package session persists the signed-in staff member across restarts.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/zydorg/kemunify/internal/domain/model"
)

const prefix = "session/"

var (
	keyFullName = []byte(prefix + "full_name")
	keyEmail    = []byte(prefix + "email")
	keyProfile  = []byte(prefix + "profile")
	keyIsLogin  = []byte(prefix + "is_login")

	// prefixEnd sorts right after every "session/..." key ('0' follows '/').
	prefixEnd = []byte("session0")
)

// Store keeps one user session.
type Store interface {
	Save(ctx context.Context, u model.User) error
	Get(ctx context.Context) (model.User, error)
	Clear(ctx context.Context) error
	Close() error
}

// PebbleStore implements Store on a pebble database.
type PebbleStore struct {
	db *pebble.DB
}

var _ Store = (*PebbleStore)(nil)

// Option configures the pebble store.
type Option func(*pebble.Options)

// InMemory keeps the session in memory only.
func InMemory() Option {
	return func(o *pebble.Options) { o.FS = vfs.NewMem() }
}

// Open opens or creates the session store in dir.
func Open(dir string, opts ...Option) (*PebbleStore, error) {
	po := &pebble.Options{}
	for _, opt := range opts {
		opt(po)
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Save writes every field of u in one batch.
func (s *PebbleStore) Save(_ context.Context, u model.User) error {
	b := s.db.NewBatch()
	defer func() { _ = b.Close() }()

	for _, kv := range []struct {
		k []byte
		v string
	}{
		{keyFullName, u.FullName},
		{keyEmail, u.Email},
		{keyProfile, u.Profile},
		{keyIsLogin, strconv.FormatBool(u.IsLogin)},
	} {
		if err := b.Set(kv.k, []byte(kv.v), nil); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get returns the stored user, or the zero User when nobody is signed in.
func (s *PebbleStore) Get(_ context.Context) (model.User, error) {
	var u model.User
	var err error
	if u.FullName, err = s.get(keyFullName); err != nil {
		return model.User{}, err
	}
	if u.Email, err = s.get(keyEmail); err != nil {
		return model.User{}, err
	}
	if u.Profile, err = s.get(keyProfile); err != nil {
		return model.User{}, err
	}
	isLogin, err := s.get(keyIsLogin)
	if err != nil {
		return model.User{}, err
	}
	u.IsLogin, _ = strconv.ParseBool(isLogin)
	return u, nil
}

func (s *PebbleStore) get(key []byte) (string, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session %s: %w", key, err)
	}
	defer func() { _ = closer.Close() }()
	return string(v), nil
}

// Clear signs the user out by removing every session key.
func (s *PebbleStore) Clear(_ context.Context) error {
	if err := s.db.DeleteRange([]byte(prefix), prefixEnd, pebble.Sync); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close flushes and closes the store.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
