package storage

import (
	"errors"
	"fmt"
)

// ErrSQLiteUnavailable is returned for the sqlite backend in builds without
// the sqlite tag.
var ErrSQLiteUnavailable = errors.New("sqlite backend unavailable in this build")

const (
	KindNone   = "none"
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// NewStore builds the profile cache backend named by kind. An empty kind
// selects the in-memory cache.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindNone:
		return NopStore{}, nil
	case KindSQLite:
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
