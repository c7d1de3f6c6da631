//go:build !sqlite

package storage

import "fmt"

func newSQLiteStore(path string) (Store, error) {
	return nil, fmt.Errorf("%w: profile cache %q needs a build with -tags sqlite", ErrSQLiteUnavailable, path)
}
