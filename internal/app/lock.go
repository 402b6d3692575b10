package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var ErrAlreadyRunning = errors.New("another mangawatch instance holds the lock")

// acquireLock takes an exclusive lock file in the store's directory.
func acquireLock(storePath string) (*flock.Flock, error) {
	dir := filepath.Dir(filepath.Clean(storePath))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lk := flock.New(filepath.Join(dir, "mangawatch.lock"))
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lk.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrAlreadyRunning, lk.Path())
	}
	return lk, nil
}
