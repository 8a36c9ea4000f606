package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Owner is a process's claim on the runs it starts. While an owner holds
// its lock file, FailStaleRuns with OwnerAlive leaves its runs active.
type Owner struct {
	ID   string
	lock *flock.Flock
}

func ownerLockPath(dbPath, id string) string {
	return filepath.Join(dbPath+".owners", id+".lock")
}

// AcquireOwner creates a new owner for runs in the database at dbPath and
// locks it for the life of the process.
func AcquireOwner(dbPath string) (*Owner, error) {
	id := uuid.NewString()
	path := ownerLockPath(dbPath, id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create owner dir: %w", err)
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock owner: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock owner %s: already held", id)
	}
	return &Owner{ID: id, lock: lock}, nil
}

// Release drops the lock and removes the lock file.
func (o *Owner) Release() error {
	if err := o.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock owner: %w", err)
	}
	if err := os.Remove(o.lock.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove owner lock: %w", err)
	}
	return nil
}

// OwnerAlive reports whether owner id still holds its lock on the database
// at dbPath. Runs with no owner are never alive.
func OwnerAlive(dbPath, id string) bool {
	if id == "" {
		return false
	}
	path := ownerLockPath(dbPath, id)
	if _, err := os.Stat(path); err != nil {
		return false
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return false
	}
	if !ok {
		return true
	}
	lock.Unlock()
	os.Remove(path)
	return false
}
