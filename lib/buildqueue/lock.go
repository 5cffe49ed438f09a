// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildqueue

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrDatabaseLocked is returned by OpenDatabase when another process
// holds the database.
var ErrDatabaseLocked = errors.New("task database is in use by another process")

// fileLock is an exclusive flock(2) on a sidecar file. SQLite would
// allow two processes to share the database, but two pollers draining
// the same queue would each report every status.
type fileLock struct {
	file *os.File
}

func acquireLock(path string) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (%s)", ErrDatabaseLocked, path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &fileLock{file: file}, nil
}

func (lock *fileLock) release() error {
	if lock == nil || lock.file == nil {
		return nil
	}
	unix.Flock(int(lock.file.Fd()), unix.LOCK_UN)
	err := lock.file.Close()
	lock.file = nil
	return err
}
