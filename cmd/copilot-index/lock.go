package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// acquireIndexLock takes the cross-process index lock without waiting. The
// in-process lock in qa.Service cannot see other processes.
func acquireIndexLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create lock dir: %w", err)
	}

	l := flock.New(path)
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cannot acquire index lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock: %s)", types.ErrIndexingInProgress, path)
	}
	return func() { _ = l.Unlock() }, nil
}
