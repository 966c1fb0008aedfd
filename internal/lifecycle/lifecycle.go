/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package lifecycle persists restart protection state as a JSON document.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/valyala/bytebufferpool"
)

var (
	// ErrLocked is returned by Lock when another owner holds the state file.
	ErrLocked = errors.New("state file is locked by another process")
	// ErrCorrupt wraps decode failures of an existing state file.
	ErrCorrupt = errors.New("state file is corrupt")
)

const (
	writeRetries    = 2
	writeRetryDelay = 50 * time.Millisecond
)

// FileStore reads and atomically rewrites one JSON state file.
type FileStore struct {
	path string

	mu       sync.Mutex
	lockFile *os.File
}

// NewFileStore returns a store for path. Nothing is touched until the first
// Load, Save or Lock.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (s *FileStore) Path() string { return s.path }

// Load decodes the state file into v. It reports false without error when the
// file does not exist.
func (s *FileStore) Load(v any) (bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return true, nil
}

// Save encodes v and replaces the state file with it, retrying transient
// write failures a couple of times.
func (s *FileStore) Save(v any) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	op := func() error { return writeAtomic(s.path, buf.B) }
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(writeRetryDelay), writeRetries)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Lock takes an exclusive advisory lock on a sibling ".lock" file so that two
// engines never share one state file.
func (s *FileStore) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockFile != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	f, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return err
	}
	s.lockFile = f
	return nil
}

// Unlock releases the lock taken by Lock.
func (s *FileStore) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockFile == nil {
		return nil
	}
	f := s.lockFile
	s.lockFile = nil
	uerr := unlockFile(f)
	if cerr := f.Close(); uerr == nil {
		uerr = cerr
	}
	return uerr
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
