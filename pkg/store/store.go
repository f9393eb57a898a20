// Copyright 2022 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store implements the persistent state store (C9): a single
// file under the OS cache directory holding ImageState entries keyed by
// (image, recipe, target). Grounded on melange2's atomic-write config
// persistence idiom (temp file + rename, as used throughout
// pkg/config.go for recipe output) and on cruxd's xdg-located cache
// directory convention, adapted here to a schema-versioned JSON envelope
// per spec.md §6 ("Schema version prefixed; unknown versions ⇒ ignored").
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/chainguard-dev/clog"
)

// schemaVersion is bumped whenever the on-disk envelope shape changes.
// A file whose Version doesn't match is treated as empty rather than
// parsed, per spec.md's cross-run persistent-state-format note.
const schemaVersion = 1

// Key identifies one cached image-build entry.
type Key struct {
	Image  string
	Recipe string
	Target string
}

// Hash returns the stable cache key spec.md §4.2/§6 describe as
// "key = (image, recipe, target) hash".
func (k Key) Hash() string {
	h := sha256.New()
	h.Write([]byte(k.Image))
	h.Write([]byte{0})
	h.Write([]byte(k.Recipe))
	h.Write([]byte{0})
	h.Write([]byte(k.Target))
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is the persisted value for one Key.
type Entry struct {
	BuiltImageID string    `json:"built_image_id"`
	DepSetHash   string    `json:"dep_set_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

type envelope struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Store is the process-wide image-state cache. The zero value is not
// usable; construct with Open.
type Store struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// DefaultPath returns the state file location under the OS cache
// directory, via adrg/xdg.
func DefaultPath() (string, error) {
	return xdg.CacheFile(filepath.Join("pkgr", "image-state.json"))
}

// Open loads the state file at path, or starts empty if it does not
// exist or fails to parse (corruption is treated as an empty cache, per
// spec.md §6, with a warning logged rather than a hard failure).
func Open(ctx context.Context, path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading state file %q: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		clog.FromContext(ctx).Warnf("state file %q is corrupt, starting empty: %v", path, err)
		return s, nil
	}
	if env.Version != schemaVersion {
		clog.FromContext(ctx).Warnf("state file %q has unknown schema version %d, starting empty", path, env.Version)
		return s, nil
	}
	s.entries = env.Entries
	if s.entries == nil {
		s.entries = make(map[string]Entry)
	}
	return s, nil
}

// Get returns the cached entry for key, if present.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Hash()]
	return e, ok
}

// Put records or overwrites the entry for key.
func (s *Store) Put(key Key, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key.Hash()] = e
	s.dirty = true
}

// Clear empties every cached entry, used by the `clean-cache` CLI
// command to force the next build to reinstall dependencies on every
// image.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	s.dirty = true
}

// Len reports how many entries are currently cached.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Save persists the store to disk via a temp-file-then-rename write, but
// only if an entry changed since the last Save, per spec.md §5's
// "Shared resources" note that the cache is mutated under a single mutex
// with read-copy snapshots.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	env := envelope{Version: schemaVersion, Entries: s.entries}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".image-state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	s.dirty = false
	return nil
}
