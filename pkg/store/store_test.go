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

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveThenReopenRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image-state.json")

	s, err := Open(context.Background(), path)
	require.NoError(t, err)

	key := Key{Image: "rocky", Recipe: "recipeA", Target: "rpm"}
	entry := Entry{BuiltImageID: "sha256:abc", DepSetHash: "dephash", Timestamp: time.Now().Truncate(time.Second)}
	s.Put(key, entry)
	require.NoError(t, s.Save())

	reopened, err := Open(context.Background(), path)
	require.NoError(t, err)
	got, ok := reopened.Get(key)
	require.True(t, ok)
	assert.Equal(t, entry.BuiltImageID, got.BuiltImageID)
	assert.Equal(t, entry.DepSetHash, got.DepSetHash)
}

func TestSaveNoopWhenNotDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image-state.json")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Save())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image-state.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	_, ok := s.Get(Key{Image: "x", Recipe: "y", Target: "z"})
	assert.False(t, ok)
}

func TestOpenUnknownSchemaVersionStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image-state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":999,"entries":{}}`), 0o644))

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, s.entries)
}

func TestKeyHashDistinguishesFields(t *testing.T) {
	a := Key{Image: "rocky", Recipe: "r", Target: "rpm"}
	b := Key{Image: "debian", Recipe: "r", Target: "rpm"}
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestClearEmptiesEntriesAndMarksDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image-state.json")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)

	s.Put(Key{Image: "rocky", Recipe: "r", Target: "rpm"}, Entry{BuiltImageID: "sha256:abc"})
	require.Equal(t, 1, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.dirty)

	require.NoError(t, s.Save())
	reopened, err := Open(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.Len())
}

func TestLenCountsDistinctKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image-state.json")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())

	s.Put(Key{Image: "rocky", Recipe: "r", Target: "rpm"}, Entry{BuiltImageID: "sha256:abc"})
	s.Put(Key{Image: "debian", Recipe: "r", Target: "deb"}, Entry{BuiltImageID: "sha256:def"})
	assert.Equal(t, 2, s.Len())
}
