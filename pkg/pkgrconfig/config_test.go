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

package pkgrconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".pkgr.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDockerDefault(t *testing.T) {
	path := writeConfig(t, "recipes_dir: ./recipes\noutput_dir: ./out\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultDockerHost, cfg.Docker)
}

func TestLoadRequiresRecipesDir(t *testing.T) {
	path := writeConfig(t, "output_dir: ./out\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresOutputDir(t *testing.T) {
	path := writeConfig(t, "recipes_dir: ./recipes\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "recipes_dir: ./recipes\noutput_dir: ./out\nbogus_field: true\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSimpleImageForDefaultsAndOverrides(t *testing.T) {
	cfg := &Config{CustomSimpleImages: map[string]string{"rpm": "my-registry/rocky:9"}}

	ref, ok := cfg.SimpleImageFor("rpm")
	require.True(t, ok)
	assert.Equal(t, "my-registry/rocky:9", ref)

	ref, ok = cfg.SimpleImageFor("deb")
	require.True(t, ok)
	assert.Equal(t, "debian:latest", ref)

	_, ok = cfg.SimpleImageFor("unknown-target")
	assert.False(t, ok)
}

func TestLoadMergesEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("FOO=bar\n"), 0o644))

	path := writeConfig(t, "recipes_dir: ./recipes\noutput_dir: ./out\nenv_file: "+envPath+"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bar", cfg.Env["FOO"])
}
