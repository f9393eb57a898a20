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

package emit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlorenc/pkgr/pkg/image"
	"github.com/dlorenc/pkgr/pkg/job"
	"github.com/dlorenc/pkgr/pkg/recipe"
)

func testJob(target recipe.Target) *job.Job {
	r := recipe.Recipe{
		Name:        "widget",
		Release:     "1",
		Description: "a widget",
		License:     "MIT",
	}
	j := job.New(r, "1.2.3", image.Image{Name: "rocky9"}, target)
	j.HarvestedFiles = []job.HarvestedFile{
		{Path: "usr/bin/widget", Mode: 0o755, Data: make([]byte, 2000)},
		{Path: "usr/share/doc/widget/README", Mode: 0o644, Data: []byte("hello")},
	}
	return j
}

func TestFilenames(t *testing.T) {
	cases := []struct {
		target recipe.Target
		want   string
	}{
		{recipe.TargetRPM, "widget-1.2.3-1.x86_64.rpm"},
		{recipe.TargetDEB, "widget-1.2.3-1.amd64.deb"},
		{recipe.TargetPKG, "widget-1.2.3-1-x86_64.pkg.tar.zst"},
		{recipe.TargetAPK, "widget-1.2.3-r1.apk"},
		{recipe.TargetGzip, "widget-1.2.3-1.tar.gz"},
	}
	for _, c := range cases {
		enc, ok := encoders[c.target]
		require.True(t, ok, c.target)
		assert.Equal(t, c.want, enc.Filename(testJob(c.target), "x86_64"))
	}
}

func TestDebArchRemap(t *testing.T) {
	assert.Equal(t, "amd64", debArch("x86_64"))
	assert.Equal(t, "arm64", debArch("aarch64"))
	assert.Equal(t, "riscv64", debArch("riscv64"))
}

func TestDebNameRemap(t *testing.T) {
	assert.Equal(t, "my-widget-tool", debName("my_widget_tool"))
}

func TestInstalledSize(t *testing.T) {
	j := testJob(recipe.TargetDEB)
	// 2000 + 5 bytes = 2005 bytes -> ceil(2005/1024) = 2 blocks.
	assert.Equal(t, uint64(2), installedSize(j))
}

func TestEmitWritesUnderImageSubdir(t *testing.T) {
	dir := t.TempDir()
	e := &Emitter{OutputDir: dir}
	j := testJob(recipe.TargetGzip)

	path, err := e.Emit(j, "x86_64")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rocky9", "widget-1.2.3-1.tar.gz"), path)
}

func TestEmitUnknownTarget(t *testing.T) {
	e := &Emitter{OutputDir: t.TempDir()}
	j := testJob(recipe.Target("unknown"))

	_, err := e.Emit(j, "x86_64")
	assert.Error(t, err)
}

func TestShouldSignGatesOnTargetSignerAndOverride(t *testing.T) {
	e := &Emitter{Signer: &Signer{}}
	assert.True(t, e.shouldSign(recipe.TargetRPM))
	assert.True(t, e.shouldSign(recipe.TargetDEB))
	assert.False(t, e.shouldSign(recipe.TargetPKG))
	assert.False(t, e.shouldSign(recipe.TargetGzip))

	e.NoSign = true
	assert.False(t, e.shouldSign(recipe.TargetRPM))

	e2 := &Emitter{}
	assert.False(t, e2.shouldSign(recipe.TargetRPM))
}
