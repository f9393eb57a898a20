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

package job

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlorenc/pkgr/pkg/container"
	"github.com/dlorenc/pkgr/pkg/image"
	"github.com/dlorenc/pkgr/pkg/recipe"
)

type fakeRunner struct {
	execs []string
	fail  bool
}

func (f *fakeRunner) PullOrBuild(ctx context.Context, dockerfilePath, contextDir, tag string) (string, error) {
	return "img-1", nil
}
func (f *fakeRunner) Create(ctx context.Context, cfg container.Config) (string, error) {
	return "ctr-1", nil
}
func (f *fakeRunner) Exec(ctx context.Context, containerID, shell, workingDir string, envOverlay map[string]string, cmd string) (container.ExecResult, error) {
	f.execs = append(f.execs, cmd)
	if f.fail {
		return container.ExecResult{ExitCode: 1, Stderr: []byte("boom")}, nil
	}
	return container.ExecResult{ExitCode: 0}, nil
}
func (f *fakeRunner) CopyIn(ctx context.Context, containerID, containerPath string, src io.Reader) error {
	return nil
}
func (f *fakeRunner) CopyOut(ctx context.Context, containerID, containerPath string, dst io.Writer) error {
	return nil
}
func (f *fakeRunner) Commit(ctx context.Context, containerID, tag string) (string, error) {
	return tag, nil
}
func (f *fakeRunner) ImageExists(ctx context.Context, imageID string) bool { return true }
func (f *fakeRunner) StopAndRemove(ctx context.Context, containerID string) error { return nil }
func (f *fakeRunner) Close() error                                                { return nil }

func TestNewAssignsDistinctWorkspaceDirs(t *testing.T) {
	r := recipe.Recipe{Name: "foo"}
	img := image.Image{Name: "rocky"}
	j1 := New(r, "1.0.0", img, recipe.TargetRPM)
	j2 := New(r, "1.0.0", img, recipe.TargetRPM)
	assert.NotEqual(t, j1.BldDir, j2.BldDir)
	assert.NotEqual(t, j1.OutDir, j2.OutDir)
	assert.Equal(t, StateCreated, j1.State)
}

func TestEnvironmentIncludesPkgerAndRecipeVars(t *testing.T) {
	r := recipe.Recipe{Name: "foo", Release: "2", Env: map[string]string{"X": "y"}}
	img := image.Image{Name: "rocky"}
	j := New(r, "1.0.0", img, recipe.TargetRPM)

	env := j.environment()
	assert.Equal(t, j.BldDir, env["PKGER_BLD_DIR"])
	assert.Equal(t, j.OutDir, env["PKGER_OUT_DIR"])
	assert.Equal(t, "foo", env["RECIPE"])
	assert.Equal(t, "1.0.0", env["RECIPE_VERSION"])
	assert.Equal(t, "2", env["RECIPE_RELEASE"])
	assert.Equal(t, "y", env["X"])
}

func TestRunPhaseSkipsFilteredSteps(t *testing.T) {
	fr := &fakeRunner{}
	r := recipe.Recipe{Name: "foo"}
	img := image.Image{Name: "rocky"}
	j := New(r, "1.0.0", img, recipe.TargetDEB)
	j.session = &container.Session{Runner: fr, ContainerID: "ctr-1"}

	no := false
	phase := recipe.Phase{Steps: []recipe.Step{
		{Cmd: "echo deb-only", Filters: recipe.StepFilter{Deb: boolPtr(true)}},
		{Cmd: "echo not-deb", Filters: recipe.StepFilter{Deb: &no}},
	}}

	runner := &Runner{}
	err := runner.runPhase(context.Background(), j, "build", phase)
	require.NoError(t, err)
	require.Len(t, fr.execs, 1)
	assert.Equal(t, "echo deb-only", fr.execs[0])
}

func boolPtr(b bool) *bool { return &b }

func TestRunPhaseStepFailurePropagates(t *testing.T) {
	fr := &fakeRunner{fail: true}
	r := recipe.Recipe{Name: "foo"}
	img := image.Image{Name: "rocky"}
	j := New(r, "1.0.0", img, recipe.TargetRPM)
	j.session = &container.Session{Runner: fr, ContainerID: "ctr-1"}

	phase := recipe.Phase{Steps: []recipe.Step{{Cmd: "false"}}}
	runner := &Runner{}
	err := runner.runPhase(context.Background(), j, "build", phase)
	require.Error(t, err)
	assert.Equal(t, StateFailed, j.State)
}

func TestExtractHarvestedPrunesExcluded(t *testing.T) {
	var buf bytes.Buffer
	writeTarFile(t, &buf, "usr/bin/foo", "binary")
	writeTarFile(t, &buf, "usr/share/doc/foo/README", "docs")
	finishTar(t, &buf)

	files, err := extractHarvested(&buf, []string{"usr/share/doc"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "usr/bin/foo", files[0].Path)
}
