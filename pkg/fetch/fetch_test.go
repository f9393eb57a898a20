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

package fetch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlorenc/pkgr/pkg/container"
	"github.com/dlorenc/pkgr/pkg/recipe"
	"github.com/dlorenc/pkgr/pkg/subst"
)

// fakeRunner is an in-memory container.Runner used to exercise Fetcher
// without a real engine.
type fakeRunner struct {
	execs   []string
	copyIns []string
}

func (f *fakeRunner) PullOrBuild(ctx context.Context, dockerfilePath, contextDir, tag string) (string, error) {
	return "img-1", nil
}
func (f *fakeRunner) Create(ctx context.Context, cfg container.Config) (string, error) {
	return "ctr-1", nil
}
func (f *fakeRunner) Exec(ctx context.Context, containerID, shell, workingDir string, envOverlay map[string]string, cmd string) (container.ExecResult, error) {
	f.execs = append(f.execs, cmd)
	return container.ExecResult{ExitCode: 0}, nil
}
func (f *fakeRunner) CopyIn(ctx context.Context, containerID, containerPath string, src io.Reader) error {
	f.copyIns = append(f.copyIns, containerPath)
	_, err := io.Copy(io.Discard, src)
	return err
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

func TestArchiveKindRecognizesSuffixes(t *testing.T) {
	_, ok := archiveKind("foo.tar.gz")
	assert.True(t, ok)
	_, ok = archiveKind("foo.tgz")
	assert.True(t, ok)
	_, ok = archiveKind("foo.zip")
	assert.True(t, ok)
	_, ok = archiveKind("foo.bin")
	assert.False(t, ok)
}

func TestFetchCopiesLocalAbsoluteSource(t *testing.T) {
	recipeDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(recipeDir, "extra.txt"), []byte("hi"), 0o644))

	r := recipe.Recipe{
		Name: "foo",
		Source: []recipe.Source{
			{Source: "extra.txt"},
		},
	}
	// sourceDir is unexported; set via LoadAll in integration paths. For
	// this unit test we exercise through a recipe literal by relying on
	// the loader-populated field being empty and using an absolute path
	// instead, since the field cannot be set outside the package.
	r.Source[0].Source = filepath.Join(recipeDir, "extra.txt")

	fr := &fakeRunner{}
	sess := &container.Session{Runner: fr, ContainerID: "ctr-1"}
	f := &Fetcher{Session: sess, Vars: subst.NewMap(nil, nil), Image: "rocky", BldDir: "/build"}

	err := f.Fetch(context.Background(), r)
	require.NoError(t, err)
	assert.Contains(t, fr.copyIns, "/build")
}

func TestFetchAppliesImageFilteredPatch(t *testing.T) {
	recipeDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(recipeDir, "fix.patch"), []byte("--- a\n+++ b\n"), 0o644))

	r := recipe.Recipe{
		Name: "foo",
		Patches: []recipe.Patch{
			{Patch: filepath.Join(recipeDir, "fix.patch"), Images: []string{"rocky"}},
			{Patch: filepath.Join(recipeDir, "fix.patch"), Images: []string{"debian"}},
		},
	}

	fr := &fakeRunner{}
	sess := &container.Session{Runner: fr, ContainerID: "ctr-1"}
	f := &Fetcher{Session: sess, Vars: subst.NewMap(nil, nil), Image: "rocky", BldDir: "/build"}

	err := f.Fetch(context.Background(), r)
	require.NoError(t, err)

	var patchRuns int
	for _, e := range fr.execs {
		if contains := len(e) > 0 && e[0:5] == "patch"; contains {
			patchRuns++
		}
	}
	assert.Equal(t, 1, patchRuns, "only the rocky-filtered patch should run")
}

func TestFetchGitClonesHostSideAndStreamsIn(t *testing.T) {
	originDir := t.TempDir()
	repo, err := git.PlainInit(originDir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(originDir, "main.go"), []byte("package main\n"), 0o644))
	_, err = wt.Add("main.go")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "pkgr", Email: "pkgr@example.com"},
	})
	require.NoError(t, err)

	r := recipe.Recipe{
		Name: "foo",
		Source: []recipe.Source{
			{Git: &recipe.GitSource{URL: originDir}},
		},
	}

	fr := &fakeRunner{}
	sess := &container.Session{Runner: fr, ContainerID: "ctr-1"}
	f := &Fetcher{Session: sess, Vars: subst.NewMap(nil, nil), Image: "rocky", BldDir: "/build"}

	err = f.Fetch(context.Background(), r)
	require.NoError(t, err)
	assert.Contains(t, fr.copyIns, "/build")
	// git cloning happens host-side via go-git, never as an in-container exec.
	for _, e := range fr.execs {
		assert.NotContains(t, e, "git clone")
	}
}
