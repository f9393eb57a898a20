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

package image

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlorenc/pkgr/pkg/container"
)

// orderingRunner is an in-memory container.Runner that records the
// sequence of Commit/StopAndRemove calls so tests can assert the commit
// happens before the container is torn down.
type orderingRunner struct {
	calls []string
}

func (r *orderingRunner) PullOrBuild(ctx context.Context, dockerfilePath, contextDir, tag string) (string, error) {
	return "img-1", nil
}
func (r *orderingRunner) Create(ctx context.Context, cfg container.Config) (string, error) {
	return "ctr-1", nil
}
func (r *orderingRunner) Exec(ctx context.Context, containerID, shell, workingDir string, envOverlay map[string]string, cmd string) (container.ExecResult, error) {
	r.calls = append(r.calls, "exec")
	return container.ExecResult{ExitCode: 0}, nil
}
func (r *orderingRunner) CopyIn(ctx context.Context, containerID, containerPath string, src io.Reader) error {
	return nil
}
func (r *orderingRunner) CopyOut(ctx context.Context, containerID, containerPath string, dst io.Writer) error {
	return nil
}
func (r *orderingRunner) Commit(ctx context.Context, containerID, tag string) (string, error) {
	r.calls = append(r.calls, "commit")
	return "committed:" + tag, nil
}
func (r *orderingRunner) ImageExists(ctx context.Context, imageID string) bool { return true }
func (r *orderingRunner) StopAndRemove(ctx context.Context, containerID string) error {
	r.calls = append(r.calls, "stop-and-remove")
	return nil
}
func (r *orderingRunner) Close() error { return nil }

func TestInstallDepsCommitsBeforeRemovingContainer(t *testing.T) {
	runner := &orderingRunner{}
	c := &Cache{Runner: runner}

	imageID, err := c.installDeps(context.Background(), "base-img", InstallPlan{Manager: "apk", Packages: []string{"curl"}})
	require.NoError(t, err)

	assert.NotEqual(t, "ctr-1", imageID, "returned image id must not be the container id destroyed by StopAndRemove")
	assert.Equal(t, []string{"exec", "commit", "stop-and-remove"}, runner.calls)
}

func TestInstallDepsSkipsCommitWhenNoPackages(t *testing.T) {
	runner := &orderingRunner{}
	c := &Cache{Runner: runner}

	imageID, err := c.installDeps(context.Background(), "base-img", InstallPlan{})
	require.NoError(t, err)
	assert.Equal(t, "base-img", imageID)
	assert.Empty(t, runner.calls)
}
