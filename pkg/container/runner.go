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

// Package container wraps the container engine (C4): a typed interface
// over pull/build/create/exec/stop/remove operations, with cancellation
// that escalates SIGTERM→grace→SIGKILL→remove. Grounded on melange2's
// pkg/container/runner.go Runner interface, generalized from melange2's
// apko/BuildKit-specific image loading to the generic pull/build/exec
// contract spec.md §1 assumes the container engine offers.
package container

import (
	"context"
	"io"
	"time"
)

// Config describes the container a job session runs in.
type Config struct {
	// ImageID is the engine-assigned id of the already-built image to
	// start the container from.
	ImageID string
	// Env seeds the container's environment at creation time.
	Env map[string]string
	// WorkDir is the container's default working directory.
	WorkDir string
}

// ExecResult carries the outcome of a single exec call.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// GracePeriod is how long a cancelled exec is given to exit cleanly on
// SIGTERM before the session escalates to SIGKILL, per spec.md §4.4.
const GracePeriod = 2 * time.Second

// Runner is the typed wrapper every job session drives. Implementations
// must make StopAndRemove idempotent and safe to call from a deferred
// cleanup path, including after a panic.
type Runner interface {
	// PullOrBuild resolves tag to an engine-local image id. The
	// containerd implementation pulls tag when it is not present
	// locally; it does not build from dockerfilePath.
	PullOrBuild(ctx context.Context, dockerfilePath, contextDir, tag string) (imageID string, err error)

	// Create starts a new container from cfg.ImageID and returns its id.
	Create(ctx context.Context, cfg Config) (containerID string, err error)

	// Exec runs cmd inside containerID via shell -c, with the given
	// working directory and environment overlay (merged over the
	// container's base environment). It honors ctx cancellation per
	// the SIGTERM/grace/SIGKILL escalation in spec.md §4.4.
	Exec(ctx context.Context, containerID, shell, workingDir string, envOverlay map[string]string, cmd string) (ExecResult, error)

	// CopyIn streams src into containerPath inside containerID.
	CopyIn(ctx context.Context, containerID, containerPath string, src io.Reader) error
	// CopyOut streams containerPath from containerID to dst.
	CopyOut(ctx context.Context, containerID, containerPath string, dst io.Writer) error

	// Commit snapshots containerID's current filesystem as tag, returning
	// an id usable as Config.ImageID in a later Create call. Callers that
	// need the container's resulting filesystem beyond the container's own
	// lifetime (e.g. C2's dependency-install layer) must call Commit
	// before StopAndRemove, since StopAndRemove deletes the container's
	// backing snapshot.
	Commit(ctx context.Context, containerID, tag string) (imageID string, err error)

	// ImageExists reports whether imageID (as returned by PullOrBuild or
	// Commit) is still resolvable by this engine, used by C2's cache-hit
	// staleness check.
	ImageExists(ctx context.Context, imageID string) bool

	// StopAndRemove is the guaranteed release path: idempotent, safe to
	// call multiple times or on an already-gone container.
	StopAndRemove(ctx context.Context, containerID string) error

	// Close releases engine-level resources (client connections).
	Close() error
}

// Session pairs a Runner with one container's lifecycle, guaranteeing
// StopAndRemove runs exactly once regardless of how the job ends.
type Session struct {
	Runner      Runner
	ContainerID string

	released bool
}

// NewSession creates a container from cfg and returns a Session wrapping
// it.
func NewSession(ctx context.Context, runner Runner, cfg Config) (*Session, error) {
	id, err := runner.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Session{Runner: runner, ContainerID: id}, nil
}

// Exec runs cmd in the session's container.
func (s *Session) Exec(ctx context.Context, shell, workingDir string, envOverlay map[string]string, cmd string) (ExecResult, error) {
	return s.Runner.Exec(ctx, s.ContainerID, shell, workingDir, envOverlay, cmd)
}

// CopyIn streams src into the session's container.
func (s *Session) CopyIn(ctx context.Context, containerPath string, src io.Reader) error {
	return s.Runner.CopyIn(ctx, s.ContainerID, containerPath, src)
}

// CopyOut streams containerPath out of the session's container.
func (s *Session) CopyOut(ctx context.Context, containerPath string, dst io.Writer) error {
	return s.Runner.CopyOut(ctx, s.ContainerID, containerPath, dst)
}

// Release stops and removes the session's container. Safe to call more
// than once, and intended to run from a defer so it fires even on panic.
func (s *Session) Release(ctx context.Context) error {
	if s.released {
		return nil
	}
	s.released = true
	return s.Runner.StopAndRemove(ctx, s.ContainerID)
}
