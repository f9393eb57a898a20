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

// Package job implements the per-(recipe,image,target) build job state
// machine (C5): Created→ImageReady→ContainerUp→Fetched→Configured→Built→
// Installed→Harvested→Done, with Failed/Cancelled as terminal
// off-ramps. Run never enters StatePackaged: packages are emitted by
// pkg/emit after the job is Done. Grounded on melange2's pkg/build/build.go BuildPackage
// phase sequencing (populateWorkspace → run pipeline → generate
// packages), generalized from melange2's single-target apko/BuildKit
// pipeline to pkgr's explicit per-target phase machine driven through a
// container.Session.
package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/dlorenc/pkgr/pkg/container"
	"github.com/dlorenc/pkgr/pkg/fetch"
	"github.com/dlorenc/pkgr/pkg/image"
	"github.com/dlorenc/pkgr/pkg/pkgrerr"
	"github.com/dlorenc/pkgr/pkg/recipe"
	"github.com/dlorenc/pkgr/pkg/subst"
)

// State is one node in the job state machine.
type State string

const (
	StateCreated     State = "created"
	StateImageReady  State = "image_ready"
	StateContainerUp State = "container_up"
	StateFetched     State = "fetched"
	StateConfigured  State = "configured"
	StateBuilt       State = "built"
	StateInstalled   State = "installed"
	StateHarvested   State = "harvested"
	StatePackaged    State = "packaged"
	StateDone        State = "done"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Job is one (recipe, version, image, target) build unit.
type Job struct {
	Recipe  recipe.Recipe
	Version string
	Image   image.Image
	Target  recipe.Target

	BldDir string
	OutDir string

	State State
	Err   error

	HarvestedFiles []HarvestedFile

	builtImageID      string
	session           *container.Session
	detectedOSVersion string
}

// HarvestedFile is one file pulled from $PKGER_OUT_DIR, destined for the
// emitter.
type HarvestedFile struct {
	Path string // relative to $PKGER_OUT_DIR
	Mode uint32
	Data []byte
}

// New creates a job in the Created state with fresh, per-job timestamped
// workspace directories, per spec.md §3 ("never shares $PKGER_BLD_DIR /
// $PKGER_OUT_DIR with another job").
func New(r recipe.Recipe, version string, img image.Image, target recipe.Target) *Job {
	ts := time.Now().UnixNano()
	return &Job{
		Recipe:  r,
		Version: version,
		Image:   img,
		Target:  target,
		BldDir:  fmt.Sprintf("/tmp/%s-build-%d", r.Name, ts),
		OutDir:  fmt.Sprintf("/tmp/%s-out-%d", r.Name, ts),
		State:   StateCreated,
	}
}

// Runner bundles the collaborators a job needs to advance through its
// phases.
type Runner struct {
	Cache  *image.Cache
	Engine container.Runner
}

// fail transitions j to Failed, recording err, and returns it unchanged
// so callers can propagate directly.
func (j *Job) fail(err error) error {
	j.State = StateFailed
	j.Err = err
	return err
}

// Run drives j through every phase to a terminal state. The caller is
// responsible for observing ctx cancellation between jobs; Run itself
// checks ctx at each phase boundary and transitions to Cancelled if it
// has been cancelled, per spec.md §4.5/§5.
func (r *Runner) Run(ctx context.Context, j *Job) error {
	log := clog.FromContext(ctx).With("recipe", j.Recipe.Name, "version", j.Version, "image", j.Image.Name, "target", j.Target)
	ctx = clog.WithLogger(ctx, log)

	phases := []func(context.Context, *Job) error{
		r.resolveImage,
		r.createContainer,
		r.fetchSources,
		r.runConfigure,
		r.runBuild,
		r.runInstall,
		r.harvest,
	}

	defer func() {
		if j.sessionStarted() {
			_ = j.session.Release(context.Background())
		}
	}()

	for _, phase := range phases {
		if ctx.Err() != nil {
			j.State = StateCancelled
			j.Err = pkgrerr.Cancelled
			return j.Err
		}
		if err := phase(ctx, j); err != nil {
			return err
		}
	}

	j.State = StateDone
	log.Infof("job done")
	return nil
}

// session is stashed on the job once its container exists, so later
// phases (and the deferred release above) can reach it without
// threading an extra parameter through every phase function.
func (j *Job) sessionStarted() bool { return j.session != nil }

func (r *Runner) resolveImage(ctx context.Context, j *Job) error {
	deps := j.Recipe.ResolveDeps(j.Image.Name, j.Target)
	imageID, err := r.Cache.EnsureImageFor(ctx, j.Image, j.Recipe.Name, deps.BuildDepends, j.Recipe.SkipDefaultDeps)
	if err != nil {
		return j.fail(err)
	}
	j.builtImageID = imageID
	j.State = StateImageReady
	return nil
}

func (r *Runner) createContainer(ctx context.Context, j *Job) error {
	env := j.environment()
	sess, err := container.NewSession(ctx, r.Engine, container.Config{
		ImageID: j.builtImageID,
		Env:     env,
		WorkDir: j.BldDir,
	})
	if err != nil {
		return j.fail(pkgrerr.New(pkgrerr.KindEngine, "creating job container", err))
	}
	j.session = sess

	mkdirs := fmt.Sprintf("mkdir -p %q %q", j.BldDir, j.OutDir)
	res, err := sess.Exec(ctx, recipe.DefaultShell, "/", nil, mkdirs)
	if err != nil || res.ExitCode != 0 {
		return j.fail(pkgrerr.New(pkgrerr.KindEngine, "preparing job workspace", err))
	}

	j.detectedOSVersion = detectOSVersion(ctx, sess)

	j.State = StateContainerUp
	return nil
}

// detectOSVersion execs `cat /etc/os-release` inside sess and parses the
// VERSION_ID field, per spec.md §4.5's requirement that
// $PKGER_OS_VERSION be "detected via /etc/os-release inside the
// container." Returns "" if the file is missing or unparseable; a
// recipe step can always fall back to reading /etc/os-release itself.
func detectOSVersion(ctx context.Context, sess *container.Session) string {
	res, err := sess.Exec(ctx, recipe.DefaultShell, "/", nil, "cat /etc/os-release")
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "VERSION_ID=")
		if !ok {
			continue
		}
		return strings.Trim(rest, `"`)
	}
	return ""
}

// environment returns the pkger-provided variables seeded into the
// container, per spec.md §4.5, merged with the recipe's env block.
func (j *Job) environment() map[string]string {
	env := map[string]string{
		"PKGER_OS":         j.osName(),
		"PKGER_OS_VERSION": j.osVersion(),
		"PKGER_BLD_DIR":    j.BldDir,
		"PKGER_OUT_DIR":    j.OutDir,
		"RECIPE":           j.Recipe.Name,
		"RECIPE_VERSION":   j.Version,
		"RECIPE_RELEASE":   j.Recipe.EffectiveRelease(),
	}
	for k, v := range j.Recipe.Env {
		env[k] = v
	}
	return env
}

// osName returns the image's declared OS override, or the image name
// when none is declared; it is not read from /etc/os-release.
func (j *Job) osName() string {
	if j.Image.OS != "" {
		return j.Image.OS
	}
	return j.Image.Name
}

func (j *Job) osVersion() string {
	return j.detectedOSVersion
}

func (r *Runner) fetchSources(ctx context.Context, j *Job) error {
	f := &fetch.Fetcher{
		Session: j.session,
		Vars:    j.substMap(),
		Image:   j.Image.Name,
		BldDir:  j.BldDir,
	}
	if err := f.Fetch(ctx, j.Recipe); err != nil {
		return j.fail(err)
	}
	j.State = StateFetched
	return nil
}

func (j *Job) substMap() subst.Map {
	return subst.NewMap(j.Recipe.Env, j.environment())
}

func (r *Runner) runConfigure(ctx context.Context, j *Job) error {
	if j.Recipe.Configure == nil {
		j.State = StateConfigured
		return nil
	}
	if err := r.runPhase(ctx, j, "configure", *j.Recipe.Configure); err != nil {
		return err
	}
	j.State = StateConfigured
	return nil
}

func (r *Runner) runBuild(ctx context.Context, j *Job) error {
	if err := r.runPhase(ctx, j, "build", j.Recipe.Build); err != nil {
		return err
	}
	j.State = StateBuilt
	return nil
}

func (r *Runner) runInstall(ctx context.Context, j *Job) error {
	if j.Recipe.Install == nil {
		j.State = StateInstalled
		return nil
	}
	if err := r.runPhase(ctx, j, "install", *j.Recipe.Install); err != nil {
		return err
	}
	j.State = StateInstalled
	return nil
}

// runPhase executes every step of phase in order, evaluating each
// step's filter against the job's (image, version, target) and
// resolving $VAR/${VAR} references in cmd before exec'ing it, per
// spec.md §4.5.
func (r *Runner) runPhase(ctx context.Context, j *Job, name string, phase recipe.Phase) error {
	vars := j.substMap()
	workDir := vars.Shell(phase.DefaultWorkingDir(name))
	shell := phase.EffectiveShell()

	for i, step := range phase.Steps {
		if ctx.Err() != nil {
			return j.fail(pkgrerr.Cancelled)
		}
		if !step.Filters.Matches(j.Image.Name, j.Version, j.Target) {
			continue
		}

		cmd := vars.Shell(step.Cmd)
		res, err := j.session.Exec(ctx, shell, workDir, nil, cmd)
		if err != nil {
			return j.fail(&pkgrerr.StepFailedError{Phase: name, Index: i, Cause: err})
		}
		if res.ExitCode != 0 {
			return j.fail(&pkgrerr.StepFailedError{
				Phase: name,
				Index: i,
				Cause: fmt.Errorf("exit %d: %s", res.ExitCode, res.Stderr),
			})
		}
	}
	return nil
}
