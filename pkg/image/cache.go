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
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"

	"github.com/dlorenc/pkgr/pkg/container"
	"github.com/dlorenc/pkgr/pkg/pkgrerr"
	"github.com/dlorenc/pkgr/pkg/store"
)

// Cache implements ensure_image_for (C2's main contract): build-or-reuse
// an engine image with a recipe's build_depends installed on top of an
// image's base Dockerfile. Grounded on melange2's per-build workspace
// initialization (pkg/build/build.go's NewFromConfig/initialize) for the
// build-then-snapshot shape, generalized from melange2's single apko
// base layer to many independently built-and-cached Dockerfile images.
type Cache struct {
	Builder *container.DockerBuilder
	Runner  container.Runner
	Store   *store.Store

	// buildLocks serializes dependency installation per image name, so
	// concurrent jobs targeting the same image don't race to install
	// packages onto the same base (spec.md §5's per-image build lock).
	mu         sync.Mutex
	buildLocks map[string]*sync.Mutex
}

// NewCache wires a DockerBuilder, Runner and persistent Store into a
// Cache.
func NewCache(builder *container.DockerBuilder, runner container.Runner, st *store.Store) *Cache {
	return &Cache{
		Builder:    builder,
		Runner:     runner,
		Store:      st,
		buildLocks: make(map[string]*sync.Mutex),
	}
}

func (c *Cache) lockFor(image string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.buildLocks[image]
	if !ok {
		l = &sync.Mutex{}
		c.buildLocks[image] = l
	}
	return l
}

// EnsureImageFor returns a container-engine image id with img's base
// Dockerfile built and recipeName's resolved build_depends installed on
// top. A cache hit (matching dep_set_hash, and the engine still holding
// the image) returns immediately; a miss rebuilds the base, execs the
// dependency-install layer, and updates the persisted ImageState.
func (c *Cache) EnsureImageFor(ctx context.Context, img Image, recipeName string, resolvedBuildDeps []string, skipDefaultDeps bool) (string, error) {
	log := clog.FromContext(ctx)

	dockerfileBytes, err := os.ReadFile(img.DockerfilePath())
	if err != nil {
		return "", pkgrerr.New(pkgrerr.KindImage, fmt.Sprintf("reading Dockerfile for %q", img.Name), err)
	}

	plan, err := PlanInstall(img, resolvedBuildDeps, skipDefaultDeps)
	if err != nil {
		return "", err
	}
	depHash := Fingerprint(plan.Packages, skipDefaultDeps, dockerfileBytes)

	key := store.Key{Image: img.Name, Recipe: recipeName, Target: string(img.Target)}

	lock := c.lockFor(img.Name)
	lock.Lock()
	defer lock.Unlock()

	if entry, ok := c.Store.Get(key); ok && entry.DepSetHash == depHash {
		if c.imageStillExists(ctx, entry.BuiltImageID) {
			log.Debugf("image cache hit for %s/%s/%s: %s", img.Name, recipeName, img.Target, entry.BuiltImageID)
			return entry.BuiltImageID, nil
		}
		log.Debugf("image cache entry for %s/%s/%s is stale (engine no longer has %s)", img.Name, recipeName, img.Target, entry.BuiltImageID)
	}

	baseTag := fmt.Sprintf("pkgr/%s:base", img.Name)
	if err := c.Builder.Build(ctx, img.DockerfilePath(), img.Dir, baseTag); err != nil {
		return "", pkgrerr.New(pkgrerr.KindImage, fmt.Sprintf("building base image %q", img.Name), err)
	}

	baseID, err := c.Runner.PullOrBuild(ctx, img.DockerfilePath(), img.Dir, baseTag)
	if err != nil {
		return "", err
	}

	builtID, err := c.installDeps(ctx, baseID, plan)
	if err != nil {
		return "", err
	}

	c.Store.Put(key, store.Entry{BuiltImageID: builtID, DepSetHash: depHash})
	if err := c.Store.Save(); err != nil {
		log.Warnf("failed to persist image state: %v", err)
	}

	return builtID, nil
}

func (c *Cache) imageStillExists(ctx context.Context, imageID string) bool {
	return c.Runner.ImageExists(ctx, imageID)
}

// installDeps creates a transient container from baseID, runs the
// package-manager install command for plan, commits the result to a new
// image id, and only then releases the container. Falls back to
// plan.Fallback (e.g. yum when dnf is missing) if the primary manager
// invocation returns an error or exits non-zero.
func (c *Cache) installDeps(ctx context.Context, baseID string, plan InstallPlan) (string, error) {
	if len(plan.Packages) == 0 {
		return baseID, nil
	}

	containerID, err := c.Runner.Create(ctx, container.Config{ImageID: baseID})
	if err != nil {
		return "", pkgrerr.New(pkgrerr.KindEngine, "creating dependency-install container", err)
	}
	defer c.Runner.StopAndRemove(ctx, containerID)

	cmd := installCommand(plan.Manager, plan.Packages)
	res, err := c.Runner.Exec(ctx, containerID, "/bin/sh", "", nil, cmd)
	if (err != nil || res.ExitCode != 0) && plan.Fallback != "" {
		cmd = installCommand(plan.Fallback, plan.Packages)
		res, err = c.Runner.Exec(ctx, containerID, "/bin/sh", "", nil, cmd)
	}
	if err != nil {
		return "", pkgrerr.New(pkgrerr.KindEngine, "installing dependencies", err)
	}
	if res.ExitCode != 0 {
		return "", pkgrerr.New(pkgrerr.KindEngine, fmt.Sprintf("dependency install exited %d: %s", res.ExitCode, res.Stderr), nil)
	}

	// Commit before the deferred StopAndRemove runs: StopAndRemove deletes
	// containerID's own snapshot, so the built layer must be captured
	// under a new tag first, per spec.md §4.2's "snapshots, and updates
	// ImageState" step.
	tag := fmt.Sprintf("pkgr/deps:%s", containerID)
	imageID, err := c.Runner.Commit(ctx, containerID, tag)
	if err != nil {
		return "", pkgrerr.New(pkgrerr.KindEngine, fmt.Sprintf("committing dependency-install layer %q", tag), err)
	}

	return imageID, nil
}

func installCommand(manager string, pkgs []string) string {
	joined := strings.Join(pkgs, " ")
	switch manager {
	case "dnf", "yum":
		return fmt.Sprintf("%s install -y %s", manager, joined)
	case "apt-get":
		return fmt.Sprintf("apt-get update && apt-get install -y %s", joined)
	case "pacman":
		return fmt.Sprintf("pacman -Sy --noconfirm %s", joined)
	case "apk":
		return fmt.Sprintf("apk add --no-cache %s", joined)
	default:
		return fmt.Sprintf("%s install %s", manager, joined)
	}
}
