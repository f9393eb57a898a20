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

// Package image implements the image model and build-image cache (C2):
// enumerating configured build images, picking the right package manager
// per target, and fingerprinting the dependency set so repeat builds can
// skip re-installing packages. Grounded on melange2's convention-driven
// image/workspace setup (pkg/build/build.go's populateWorkspace,
// pkg/convention/convention.go), generalized from melange2's single
// apko-built workspace to many independently cached Dockerfile-built
// images, one per (name) in the engine's images_dir.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dlorenc/pkgr/pkg/pkgrerr"
	"github.com/dlorenc/pkgr/pkg/recipe"
)

// Image is a directory under images_dir containing a Dockerfile, plus the
// declared attributes from configuration.
type Image struct {
	Name string
	// Target is the package format this image builds.
	Target recipe.Target
	// OS overrides distro auto-detection when the engine can't
	// determine it from the container (e.g. for a custom FROM).
	OS string
	// Dir is the host directory containing the image's Dockerfile.
	Dir string
}

// DockerfilePath returns the path to the image's Dockerfile.
func (img Image) DockerfilePath() string {
	return filepath.Join(img.Dir, "Dockerfile")
}

// ListImages enumerates every image subdirectory of imagesDir that
// appears in cfg, attaching each image's declared target/os.
func ListImages(imagesDir string, cfg []Declared) ([]Image, error) {
	var out []Image
	for _, d := range cfg {
		dir := filepath.Join(imagesDir, d.Name)
		if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err != nil {
			return nil, pkgrerr.New(pkgrerr.KindImage, fmt.Sprintf("image %q missing Dockerfile", d.Name), err)
		}
		out = append(out, Image{
			Name:   d.Name,
			Target: d.Target,
			OS:     d.OS,
			Dir:    dir,
		})
	}
	return out, nil
}

// Declared is the configuration-file shape of one image entry
// (`images: [{name, target, os?}]`, spec.md §6).
type Declared struct {
	Name   string        `yaml:"name"`
	Target recipe.Target `yaml:"target"`
	OS     string        `yaml:"os,omitempty"`
}

// packageManagers maps each target to the installer invocation used to
// bring build_depends onto the base image, per spec.md §4.2.
var packageManagers = map[recipe.Target]string{
	recipe.TargetRPM: "dnf",
	recipe.TargetDEB: "apt-get",
	recipe.TargetPKG: "pacman",
	recipe.TargetAPK: "apk",
}

// rpmFallback is tried when dnf is not present on the image (older RPM
// distros ship only yum).
const rpmFallback = "yum"

// defaultDeps are installed on every image unless skip_default_deps is
// set, per spec.md §4.2.
var defaultDeps = []string{"gzip", "git", "tar", "curl"}

// InstallPlan describes the package-manager invocation needed to bring an
// image up to date with a recipe's resolved dependencies.
type InstallPlan struct {
	Manager  string
	Fallback string
	Packages []string
}

// PlanInstall picks the package manager for img's target (gzip targets
// use the image's declared OS's manager) and returns the de-duplicated,
// default-augmented package list to install.
func PlanInstall(img Image, resolvedBuildDeps []string, skipDefaultDeps bool) (InstallPlan, error) {
	mgr, fallback, err := managerFor(img)
	if err != nil {
		return InstallPlan{}, err
	}

	pkgs := append([]string{}, resolvedBuildDeps...)
	if !skipDefaultDeps {
		seen := make(map[string]bool, len(pkgs))
		for _, p := range pkgs {
			seen[p] = true
		}
		for _, d := range defaultDeps {
			if !seen[d] {
				pkgs = append(pkgs, d)
				seen[d] = true
			}
		}
	}

	return InstallPlan{Manager: mgr, Fallback: fallback, Packages: pkgs}, nil
}

func managerFor(img Image) (manager, fallback string, err error) {
	if img.Target != recipe.TargetGzip {
		mgr, ok := packageManagers[img.Target]
		if !ok {
			return "", "", pkgrerr.UnknownPackageManagerError(img.Name)
		}
		if img.Target == recipe.TargetRPM {
			return mgr, rpmFallback, nil
		}
		return mgr, "", nil
	}

	// gzip target: the package manager is determined by the image's
	// declared OS override, since gzip has no native package format of
	// its own to hint at a distro family.
	switch strings.ToLower(img.OS) {
	case "rhel", "rocky", "centos", "fedora", "almalinux":
		return "dnf", rpmFallback, nil
	case "debian", "ubuntu":
		return "apt-get", "", nil
	case "arch", "archlinux":
		return "pacman", "", nil
	case "alpine":
		return "apk", "", nil
	}
	return "", "", pkgrerr.UnknownPackageManagerError(img.Name)
}

// Fingerprint computes dep_hash = sha256(sorted(resolved_deps) ||
// skip_default_deps_flag || dockerfile_bytes), per spec.md §4.2. Any
// change to the resolved dependency set, the skip-default-deps flag, or
// the Dockerfile invalidates the cached image.
func Fingerprint(resolvedDeps []string, skipDefaultDeps bool, dockerfileBytes []byte) string {
	sorted := append([]string{}, resolvedDeps...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, d := range sorted {
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	if skipDefaultDeps {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(dockerfileBytes)
	return hex.EncodeToString(h.Sum(nil))
}
