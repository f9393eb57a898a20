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

// Package recipe implements the declarative recipe model: parsing,
// `from`-inheritance, version expansion and per-(image,target) dependency
// resolution described by the build orchestration engine.
package recipe

import (
	"time"

	purl "github.com/package-url/packageurl-go"
)

// Target is a package format the engine can emit.
type Target string

const (
	TargetRPM  Target = "rpm"
	TargetDEB  Target = "deb"
	TargetPKG  Target = "pkg"
	TargetAPK  Target = "apk"
	TargetGzip Target = "gzip"
)

// Source describes one way to bring code into the build directory.
type Source struct {
	// URL or local path.
	Source string `yaml:"source,omitempty"`
	// Git describes a git source; may be combined with Source.
	Git *GitSource `yaml:"git,omitempty"`
}

// GitSource clones a repository into $PKGER_BLD_DIR.
type GitSource struct {
	URL    string `yaml:"url"`
	Branch string `yaml:"branch,omitempty"`
}

// Patch describes a patch to apply after sources are fetched.
type Patch struct {
	// Patch is a local file path or URL.
	Patch string `yaml:"patch"`
	// Strip is the -pN strip level; defaults to 1.
	Strip *int `yaml:"strip,omitempty"`
	// Images restricts this patch to specific images; empty means all.
	Images []string `yaml:"images,omitempty"`
}

func (p Patch) StripLevel() int {
	if p.Strip == nil {
		return 1
	}
	return *p.Strip
}

// StepFilter gates whether a Step runs for a given (image, version, target).
// A zero-value filter has no constraints and always matches.
type StepFilter struct {
	Images   []string `yaml:"images,omitempty"`
	Versions []string `yaml:"versions,omitempty"`

	// Per-target booleans: nil means "no constraint", non-nil means the
	// step is explicitly included (true) or excluded (false) on that
	// target. Multiple booleans AND together.
	RPM *bool `yaml:"rpm,omitempty"`
	Deb *bool `yaml:"deb,omitempty"`
	Pkg *bool `yaml:"pkg,omitempty"`
	Apk *bool `yaml:"apk,omitempty"`
	Gzip *bool `yaml:"gzip,omitempty"`
}

// Matches reports whether the filter is satisfied by the given job context.
// Per spec: a step with no filters always runs; otherwise every declared
// filter must include the current (image, version, target).
func (f StepFilter) Matches(image, version string, target Target) bool {
	if len(f.Images) > 0 && !contains(f.Images, image) {
		return false
	}
	if len(f.Versions) > 0 && !contains(f.Versions, version) {
		return false
	}
	for _, b := range f.targetBools() {
		if b.target == target && b.value != nil && !*b.value {
			return false
		}
	}
	// If any target boolean is explicitly set to true for a *different*
	// target than ours, and none is set true for ours, that's still fine
	// per spec: booleans only constrain negatively (false) or positively
	// require the job's own target (true). A `true` on another target
	// does not exclude us unless *ours* is explicitly false, OR all
	// declared positive booleans exclude us (none name our target while
	// at least one is true).
	anyTrue := false
	oursTrue := false
	for _, b := range f.targetBools() {
		if b.value != nil && *b.value {
			anyTrue = true
			if b.target == target {
				oursTrue = true
			}
		}
	}
	if anyTrue && !oursTrue {
		return false
	}
	return true
}

type targetBool struct {
	target Target
	value  *bool
}

func (f StepFilter) targetBools() []targetBool {
	return []targetBool{
		{TargetRPM, f.RPM},
		{TargetDEB, f.Deb},
		{TargetPKG, f.Pkg},
		{TargetAPK, f.Apk},
		{TargetGzip, f.Gzip},
	}
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// Step is a single command within a phase's script.
type Step struct {
	Cmd     string     `yaml:"cmd"`
	Filters StepFilter `yaml:",inline"`
}

// Phase is one of configure/build/install.
type Phase struct {
	Shell      string `yaml:"shell,omitempty"`
	WorkingDir string `yaml:"working_dir,omitempty"`
	Steps      []Step `yaml:"steps,omitempty"`
}

const (
	DefaultShell = "/bin/sh"

	EnvBldDir = "PKGER_BLD_DIR"
	EnvOutDir = "PKGER_OUT_DIR"
)

// DefaultWorkingDir returns the phase's default working directory, per
// spec.md §3 (build/install use the standard workspace dirs; configure
// defaults to the build dir).
func (p Phase) DefaultWorkingDir(phaseName string) string {
	if p.WorkingDir != "" {
		return p.WorkingDir
	}
	switch phaseName {
	case "install":
		return "$" + EnvOutDir
	default:
		return "$" + EnvBldDir
	}
}

func (p Phase) EffectiveShell() string {
	if p.Shell == "" {
		return DefaultShell
	}
	return p.Shell
}

// DependencyMap is a map from a dependency-bucket key (`all`,
// `pkger-<target>`, an image name, or a `+`-joined conjunction of those)
// to the dependency names the key contributes.
type DependencyMap map[string][]string

// DependencyBlock groups all the dependency maps a recipe or a per-target
// override block may carry.
type DependencyBlock struct {
	Depends      DependencyMap `yaml:"depends,omitempty"`
	BuildDepends DependencyMap `yaml:"build_depends,omitempty"`
	Conflicts    DependencyMap `yaml:"conflicts,omitempty"`
	Provides     DependencyMap `yaml:"provides,omitempty"`
}

// TargetExtra carries format-native fields that only apply to a single
// target, e.g. `rpm.obsoletes`, `deb.pre_depends`, `pkg.optdepends`,
// `apk.checkdepends`.
type TargetExtra struct {
	PreDepends   DependencyMap `yaml:"pre_depends,omitempty"`
	Obsoletes    DependencyMap `yaml:"obsoletes,omitempty"`
	Optdepends   DependencyMap `yaml:"optdepends,omitempty"`
	Checkdepends DependencyMap `yaml:"checkdepends,omitempty"`

	// Scriptlets, format-native and otherwise unparsed by the core; the
	// emitter consumes these verbatim.
	PreInstall  string `yaml:"pre_install,omitempty"`
	PostInstall string `yaml:"post_install,omitempty"`
	PreRemove   string `yaml:"pre_remove,omitempty"`
	PostRemove  string `yaml:"post_remove,omitempty"`

	// Install is pkg's .install scriptlet contents.
	Install string `yaml:"install,omitempty"`
}

// Recipe is the central declarative entity (spec.md §3).
type Recipe struct {
	// Identity.
	Name    string   `yaml:"name"`
	Version Versions `yaml:"version"`
	Release string   `yaml:"release,omitempty"`
	Epoch   string   `yaml:"epoch,omitempty"`

	// Provenance.
	From string `yaml:"from,omitempty"`

	// Targets.
	Images     []string `yaml:"images,omitempty"`
	AllImages  bool     `yaml:"all_images,omitempty"`

	// Sources.
	Source  []Source `yaml:"source,omitempty"`
	Patches []Patch  `yaml:"patches,omitempty"`

	// Dependency maps.
	DependencyBlock `yaml:",inline"`

	// Scripts.
	Configure *Phase `yaml:"configure,omitempty"`
	Build     Phase  `yaml:"build"`
	Install   *Phase `yaml:"install,omitempty"`

	// Packaging extras.
	Exclude          []string `yaml:"exclude,omitempty"`
	SkipDefaultDeps  bool     `yaml:"skip_default_deps,omitempty"`
	Maintainer       string   `yaml:"maintainer,omitempty"`
	URL              string   `yaml:"url,omitempty"`
	License          string   `yaml:"license,omitempty"`
	Arch             string   `yaml:"arch,omitempty"`
	Group            string   `yaml:"group,omitempty"`
	Description      string   `yaml:"description"`

	// Capabilities for harvested executables. They are decoded and
	// inherited, but no encoder applies them.
	SetCap []Capability `yaml:"setcap,omitempty"`

	RPM *TargetExtra `yaml:"rpm,omitempty"`
	Deb *TargetExtra `yaml:"deb,omitempty"`
	Pkg *TargetExtra `yaml:"pkg,omitempty"`
	Apk *TargetExtra `yaml:"apk,omitempty"`

	// Env is merged into the job's substitution map and container
	// environment, taking precedence over pkger-provided vars.
	Env map[string]string `yaml:"env,omitempty"`

	// sourceDir is the host directory this recipe was loaded from,
	// used to resolve recipe-relative source/patch paths. Not decoded
	// from YAML.
	sourceDir string `yaml:"-"`
}

// Capability names a Linux capability to set on a harvested file.
type Capability struct {
	Path  string   `yaml:"path"`
	Add   []string `yaml:"add,omitempty"`
}

// SourceDir returns the host directory the recipe.yml was loaded from.
func (r Recipe) SourceDir() string { return r.sourceDir }

// EffectiveRelease returns the release string, defaulting to "0".
func (r Recipe) EffectiveRelease() string {
	if r.Release == "" {
		return "0"
	}
	return r.Release
}

// PackageURL returns the provenance purl for one resolved version of this
// recipe, grounded on melange2's config.Package.PackageURL.
func (r Recipe) PackageURL(version, arch string) *purl.PackageURL {
	u := &purl.PackageURL{
		Type:    "generic",
		Name:    r.Name,
		Version: version,
	}
	if arch != "" {
		u.Qualifiers = append(u.Qualifiers, purl.Qualifier{Key: "arch", Value: arch})
	}
	return u
}

// Versions holds either a single version string or an ordered list of
// versions; YAML decoding accepts both shapes.
type Versions []string

// Timeout is an optional wall-clock allowance carried for documentation
// purposes; the engine itself imposes none (spec.md §5).
type Timeout = time.Duration
