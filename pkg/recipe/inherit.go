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

package recipe

import (
	"fmt"

	"github.com/dlorenc/pkgr/pkg/pkgrerr"
)

// resolveInheritance walks each recipe's `from` chain, merging parent
// fields into children, child-wins, in two passes: first a topological
// sort of the `from` graph (detecting cycles), then a single forward
// pass applying merges in dependency order. Grounded on melange2's
// propagateChildPipelines/propagatePipelines downward-propagation
// pattern in pkg/config/config.go, generalized from pipeline-only
// propagation to whole-recipe field merging.
func resolveInheritance(recipes map[string]Recipe) (map[string]Recipe, error) {
	order, err := topoOrder(recipes)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]Recipe, len(recipes))
	for _, name := range order {
		r := recipes[name]
		if r.From == "" {
			resolved[name] = r
			continue
		}
		parent, ok := resolved[r.From]
		if !ok {
			// Parents precede children in order, so a missing parent is a
			// dangling `from` reference (topoOrder skips those).
			return nil, pkgrerr.New(pkgrerr.KindRecipe, fmt.Sprintf("recipe %q inherits from unknown recipe %q", name, r.From), nil)
		}
		resolved[name] = mergeRecipe(parent, r)
	}
	return resolved, nil
}

// topoOrder returns recipe names ordered so that every recipe's `from`
// parent precedes it, or an InheritanceCycleError if the `from` graph
// has a cycle.
func topoOrder(recipes map[string]Recipe) ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(recipes))
	var order []string

	var visit func(name string, chain []string) error
	visit = func(name string, chain []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return pkgrerr.InheritanceCycleError(append(chain, name))
		}
		r, ok := recipes[name]
		if !ok {
			// Dangling `from` reference; reported as a recipe-kind error
			// by resolveInheritance, not here.
			return nil
		}
		state[name] = visiting
		if r.From != "" {
			if err := visit(r.From, append(chain, name)); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for name := range recipes {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// mergeRecipe merges a parent recipe into a child: scalars and lists use
// child-wins-if-set, otherwise inherited (spec.md §4.1); a child's step
// list for a phase fully replaces the parent's rather than appending to
// it; and dependency maps merge key-by-key, a key the child also sets
// replacing the parent's list for that key wholesale rather than unioning.
func mergeRecipe(parent, child Recipe) Recipe {
	out := child

	if out.Maintainer == "" {
		out.Maintainer = parent.Maintainer
	}
	if out.URL == "" {
		out.URL = parent.URL
	}
	if out.License == "" {
		out.License = parent.License
	}
	if out.Arch == "" {
		out.Arch = parent.Arch
	}
	if out.Group == "" {
		out.Group = parent.Group
	}
	if out.Description == "" {
		out.Description = parent.Description
	}
	if out.Release == "" {
		out.Release = parent.Release
	}
	if out.Epoch == "" {
		out.Epoch = parent.Epoch
	}
	if len(out.Images) == 0 {
		out.Images = parent.Images
	}

	if len(out.Source) == 0 {
		out.Source = parent.Source
	}
	if len(out.Patches) == 0 {
		out.Patches = parent.Patches
	}
	if len(out.Exclude) == 0 {
		out.Exclude = parent.Exclude
	}
	if len(out.SetCap) == 0 {
		out.SetCap = parent.SetCap
	}

	out.Depends = mergeDepMap(parent.Depends, child.Depends)
	out.BuildDepends = mergeDepMap(parent.BuildDepends, child.BuildDepends)
	out.Conflicts = mergeDepMap(parent.Conflicts, child.Conflicts)
	out.Provides = mergeDepMap(parent.Provides, child.Provides)

	out.Env = mergeStringMap(parent.Env, child.Env)

	out.Configure = mergePhase(parent.Configure, child.Configure)
	if child.Build.Shell == "" && child.Build.WorkingDir == "" && len(child.Build.Steps) == 0 {
		out.Build = parent.Build
	} else {
		merged := mergePhase(&parent.Build, &child.Build)
		out.Build = *merged
	}
	out.Install = mergePhase(parent.Install, child.Install)

	out.RPM = mergeTargetExtra(parent.RPM, child.RPM)
	out.Deb = mergeTargetExtra(parent.Deb, child.Deb)
	out.Pkg = mergeTargetExtra(parent.Pkg, child.Pkg)
	out.Apk = mergeTargetExtra(parent.Apk, child.Apk)

	return out
}

func mergePhase(parent, child *Phase) *Phase {
	switch {
	case parent == nil:
		return child
	case child == nil:
		p := *parent
		return &p
	}
	out := *child
	if out.Shell == "" {
		out.Shell = parent.Shell
	}
	if out.WorkingDir == "" {
		out.WorkingDir = parent.WorkingDir
	}
	// A child that declares its own steps for this phase fully replaces
	// the parent's step list rather than running both (spec.md §4.1).
	if len(child.Steps) == 0 {
		out.Steps = parent.Steps
	} else {
		out.Steps = child.Steps
	}
	return &out
}

func mergeTargetExtra(parent, child *TargetExtra) *TargetExtra {
	switch {
	case parent == nil:
		return child
	case child == nil:
		p := *parent
		return &p
	}
	out := *child
	out.PreDepends = mergeDepMap(parent.PreDepends, child.PreDepends)
	out.Obsoletes = mergeDepMap(parent.Obsoletes, child.Obsoletes)
	out.Optdepends = mergeDepMap(parent.Optdepends, child.Optdepends)
	out.Checkdepends = mergeDepMap(parent.Checkdepends, child.Checkdepends)
	if out.PreInstall == "" {
		out.PreInstall = parent.PreInstall
	}
	if out.PostInstall == "" {
		out.PostInstall = parent.PostInstall
	}
	if out.PreRemove == "" {
		out.PreRemove = parent.PreRemove
	}
	if out.PostRemove == "" {
		out.PostRemove = parent.PostRemove
	}
	if out.Install == "" {
		out.Install = parent.Install
	}
	return &out
}

// mergeDepMap merges two dependency maps key-by-key: a key the child also
// sets replaces the parent's list for that key entirely; keys only the
// parent sets carry over unchanged (spec.md §4.1's Maps category).
func mergeDepMap(parent, child DependencyMap) DependencyMap {
	if len(parent) == 0 {
		return child
	}
	out := make(DependencyMap, len(parent)+len(child))
	for k, v := range parent {
		out[k] = append([]string{}, v...)
	}
	for k, v := range child {
		out[k] = append([]string{}, v...)
	}
	return out
}

func mergeStringMap(parent, child map[string]string) map[string]string {
	if len(parent) == 0 {
		return child
	}
	out := make(map[string]string, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}
