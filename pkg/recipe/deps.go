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
	"sort"
	"strings"
)

// Resolve returns the dependency names a DependencyMap contributes for a
// given (image, target), de-duplicated and preserving first occurrence.
//
// A key matches when every `+`-joined conjunct it names applies to the
// build: "all" always applies; "pkger-<target>" applies when target
// matches; any other conjunct is taken as an image name and applies when
// it equals image. Per spec.md §3 keys are evaluated independently and
// their dependency lists concatenated bucket by bucket: "all", then
// "pkger-<target>", then `+`-conjunctions, then the image's own key;
// the result is deduplicated keeping the first occurrence of each name.
func (m DependencyMap) Resolve(image string, target Target) []string {
	if len(m) == 0 {
		return nil
	}

	// Map iteration order is random in Go, so keys are first sorted
	// lexically (keeping the order within one bucket deterministic) and
	// then stably grouped by bucket.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	rank := func(k string) int {
		switch {
		case k == "all":
			return 0
		case k == "pkger-"+string(target):
			return 1
		case strings.Contains(k, "+"):
			return 2
		}
		return 3
	}
	sort.SliceStable(keys, func(a, b int) bool { return rank(keys[a]) < rank(keys[b]) })

	seen := make(map[string]bool)
	var out []string
	for _, k := range keys {
		if !keyApplies(k, image, target) {
			continue
		}
		for _, dep := range m[k] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
		}
	}
	return out
}

func keyApplies(key, image string, target Target) bool {
	for _, conjunct := range strings.Split(key, "+") {
		conjunct = strings.TrimSpace(conjunct)
		switch {
		case conjunct == "all":
			continue
		case conjunct == "pkger-"+string(target):
			continue
		case conjunct == image:
			continue
		default:
			return false
		}
	}
	return true
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// ResolvedDeps bundles the resolved dependency lists relevant to a single
// job (image, target) pair.
type ResolvedDeps struct {
	Depends      []string
	BuildDepends []string
	Conflicts    []string
	Provides     []string
	PreDepends   []string
	Obsoletes    []string
	Optdepends   []string
	Checkdepends []string
}

// ResolveDeps computes every dependency bucket applicable to building and
// packaging r for the given image and target.
func (r Recipe) ResolveDeps(image string, target Target) ResolvedDeps {
	out := ResolvedDeps{
		Depends:      r.Depends.Resolve(image, target),
		BuildDepends: r.BuildDepends.Resolve(image, target),
		Conflicts:    r.Conflicts.Resolve(image, target),
		Provides:     r.Provides.Resolve(image, target),
	}
	if extra := r.targetExtra(target); extra != nil {
		out.PreDepends = extra.PreDepends.Resolve(image, target)
		out.Obsoletes = extra.Obsoletes.Resolve(image, target)
		out.Optdepends = extra.Optdepends.Resolve(image, target)
		out.Checkdepends = extra.Checkdepends.Resolve(image, target)
	}
	return out
}

func (r Recipe) targetExtra(target Target) *TargetExtra {
	switch target {
	case TargetRPM:
		return r.RPM
	case TargetDEB:
		return r.Deb
	case TargetPKG:
		return r.Pkg
	case TargetAPK:
		return r.Apk
	default:
		return nil
	}
}
