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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInheritanceMergesParentIntoChild(t *testing.T) {
	recipes := map[string]Recipe{
		"base-package": {
			Name:        "base-package",
			Version:     Versions{"1.0.0"},
			Description: "base",
			License:     "MIT",
			Arch:        "x86_64",
			Images:      []string{"rocky", "debian"},
			Build: Phase{
				Steps: []Step{{Cmd: "echo 123 >> ${RECIPE}_${RECIPE_VERSION}"}},
			},
		},
		"child-package1": {
			Name:    "child-package1",
			From:    "base-package",
			Version: Versions{"0.2.0"},
			Install: &Phase{
				Steps: []Step{{Cmd: "grep -q 123 out"}},
			},
		},
	}

	resolved, err := resolveInheritance(recipes)
	require.NoError(t, err)

	child := resolved["child-package1"]
	assert.Equal(t, "child-package1", child.Name)
	assert.Equal(t, Versions{"0.2.0"}, child.Version)
	assert.Equal(t, "base", child.Description)
	assert.Equal(t, "MIT", child.License)
	assert.Equal(t, "x86_64", child.Arch)
	assert.Equal(t, []string{"rocky", "debian"}, child.Images)
	require.Len(t, child.Build.Steps, 1)
	assert.Equal(t, "echo 123 >> ${RECIPE}_${RECIPE_VERSION}", child.Build.Steps[0].Cmd)
	require.NotNil(t, child.Install)
	require.Len(t, child.Install.Steps, 1)
}

func TestResolveInheritanceDetectsCycle(t *testing.T) {
	recipes := map[string]Recipe{
		"a": {Name: "a", From: "b"},
		"b": {Name: "b", From: "a"},
	}
	_, err := resolveInheritance(recipes)
	assert.Error(t, err)
}

func TestResolveInheritanceDependencyMapKeyCollisionChildReplaces(t *testing.T) {
	recipes := map[string]Recipe{
		"parent": {
			Name: "parent",
			DependencyBlock: DependencyBlock{
				Depends: DependencyMap{"all": {"curl"}, "rocky": {"glibc"}},
			},
		},
		"child": {
			Name: "child",
			From: "parent",
			DependencyBlock: DependencyBlock{
				Depends: DependencyMap{"all": {"git"}},
			},
		},
	}
	resolved, err := resolveInheritance(recipes)
	require.NoError(t, err)
	// "all" is set by both: child's list replaces the parent's wholesale.
	assert.Equal(t, []string{"git"}, resolved["child"].Depends["all"])
	// "rocky" is only set by the parent: it carries over unchanged.
	assert.Equal(t, []string{"glibc"}, resolved["child"].Depends["rocky"])
}
