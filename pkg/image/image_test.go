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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlorenc/pkgr/pkg/recipe"
)

func TestPlanInstallAddsDefaultDepsUnlessSkipped(t *testing.T) {
	img := Image{Name: "rocky", Target: recipe.TargetRPM}

	plan, err := PlanInstall(img, []string{"cargo"}, false)
	require.NoError(t, err)
	assert.Equal(t, "dnf", plan.Manager)
	assert.Equal(t, "yum", plan.Fallback)
	assert.Contains(t, plan.Packages, "cargo")
	assert.Contains(t, plan.Packages, "gzip")
	assert.Contains(t, plan.Packages, "git")

	plan, err = PlanInstall(img, []string{"cargo"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"cargo"}, plan.Packages)
}

func TestPlanInstallUnknownGzipOSFails(t *testing.T) {
	img := Image{Name: "mystery", Target: recipe.TargetGzip}
	_, err := PlanInstall(img, nil, false)
	assert.Error(t, err)
}

func TestPlanInstallGzipUsesDeclaredOS(t *testing.T) {
	img := Image{Name: "custom", Target: recipe.TargetGzip, OS: "alpine"}
	plan, err := PlanInstall(img, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "apk", plan.Manager)
}

func TestFingerprintChangesWithInputs(t *testing.T) {
	base := Fingerprint([]string{"a", "b"}, false, []byte("FROM rocky"))
	changedDeps := Fingerprint([]string{"a", "c"}, false, []byte("FROM rocky"))
	changedFlag := Fingerprint([]string{"a", "b"}, true, []byte("FROM rocky"))
	changedFile := Fingerprint([]string{"a", "b"}, false, []byte("FROM debian"))

	assert.NotEqual(t, base, changedDeps)
	assert.NotEqual(t, base, changedFlag)
	assert.NotEqual(t, base, changedFile)
}

func TestFingerprintOrderIndependent(t *testing.T) {
	a := Fingerprint([]string{"a", "b"}, false, []byte("x"))
	b := Fingerprint([]string{"b", "a"}, false, []byte("x"))
	assert.Equal(t, a, b)
}
