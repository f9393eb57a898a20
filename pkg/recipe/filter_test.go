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
)

func TestStepFilterNoConstraintsAlwaysMatches(t *testing.T) {
	var f StepFilter
	assert.True(t, f.Matches("rocky", "1.0.0", TargetRPM))
}

func TestStepFilterImagesConstraint(t *testing.T) {
	f := StepFilter{Images: []string{"rocky", "debian"}}
	assert.True(t, f.Matches("rocky", "1.0.0", TargetRPM))
	assert.False(t, f.Matches("alpine", "1.0.0", TargetAPK))
}

func TestStepFilterVersionsConstraint(t *testing.T) {
	f := StepFilter{Versions: []string{"1.0.0"}}
	assert.True(t, f.Matches("rocky", "1.0.0", TargetRPM))
	assert.False(t, f.Matches("rocky", "2.0.0", TargetRPM))
}

func TestStepFilterTargetBooleanExclude(t *testing.T) {
	no := false
	f := StepFilter{Deb: &no}
	assert.False(t, f.Matches("debian", "1.0.0", TargetDEB))
	assert.True(t, f.Matches("rocky", "1.0.0", TargetRPM))
}

func TestStepFilterTargetBooleanIncludeOnly(t *testing.T) {
	yes := true
	f := StepFilter{Deb: &yes}
	assert.True(t, f.Matches("debian", "1.0.0", TargetDEB))
	assert.False(t, f.Matches("rocky", "1.0.0", TargetRPM))
}

func TestStepFilterCombinedImageAndTarget(t *testing.T) {
	yes := true
	f := StepFilter{Images: []string{"rocky"}, RPM: &yes}
	assert.True(t, f.Matches("rocky", "1.0.0", TargetRPM))
	assert.False(t, f.Matches("rocky", "1.0.0", TargetDEB))
	assert.False(t, f.Matches("debian", "1.0.0", TargetRPM))
}
