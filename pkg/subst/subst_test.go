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

package subst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellSubstitutesBareAndBraced(t *testing.T) {
	m := NewMap(map[string]string{"RECIPE": "foo"}, map[string]string{"RECIPE_VERSION": "1.0"})
	got := m.Shell("echo 123 >> ${RECIPE}_$RECIPE_VERSION")
	assert.Equal(t, "echo 123 >> foo_1.0", got)
}

func TestShellUndefinedBecomesEmpty(t *testing.T) {
	m := NewMap(nil, nil)
	got := m.Shell("echo $UNDEFINED_THING done")
	assert.Equal(t, "echo  done", got)
}

func TestFieldUndefinedReturnsResolveError(t *testing.T) {
	m := NewMap(nil, nil)
	_, err := m.Field("source", "${NOT_SET}/archive.tar.gz")
	require.Error(t, err)
	var re *ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "source", re.Field)
}

func TestFieldPrecedenceRecipeEnvBeatsJobVars(t *testing.T) {
	m := NewMap(map[string]string{"X": "recipe"}, map[string]string{"X": "job"})
	got, err := m.Field("working_dir", "${X}")
	require.NoError(t, err)
	assert.Equal(t, "recipe", got)
}

func TestFieldLeavesBareVarLiteral(t *testing.T) {
	m := NewMap(map[string]string{"X": "recipe"}, nil)
	got, err := m.Field("working_dir", "$X/build")
	require.NoError(t, err)
	assert.Equal(t, "$X/build", got)
}

func TestSubstituteOnlyAppliesOnce(t *testing.T) {
	m := NewMap(map[string]string{"A": "$B", "B": "leaked"}, nil)
	got := m.Shell("$A")
	assert.Equal(t, "$B", got)
}

func TestSubstituteLeavesUnterminatedBraceLiteral(t *testing.T) {
	m := NewMap(nil, nil)
	got := m.Shell("echo ${UNCLOSED")
	assert.Equal(t, "echo ${UNCLOSED", got)
}
