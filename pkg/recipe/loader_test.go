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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecipe(t *testing.T, dir, name, contents string) {
	t.Helper()
	sub := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "recipe.yml"), []byte(contents), 0o644))
}

const baseRecipeYAML = `
name: base-package
version: 1.0.0
description: base
license: MIT
images: [rocky, debian]
build:
  steps:
    - cmd: echo 123 >> ${RECIPE}_${RECIPE_VERSION}
`

const childRecipeYAML = `
name: child-package1
from: base-package
version: 0.2.0
install:
  steps:
    - cmd: grep -q 123 out
`

func TestLoadAllResolvesInheritanceAndExpandsVersions(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "base", baseRecipeYAML)
	writeRecipe(t, dir, "child", childRecipeYAML)

	recipes, err := LoadAll(context.Background(), dir)
	require.NoError(t, err)
	require.Contains(t, recipes, "child-package1")

	child := recipes["child-package1"]
	assert.Equal(t, "MIT", child.License)
	assert.Equal(t, []string{"rocky", "debian"}, child.Images)

	expanded := ExpandAll(recipes)
	assert.Len(t, expanded, 2)
}

func TestLoadAllDuplicateNameFails(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "one", baseRecipeYAML)
	writeRecipe(t, dir, "two", baseRecipeYAML)

	_, err := LoadAll(context.Background(), dir)
	assert.Error(t, err)
}

func TestLoadAllMissingRequiredFieldFails(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "broken", `
name: broken
version: 1.0.0
build:
  steps:
    - cmd: true
`)
	_, err := LoadAll(context.Background(), dir)
	assert.Error(t, err)
}

func TestRecipeExpandVersionList(t *testing.T) {
	r := Recipe{Name: "multi", Version: Versions{"1.0.0", "2.0.0"}}
	expanded := r.Expand()
	require.Len(t, expanded, 2)
	assert.Equal(t, Versions{"1.0.0"}, expanded[0].Version)
	assert.Equal(t, Versions{"2.0.0"}, expanded[1].Version)
}
