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
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"gopkg.in/yaml.v3"

	"github.com/dlorenc/pkgr/pkg/pkgrerr"
)

// recipeFilenames are the accepted recipe file basenames within a recipe
// subdirectory, tried in order.
var recipeFilenames = []string{"recipe.yml", "recipe.yaml"}

// LoadAll reads every subdirectory of dir containing a recipe.yml or
// recipe.yaml, decodes it, resolves `from` inheritance across the whole
// set, and returns the resolved recipes keyed by name. Grounded on
// melange2's ParseConfiguration (pkg/config/config.go) for the decode
// step, generalized here to a whole-directory multi-recipe loader since
// the build orchestration engine manages many named recipes at once
// rather than one configuration per invocation.
func LoadAll(ctx context.Context, dir string) (map[string]Recipe, error) {
	log := clog.FromContext(ctx)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pkgrerr.New(pkgrerr.KindRecipe, fmt.Sprintf("reading recipes dir %q", dir), err)
	}

	raw := make(map[string]Recipe)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subdir := filepath.Join(dir, entry.Name())
		path, ok := findRecipeFile(subdir)
		if !ok {
			continue
		}

		r, err := decodeRecipeFile(path)
		if err != nil {
			return nil, err
		}
		r.sourceDir = subdir

		if _, exists := raw[r.Name]; exists {
			return nil, pkgrerr.DuplicateRecipeError(r.Name)
		}
		raw[r.Name] = r
	}

	resolved, err := resolveInheritance(raw)
	if err != nil {
		return nil, err
	}

	for name, r := range resolved {
		if err := validate(r); err != nil {
			return nil, pkgrerr.New(pkgrerr.KindRecipe, fmt.Sprintf("recipe %q", name), err)
		}
	}

	log.Debugf("loaded %d recipes from %s", len(resolved), dir)
	return resolved, nil
}

func findRecipeFile(subdir string) (string, bool) {
	for _, name := range recipeFilenames {
		path := filepath.Join(subdir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

func decodeRecipeFile(path string) (Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, pkgrerr.RecipeParseError(path, err)
	}

	var raw rawRecipe
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Recipe{}, pkgrerr.RecipeParseError(path, err)
	}
	return raw.Recipe, nil
}

// rawRecipe lets Versions decode from either a scalar string or a
// sequence, since YAML has no native union type.
type rawRecipe struct {
	Recipe `yaml:",inline"`
}

// UnmarshalYAML implements custom decoding for Versions so that
// `version: 1.2.3` and `version: [1.2.3, 1.3.0]` both parse.
func (v *Versions) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*v = Versions{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*v = Versions(list)
		return nil
	default:
		return fmt.Errorf("version: unsupported YAML node kind %v", node.Kind)
	}
}

// Expand returns one logical recipe per entry in r.Version, each
// carrying a single-element Versions slice, per spec.md §3's version
// expansion rule ("if version is a list, the loader yields N logical
// recipes sharing all other fields").
func (r Recipe) Expand() []Recipe {
	if len(r.Version) == 0 {
		return []Recipe{r}
	}
	out := make([]Recipe, 0, len(r.Version))
	for _, v := range r.Version {
		copy := r
		copy.Version = Versions{v}
		out = append(out, copy)
	}
	return out
}

// ExpandAll applies Expand to every recipe in the set.
func ExpandAll(recipes map[string]Recipe) []Recipe {
	var out []Recipe
	for _, r := range recipes {
		out = append(out, r.Expand()...)
	}
	return out
}
