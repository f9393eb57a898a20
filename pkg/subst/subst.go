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

// Package subst resolves $VAR and ${VAR} references in recipe string
// fields, drawing from the recipe's env map, pkger-provided job
// variables, and the inherited process environment, in that precedence.
// Grounded on melange2's pkg/util substitution map
// (MutateStringFromMap/MutateAndQuoteStringFromMap, documented by
// pkg/util/map_subst_test.go) but adapted from melange2's `${{var}}`
// triple-brace delimiter to POSIX `$VAR`/`${VAR}` forms, since spec.md
// §4.8 specifies plain shell-style variable syntax.
package subst

import (
	"fmt"
	"os"
	"strings"
)

// ErrUndefined is wrapped into a ResolveError when a variable has no
// value and the field being resolved does not tolerate that (shell
// fields like cmd fall back to empty string instead; see Shell).
type ErrUndefined struct {
	Name string
}

func (e *ErrUndefined) Error() string {
	return fmt.Sprintf("undefined variable %q", e.Name)
}

// ResolveError reports a failed substitution in a non-shell field.
type ResolveError struct {
	Field string
	Cause error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Field, e.Cause)
}

func (e *ResolveError) Unwrap() error { return e.Cause }

// Map is the layered variable source consulted by Lookup: recipe env,
// then pkger-provided job vars, then the inherited process environment.
type Map struct {
	RecipeEnv map[string]string
	JobVars   map[string]string
}

// NewMap builds a Map from the recipe's env block and the pkger-provided
// job variables (e.g. PKGER_BLD_DIR, RECIPE, RECIPE_VERSION).
func NewMap(recipeEnv, jobVars map[string]string) Map {
	return Map{RecipeEnv: recipeEnv, JobVars: jobVars}
}

// Lookup returns the value for name and whether it was found, checking
// RecipeEnv, then JobVars, then os.LookupEnv, in precedence order.
func (m Map) Lookup(name string) (string, bool) {
	if v, ok := m.RecipeEnv[name]; ok {
		return v, true
	}
	if v, ok := m.JobVars[name]; ok {
		return v, true
	}
	return os.LookupEnv(name)
}

// Shell resolves s treating undefined variables as empty string, the
// behavior spec.md §4.8 mandates for step `cmd` fields. Bare $VAR is
// recognized here, since cmd strings are handed to a shell.
func (m Map) Shell(s string) string {
	out, _ := substitute(s, m, true, true)
	return out
}

// Field resolves s for a non-shell field (e.g. source, working_dir),
// returning a ResolveError wrapping ErrUndefined if any variable it
// references has no value. Per spec.md §9's Design Notes, only the
// braced ${VAR} form is recognized outside of cmd strings; a bare $VAR
// is left untouched.
func (m Map) Field(fieldName, s string) (string, error) {
	out, err := substitute(s, m, false, false)
	if err != nil {
		return "", &ResolveError{Field: fieldName, Cause: err}
	}
	return out, nil
}

// substitute walks s once (no re-expansion of substituted content, per
// spec.md's testable property) replacing ${VAR} references, and bare
// $VAR references when bareAllowed is set.
func substitute(s string, m Map, lenient, bareAllowed bool) (string, error) {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}

		next := s[i+1]
		switch {
		case next == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				// Unterminated brace form; emit literally.
				b.WriteByte(c)
				continue
			}
			name := s[i+2 : i+2+end]
			val, ok := m.Lookup(name)
			if !ok {
				if lenient {
					val = ""
				} else {
					return "", &ErrUndefined{Name: name}
				}
			}
			b.WriteString(val)
			i += 2 + end
		case bareAllowed && isIdentStart(next):
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			name := s[i+1 : j]
			val, ok := m.Lookup(name)
			if !ok {
				if lenient {
					val = ""
				} else {
					return "", &ErrUndefined{Name: name}
				}
			}
			b.WriteString(val)
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
