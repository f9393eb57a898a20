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

import "fmt"

// validate checks the fields spec.md §3 requires to be present after the
// inheritance merge: name, version, description, license, build.steps.
func validate(r Recipe) error {
	var missing []string
	if r.Name == "" {
		missing = append(missing, "name")
	}
	if len(r.Version) == 0 {
		missing = append(missing, "version")
	}
	if r.Description == "" {
		missing = append(missing, "description")
	}
	if r.License == "" {
		missing = append(missing, "license")
	}
	if len(r.Build.Steps) == 0 {
		missing = append(missing, "build.steps")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required field(s) after inheritance merge: %v", missing)
	}
	return nil
}
