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

package emit

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dlorenc/pkgr/pkg/job"
)

// debEncoder builds a Debian control file plus harvested file list for
// the external dpkg-deb toolchain, per spec.md §4.7: Installed-Size is
// auto-computed, arch is remapped x86_64→amd64, and the package name has
// underscores turned into hyphens.
type debEncoder struct{}

func (debEncoder) Filename(j *job.Job, arch string) string {
	return fmt.Sprintf("%s-%s-%s.%s.deb", debName(j.Recipe.Name), j.Version, j.Recipe.EffectiveRelease(), debArch(arch))
}

func (debEncoder) Encode(j *job.Job, arch string) ([]byte, error) {
	var buf bytes.Buffer
	r := j.Recipe

	fmt.Fprintf(&buf, "Package: %s\n", debName(r.Name))
	fmt.Fprintf(&buf, "Version: %s-%s\n", j.Version, r.EffectiveRelease())
	fmt.Fprintf(&buf, "Architecture: %s\n", debArch(arch))
	fmt.Fprintf(&buf, "Installed-Size: %d\n", installedSize(j))
	if r.Maintainer != "" {
		fmt.Fprintf(&buf, "Maintainer: %s\n", r.Maintainer)
	}

	deps := r.ResolveDeps(j.Image.Name, j.Target)
	if len(deps.Depends) > 0 {
		fmt.Fprintf(&buf, "Depends: %s\n", strings.Join(deps.Depends, ", "))
	}
	if len(deps.PreDepends) > 0 {
		fmt.Fprintf(&buf, "Pre-Depends: %s\n", strings.Join(deps.PreDepends, ", "))
	}
	if len(deps.Conflicts) > 0 {
		fmt.Fprintf(&buf, "Conflicts: %s\n", strings.Join(deps.Conflicts, ", "))
	}
	if len(deps.Provides) > 0 {
		fmt.Fprintf(&buf, "Provides: %s\n", strings.Join(deps.Provides, ", "))
	}
	if r.Group != "" {
		fmt.Fprintf(&buf, "Section: %s\n", r.Group)
	}
	fmt.Fprintf(&buf, "Description: %s\n", r.Description)

	return buf.Bytes(), nil
}
