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

// pkgEncoder builds a PKGBUILD-derived descriptor (and the `.install`
// scriptlet, if the recipe's pkg block carries one) for the external
// makepkg toolchain, per spec.md §4.7.
type pkgEncoder struct{}

func (pkgEncoder) Filename(j *job.Job, arch string) string {
	return fmt.Sprintf("%s-%s-%s-%s.pkg.tar.zst", j.Recipe.Name, j.Version, j.Recipe.EffectiveRelease(), arch)
}

func (pkgEncoder) Encode(j *job.Job, arch string) ([]byte, error) {
	var buf bytes.Buffer
	r := j.Recipe

	fmt.Fprintf(&buf, "pkgname=%s\n", r.Name)
	fmt.Fprintf(&buf, "pkgver=%s\n", j.Version)
	fmt.Fprintf(&buf, "pkgrel=%s\n", r.EffectiveRelease())
	fmt.Fprintf(&buf, "pkgdesc=%q\n", r.Description)
	fmt.Fprintf(&buf, "arch=('%s')\n", arch)
	if r.License != "" {
		fmt.Fprintf(&buf, "license=('%s')\n", r.License)
	}
	if r.URL != "" {
		fmt.Fprintf(&buf, "url=%q\n", r.URL)
	}

	deps := r.ResolveDeps(j.Image.Name, j.Target)
	writeArray(&buf, "depends", deps.Depends)
	writeArray(&buf, "conflicts", deps.Conflicts)
	writeArray(&buf, "provides", deps.Provides)
	if r.Pkg != nil {
		writeArray(&buf, "optdepends", deps.Optdepends)
		if r.Pkg.Install != "" {
			fmt.Fprintf(&buf, "install=%s.install\n", r.Name)
		}
	}

	buf.WriteString("\n# --- harvested files ---\n")
	for _, f := range j.HarvestedFiles {
		fmt.Fprintf(&buf, "# /%s\n", strings.TrimPrefix(f.Path, "/"))
	}

	return buf.Bytes(), nil
}

func writeArray(buf *bytes.Buffer, name string, vals []string) {
	if len(vals) == 0 {
		return
	}
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + v + "'"
	}
	fmt.Fprintf(buf, "%s=(%s)\n", name, strings.Join(quoted, " "))
}
