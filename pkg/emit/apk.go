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

// apkEncoder builds an APKBUILD-derived descriptor for the external
// abuild toolchain, per spec.md §4.7. abuild auto-generates a signing
// keypair on first use if none is configured, so apkEncoder itself
// never touches key material. Signer (sign.go) signs only rpm and deb
// artifacts, so apk signing is left to abuild's own ~/.abuild config.
type apkEncoder struct{}

func (apkEncoder) Filename(j *job.Job, arch string) string {
	return fmt.Sprintf("%s-%s-r%s.apk", j.Recipe.Name, j.Version, j.Recipe.EffectiveRelease())
}

func (apkEncoder) Encode(j *job.Job, arch string) ([]byte, error) {
	var buf bytes.Buffer
	r := j.Recipe

	fmt.Fprintf(&buf, "pkgname=%s\n", r.Name)
	fmt.Fprintf(&buf, "pkgver=%s\n", j.Version)
	fmt.Fprintf(&buf, "pkgrel=%s\n", r.EffectiveRelease())
	fmt.Fprintf(&buf, "pkgdesc=%q\n", r.Description)
	if r.URL != "" {
		fmt.Fprintf(&buf, "url=%q\n", r.URL)
	}
	fmt.Fprintf(&buf, "arch=%q\n", arch)
	if r.License != "" {
		fmt.Fprintf(&buf, "license=%q\n", r.License)
	}

	deps := r.ResolveDeps(j.Image.Name, j.Target)
	writeArray(&buf, "depends", deps.Depends)
	writeArray(&buf, "checkdepends", deps.Checkdepends)
	writeArray(&buf, "provides", deps.Provides)

	if r.Apk != nil {
		if r.Apk.PreInstall != "" {
			buf.WriteString("\n# pre-install\n" + r.Apk.PreInstall + "\n")
		}
		if r.Apk.PostInstall != "" {
			buf.WriteString("\n# post-install\n" + r.Apk.PostInstall + "\n")
		}
	}

	buf.WriteString("\n# --- harvested files ---\n")
	for _, f := range j.HarvestedFiles {
		fmt.Fprintf(&buf, "# /%s\n", strings.TrimPrefix(f.Path, "/"))
	}

	return buf.Bytes(), nil
}
