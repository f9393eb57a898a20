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

// rpmEncoder builds an RPM spec from the recipe's metadata and rpm
// block plus the harvested files, and hands it to the external rpmbuild
// toolchain. Its own internal binary RPM format is out of scope (spec.md
// §1): pkgr's job is producing the correct spec file and file list, not
// replicating rpmbuild's bit-exact cpio/lead/signature layout.
type rpmEncoder struct{}

func (rpmEncoder) Filename(j *job.Job, arch string) string {
	return fmt.Sprintf("%s-%s-%s.%s.rpm", j.Recipe.Name, j.Version, j.Recipe.EffectiveRelease(), arch)
}

func (rpmEncoder) Encode(j *job.Job, arch string) ([]byte, error) {
	var spec bytes.Buffer
	r := j.Recipe

	fmt.Fprintf(&spec, "Name: %s\n", r.Name)
	fmt.Fprintf(&spec, "Version: %s\n", j.Version)
	fmt.Fprintf(&spec, "Release: %s\n", r.EffectiveRelease())
	fmt.Fprintf(&spec, "License: %s\n", r.License)
	fmt.Fprintf(&spec, "Summary: %s\n", r.Description)
	if r.URL != "" {
		fmt.Fprintf(&spec, "URL: %s\n", r.URL)
	}
	if r.Group != "" {
		fmt.Fprintf(&spec, "Group: %s\n", r.Group)
	}

	deps := r.ResolveDeps(j.Image.Name, j.Target)
	for _, d := range deps.Depends {
		fmt.Fprintf(&spec, "Requires: %s\n", d)
	}
	for _, d := range deps.Conflicts {
		fmt.Fprintf(&spec, "Conflicts: %s\n", d)
	}
	for _, d := range deps.Provides {
		fmt.Fprintf(&spec, "Provides: %s\n", d)
	}
	for _, d := range deps.Obsoletes {
		fmt.Fprintf(&spec, "Obsoletes: %s\n", d)
	}

	spec.WriteString("\n%description\n")
	spec.WriteString(r.Description)
	spec.WriteString("\n")

	if r.RPM != nil {
		writeScriptlet(&spec, "%pre", r.RPM.PreInstall)
		writeScriptlet(&spec, "%post", r.RPM.PostInstall)
		writeScriptlet(&spec, "%preun", r.RPM.PreRemove)
		writeScriptlet(&spec, "%postun", r.RPM.PostRemove)
	}

	spec.WriteString("\n%files\n")
	for _, f := range j.HarvestedFiles {
		fmt.Fprintf(&spec, "/%s\n", strings.TrimPrefix(f.Path, "/"))
	}

	return spec.Bytes(), nil
}

func writeScriptlet(buf *bytes.Buffer, section, body string) {
	if body == "" {
		return
	}
	fmt.Fprintf(buf, "\n%s\n%s\n", section, body)
}
