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

package job

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/dlorenc/pkgr/pkg/pkgrerr"
	"github.com/dlorenc/pkgr/pkg/recipe"
)

// harvest recursively enumerates $PKGER_OUT_DIR inside the container,
// prunes entries matched by the recipe's exclude prefixes, and records
// the surviving files (with mode preserved) for the emitter, per
// spec.md §4.5.
func (r *Runner) harvest(ctx context.Context, j *Job) error {
	var buf bytes.Buffer
	if err := j.session.CopyOut(ctx, j.OutDir, &buf); err != nil {
		return j.fail(pkgrerr.New(pkgrerr.KindStep, "harvesting output directory", err))
	}

	files, err := extractHarvested(&buf, j.Recipe.Exclude)
	if err != nil {
		return j.fail(pkgrerr.New(pkgrerr.KindStep, "reading harvested tar stream", err))
	}

	j.HarvestedFiles = files
	j.State = StateHarvested
	return nil
}

func extractHarvested(r io.Reader, exclude []string) ([]HarvestedFile, error) {
	tr := tar.NewReader(r)
	var out []HarvestedFile

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if excluded(name, exclude) {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		out = append(out, HarvestedFile{
			Path: name,
			Mode: uint32(hdr.Mode),
			Data: data,
		})
	}
	return out, nil
}

// excluded reports whether path (relative to $PKGER_OUT_DIR) matches any
// exclude prefix, per spec.md §4.5's "path-prefix match" rule.
func excluded(path string, exclude []string) bool {
	for _, prefix := range exclude {
		prefix = strings.TrimPrefix(prefix, "/")
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// SetCapApplied reports whether cap names a harvested path. No encoder
// calls it, and emitted packages do not run setcap.
func SetCapApplied(cap recipe.Capability, path string) bool {
	return strings.TrimPrefix(cap.Path, "/") == path
}
