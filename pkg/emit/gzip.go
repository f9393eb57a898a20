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
	"archive/tar"
	"bytes"
	"fmt"

	"github.com/klauspost/pgzip"

	"github.com/dlorenc/pkgr/pkg/job"
)

// gzipEncoder produces a plain tar.gz of the harvested tree, per
// spec.md §4.7. Uses klauspost/pgzip for parallel gzip compression on
// larger harvests, matching melange2's use of the same package for its
// own archive writers.
type gzipEncoder struct{}

func (gzipEncoder) Filename(j *job.Job, arch string) string {
	return fmt.Sprintf("%s-%s-%s.tar.gz", j.Recipe.Name, j.Version, j.Recipe.EffectiveRelease())
}

func (gzipEncoder) Encode(j *job.Job, arch string) ([]byte, error) {
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, f := range j.HarvestedFiles {
		hdr := &tar.Header{
			Name: f.Path,
			Mode: int64(f.Mode),
			Size: int64(len(f.Data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(f.Data); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
