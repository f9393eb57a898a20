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

// Package emit implements the package emitter (C7): dispatching to a
// format-specific encoder by target, computing the output path, and
// optionally GPG-signing the result. Grounded on melange2's
// pkg/output/processor.go pipeline shape (lint → sbom → emit → index),
// generalized from melange2's single-APK-target pipeline to a
// five-target dispatch table (rpm/deb/pkg/apk/gzip), and on yap's
// prepare/build/package staged builder (other_examples
// 0e9ee3e4_M0Rf30-yap__pkg-builder-builder.go.go) for the per-format
// descriptor-then-archive shape.
package emit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/dlorenc/pkgr/pkg/job"
	"github.com/dlorenc/pkgr/pkg/pkgrerr"
	"github.com/dlorenc/pkgr/pkg/recipe"
)

// Encoder builds one target's package file from a job's harvested files
// and recipe metadata, returning the bytes to write to disk.
type Encoder interface {
	Encode(j *job.Job, arch string) ([]byte, error)
	Filename(j *job.Job, arch string) string
}

// encoders is the target dispatch table.
var encoders = map[recipe.Target]Encoder{
	recipe.TargetRPM:  rpmEncoder{},
	recipe.TargetDEB:  debEncoder{},
	recipe.TargetPKG:  pkgEncoder{},
	recipe.TargetAPK:  apkEncoder{},
	recipe.TargetGzip: gzipEncoder{},
}

// Emitter packages a job's harvested output and writes it under
// outputDir/<image_name>/<filename>, optionally signing it.
type Emitter struct {
	OutputDir string
	Signer    *Signer // nil disables signing entirely
	NoSign    bool
}

// Emit selects j.Target's encoder, writes the resulting file, and signs
// it if configured. Returns the path written.
func (e *Emitter) Emit(j *job.Job, arch string) (string, error) {
	enc, ok := encoders[j.Target]
	if !ok {
		return "", pkgrerr.New(pkgrerr.KindEmit, fmt.Sprintf("no encoder for target %q", j.Target), nil)
	}

	data, err := enc.Encode(j, arch)
	if err != nil {
		return "", pkgrerr.New(pkgrerr.KindEmit, fmt.Sprintf("encoding %s package", j.Target), err)
	}

	dir := filepath.Join(e.OutputDir, j.Image.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", pkgrerr.New(pkgrerr.KindEmit, "creating output directory", err)
	}

	path := filepath.Join(dir, enc.Filename(j, arch))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", pkgrerr.New(pkgrerr.KindEmit, fmt.Sprintf("writing %q", path), err)
	}

	if e.shouldSign(j.Target) {
		if err := e.Signer.Sign(path, j.Target); err != nil {
			return "", pkgrerr.New(pkgrerr.KindEmit, fmt.Sprintf("signing %q", path), err)
		}
	}

	return path, nil
}

// shouldSign reports whether target's artifacts are GPG-signed, per spec.md
// §4.7: only rpm/deb targets, only when a signer is configured, and only
// when the no-sign override wasn't requested.
func (e *Emitter) shouldSign(target recipe.Target) bool {
	if e.Signer == nil || e.NoSign {
		return false
	}
	return target == recipe.TargetRPM || target == recipe.TargetDEB
}

// installedSize sums harvested file sizes, rounded up to 1KB blocks, for
// deb's auto-computed Installed-Size control field.
func installedSize(j *job.Job) uint64 {
	var total uint64
	for _, f := range j.HarvestedFiles {
		total += uint64(len(f.Data))
	}
	return (total + 1023) / 1024
}

// humanSize formats the harvested-size total in human-readable form,
// using the same accounting as installedSize. Nothing in pkgr calls it.
func humanSize(j *job.Job) string {
	var total uint64
	for _, f := range j.HarvestedFiles {
		total += uint64(len(f.Data))
	}
	return humanize.Bytes(total)
}

// debArch remaps the recipe's declared arch to Debian's naming, per
// spec.md §4.7 ("arch remapped x86_64→amd64").
func debArch(arch string) string {
	if arch == "x86_64" {
		return "amd64"
	}
	if arch == "aarch64" {
		return "arm64"
	}
	return arch
}

// debName remaps underscores to hyphens in the package name, per
// spec.md §4.7.
func debName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '_' {
			out[i] = '-'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}
