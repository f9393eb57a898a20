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

// Package fetch implements the source and patch fetcher (C3): it brings
// a recipe's sources and patches into the job's build directory inside
// the target container. Grounded on melange2's `fetch`/`git-checkout`
// built-in pipelines (referenced from pkg/build/pipeline.go's
// SBOMPackageForUpstreamSource), generalized from melange2's single
// apko-rootfs workspace to pkgr's many-image model: downloads, git
// clones and archive extraction happen host-side into a staging
// directory (so the host's fetch tooling, not the target image's, does
// the work), then the resulting tree is tar-streamed into the
// container's build directory via container.Session.CopyIn, mirroring
// how a local source directory is already staged in copyLocal.
package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/ulikunitz/xz"

	"github.com/dlorenc/pkgr/pkg/container"
	"github.com/dlorenc/pkgr/pkg/pkgrerr"
	"github.com/dlorenc/pkgr/pkg/recipe"
	"github.com/dlorenc/pkgr/pkg/subst"
)

// archiveSuffixes lists the recognized archive extensions that trigger
// extraction instead of a verbatim copy, per spec.md §4.3.
var archiveSuffixes = []string{".tar.gz", ".tgz", ".tar.xz", ".tar.bz2", ".tar", ".zip"}

func archiveKind(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, suf := range archiveSuffixes {
		if strings.HasSuffix(lower, suf) {
			return suf, true
		}
	}
	return "", false
}

// Fetcher brings recipe sources and patches into a running job's
// container.
type Fetcher struct {
	Session *container.Session
	Vars    subst.Map
	Image   string
	BldDir  string
	Shell   string
}

// Fetch executes every source entry of r in order, then every patch
// entry gated by the current image.
func (f *Fetcher) Fetch(ctx context.Context, r recipe.Recipe) error {
	for _, src := range r.Source {
		if src.Source != "" {
			if err := f.fetchSource(ctx, r, src.Source); err != nil {
				return err
			}
		}
		if src.Git != nil {
			if err := f.fetchGit(ctx, *src.Git); err != nil {
				return err
			}
		}
	}

	for _, p := range r.Patches {
		if len(p.Images) > 0 && !contains(p.Images, f.Image) {
			continue
		}
		if err := f.applyPatch(ctx, r, p); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func (f *Fetcher) fetchSource(ctx context.Context, r recipe.Recipe, rawSource string) error {
	resolved, err := f.Vars.Field("source", rawSource)
	if err != nil {
		return pkgrerr.New(pkgrerr.KindSource, "resolving source", err)
	}

	switch {
	case strings.HasPrefix(resolved, "http://") || strings.HasPrefix(resolved, "https://"):
		return f.fetchURL(ctx, resolved)
	case filepath.IsAbs(resolved):
		return f.copyLocal(ctx, resolved)
	default:
		return f.copyLocal(ctx, filepath.Join(r.SourceDir(), resolved))
	}
}

// fetchURL downloads url host-side into a staging directory, extracts
// it if it looks like an archive, and streams the result into the
// container's build directory.
func (f *Fetcher) fetchURL(ctx context.Context, url string) error {
	stage, err := os.MkdirTemp("", "pkgr-fetch-*")
	if err != nil {
		return pkgrerr.New(pkgrerr.KindSource, "creating staging directory", err)
	}
	defer os.RemoveAll(stage)

	base := filepath.Base(url)
	downloaded := filepath.Join(stage, base)
	if err := downloadFile(ctx, url, downloaded); err != nil {
		return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("downloading %q", url), err)
	}

	if _, isArchive := archiveKind(base); isArchive {
		extractDir := filepath.Join(stage, "extracted")
		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			return pkgrerr.New(pkgrerr.KindSource, "creating extraction directory", err)
		}
		if err := extractArchive(downloaded, extractDir); err != nil {
			return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("extracting %q", base), err)
		}
		tr, err := tarDir(extractDir)
		if err != nil {
			return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("archiving extracted %q", base), err)
		}
		return f.Session.CopyIn(ctx, f.BldDir, tr)
	}

	fh, err := os.Open(downloaded)
	if err != nil {
		return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("opening downloaded %q", base), err)
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("stat downloaded %q", base), err)
	}
	tr, err := tarFile(base, fh, info)
	if err != nil {
		return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("archiving downloaded %q", base), err)
	}
	return f.Session.CopyIn(ctx, f.BldDir, tr)
}

func downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %q", resp.StatusCode, url)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

// extractArchive dispatches to the decoder matching archivePath's
// suffix. .tar.xz uses ulikunitz/xz (no cgo LZMA dependency); .tar.gz
// and .tgz use stdlib compress/gzip, which is already pulled in
// transitively by klauspost/pgzip's fallback path; .tar.bz2 uses stdlib
// compress/bzip2; .zip uses stdlib archive/zip; anything else is assumed
// to be a plain, uncompressed tar.
func extractArchive(archivePath, destDir string) error {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(archivePath, destDir)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		f, err := os.Open(archivePath)
		if err != nil {
			return err
		}
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		return extractTar(gz, destDir)
	case strings.HasSuffix(lower, ".tar.xz"):
		f, err := os.Open(archivePath)
		if err != nil {
			return err
		}
		defer f.Close()
		xr, err := xz.NewReader(f)
		if err != nil {
			return err
		}
		return extractTar(xr, destDir)
	case strings.HasSuffix(lower, ".tar.bz2"):
		f, err := os.Open(archivePath)
		if err != nil {
			return err
		}
		defer f.Close()
		return extractTar(bzip2.NewReader(f), destDir)
	default:
		f, err := os.Open(archivePath)
		if err != nil {
			return err
		}
		defer f.Close()
		return extractTar(f, destDir)
	}
}

func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func extractZip(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target := filepath.Join(destDir, zf.Name)
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, zf.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// copyLocal streams a host path (file or directory) into the container's
// build directory via CopyIn, which internally tars the source.
func (f *Fetcher) copyLocal(ctx context.Context, hostPath string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("stat local source %q", hostPath), err)
	}

	if info.IsDir() {
		tr, err := tarDir(hostPath)
		if err != nil {
			return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("archiving local source %q", hostPath), err)
		}
		return f.Session.CopyIn(ctx, f.BldDir, tr)
	}

	fh, err := os.Open(hostPath)
	if err != nil {
		return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("opening local source %q", hostPath), err)
	}
	defer fh.Close()

	tr, err := tarFile(filepath.Base(hostPath), fh, info)
	if err != nil {
		return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("archiving local source %q", hostPath), err)
	}
	return f.Session.CopyIn(ctx, f.BldDir, tr)
}

// fetchGit clones g host-side with go-git into a staging directory, then
// streams the worktree (minus .git) into the container.
func (f *Fetcher) fetchGit(ctx context.Context, g recipe.GitSource) error {
	stage, err := os.MkdirTemp("", "pkgr-git-*")
	if err != nil {
		return pkgrerr.New(pkgrerr.KindSource, "creating git staging directory", err)
	}
	defer os.RemoveAll(stage)

	opts := &git.CloneOptions{
		URL:          g.URL,
		Depth:        1,
		SingleBranch: true,
	}
	if g.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(g.Branch)
	}

	if _, err := git.PlainCloneContext(ctx, stage, false, opts); err != nil {
		return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("cloning %q", g.URL), err)
	}
	if err := os.RemoveAll(filepath.Join(stage, ".git")); err != nil {
		return pkgrerr.New(pkgrerr.KindSource, "pruning .git directory", err)
	}

	tr, err := tarDir(stage)
	if err != nil {
		return pkgrerr.New(pkgrerr.KindSource, fmt.Sprintf("archiving clone of %q", g.URL), err)
	}
	return f.Session.CopyIn(ctx, f.BldDir, tr)
}

func (f *Fetcher) applyPatch(ctx context.Context, r recipe.Recipe, p recipe.Patch) error {
	resolved, err := f.Vars.Field("patch", p.Patch)
	if err != nil {
		return pkgrerr.PatchFailedError(p.Patch, f.Image, err)
	}

	var hostPatchPath string
	switch {
	case strings.HasPrefix(resolved, "http://") || strings.HasPrefix(resolved, "https://"):
		stage, err := os.MkdirTemp("", "pkgr-patch-*")
		if err != nil {
			return pkgrerr.PatchFailedError(p.Patch, f.Image, err)
		}
		defer os.RemoveAll(stage)

		hostPatchPath = filepath.Join(stage, filepath.Base(resolved))
		if err := downloadFile(ctx, resolved, hostPatchPath); err != nil {
			return pkgrerr.PatchFailedError(p.Patch, f.Image, err)
		}
	case filepath.IsAbs(resolved):
		hostPatchPath = resolved
	default:
		hostPatchPath = filepath.Join(r.SourceDir(), resolved)
	}

	fh, err := os.Open(hostPatchPath)
	if err != nil {
		return pkgrerr.PatchFailedError(p.Patch, f.Image, err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return pkgrerr.PatchFailedError(p.Patch, f.Image, err)
	}
	tr, err := tarFile(filepath.Base(hostPatchPath), fh, info)
	if err != nil {
		return pkgrerr.PatchFailedError(p.Patch, f.Image, err)
	}
	if err := f.Session.CopyIn(ctx, f.BldDir, tr); err != nil {
		return pkgrerr.PatchFailedError(p.Patch, f.Image, err)
	}

	dest := filepath.Join(f.BldDir, filepath.Base(hostPatchPath))
	if err := f.runPatch(ctx, dest, p.StripLevel()); err != nil {
		return pkgrerr.PatchFailedError(p.Patch, f.Image, err)
	}
	return nil
}

// runPatch applies patchPath inside the container. Unlike fetching,
// applying the patch still happens in-container: `patch` operates
// against the already-staged source tree living there, and is one of
// the image's default dependencies for exactly this reason.
func (f *Fetcher) runPatch(ctx context.Context, patchPath string, strip int) error {
	cmd := fmt.Sprintf("patch -p%d -d %q < %q", strip, f.BldDir, patchPath)
	return f.run(ctx, cmd)
}

func (f *Fetcher) run(ctx context.Context, cmd string) error {
	shell := f.Shell
	if shell == "" {
		shell = recipe.DefaultShell
	}
	res, err := f.Session.Exec(ctx, shell, f.BldDir, nil, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("command %q exited %d: %s", cmd, res.ExitCode, res.Stderr)
	}
	return nil
}
