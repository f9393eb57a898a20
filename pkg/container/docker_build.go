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

package container

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/client"

	"github.com/dlorenc/pkgr/pkg/pkgrerr"
)

// DockerBuilder builds images from a Dockerfile via the Docker engine API,
// the half of the container-engine contract (C4's "build image" op)
// containerd has no native frontend for. Its output tag is resolvable by
// ContainerdRunner.PullOrBuild when both engines share an image store
// (e.g. containerd configured as Docker's snapshotter backend), which is
// why pkgr wires both clients instead of picking one exclusively.
type DockerBuilder struct {
	cli *client.Client
}

// NewDockerBuilder dials the configured Docker engine URI (default
// unix:///var/run/docker.sock, per spec.md §6).
func NewDockerBuilder(host string) (*DockerBuilder, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, pkgrerr.New(pkgrerr.KindEngine, "creating docker client", err)
	}
	return &DockerBuilder{cli: cli}, nil
}

func (b *DockerBuilder) Close() error { return b.cli.Close() }

// Build tars contextDir and sends it to the engine's build endpoint,
// tagging the resulting image as tag.
func (b *DockerBuilder) Build(ctx context.Context, dockerfilePath, contextDir, tag string) error {
	archive, err := tarContext(contextDir)
	if err != nil {
		return pkgrerr.New(pkgrerr.KindEngine, "preparing build context", err)
	}

	rel, err := filepath.Rel(contextDir, dockerfilePath)
	if err != nil {
		rel = "Dockerfile"
	}

	resp, err := b.cli.ImageBuild(ctx, archive, build.ImageBuildOptions{
		Dockerfile: rel,
		Tags:       []string{tag},
		Remove:     true,
	})
	if err != nil {
		return pkgrerr.New(pkgrerr.KindEngine, fmt.Sprintf("building image %q", tag), err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return pkgrerr.New(pkgrerr.KindEngine, "reading build output", err)
	}
	return nil
}

func tarContext(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	defer tw.Close()

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &buf, nil
}
