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

// Package pkgrconfig loads the engine's top-level configuration file
// (spec.md §6): recipe/image/output locations, the container engine URI,
// the default signing identity, and the simple-build image defaults.
// Grounded on melange2's pkg/config/config.go ParseConfiguration — same
// yaml.v3 decode-then-validate shape and godotenv-based environment
// overlay — generalized from melange2's single build-recipe document to
// pkgr's engine-wide settings document.
package pkgrconfig

import (
	"bytes"
	"fmt"
	"os"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dlorenc/pkgr/pkg/pkgrerr"
)

// DefaultDockerHost is used when the config omits `docker`.
const DefaultDockerHost = "unix:///var/run/docker.sock"

// SSHConfig controls outbound git/ssh behavior during fetch.
type SSHConfig struct {
	ForwardAgent          bool `yaml:"forward_agent,omitempty"`
	DisableKeyVerification bool `yaml:"disable_key_verification,omitempty"`
}

// ImageDecl is one entry of the `images` list: a named build image and
// the package target it produces.
type ImageDecl struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
	OS     string `yaml:"os,omitempty"`
}

// Config is the decoded contents of `.pkger.yml`/`.pkgr.yml`, per
// spec.md §6.
type Config struct {
	RecipesDir string `yaml:"recipes_dir"`
	OutputDir  string `yaml:"output_dir"`
	ImagesDir  string `yaml:"images_dir,omitempty"`

	Docker string `yaml:"docker,omitempty"`

	// Filter is the default output filter string (spec.md §6). Neither
	// this value nor the CLI's --filter flag is applied to any output.
	Filter string `yaml:"filter,omitempty"`

	SSH SSHConfig `yaml:"ssh,omitempty"`

	Images             []ImageDecl       `yaml:"images,omitempty"`
	CustomSimpleImages map[string]string `yaml:"custom_simple_images,omitempty"`

	GPGKey  string `yaml:"gpg_key,omitempty"`
	GPGName string `yaml:"gpg_name,omitempty"`

	// EnvFile, if set, is read with godotenv by Load into Env.
	EnvFile string `yaml:"env_file,omitempty"`

	// Env holds EnvFile's decoded contents after Load. No job
	// environment is seeded from it.
	Env map[string]string `yaml:"-"`
}

// defaultSimpleImages backs spec.md §6's simple-build defaults, used
// when a recipe declares no images and --simple is given.
var defaultSimpleImages = map[string]string{
	"rpm":  "rockylinux:latest",
	"deb":  "debian:latest",
	"pkg":  "archlinux",
	"apk":  "alpine:latest",
	"gzip": "debian:latest",
}

// SimpleImageFor returns the default (or custom-overridden) image
// reference for target, per spec.md §6.
func (c *Config) SimpleImageFor(target string) (string, bool) {
	if ref, ok := c.CustomSimpleImages[target]; ok {
		return ref, true
	}
	ref, ok := defaultSimpleImages[target]
	return ref, ok
}

// DefaultPath locates `.pkgr.yml` under the user's XDG config directory,
// the same way pkg/store locates its cache file.
func DefaultPath() (string, error) {
	return xdg.ConfigFile("pkgr/.pkgr.yml")
}

// Load decodes path into a Config, applies defaults, and merges EnvFile
// if configured. Required fields (recipes_dir, output_dir) are
// validated here rather than left to fail later deep in a build.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgrerr.New(pkgrerr.KindConfig, fmt.Sprintf("reading config %q", path), err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, pkgrerr.New(pkgrerr.KindConfig, fmt.Sprintf("parsing config %q", path), err)
	}

	if cfg.RecipesDir == "" {
		return nil, pkgrerr.New(pkgrerr.KindConfig, "recipes_dir is required", nil)
	}
	if cfg.OutputDir == "" {
		return nil, pkgrerr.New(pkgrerr.KindConfig, "output_dir is required", nil)
	}
	if cfg.Docker == "" {
		cfg.Docker = DefaultDockerHost
	}

	if cfg.EnvFile != "" {
		envMap, err := godotenv.Read(cfg.EnvFile)
		if err != nil {
			return nil, pkgrerr.New(pkgrerr.KindConfig, fmt.Sprintf("loading env file %q", cfg.EnvFile), err)
		}
		cfg.Env = envMap
	}

	return &cfg, nil
}
