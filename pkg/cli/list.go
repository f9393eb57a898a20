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

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dlorenc/pkgr/pkg/pkgrconfig"
	"github.com/dlorenc/pkgr/pkg/recipe"
)

// listCmd prints recipes, images, or already-emitted packages without
// driving any container activity, per spec.md §6's thin real-implementation
// carve-out for list (it loads recipes through C1 and reads images_dir
// and output_dir straight from disk; the C9 image-state store is not read).
func listCmd(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list {recipes|images|packages}",
		Short: "List recipes, images, or emitted packages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(global.ConfigPath)
			if err != nil {
				return err
			}

			switch args[0] {
			case "recipes":
				return listRecipes(ctx, cmd, cfg)
			case "images":
				return listImages(cmd, cfg)
			case "packages":
				return listPackages(cmd, cfg.OutputDir)
			default:
				return fmt.Errorf("unknown list target %q (want recipes, images, or packages)", args[0])
			}
		},
	}
	return cmd
}

func listRecipes(ctx context.Context, cmd *cobra.Command, cfg *pkgrconfig.Config) error {
	recipes, err := recipe.LoadAll(ctx, cfg.RecipesDir)
	if err != nil {
		return fmt.Errorf("loading recipes: %w", err)
	}

	names := make([]string, 0, len(recipes))
	for name := range recipes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := recipes[name]
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, r.Version)
	}
	return nil
}

func listImages(cmd *cobra.Command, cfg *pkgrconfig.Config) error {
	entries, err := os.ReadDir(cfg.ImagesDir)
	if err != nil {
		return fmt.Errorf("reading images dir %q: %w", cfg.ImagesDir, err)
	}

	declared := make(map[string]pkgrconfig.ImageDecl, len(cfg.Images))
	for _, d := range cfg.Images {
		declared[d.Name] = d
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dockerfile := filepath.Join(cfg.ImagesDir, e.Name(), "Dockerfile")
		if _, err := os.Stat(dockerfile); err != nil {
			continue
		}
		d, ok := declared[e.Name()]
		target := "?"
		if ok {
			target = d.Target
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Name(), target)
	}
	return nil
}

func listPackages(cmd *cobra.Command, outputDir string) error {
	imageDirs, err := os.ReadDir(outputDir)
	if err != nil {
		return fmt.Errorf("reading output dir %q: %w", outputDir, err)
	}

	for _, d := range imageDirs {
		if !d.IsDir() {
			continue
		}
		pkgs, err := os.ReadDir(filepath.Join(outputDir, d.Name()))
		if err != nil {
			continue
		}
		for _, p := range pkgs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", d.Name(), p.Name())
		}
	}
	return nil
}
