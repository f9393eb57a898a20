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
	"runtime"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dlorenc/pkgr/pkg/container"
	"github.com/dlorenc/pkgr/pkg/emit"
	"github.com/dlorenc/pkgr/pkg/image"
	"github.com/dlorenc/pkgr/pkg/job"
	"github.com/dlorenc/pkgr/pkg/pkgrconfig"
	"github.com/dlorenc/pkgr/pkg/recipe"
	"github.com/dlorenc/pkgr/pkg/scheduler"
	"github.com/dlorenc/pkgr/pkg/store"
)

// BuildFlags holds the build subcommand's own flags, mirroring
// melange2's pflag-struct-plus-registration-function shape
// (pkg/cli/build.go's addBuildFlags/BuildFlags).
type BuildFlags struct {
	All      bool
	Images   []string
	Simple   bool
	NoSign   bool
	Arch     string
	MaxJobs  int
}

func addBuildFlags(fs *pflag.FlagSet, flags *BuildFlags) {
	fs.BoolVar(&flags.All, "all", false, "build every recipe under recipes_dir")
	fs.StringSliceVarP(&flags.Images, "image", "i", nil, "restrict the build to these image names")
	fs.BoolVarP(&flags.Simple, "simple", "s", false, "use simple-build default images for recipes with no declared images")
	fs.BoolVar(&flags.NoSign, "no-sign", false, "skip GPG signing even if gpg_key/gpg_name are configured")
	fs.StringVar(&flags.Arch, "arch", "x86_64", "target architecture string embedded in package metadata")
	fs.IntVar(&flags.MaxJobs, "max-jobs", 0, "maximum concurrent build jobs (0 = NumCPU)")
}

func buildCmd(global *GlobalFlags) *cobra.Command {
	flags := &BuildFlags{}

	cmd := &cobra.Command{
		Use:     "build [recipe ...]",
		Short:   "Build one or more recipes into packages",
		Example: "  pkgr build --all\n  pkgr build curl jq",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if global.Trace != "" {
				shutdown, err := setupTracing(global.Trace)
				if err != nil {
					return err
				}
				defer shutdown()
				tctx, span := otel.Tracer("pkgr").Start(ctx, "build")
				defer span.End()
				ctx = tctx
			}

			cfg, err := loadConfig(global.ConfigPath)
			if err != nil {
				return err
			}

			return runBuild(ctx, cfg, flags, args)
		},
	}

	addBuildFlags(cmd.Flags(), flags)
	return cmd
}

func setupTracing(path string) (func(), error) {
	w, err := os.Create(path) // #nosec G304 - user-specified trace file
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
	}
	tp := trace.NewTracerProvider(trace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		_ = tp.Shutdown(context.Background())
		_ = w.Close()
	}, nil
}

func loadConfig(path string) (*pkgrconfig.Config, error) {
	if path == "" {
		p, err := pkgrconfig.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("locating default config: %w", err)
		}
		path = p
	}
	return pkgrconfig.Load(path)
}

// selectImages resolves the images a single recipe should build for:
// its declared `images` list (or every configured image if the
// recipe's `all_images` field is set), falling back to the per-target
// simple-build default when none are declared and --simple was given.
func selectImages(r recipe.Recipe, all []image.Image, flags *BuildFlags, cfg *pkgrconfig.Config) ([]image.Image, error) {
	if r.AllImages {
		return all, nil
	}
	if len(r.Images) > 0 {
		var out []image.Image
		for _, name := range r.Images {
			for _, img := range all {
				if img.Name == name {
					out = append(out, img)
				}
			}
		}
		return out, nil
	}
	if !flags.Simple {
		return nil, fmt.Errorf("recipe %q declares no images (pass --simple to use default images)", r.Name)
	}

	var out []image.Image
	for _, target := range []recipe.Target{recipe.TargetRPM, recipe.TargetDEB, recipe.TargetPKG, recipe.TargetAPK, recipe.TargetGzip} {
		ref, ok := cfg.SimpleImageFor(string(target))
		if !ok {
			continue
		}
		out = append(out, image.Image{Name: ref, Target: target})
	}
	return out, nil
}

// runBuild loads recipes and images, builds the cartesian job set
// respecting recipe/image/version filters, runs the scheduler, emits
// every completed job's package, and returns a non-nil error if any job
// failed (spec.md §6's exit-code contract, checked here via
// scheduler.ExitCode).
func runBuild(ctx context.Context, cfg *pkgrconfig.Config, flags *BuildFlags, names []string) error {
	log := clog.FromContext(ctx)

	recipes, err := recipe.LoadAll(ctx, cfg.RecipesDir)
	if err != nil {
		return fmt.Errorf("loading recipes: %w", err)
	}

	allImages, err := image.ListImages(cfg.ImagesDir, declaredFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("listing images: %w", err)
	}
	if len(flags.Images) > 0 {
		allImages = filterImagesByName(allImages, flags.Images)
	}

	selected := filterRecipesByName(recipe.ExpandAll(recipes), names, flags.All)
	if len(selected) == 0 {
		return fmt.Errorf("no recipes selected (pass recipe names or --all)")
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Save(); err != nil {
			log.Errorf("saving image cache state: %v", err)
		}
	}()

	dockerBuilder, err := container.NewDockerBuilder(cfg.Docker)
	if err != nil {
		return fmt.Errorf("connecting to docker engine %q: %w", cfg.Docker, err)
	}
	defer dockerBuilder.Close()

	engine, err := container.NewContainerdRunner(ctx, "/run/containerd/containerd.sock", "pkgr", "linux/amd64")
	if err != nil {
		return fmt.Errorf("connecting to containerd: %w", err)
	}
	defer engine.Close()

	cache := image.NewCache(dockerBuilder, engine, st)
	jobRunner := &job.Runner{Cache: cache, Engine: engine}

	var jobs []*job.Job
	for _, r := range selected {
		imgs, err := selectImages(r, allImages, flags, cfg)
		if err != nil {
			return err
		}
		for _, img := range imgs {
			jobs = append(jobs, job.New(r, r.Version[0], img, img.Target))
		}
	}
	log.Infof("scheduling %d jobs across %d recipes", len(jobs), len(selected))

	maxParallel := flags.MaxJobs
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}
	sched := scheduler.New(jobRunner, scheduler.Config{MaxParallel: maxParallel})
	results := sched.RunAll(ctx, jobs)

	emitter := &emit.Emitter{OutputDir: cfg.OutputDir, NoSign: flags.NoSign}
	if cfg.GPGKey != "" && cfg.GPGName != "" {
		emitter.Signer = &emit.Signer{KeyPath: cfg.GPGKey, Name: cfg.GPGName}
	}

	var eg errgroup.Group
	for _, res := range results {
		res := res
		if res.Err != nil {
			log.Errorf("job %s/%s/%s failed: %v", res.Job.Recipe.Name, res.Job.Image.Name, res.Job.Target, res.Err)
			continue
		}
		eg.Go(func() error {
			path, err := emitter.Emit(res.Job, flags.Arch)
			if err != nil {
				return fmt.Errorf("emitting %s/%s: %w", res.Job.Recipe.Name, res.Job.Image.Name, err)
			}
			log.Infof("wrote %s", path)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if code := scheduler.ExitCode(results); code != 0 {
		return fmt.Errorf("%d of %d jobs failed", countFailed(results), len(results))
	}
	return nil
}

func countFailed(results []scheduler.Result) int {
	var n int
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func openStore(ctx context.Context) (*store.Store, error) {
	path, err := store.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("locating image cache state path: %w", err)
	}
	return store.Open(ctx, path)
}

func declaredFromConfig(cfg *pkgrconfig.Config) []image.Declared {
	out := make([]image.Declared, 0, len(cfg.Images))
	for _, d := range cfg.Images {
		out = append(out, image.Declared{Name: d.Name, Target: recipe.Target(d.Target), OS: d.OS})
	}
	return out
}

func filterImagesByName(all []image.Image, names []string) []image.Image {
	var out []image.Image
	for _, img := range all {
		for _, n := range names {
			if img.Name == n {
				out = append(out, img)
				break
			}
		}
	}
	return out
}

func filterRecipesByName(all []recipe.Recipe, names []string, wantAll bool) []recipe.Recipe {
	if wantAll || len(names) == 0 {
		return all
	}
	var out []recipe.Recipe
	for _, r := range all {
		for _, n := range names {
			if r.Name == n {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
