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

// Package cli wires the pkgr command tree, mirroring melange2's
// pkg/cli command-tree shape (flags struct + pflag registration
// function per subcommand, clog-based logging threaded through
// cmd.Context()).
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
)

// GlobalFlags holds the flags shared by every subcommand, per spec.md
// §6: -c <config>, -d/--debug, -t/--trace, -q/--quiet, --filter, --log-dir.
type GlobalFlags struct {
	ConfigPath string
	Debug      bool
	Trace      string
	Quiet      bool
	Filter     string
	LogDir     string
}

// New builds the root pkgr command.
func New() *cobra.Command {
	flags := &GlobalFlags{}

	cmd := &cobra.Command{
		Use:           "pkgr",
		Short:         "Build native Linux packages from declarative recipes",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if flags.Debug {
				level = slog.LevelDebug
			} else if flags.Quiet {
				level = slog.LevelWarn
			}

			out := os.Stderr
			if flags.LogDir != "" {
				if err := os.MkdirAll(flags.LogDir, 0o755); err != nil {
					return fmt.Errorf("creating log dir: %w", err)
				}
				f, err := os.Create(flags.LogDir + "/pkgr.log") // #nosec G304 - user-specified log dir
				if err != nil {
					return fmt.Errorf("creating log file: %w", err)
				}
				out = f
			}

			logger := clog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
			ctx := clog.WithLogger(cmd.Context(), logger)
			cmd.SetContext(ctx)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", "path to .pkgr.yml (default: XDG config dir)")
	pf.BoolVarP(&flags.Debug, "debug", "d", false, "enable debug logging")
	pf.StringVarP(&flags.Trace, "trace", "t", "", "write OpenTelemetry trace output to this file")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	pf.StringVar(&flags.Filter, "filter", "", "output filter string (accepted, but not applied to any output)")
	pf.StringVar(&flags.LogDir, "log-dir", "", "directory to write log output to, instead of stderr")

	cmd.AddCommand(
		buildCmd(flags),
		listCmd(flags),
		cleanCacheCmd(flags),
		newCmd(), editCmd(), initCmd(), printCompletionsCmd(),
	)

	return cmd
}

// Execute runs the root command against ctx, which should already carry
// a cancellation signal wired from SIGINT/SIGTERM (see cmd/pkgr/main.go).
func Execute(ctx context.Context) error {
	return New().ExecuteContext(ctx)
}
