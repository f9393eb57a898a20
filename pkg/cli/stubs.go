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
	"fmt"

	"github.com/spf13/cobra"
)

// notImplemented returns a RunE that always fails, keeping the command
// tree complete (spec.md scopes recipe scaffolding, interactive editing,
// and shell-completion generation out of this build) while still letting
// `pkgr <cmd> --help` and `pkgr --help` enumerate it.
func notImplemented(name string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("%s: not implemented in this build", name)
	}
}

func newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <name>",
		Short: "Scaffold a new recipe (not implemented in this build)",
		Args:  cobra.ExactArgs(1),
		RunE:  notImplemented("new"),
	}
}

func editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <name>",
		Short: "Open a recipe in $EDITOR (not implemented in this build)",
		Args:  cobra.ExactArgs(1),
		RunE:  notImplemented("edit"),
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter .pkgr.yml (not implemented in this build)",
		Args:  cobra.NoArgs,
		RunE:  notImplemented("init"),
	}
}

func printCompletionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-completions <bash|zsh|fish>",
		Short: "Print a shell-completion script (not implemented in this build)",
		Args:  cobra.ExactArgs(1),
		RunE:  notImplemented("print-completions"),
	}
}
