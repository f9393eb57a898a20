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

// cleanCacheCmd truncates the persisted C9 image-state cache, forcing the
// next build to reinstall every recipe's dependencies on every image.
func cleanCacheCmd(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean-cache",
		Short: "Empty the persisted image-state cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := openStore(ctx)
			if err != nil {
				return err
			}

			n := st.Len()
			st.Clear()
			if err := st.Save(); err != nil {
				return fmt.Errorf("saving cleared image cache state: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d cached image-state entries\n", n)
			return nil
		},
	}
}
