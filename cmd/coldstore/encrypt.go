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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relique/coldstore/internal/pipeline/encrypt"
)

var (
	encryptFlags       repoFlags
	encryptNewPassword string
)

var cmdEncrypt = &cobra.Command{
	Use:   "encrypt",
	Short: "Re-key every stored object under a new password",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		r, err := openRepo(ctx, encryptFlags)
		if err != nil {
			return err
		}

		newPassword, err := resolveNewPassword(encryptNewPassword)
		if err != nil {
			return err
		}

		result, err := encrypt.Run(ctx, r, encrypt.Options{NewPassword: newPassword})
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "re-keyed %d chunks and %d manifests\n", result.ChunksRewritten, result.ManifestsRewritten)
		return nil
	},
}

func init() {
	encryptFlags.register(cmdEncrypt.Flags())
	cmdEncrypt.Flags().StringVar(&encryptNewPassword, "new-password", "", "new repository password (also prompted if omitted)")
}
