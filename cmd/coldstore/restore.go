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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/pipeline/restore"
)

var (
	restoreFlags         repoFlags
	restoreBackup        string
	restoreTargetPath    string
	restoreConcurrency   int
	restoreContinueOnErr bool
)

var cmdRestore = &cobra.Command{
	Use:   "restore",
	Short: "Materialize a backup into a target directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		if restoreBackup == "" {
			return fmt.Errorf("%w: --backup is required (full backup-id or unambiguous prefix)", errs.ErrUserInput)
		}
		if restoreTargetPath == "" {
			return fmt.Errorf("%w: --target-path is required", errs.ErrUserInput)
		}

		r, err := openRepo(ctx, restoreFlags)
		if err != nil {
			return err
		}

		result, err := restore.Run(ctx, r, restore.Options{
			Prefix:          restoreBackup,
			TargetDir:       restoreTargetPath,
			Concurrency:     restoreConcurrency,
			ContinueOnError: restoreContinueOnErr,
		})
		var partial *restore.PartialRestoreError
		if err != nil && !errors.As(err, &partial) {
			return err
		}

		fmt.Fprintf(stdout, "restored %s: %d files, %d bytes\n", result.BackupID, result.FilesCount, result.TotalBytes)
		for _, f := range result.Failures {
			fmt.Fprintf(stdout, "  FAILED %s: %v\n", f.Path, f.Err)
		}
		return err
	},
}

func init() {
	restoreFlags.register(cmdRestore.Flags())
	cmdRestore.Flags().StringVar(&restoreBackup, "backup", "", "backup-id or unambiguous prefix to restore")
	cmdRestore.Flags().StringVar(&restoreTargetPath, "target-path", "", "directory to materialize the snapshot into")
	cmdRestore.Flags().IntVar(&restoreConcurrency, "concurrency", restore.DefaultConcurrency, "max files restored at once")
	cmdRestore.Flags().BoolVar(&restoreContinueOnErr, "continue-on-error", false, "report per-file failures and continue instead of aborting on the first one")
}
