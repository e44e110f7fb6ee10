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
	"regexp"

	"github.com/spf13/cobra"

	"github.com/relique/coldstore/internal/chunk"
	"github.com/relique/coldstore/internal/codec"
	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/pipeline/backup"
	"github.com/relique/coldstore/internal/pipeline/prune"
)

var (
	backupFlags       repoFlags
	backupMessage     string
	backupRootPath    string
	backupCompression int
	backupChunkSize   int
	backupConcurrency int
	backupExclude     []string
)

var cmdBackup = &cobra.Command{
	Use:   "backup",
	Short: "Take a snapshot of a directory tree into a repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		cfg, err := loadClientConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Author == "" {
			return fmt.Errorf("%w: no author configured; run 'coldstore config --author ...'", errs.ErrUserInput)
		}

		if backupFlags.password == "" {
			backupFlags.password, err = resolveNewPassword("")
			if err != nil {
				return err
			}
		}

		if err := codec.ValidateLevel(backupCompression); err != nil {
			return err
		}

		r, err := openRepo(ctx, backupFlags)
		if err != nil {
			return err
		}
		r.Codec.Level = backupCompression

		exclusions, err := compileExclusions(backupExclude)
		if err != nil {
			return err
		}

		result, err := backup.Run(ctx, r, backup.Options{
			RootPath:    backupRootPath,
			Exclusions:  exclusions,
			ChunkSize:   backupChunkSize,
			Author:      cfg.Author,
			Message:     backupMessage,
			Concurrency: backupConcurrency,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "%s\n", result.BackupID)
		fmt.Fprintf(stdout, "%d files, %d chunks uploaded, %d bytes\n", result.FilesBackedUp, result.ChunksUploaded, result.TotalBytes)
		return nil
	},
}

var cmdBackupDelete = &cobra.Command{
	Use:   "delete PREFIX",
	Short: "Delete one backup and any chunks it alone referenced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		r, err := openRepo(ctx, backupFlags)
		if err != nil {
			return err
		}

		result, err := prune.Delete(ctx, r, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted %s: %d chunks removed, %d retained\n", result.BackupID, result.ChunksRemoved, result.ChunksRetained)
		return nil
	},
}

func compileExclusions(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid --exclude pattern %q: %v", errs.ErrUserInput, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func init() {
	backupFlags.register(cmdBackup.PersistentFlags())
	cmdBackup.Flags().StringVar(&backupMessage, "message", "", "backup message recorded in the manifest")
	cmdBackup.Flags().StringVar(&backupRootPath, "root-path", ".", "directory tree to back up")
	cmdBackup.Flags().IntVar(&backupCompression, "compress", codec.DefaultLevel, "zstd compression level")
	cmdBackup.Flags().IntVar(&backupChunkSize, "chunk-size", chunk.DefaultSize, "chunk size in bytes")
	cmdBackup.Flags().IntVar(&backupConcurrency, "concurrency", backup.DefaultConcurrency, "max chunks in flight at once")
	cmdBackup.Flags().StringArrayVar(&backupExclude, "exclude", nil, "regexp matched against each relative path to skip (repeatable)")

	cmdBackup.AddCommand(cmdBackupDelete)
}
