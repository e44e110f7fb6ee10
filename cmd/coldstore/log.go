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
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var logFlags repoFlags

var cmdLog = &cobra.Command{
	Use:   "log",
	Short: "List backups in the repository, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		r, err := openRepo(ctx, logFlags)
		if err != nil {
			return err
		}

		entries := r.BackupIndex.List()
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Timestamp > entries[j].Timestamp
		})

		for _, e := range entries {
			ts := time.Unix(int64(e.Timestamp), 0).UTC().Format(time.RFC3339)
			fmt.Fprintf(stdout, "%s  %s  %-24s  %10d bytes  %s\n", e.BackupID, ts, e.Author, e.ByteCount, e.Message)
		}
		return nil
	},
}

func init() {
	logFlags.register(cmdLog.Flags())
}
