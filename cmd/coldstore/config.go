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

	"github.com/relique/coldstore/internal/config"
	"github.com/relique/coldstore/internal/errs"
)

var configAuthor string

var cmdConfig = &cobra.Command{
	Use:   "config",
	Short: "View or set the persisted author identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if configAuthor == "" {
			if cfg.Author == "" {
				fmt.Fprintln(stdout, "no author configured yet; run with --author \"Firstname Lastname <email>\"")
				return nil
			}
			fmt.Fprintln(stdout, cfg.Author)
			return nil
		}

		if err := config.ValidateAuthor(configAuthor); err != nil {
			return err
		}
		cfg.Author = configAuthor
		if err := saveClientConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(stdout, "author set to %s\n", cfg.Author)
		return nil
	},
}

var cmdWhoami = &cobra.Command{
	Use:   "whoami",
	Short: "Print the configured author identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Author == "" {
			return fmt.Errorf("%w: no author configured; run 'coldstore config --author ...'", errs.ErrUserInput)
		}
		fmt.Fprintln(stdout, cfg.Author)
		return nil
	},
}

func init() {
	cmdConfig.Flags().StringVar(&configAuthor, "author", "", `set the author identity, "Firstname Lastname <email>"`)
}
