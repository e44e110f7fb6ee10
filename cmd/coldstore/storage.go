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
	"strings"

	"github.com/spf13/cobra"

	"github.com/relique/coldstore/internal/config"
	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/pipeline/prune"
)

var cmdStorage = &cobra.Command{
	Use:   "storage",
	Short: "Manage named storage backends",
}

// --- storage add ---

var storageAddType string
var storageAddFields []string

var cmdStorageAdd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a named storage backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !isValidStorageName(name) {
			return fmt.Errorf("%w: storage name may only contain letters, digits, '_' and '-'", errs.ErrUserInput)
		}
		if storageAddType == "" {
			return fmt.Errorf("%w: --type is required (e.g. %q or %q)", errs.ErrUserInput, config.StorageTypeLocal, config.StorageTypeS3)
		}

		fields := make(map[string]string, len(storageAddFields))
		for _, kv := range storageAddFields {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("%w: --field must be key=value, got %q", errs.ErrUserInput, kv)
			}
			fields[k] = v
		}

		sc := &config.StorageConfig{Type: storageAddType, Fields: fields}
		if _, err := config.ResolveBackend(sc); err != nil {
			return err
		}

		cfg, err := loadClientConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.Storages[name] = sc
		if err := saveClientConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(stdout, "storage %q added (%s)\n", name, storageAddType)
		return nil
	},
}

func isValidStorageName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// --- storage list ---

var cmdStorageList = &cobra.Command{
	Use:   "list",
	Short: "List configured storages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		names := make([]string, 0, len(cfg.Storages))
		for name := range cfg.Storages {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sc := cfg.Storages[name]
			fmt.Fprintf(stdout, "%s\t%s\t%s\n", name, sc.Type, formatFields(sc))
		}
		return nil
	},
}

func formatFields(sc *config.StorageConfig) string {
	keys := make([]string, 0, len(sc.Fields))
	for k := range sc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := sc.Fields[k]
		if config.IsSecretField(k) {
			v = "****"
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// --- storage remove ---

var cmdStorageRemove = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a configured storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cfg, err := loadClientConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if _, ok := cfg.Storages[name]; !ok {
			return fmt.Errorf("%w: no storage named %q", errs.ErrNotFound, name)
		}
		delete(cfg.Storages, name)
		if err := saveClientConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(stdout, "storage %q removed\n", name)
		return nil
	},
}

// --- storage prune ---

var storagePruneFlags repoFlags
var storagePruneRepair bool

var cmdStoragePrune = &cobra.Command{
	Use:   "prune",
	Short: "Reconcile the chunk namespace against the chunk index, deleting orphans",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		r, err := openRepo(ctx, storagePruneFlags)
		if err != nil {
			return err
		}

		result, err := prune.Prune(ctx, r, prune.PruneOptions{Repair: storagePruneRepair})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted %d orphan chunks, repaired %d index entries\n", result.OrphansDeleted, result.MissingRepaired)
		return nil
	},
}

func init() {
	cmdStorageAdd.Flags().StringVar(&storageAddType, "type", "", "storage type (local, s3)")
	cmdStorageAdd.Flags().StringArrayVar(&storageAddFields, "field", nil, "backend-specific field as key=value (repeatable)")

	storagePruneFlags.register(cmdStoragePrune.Flags())
	cmdStoragePrune.Flags().BoolVar(&storagePruneRepair, "repair", false, "drop chunk index entries with no backing object, and force-release a stale lock")

	cmdStorage.AddCommand(cmdStorageAdd, cmdStorageList, cmdStorageRemove, cmdStoragePrune)
}
