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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/relique/coldstore/internal/config"
	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/repo"
)

// repoFlags are the --storage/--key/--password flags shared by every
// command that opens a repository.
type repoFlags struct {
	storage  string
	key      string
	password string
}

func (f *repoFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.storage, "storage", "", "name of a configured storage (see 'coldstore storage list')")
	fs.StringVar(&f.key, "key", "", "repository key within the storage backend (defaults to the current directory's name)")
	fs.StringVar(&f.password, "password", "", "repository password (also read from COLDSTORE_PASSWORD, or prompted)")
}

// defaultKey mirrors original_source's default repository key: the
// current working directory's base name.
func defaultKey() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	return filepath.Base(wd), nil
}

// loadClientConfig loads the persistent client config from its default
// location, resolving that location first.
func loadClientConfig() (*config.Config, error) {
	path, err := config.DefaultPath()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// saveClientConfig saves cfg to the persistent client config's default
// location, resolving that location first.
func saveClientConfig(cfg *config.Config) error {
	path, err := config.DefaultPath()
	if err != nil {
		return err
	}
	return config.Save(path, cfg)
}

// openRepo resolves f.storage against the persistent client config,
// resolves f.key (or its default), and opens the repository with a
// password resolved via resolvePassword.
func openRepo(ctx context.Context, f repoFlags) (*repo.Repo, error) {
	if f.storage == "" {
		return nil, fmt.Errorf("%w: --storage is required", errs.ErrUserInput)
	}

	cfg, err := loadClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	backend, err := cfg.Resolve(f.storage)
	if err != nil {
		return nil, err
	}

	key := f.key
	if key == "" {
		key, err = defaultKey()
		if err != nil {
			return nil, err
		}
	}

	password, err := resolvePassword(f.password)
	if err != nil {
		return nil, err
	}

	return repo.Open(ctx, backend, key, password)
}
