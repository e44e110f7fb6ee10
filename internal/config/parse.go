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

package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/relique/coldstore/internal/errs"
)

// DefaultDir returns the directory config.yaml lives in: ~/.config/coldstore,
// the same "home dir joined with .config/<tool>" convention uback's root
// command uses for its presets directory.
func DefaultDir() (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(usr.HomeDir, ".config", "coldstore"), nil
}

// DefaultPath returns the full path to config.yaml under DefaultDir.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads and parses config.yaml at path, expanding ${VAR}/$VAR
// references against the process environment before unmarshaling (so
// a storage's secret_key field can reference an env var instead of
// sitting in the file in plaintext). A missing file yields a fresh,
// empty Config rather than an error, since `config`/`storage add` are
// what create it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := New()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config %s: %v", errs.ErrUserInput, path, err)
	}
	if cfg.Storages == nil {
		cfg.Storages = make(map[string]*StorageConfig)
	}
	return cfg, nil
}

// Save serializes cfg as YAML and writes it to path, creating its
// parent directory if necessary.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
