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

// Package config loads and saves the persistent client configuration:
// the user's author identity and a set of named storage backends. This
// is explicitly a collaborator the engine takes as resolved input
// (spec.md's Non-goals), not part of the engine itself.
package config

// Config is the whole of config.yaml: an author identity and every
// named storage the user has registered with `storage add`.
type Config struct {
	Author   string                    `yaml:"author,omitempty"`
	Storages map[string]*StorageConfig `yaml:"storages,omitempty"`
}

// StorageConfig names a storage backend and its type-specific fields.
// Fields is an untyped string map (mirroring original_source's
// `StorageFields`) so each storage type validates and interprets its
// own keys without this package needing to know about every backend.
type StorageConfig struct {
	Type   string            `yaml:"type"`
	Fields map[string]string `yaml:"fields,omitempty"`
}

// Well-known field keys used by the local and S3 storage types. Secret
// fields are never echoed back by `storage list`.
const (
	FieldPath            = "path"
	FieldEndpoint        = "endpoint"
	FieldBucket          = "bucket"
	FieldPrefix          = "prefix"
	FieldRegion          = "region"
	FieldAccessKeyID     = "access_key"
	FieldSecretAccessKey = "secret_key"
	FieldSecure          = "secure"
)

var secretFields = map[string]bool{
	FieldSecretAccessKey: true,
}

// IsSecretField reports whether key's value should be masked when a
// storage's fields are displayed to the user.
func IsSecretField(key string) bool {
	return secretFields[key]
}

// New returns an empty configuration.
func New() *Config {
	return &Config{Storages: make(map[string]*StorageConfig)}
}
