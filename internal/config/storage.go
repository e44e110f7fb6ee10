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
	"fmt"
	"strconv"

	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/storage"
)

// Storage type identifiers, mirroring original_source's
// storage_clients definitions ("local", "s3").
const (
	StorageTypeLocal = "local"
	StorageTypeS3    = "s3"
)

// ResolveBackend builds a storage.Backend from a named storage's
// config, dispatching on its Type the way original_source's
// build_storage_client dispatches on StorageConfig.storage_type.
func ResolveBackend(sc *StorageConfig) (storage.Backend, error) {
	switch sc.Type {
	case StorageTypeLocal:
		path := sc.Fields[FieldPath]
		if path == "" {
			return nil, fmt.Errorf("%w: local storage requires %q", errs.ErrUserInput, FieldPath)
		}
		return storage.NewLocal(path)

	case StorageTypeS3:
		bucket := sc.Fields[FieldBucket]
		if bucket == "" {
			return nil, fmt.Errorf("%w: s3 storage requires %q", errs.ErrUserInput, FieldBucket)
		}
		endpoint := sc.Fields[FieldEndpoint]
		if endpoint == "" {
			return nil, fmt.Errorf("%w: s3 storage requires %q", errs.ErrUserInput, FieldEndpoint)
		}
		secure := true
		if v, ok := sc.Fields[FieldSecure]; ok {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%w: s3 storage %q must be true/false, got %q", errs.ErrUserInput, FieldSecure, v)
			}
			secure = parsed
		}
		return storage.NewS3(storage.S3Config{
			Endpoint:        endpoint,
			AccessKeyID:     sc.Fields[FieldAccessKeyID],
			SecretAccessKey: sc.Fields[FieldSecretAccessKey],
			Bucket:          bucket,
			Prefix:          sc.Fields[FieldPrefix],
			Secure:          secure,
		})

	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", errs.ErrUserInput, sc.Type)
	}
}

// Resolve looks up name in cfg and resolves it to a storage.Backend.
func (c *Config) Resolve(name string) (storage.Backend, error) {
	sc, ok := c.Storages[name]
	if !ok {
		return nil, fmt.Errorf("%w: no storage named %q", errs.ErrNotFound, name)
	}
	return ResolveBackend(sc)
}
