// Copyright 2025 The CPTRA Image Tools authors. All Rights Reserved.
//
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
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DerivedMetadata is one row of the digest-based downstream configuration:
// the image file reference is replaced with the SHA-384 of its contents so
// central signing infrastructure needs no access to the binaries.
type DerivedMetadata struct {
	Digest          string `toml:"digest"`
	Source          uint32 `toml:"source"`
	FWID            uint32 `toml:"fw_id"`
	IgnoreAuthCheck bool   `toml:"ignore_auth_check"`
}

// DerivedConfig is the downstream configuration document.
type DerivedConfig struct {
	VendorFWKey       KeyFiles          `toml:"vendor_fw_key_config"`
	VendorManKey      KeyFiles          `toml:"vendor_man_key_config"`
	OwnerFWKey        KeyFiles          `toml:"owner_fw_key_config"`
	OwnerManKey       KeyFiles          `toml:"owner_man_key_config"`
	ImageMetadataList []DerivedMetadata `toml:"image_metadata_list"`
}

// SaveDerived hashes every non-tombstone metadata binary and writes the
// digest-based configuration. File references must be resolved (see
// ResolvePrebuilt) before calling.
func (c *Config) SaveDerived(path string) error {
	d := &DerivedConfig{
		VendorFWKey:  c.VendorFWKey,
		VendorManKey: c.VendorManKey,
		OwnerFWKey:   c.OwnerFWKey,
		OwnerManKey:  c.OwnerManKey,
	}

	for _, e := range c.ImageMetadataList {
		if e.Tombstone() {
			continue
		}
		data, err := os.ReadFile(e.File)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: image %q", ErrMissingResource, e.File)
			}
			return err
		}
		sum := sha512.Sum384(data)
		d.ImageMetadataList = append(d.ImageMetadataList, DerivedMetadata{
			Digest:          hex.EncodeToString(sum[:]),
			Source:          e.Source,
			FWID:            e.FWID,
			IgnoreAuthCheck: e.IgnoreAuthCheck,
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(d); err != nil {
		return fmt.Errorf("encoding derived config %q: %v", path, err)
	}
	return f.Close()
}
