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

// Package config defines the TOML build configuration consumed by the
// manifest builder and flash assembler, the per-project path conventions,
// and the synthesis of configurations from key-pair scenarios.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/coreos/go-semver/semver"

	"github.com/cptra-tools/imgtool/internal/keys"
)

var (
	// ErrConfiguration reports a malformed or incomplete configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrMissingResource reports a referenced key or binary file that does
	// not exist.
	ErrMissingResource = errors.New("missing resource")
)

// KeyFiles references one signing role's key material.
type KeyFiles struct {
	ECCPubKey  string `toml:"ecc_pub_key"`
	ECCPrivKey string `toml:"ecc_priv_key"`
	LMSPubKey  string `toml:"lms_pub_key"`
	LMSPrivKey string `toml:"lms_priv_key"`
}

// General carries the manifest-wide parameters.
type General struct {
	Version         uint32 `toml:"version"`
	Flags           uint32 `toml:"flags"`
	SecurityVersion uint32 `toml:"security_version"`
	PrjName         string `toml:"prj_name,omitempty"`

	// MinToolVersion, when set, is the oldest tool release allowed to
	// build this configuration.
	MinToolVersion string `toml:"min_tool_version,omitempty"`

	// Prebuilt vendor firmware signatures, referenced instead of signing
	// fresh when the vendor signed once centrally. Empty means sign fresh.
	VndPrebuiltECCSig string `toml:"vnd_prebuilt_ecc_sig,omitempty"`
	VndPrebuiltLMSSig string `toml:"vnd_prebuilt_lms_sig,omitempty"`
}

// RuntimeImages references the runtime binaries laid into the flash image
// ahead of the SoC images.
type RuntimeImages struct {
	CaliptraFile string `toml:"caliptra_file"`
	MCUFile      string `toml:"mcu_file"`
}

// ImageMetadataEntry configures one row of the manifest metadata list. An
// entry with an empty File and LoadStage zero is a tombstone: it is kept in
// the configuration for slot numbering but excluded from built artifacts.
type ImageMetadataEntry struct {
	File            string `toml:"file"`
	Source          uint32 `toml:"source"`
	FWID            uint32 `toml:"fw_id"`
	IgnoreAuthCheck bool   `toml:"ignore_auth_check"`
	LoadStage       uint32 `toml:"load_stage"`
}

// Tombstone reports whether the entry is an empty placeholder.
func (e ImageMetadataEntry) Tombstone() bool {
	return e.File == "" && e.LoadStage == 0
}

// Config is the full build configuration document.
type Config struct {
	ManifestConfig    General              `toml:"manifest_config"`
	VendorFWKey       KeyFiles             `toml:"vendor_fw_key_config"`
	VendorManKey      KeyFiles             `toml:"vendor_man_key_config"`
	OwnerFWKey        KeyFiles             `toml:"owner_fw_key_config"`
	OwnerManKey       KeyFiles             `toml:"owner_man_key_config"`
	ImageRuntimeList  RuntimeImages        `toml:"image_runtime_list"`
	ImageMetadataList []ImageMetadataEntry `toml:"image_metadata_list"`
}

// RoleKeys returns the key file section for a signing role.
func (c *Config) RoleKeys(r keys.Role) KeyFiles {
	switch r {
	case keys.VendorFirmware:
		return c.VendorFWKey
	case keys.OwnerFirmware:
		return c.OwnerFWKey
	case keys.VendorManifest:
		return c.VendorManKey
	case keys.OwnerManifest:
		return c.OwnerManKey
	}
	panic(fmt.Errorf("unknown Role %d", int(r)))
}

// Load reads and parses a configuration document.
func Load(path string) (*Config, error) {
	c := &Config{}
	if _, err := toml.DecodeFile(path, c); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file %q", ErrMissingResource, path)
		}
		return nil, fmt.Errorf("%w: parsing %q: %v", ErrConfiguration, path, err)
	}
	return c, nil
}

// Save writes the configuration document, truncating any previous file.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encoding config %q: %v", path, err)
	}
	return f.Close()
}

// Validate performs the structural checks that do not require file IO.
// toolVersion is the running release, compared against min_tool_version.
func (c *Config) Validate(toolVersion string) error {
	if min := c.ManifestConfig.MinToolVersion; min != "" {
		minV, err := semver.NewVersion(min)
		if err != nil {
			return fmt.Errorf("%w: min_tool_version %q: %v", ErrConfiguration, min, err)
		}
		curV, err := semver.NewVersion(toolVersion)
		if err != nil {
			return fmt.Errorf("%w: tool version %q: %v", ErrConfiguration, toolVersion, err)
		}
		if curV.LessThan(*minV) {
			return fmt.Errorf("%w: tool %s is older than required %s", ErrConfiguration, toolVersion, min)
		}
	}

	live := 0
	for _, e := range c.ImageMetadataList {
		if !e.Tombstone() {
			live++
		}
	}
	if live == 0 {
		return fmt.Errorf("%w: image_metadata_list has no non-tombstone entries", ErrConfiguration)
	}
	return nil
}

// ResolvePrebuilt rewrites the file references that live in the prebuilt
// binary directory to absolute paths. Key references stay relative; the
// builder resolves them against the key directory.
func (c *Config) ResolvePrebuilt(prebuiltDir string) {
	join := func(name string) string {
		if name == "" {
			return ""
		}
		return filepath.Join(prebuiltDir, name)
	}

	c.ManifestConfig.VndPrebuiltECCSig = join(c.ManifestConfig.VndPrebuiltECCSig)
	c.ManifestConfig.VndPrebuiltLMSSig = join(c.ManifestConfig.VndPrebuiltLMSSig)
	c.ImageRuntimeList.CaliptraFile = join(c.ImageRuntimeList.CaliptraFile)
	c.ImageRuntimeList.MCUFile = join(c.ImageRuntimeList.MCUFile)
	for i := range c.ImageMetadataList {
		if !c.ImageMetadataList[i].Tombstone() {
			c.ImageMetadataList[i].File = join(c.ImageMetadataList[i].File)
		}
	}
}
