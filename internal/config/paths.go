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
	"fmt"
	"path/filepath"
)

// Paths is the caller-owned working context of one build: every location the
// build reads from or writes to. Nothing in the pipeline consults ambient
// filesystem state, which is what makes concurrent cases safe.
type Paths struct {
	// KeyDir holds the provisioned key files referenced by the key
	// configuration sections.
	KeyDir string
	// PrebuiltDir holds the firmware binaries and prebuilt signature blobs.
	PrebuiltDir string
	// ConfigPath is the build configuration document.
	ConfigPath string
	// DerivedConfigPath receives the digest-based downstream configuration.
	DerivedConfigPath string
	// ManifestPath is the manifest artifact location.
	ManifestPath string
	// FlashPath is the flash image artifact location.
	FlashPath string
}

// ProjectPaths applies the per-project filesystem conventions under root:
// key/<prj>/, prebuilt/<prj>/, config/<prj>-manifest.toml and the default
// out/ artifact names. Callers override individual fields afterwards.
func ProjectPaths(root, prj string) Paths {
	return Paths{
		KeyDir:            filepath.Join(root, "key", prj),
		PrebuiltDir:       filepath.Join(root, "prebuilt", prj),
		ConfigPath:        filepath.Join(root, "config", fmt.Sprintf("%s-manifest.toml", prj)),
		DerivedConfigPath: filepath.Join(root, "config", "derived-manifest.toml"),
		ManifestPath:      filepath.Join(root, "out", fmt.Sprintf("%s-auth-manifest.bin", prj)),
		FlashPath:         filepath.Join(root, "out", fmt.Sprintf("%s-flash-image.bin", prj)),
	}
}

// KeyPath resolves a key file reference against the key directory.
func (p Paths) KeyPath(name string) string {
	return filepath.Join(p.KeyDir, name)
}
