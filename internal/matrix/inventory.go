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

package matrix

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/mod/sumdb/note"

	"github.com/cptra-tools/imgtool/internal/build"
)

// Inventory renders the produced artifacts as a checksum manifest: one
// "sha256:<hex>  <name>" line per artifact, sorted by name. Re-running an
// identical matrix yields an identical inventory.
func (r Report) Inventory() (string, error) {
	type line struct{ name, sum string }
	var lines []line
	for _, res := range r.Produced() {
		for _, p := range []string{res.Manifest, res.Flash} {
			data, err := os.ReadFile(p)
			if err != nil {
				return "", fmt.Errorf("reading artifact %q: %v", p, err)
			}
			lines = append(lines, line{
				name: filepath.Base(p),
				sum:  fmt.Sprintf("%x", sha256.Sum256(data)),
			})
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].name < lines[j].name })

	txt := "verification matrix artifacts\n"
	for _, l := range lines {
		txt += fmt.Sprintf("sha256:%s  %s\n", l.sum, l.name)
	}
	return txt, nil
}

// WriteInventory writes the artifact inventory to path. With a signer the
// inventory is written as a signed note, otherwise as plain text.
func WriteInventory(path string, r Report, signer note.Signer) error {
	txt, err := r.Inventory()
	if err != nil {
		return err
	}
	data := []byte(txt)
	if signer != nil {
		if data, err = note.Sign(&note.Note{Text: txt}, signer); err != nil {
			return fmt.Errorf("signing inventory: %v", err)
		}
	}
	return build.WriteArtifact(path, data)
}
