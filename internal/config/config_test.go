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
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cptra-tools/imgtool/internal/keys"
)

func mustResolve(t *testing.T, scenario string) keys.Selections {
	t.Helper()
	sels, err := keys.Resolve(scenario)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", scenario, err)
	}
	return sels
}

func TestBuildMetadataOrder(t *testing.T) {
	c := Build(2, 0x1, 5, mustResolve(t, "ts1_oooo"))

	if got, want := c.ManifestConfig.Version, uint32(2); got != want {
		t.Errorf("Version: got %d, want %d", got, want)
	}
	if got, want := c.ManifestConfig.SecurityVersion, uint32(5); got != want {
		t.Errorf("SecurityVersion: got %d, want %d", got, want)
	}

	if len(c.ImageMetadataList) == 0 {
		t.Fatal("Build produced no metadata entries")
	}
	// The MCU runtime is the first mutable code: it must head the list.
	if got := c.ImageMetadataList[0].FWID; got != MCURuntimeFWID {
		t.Errorf("First metadata FWID: got %d, want %d", got, MCURuntimeFWID)
	}
	// Load stages number the boot order from 1 with no gaps.
	for i, e := range c.ImageMetadataList {
		if got, want := e.LoadStage, uint32(i+1); got != want {
			t.Errorf("Entry %d (%s): load stage %d, want %d", i, e.File, got, want)
		}
		if e.Tombstone() {
			t.Errorf("Entry %d (%s) is a tombstone", i, e.File)
		}
	}
}

func TestBuildPrebuiltFollowsProvenance(t *testing.T) {
	for _, test := range []struct {
		scenario     string
		wantPrebuilt bool
	}{
		{"ts1_oooo", true},
		{"ts2_xooo", false}, // substituted vendor firmware key signs fresh
		{"ts3_oxoo", true},
		{"ts4_ooxo", true},
		{"ts5_ooox", true},
		{"ts6_xxxx", false},
	} {
		t.Run(test.scenario, func(t *testing.T) {
			c := Build(1, 0, 0, mustResolve(t, test.scenario))
			got := c.ManifestConfig.VndPrebuiltECCSig != ""
			if got != test.wantPrebuilt {
				t.Errorf("Prebuilt referenced: got %t, want %t", got, test.wantPrebuilt)
			}
			if got {
				if c.ManifestConfig.VndPrebuiltECCSig != PrebuiltVendorECCSig {
					t.Errorf("ECC blob: got %q, want %q", c.ManifestConfig.VndPrebuiltECCSig, PrebuiltVendorECCSig)
				}
				if c.ManifestConfig.VndPrebuiltLMSSig != PrebuiltVendorLMSSig {
					t.Errorf("LMS blob: got %q, want %q", c.ManifestConfig.VndPrebuiltLMSSig, PrebuiltVendorLMSSig)
				}
			}
		})
	}
}

func TestBuildKeySelection(t *testing.T) {
	sels := mustResolve(t, "ts4_ooxo")
	c := Build(1, 0, 0, sels)

	if got := c.VendorManKey.ECCPrivKey; !strings.HasPrefix(got, "alt-") {
		t.Errorf("Substituted vendor manifest key: got %q, want alt- prefix", got)
	}
	if got := c.VendorFWKey.ECCPrivKey; strings.HasPrefix(got, "alt-") {
		t.Errorf("Genuine vendor firmware key: got %q, want no alt- prefix", got)
	}
	if diff := cmp.Diff(sels.Get(keys.OwnerManifest).Keys.ECCPubKey, c.RoleKeys(keys.OwnerManifest).ECCPubKey); diff != "" {
		t.Errorf("RoleKeys(OwnerManifest) diff (-want +got):\n%s", diff)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	c := Build(3, 0x20, 9, mustResolve(t, "ts1_oooo"))
	c.ManifestConfig.PrjName = "roundtrip"
	c.ManifestConfig.MinToolVersion = "1.0.0"

	path := filepath.Join(t.TempDir(), "manifest.toml")
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("Config diff (-want +got):\n%s", diff)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); !errors.Is(err, ErrMissingResource) {
		t.Errorf("Load: got %v, want ErrMissingResource", err)
	}
}

func TestValidateToolVersion(t *testing.T) {
	for _, test := range []struct {
		name    string
		min     string
		tool    string
		wantErr bool
	}{
		{"no minimum", "", "1.0.0", false},
		{"tool newer", "1.0.0", "1.2.0", false},
		{"tool equal", "1.2.0", "1.2.0", false},
		{"tool older", "1.3.0", "1.2.0", true},
		{"bad minimum", "not-a-version", "1.2.0", true},
		{"bad tool version", "1.0.0", "garbage", true},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := Build(1, 0, 0, mustResolve(t, "ts1_oooo"))
			c.ManifestConfig.MinToolVersion = test.min
			err := c.Validate(test.tool)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Errorf("Validate: got %v, wantErr %t", err, test.wantErr)
			}
			if test.wantErr && !errors.Is(err, ErrConfiguration) {
				t.Errorf("Validate: got %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestValidateTombstonesOnly(t *testing.T) {
	c := Build(1, 0, 0, mustResolve(t, "ts1_oooo"))
	for i := range c.ImageMetadataList {
		c.ImageMetadataList[i].File = ""
		c.ImageMetadataList[i].LoadStage = 0
	}
	if err := c.Validate("1.0.0"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Validate with only tombstones: got %v, want ErrConfiguration", err)
	}
}

func TestTombstone(t *testing.T) {
	for _, test := range []struct {
		entry ImageMetadataEntry
		want  bool
	}{
		{ImageMetadataEntry{}, true},
		{ImageMetadataEntry{File: "spl.bin", LoadStage: 2}, false},
		{ImageMetadataEntry{File: "spl.bin"}, false},
		{ImageMetadataEntry{LoadStage: 2}, false},
	} {
		if got := test.entry.Tombstone(); got != test.want {
			t.Errorf("Tombstone(%+v): got %t, want %t", test.entry, got, test.want)
		}
	}
}

func TestResolvePrebuilt(t *testing.T) {
	c := Build(1, 0, 0, mustResolve(t, "ts1_oooo"))
	c.ImageMetadataList = append(c.ImageMetadataList, ImageMetadataEntry{}) // tombstone

	c.ResolvePrebuilt("/data/prebuilt/prj")

	if got, want := c.ManifestConfig.VndPrebuiltECCSig, filepath.Join("/data/prebuilt/prj", PrebuiltVendorECCSig); got != want {
		t.Errorf("Prebuilt ECC blob: got %q, want %q", got, want)
	}
	if got := c.ImageRuntimeList.CaliptraFile; !filepath.IsAbs(got) {
		t.Errorf("Caliptra runtime %q not resolved", got)
	}
	for _, e := range c.ImageMetadataList {
		if e.Tombstone() {
			if e.File != "" {
				t.Errorf("Tombstone gained a file reference %q", e.File)
			}
			continue
		}
		if !filepath.IsAbs(e.File) {
			t.Errorf("Image %q not resolved", e.File)
		}
	}
}

func TestProjectPaths(t *testing.T) {
	p := ProjectPaths("/work", "socA")
	for _, test := range []struct {
		name string
		got  string
		want string
	}{
		{"KeyDir", p.KeyDir, "/work/key/socA"},
		{"PrebuiltDir", p.PrebuiltDir, "/work/prebuilt/socA"},
		{"ConfigPath", p.ConfigPath, "/work/config/socA-manifest.toml"},
		{"ManifestPath", p.ManifestPath, "/work/out/socA-auth-manifest.bin"},
		{"FlashPath", p.FlashPath, "/work/out/socA-flash-image.bin"},
	} {
		if test.got != test.want {
			t.Errorf("%s: got %q, want %q", test.name, test.got, test.want)
		}
	}
	if got, want := p.KeyPath("vnd-fw-ecc-pubk.pem"), "/work/key/socA/vnd-fw-ecc-pubk.pem"; got != want {
		t.Errorf("KeyPath: got %q, want %q", got, want)
	}
}
