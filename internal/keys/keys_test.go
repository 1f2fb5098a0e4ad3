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

package keys

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolve(t *testing.T) {
	for _, test := range []struct {
		scenario string
		want     map[Role]Provenance
	}{
		{
			scenario: "ts1_oooo",
			want: map[Role]Provenance{
				VendorFirmware: Genuine,
				OwnerFirmware:  Genuine,
				VendorManifest: Genuine,
				OwnerManifest:  Genuine,
			},
		}, {
			scenario: "ts2_xooo",
			want: map[Role]Provenance{
				VendorFirmware: Substituted,
				OwnerFirmware:  Genuine,
				VendorManifest: Genuine,
				OwnerManifest:  Genuine,
			},
		}, {
			scenario: "ts3_oxoo",
			want: map[Role]Provenance{
				VendorFirmware: Genuine,
				OwnerFirmware:  Substituted,
				VendorManifest: Genuine,
				OwnerManifest:  Genuine,
			},
		}, {
			scenario: "ts4_ooxo",
			want: map[Role]Provenance{
				VendorFirmware: Genuine,
				OwnerFirmware:  Genuine,
				VendorManifest: Substituted,
				OwnerManifest:  Genuine,
			},
		}, {
			scenario: "ts5_ooox",
			want: map[Role]Provenance{
				VendorFirmware: Genuine,
				OwnerFirmware:  Genuine,
				VendorManifest: Genuine,
				OwnerManifest:  Substituted,
			},
		}, {
			scenario: "ts6_xxxx",
			want: map[Role]Provenance{
				VendorFirmware: Substituted,
				OwnerFirmware:  Substituted,
				VendorManifest: Substituted,
				OwnerManifest:  Substituted,
			},
		},
	} {
		t.Run(test.scenario, func(t *testing.T) {
			sels, err := Resolve(test.scenario)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			got := map[Role]Provenance{}
			for _, r := range Roles {
				sel := sels.Get(r)
				if sel.Role != r {
					t.Errorf("Selection for %s carries role %s", r, sel.Role)
				}
				got[r] = sel.Provenance
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("Provenance diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveUnknown(t *testing.T) {
	for _, scenario := range []string{"", "ts7_oooo", "ts1_ooo", "oooo"} {
		if _, err := Resolve(scenario); !errors.Is(err, ErrUnknownScenario) {
			t.Errorf("Resolve(%q): got %v, want ErrUnknownScenario", scenario, err)
		}
	}
}

func TestResolveKeyNaming(t *testing.T) {
	sels, err := Resolve("ts2_xooo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// The substituted role references the alt- provisioned set, every
	// genuine role the bare one.
	if kc := sels.Get(VendorFirmware).Keys; !strings.HasPrefix(kc.ECCPrivKey, "alt-") {
		t.Errorf("Substituted vendor firmware key %q lacks alt- prefix", kc.ECCPrivKey)
	}
	for _, r := range []Role{OwnerFirmware, VendorManifest, OwnerManifest} {
		kc := sels.Get(r).Keys
		if strings.HasPrefix(kc.ECCPrivKey, "alt-") {
			t.Errorf("Genuine %s key %q carries alt- prefix", r, kc.ECCPrivKey)
		}
	}

	// Within one scenario, no two roles share a key file.
	seen := map[string]Role{}
	for _, r := range Roles {
		kc := sels.Get(r).Keys
		for _, f := range []string{kc.ECCPubKey, kc.ECCPrivKey, kc.LMSPubKey, kc.LMSPrivKey} {
			if prev, ok := seen[f]; ok {
				t.Errorf("Key file %q shared by %s and %s", f, prev, r)
			}
			seen[f] = r
		}
	}
}

func TestScenarios(t *testing.T) {
	got := Scenarios()
	sort.Strings(got)
	want := []string{"ts1_oooo", "ts2_xooo", "ts3_oxoo", "ts4_ooxo", "ts5_ooox", "ts6_xxxx"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Scenarios diff (-want +got):\n%s", diff)
	}
}
