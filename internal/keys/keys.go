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

// Package keys models the four secure-boot signing roles and resolves
// key-pair scenarios to the concrete key files each role uses.
//
// A scenario selects, per role, either the genuine provisioned key or a
// deliberately substituted one; substitution is how the verification matrix
// produces manifests a correct verifier must reject. The resolver only
// selects files, it neither generates keys nor validates that a public and
// private key correspond.
package keys

import (
	"errors"
	"fmt"
)

// Role identifies one of the four signing authorities of the dual-key,
// dual-purpose signing policy.
type Role int

const (
	VendorFirmware Role = iota
	OwnerFirmware
	VendorManifest
	OwnerManifest

	numRoles
)

// Roles lists all signing roles in selector flag order.
var Roles = []Role{VendorFirmware, OwnerFirmware, VendorManifest, OwnerManifest}

func (r Role) String() string {
	switch r {
	case VendorFirmware:
		return "vendor-firmware"
	case OwnerFirmware:
		return "owner-firmware"
	case VendorManifest:
		return "vendor-manifest"
	case OwnerManifest:
		return "owner-manifest"
	}
	panic(fmt.Errorf("unknown Role %d", int(r)))
}

// short returns the role prefix used in provisioned key file names.
func (r Role) short() string {
	switch r {
	case VendorFirmware:
		return "vnd-fw"
	case OwnerFirmware:
		return "own-fw"
	case VendorManifest:
		return "vnd-man"
	case OwnerManifest:
		return "own-man"
	}
	panic(fmt.Errorf("unknown Role %d", int(r)))
}

// Provenance records whether a role signs with its genuine provisioned key
// or a substituted one. It is decided once here and consumed downstream,
// replacing string comparisons on key file names.
type Provenance int

const (
	Genuine Provenance = iota
	Substituted
)

func (p Provenance) String() string {
	if p == Genuine {
		return "genuine"
	}
	return "substituted"
}

// KeyConfig references the four key files of one signing role, relative to
// the provisioning key directory.
type KeyConfig struct {
	ECCPubKey  string
	ECCPrivKey string
	LMSPubKey  string
	LMSPrivKey string
}

// Selection is the resolved key choice for one role.
type Selection struct {
	Role       Role
	Provenance Provenance
	Keys       KeyConfig
}

// Selections holds one Selection per role, indexed by Role.
type Selections [numRoles]Selection

// Get returns the selection for the given role.
func (s Selections) Get(r Role) Selection {
	return s[r]
}

// scenarios enumerates every defined key-pair scenario. The four-flag code
// mirrors the role order of Roles: o selects the genuine key, x the
// substituted one.
var scenarios = map[string][numRoles]Provenance{
	"ts1_oooo": {Genuine, Genuine, Genuine, Genuine},
	"ts2_xooo": {Substituted, Genuine, Genuine, Genuine},
	"ts3_oxoo": {Genuine, Substituted, Genuine, Genuine},
	"ts4_ooxo": {Genuine, Genuine, Substituted, Genuine},
	"ts5_ooox": {Genuine, Genuine, Genuine, Substituted},
	"ts6_xxxx": {Substituted, Substituted, Substituted, Substituted},
}

// ErrUnknownScenario reports a selector that names no defined combination.
var ErrUnknownScenario = errors.New("unknown key-pair scenario")

// Resolve maps a scenario selector to the key files each signing role uses.
// Undefined selectors fail loudly; there is no default combination.
func Resolve(scenario string) (Selections, error) {
	provs, ok := scenarios[scenario]
	if !ok {
		return Selections{}, fmt.Errorf("%w: %q", ErrUnknownScenario, scenario)
	}

	var sels Selections
	for _, r := range Roles {
		sels[r] = Selection{
			Role:       r,
			Provenance: provs[r],
			Keys:       roleKeyConfig(r, provs[r]),
		}
	}
	return sels, nil
}

// Scenarios returns the defined selector names; order is unspecified.
func Scenarios() []string {
	out := make([]string, 0, len(scenarios))
	for s := range scenarios {
		out = append(out, s)
	}
	return out
}

// roleKeyConfig applies the provisioning naming convention: genuine keys use
// the bare role prefix, substituted keys the alt- provisioned set. The alt
// keys are real, well-formed keys that simply are not the ones the device
// trusts.
func roleKeyConfig(r Role, p Provenance) KeyConfig {
	prefix := r.short()
	if p == Substituted {
		prefix = "alt-" + prefix
	}
	return KeyConfig{
		ECCPubKey:  prefix + "-ecc-pubk.pem",
		ECCPrivKey: prefix + "-ecc-prvk.pem",
		LMSPubKey:  prefix + "-lms-pubk.bin",
		LMSPrivKey: prefix + "-lms-prvk.bin",
	}
}
