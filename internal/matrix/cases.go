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

// Package matrix drives the verification matrix: it resolves keys, builds
// configurations, manifests and flash images for every scenario case,
// corrupts the negative structural fixtures, and collects the named output
// artifacts.
package matrix

import (
	"fmt"

	"github.com/cptra-tools/imgtool/api"
)

// Case is one cell of the verification matrix. It is created here, consumed
// once by the runner and discarded; cases are never persisted.
type Case struct {
	// Scenario is the key-pair selector resolved by the keys package.
	Scenario string

	Version         uint32
	Flags           uint32
	SecurityVersion uint32

	// Corrupt, when set, mutates the finished artifacts at the named
	// structural field to produce a fixture a verifier must reject.
	Corrupt api.CorruptTarget

	// ExpectPass records whether the on-device verifier is expected to
	// accept the artifacts; it selects the artifact name prefix.
	ExpectPass bool
}

// Name returns the deterministic artifact base name:
// {outcome}-{version}-{flags}-{security_version}-{selector}.
func (c Case) Name() string {
	outcome := "fail"
	if c.ExpectPass {
		outcome = "pass"
	}
	name := fmt.Sprintf("%s-%d-%d-%d-%s", outcome, c.Version, c.Flags, c.SecurityVersion, c.Scenario)
	if c.Corrupt != "" {
		name += "-" + string(c.Corrupt)
	}
	return name
}

// DefaultCases is the full verification matrix: the all-genuine pass case,
// one substituted key per signing role, the all-substituted case, and the
// structural corruption fixtures.
var DefaultCases = []Case{
	{Scenario: "ts1_oooo", Version: 1, ExpectPass: true},
	{Scenario: "ts2_xooo", Version: 1},
	{Scenario: "ts3_oxoo", Version: 1},
	{Scenario: "ts4_ooxo", Version: 1},
	{Scenario: "ts5_ooox", Version: 1},
	{Scenario: "ts6_xxxx", Version: 1},
	{Scenario: "ts1_oooo", Version: 1, Corrupt: api.CorruptMagic},
	{Scenario: "ts1_oooo", Version: 1, Corrupt: api.CorruptChecksum},
}
