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

// Package verify is the host-side reference checker the scenario harness
// uses to prove that pass fixtures are accepted and fail fixtures are
// rejected for the intended reason. The authoritative verifier is the
// device ROM; this checker only mirrors its documented checks.
package verify

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/cptra-tools/imgtool/api"
	"github.com/cptra-tools/imgtool/internal/keys"
	"github.com/cptra-tools/imgtool/internal/sign"
)

// Keyring holds the genuine provisioned public keys per signing role, the
// trust anchors an on-device verifier would carry in fuses.
type Keyring struct {
	VendorFirmware *ecdsa.PublicKey
	OwnerFirmware  *ecdsa.PublicKey
	VendorManifest *ecdsa.PublicKey
	OwnerManifest  *ecdsa.PublicKey
}

func (k Keyring) get(r keys.Role) *ecdsa.PublicKey {
	switch r {
	case keys.VendorFirmware:
		return k.VendorFirmware
	case keys.OwnerFirmware:
		return k.OwnerFirmware
	case keys.VendorManifest:
		return k.VendorManifest
	case keys.OwnerManifest:
		return k.OwnerManifest
	}
	panic(fmt.Errorf("unknown Role %d", int(r)))
}

// SignatureError identifies exactly which role's signature failed, so the
// matrix can assert that each substituted role fails independently and for
// its own reason.
type SignatureError struct {
	Role keys.Role
	// Region names the signed region that failed: manifest, svn or
	// metadata.
	Region string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s %s signature verification failed", e.Role, e.Region)
}

// Manifest checks an encoded manifest against the genuine keyring: magic,
// checksum, structure, then every ECC signature. Zeroed LMS signature
// fields are treated as "hash-based signing not configured" and skipped,
// matching the platform's optional LMS policy.
func Manifest(buf []byte, kr Keyring) error {
	if err := api.VerifyChecksum(buf); err != nil {
		return err
	}

	m := &api.Manifest{}
	if err := m.Decode(buf); err != nil {
		return err
	}

	manifestDigest := m.ManifestDigest()
	svnDigest := m.SVNDigest()
	metadataDigest := m.MetadataDigest()

	checks := []struct {
		role   keys.Role
		region string
		digest []byte
		sig    api.SignatureBlock
	}{
		{keys.VendorManifest, "manifest", manifestDigest[:], m.VendorManifestSig},
		{keys.OwnerManifest, "manifest", manifestDigest[:], m.OwnerManifestSig},
		{keys.OwnerManifest, "svn", svnDigest[:], m.OwnerSVNSig},
		{keys.VendorFirmware, "metadata", metadataDigest[:], m.VendorMetadataSig},
		{keys.OwnerFirmware, "metadata", metadataDigest[:], m.OwnerMetadataSig},
	}

	for _, c := range checks {
		if !sign.ECCVerify(kr.get(c.role), c.digest, c.sig.ECC) {
			return &SignatureError{Role: c.role, Region: c.region}
		}
	}

	return nil
}

// FlashImage checks an encoded flash image: magic, checksum and image
// information bounds. Payload authorization is the manifest's concern.
func FlashImage(buf []byte) error {
	if err := api.VerifyFlashChecksum(buf); err != nil {
		return err
	}
	_, _, err := api.DecodeFlash(buf)
	return err
}

// ManifestInFlash extracts the embedded SoC manifest from a flash image and
// checks it against the keyring.
func ManifestInFlash(buf []byte, kr Keyring) error {
	if err := FlashImage(buf); err != nil {
		return err
	}
	f, _, err := api.DecodeFlash(buf)
	if err != nil {
		return err
	}
	for _, e := range f.Entries {
		if e.FWID == api.ImageIDSoCManifest {
			return Manifest(e.Data, kr)
		}
	}
	return fmt.Errorf("%w: flash image carries no SoC manifest", api.ErrFormat)
}
