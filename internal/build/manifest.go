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

// Package build turns a build configuration plus key material into the
// signed SoC manifest and lays manifests and binaries out into flash images.
package build

import (
	"crypto/sha512"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/cptra-tools/imgtool/api"
	"github.com/cptra-tools/imgtool/internal/config"
	"github.com/cptra-tools/imgtool/internal/keys"
	"github.com/cptra-tools/imgtool/internal/sign"
)

// ManifestBuilder produces a signed SoC authorization manifest.
//
// A private key that does not correspond to its configured public key is not
// detected here: the resulting manifest is intentionally left for the
// downstream verifier to reject, which is what the negative half of the
// scenario matrix relies on.
type ManifestBuilder struct {
	Config *config.Config
	Paths  config.Paths

	// LMSHelper is the external sign helper command for hash-based
	// signatures; empty leaves the LMS signature fields zeroed.
	LMSHelper string

	// WorkDir hosts signing scratch files; defaults to the system temp
	// directory when empty.
	WorkDir string
}

// Build assembles and signs the manifest described by the configuration.
func (b *ManifestBuilder) Build() (*api.Manifest, error) {
	m := &api.Manifest{}
	m.Version = b.Config.ManifestConfig.Version
	m.Flags = b.Config.ManifestConfig.Flags
	m.SecurityVersion = b.Config.ManifestConfig.SecurityVersion

	for _, e := range b.Config.ImageMetadataList {
		if e.Tombstone() {
			continue
		}
		data, err := os.ReadFile(e.File)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: image %q", config.ErrMissingResource, e.File)
			}
			return nil, err
		}
		m.Metadata = append(m.Metadata, api.ImageMetadata{
			FWID:   e.FWID,
			Flags:  api.MetadataFlags(e.IgnoreAuthCheck, e.LoadStage),
			Digest: sha512.Sum384(data),
		})
	}
	if len(m.Metadata) == 0 {
		return nil, fmt.Errorf("%w: no non-tombstone image metadata, manifest must describe the first mutable code", api.ErrFormat)
	}

	if err := b.embedManifestKeys(m); err != nil {
		return nil, err
	}

	manifestDigest := m.ManifestDigest()
	svnDigest := m.SVNDigest()
	metadataDigest := m.MetadataDigest()

	var err error
	if m.VendorManifestSig, err = b.signBlock(keys.VendorManifest, manifestDigest[:]); err != nil {
		return nil, err
	}
	if m.OwnerManifestSig, err = b.signBlock(keys.OwnerManifest, manifestDigest[:]); err != nil {
		return nil, err
	}
	if m.OwnerSVNSig, err = b.signBlock(keys.OwnerManifest, svnDigest[:]); err != nil {
		return nil, err
	}
	if m.OwnerMetadataSig, err = b.signBlock(keys.OwnerFirmware, metadataDigest[:]); err != nil {
		return nil, err
	}

	if b.Config.ManifestConfig.VndPrebuiltECCSig != "" {
		m.VendorMetadataSig, err = b.prebuiltVendorSig()
	} else {
		m.VendorMetadataSig, err = b.signBlock(keys.VendorFirmware, metadataDigest[:])
	}
	if err != nil {
		return nil, err
	}

	klog.V(1).Infof("built manifest: version %d flags %#x security version %d, %d images",
		m.Version, m.Flags, m.SecurityVersion, len(m.Metadata))

	return m, nil
}

// embedManifestKeys loads the vendor and owner manifest public keys into the
// preamble.
func (b *ManifestBuilder) embedManifestKeys(m *api.Manifest) error {
	var err error
	if m.VendorManifestKeys, err = b.publicKeyBlock(keys.VendorManifest); err != nil {
		return err
	}
	m.OwnerManifestKeys, err = b.publicKeyBlock(keys.OwnerManifest)
	return err
}

func (b *ManifestBuilder) publicKeyBlock(role keys.Role) (api.PublicKeyBlock, error) {
	var blk api.PublicKeyBlock
	kf := b.Config.RoleKeys(role)

	pub, err := sign.LoadECCPublicKey(b.Paths.KeyPath(kf.ECCPubKey))
	if err != nil {
		if os.IsNotExist(err) {
			return blk, fmt.Errorf("%w: %s ECC public key %q", config.ErrMissingResource, role, kf.ECCPubKey)
		}
		return blk, err
	}
	blk.ECC = sign.ECCPubKeyBytes(pub)

	lms, err := os.ReadFile(b.Paths.KeyPath(kf.LMSPubKey))
	if err != nil {
		if os.IsNotExist(err) {
			return blk, fmt.Errorf("%w: %s LMS public key %q", config.ErrMissingResource, role, kf.LMSPubKey)
		}
		return blk, err
	}
	if len(lms) != api.LMSPubKeySize {
		return blk, fmt.Errorf("%w: %s LMS public key is %d bytes, want %d", config.ErrConfiguration, role, len(lms), api.LMSPubKeySize)
	}
	copy(blk.LMS[:], lms)

	return blk, nil
}

// signBlock signs a digest with one role's keys, both algorithms. The LMS
// half stays zeroed when no sign helper is configured.
func (b *ManifestBuilder) signBlock(role keys.Role, digest []byte) (api.SignatureBlock, error) {
	var blk api.SignatureBlock
	kf := b.Config.RoleKeys(role)

	priv, err := sign.LoadECCPrivateKey(b.Paths.KeyPath(kf.ECCPrivKey))
	if err != nil {
		if os.IsNotExist(err) {
			return blk, fmt.Errorf("%w: %s ECC private key %q", config.ErrMissingResource, role, kf.ECCPrivKey)
		}
		return blk, err
	}
	if blk.ECC, err = sign.ECCSign(priv, digest); err != nil {
		return blk, fmt.Errorf("%s: %v", role, err)
	}

	if b.LMSHelper != "" {
		h := &sign.HelperSigner{
			Command: b.LMSHelper,
			KeyPath: b.Paths.KeyPath(kf.LMSPrivKey),
			WorkDir: b.WorkDir,
		}
		if blk.LMS, err = h.SignLMS(digest); err != nil {
			return blk, fmt.Errorf("%s: %v", role, err)
		}
	}

	return blk, nil
}

// prebuiltVendorSig loads the centrally produced vendor firmware signatures
// instead of signing fresh, converting the ECC blob from DER to the raw
// hardware form.
func (b *ManifestBuilder) prebuiltVendorSig() (api.SignatureBlock, error) {
	var blk api.SignatureBlock

	der, err := os.ReadFile(b.Config.ManifestConfig.VndPrebuiltECCSig)
	if err != nil {
		if os.IsNotExist(err) {
			return blk, fmt.Errorf("%w: prebuilt vendor ECC signature %q", config.ErrMissingResource, b.Config.ManifestConfig.VndPrebuiltECCSig)
		}
		return blk, err
	}
	if blk.ECC, err = sign.DERToRaw(der); err != nil {
		return blk, fmt.Errorf("prebuilt vendor ECC signature: %v", err)
	}

	if path := b.Config.ManifestConfig.VndPrebuiltLMSSig; path != "" {
		lms, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return blk, fmt.Errorf("%w: prebuilt vendor LMS signature %q", config.ErrMissingResource, path)
			}
			return blk, err
		}
		if len(lms) != api.LMSSigSize {
			return blk, fmt.Errorf("%w: prebuilt vendor LMS signature is %d bytes, want %d", config.ErrConfiguration, len(lms), api.LMSSigSize)
		}
		copy(blk.LMS[:], lms)
	}

	klog.V(1).Info("substituted prebuilt vendor firmware signature")
	return blk, nil
}
