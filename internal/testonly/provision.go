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

// Package testonly provisions throwaway project trees for tests: generated
// key material for every signing role, firmware binaries, and prebuilt
// vendor signature fixtures.
package testonly

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cptra-tools/imgtool/api"
	"github.com/cptra-tools/imgtool/internal/keys"
	"github.com/cptra-tools/imgtool/internal/sign"
)

// Project is the project name every provisioned tree uses.
const Project = "testprj"

// socImages is the boot-ordered SoC image list a provisioned tree carries,
// matching the synthesized build configuration.
var socImages = []struct {
	name string
	fwID uint32
}{
	{"mcu-runtime.bin", 1},
	{"spl.bin", 2},
	{"fw-loader.bin", 3},
	{"secure-os.bin", 4},
	{"bootloader.bin", 5},
	{"sec-proc0.bin", 6},
	{"sec-proc1.bin", 7},
}

// Provision creates a complete project tree under a temp root: genuine and
// alt key sets for all four signing roles, the firmware binaries, and the
// prebuilt vendor firmware signature fixtures. It returns the tree root.
func Provision(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	keyDir := filepath.Join(root, "key", Project)
	prebuiltDir := filepath.Join(root, "prebuilt", Project)
	for _, d := range []string{keyDir, prebuiltDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("MkdirAll(%q): %v", d, err)
		}
	}

	for _, r := range keys.Roles {
		for _, p := range []keys.Provenance{keys.Genuine, keys.Substituted} {
			provisionRole(t, keyDir, r, p)
		}
	}
	for _, img := range socImages {
		writeFile(t, filepath.Join(prebuiltDir, img.name), imageContent(img.name))
	}
	writeFile(t, filepath.Join(prebuiltDir, "caliptra-runtime.bin"), imageContent("caliptra-runtime.bin"))

	provisionPrebuiltVendorSig(t, keyDir, prebuiltDir)

	return root
}

// provisionRole generates and writes one role's key set: an ECDSA P-384 pair
// in PEM form and fixed-size LMS key blobs.
func provisionRole(t *testing.T, keyDir string, r keys.Role, p keys.Provenance) {
	t.Helper()

	sel, err := rolePaths(r, p)
	if err != nil {
		t.Fatal(err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	writeFile(t, filepath.Join(keyDir, sel.ECCPrivKey),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	writeFile(t, filepath.Join(keyDir, sel.ECCPubKey),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))

	// LMS keys are opaque blobs to the builder; derive them from the file
	// name so trees are reproducible.
	lmsPub := sha512.Sum384([]byte("lms-pub:" + sel.LMSPubKey))
	writeFile(t, filepath.Join(keyDir, sel.LMSPubKey), lmsPub[:api.LMSPubKeySize])
	lmsPriv := sha512.Sum384([]byte("lms-priv:" + sel.LMSPrivKey))
	writeFile(t, filepath.Join(keyDir, sel.LMSPrivKey), lmsPriv[:])
}

// rolePaths resolves the key file names for one role and provenance via the
// all-genuine and all-substituted scenarios.
func rolePaths(r keys.Role, p keys.Provenance) (keys.KeyConfig, error) {
	scenario := "ts1_oooo"
	if p == keys.Substituted {
		scenario = "ts6_xxxx"
	}
	sels, err := keys.Resolve(scenario)
	if err != nil {
		return keys.KeyConfig{}, err
	}
	return sels.Get(r).Keys, nil
}

// provisionPrebuiltVendorSig fabricates the centrally distributed vendor
// firmware signature: it computes the metadata digest the default
// configuration will produce, signs it with the genuine vendor firmware key,
// and stores the ECC half in DER form. The LMS half is zeroed, meaning not
// configured.
func provisionPrebuiltVendorSig(t *testing.T, keyDir, prebuiltDir string) {
	t.Helper()

	m := &api.Manifest{}
	for i, img := range socImages {
		data := imageContent(img.name)
		m.Metadata = append(m.Metadata, api.ImageMetadata{
			FWID:   img.fwID,
			Flags:  api.MetadataFlags(false, uint32(i+1)),
			Digest: sha512.Sum384(data),
		})
	}
	digest := m.MetadataDigest()

	sel, err := rolePaths(keys.VendorFirmware, keys.Genuine)
	if err != nil {
		t.Fatal(err)
	}
	priv, err := sign.LoadECCPrivateKey(filepath.Join(keyDir, sel.ECCPrivKey))
	if err != nil {
		t.Fatalf("LoadECCPrivateKey: %v", err)
	}
	raw, err := sign.ECCSign(priv, digest[:])
	if err != nil {
		t.Fatalf("ECCSign: %v", err)
	}
	der, err := sign.RawToDER(raw)
	if err != nil {
		t.Fatalf("RawToDER: %v", err)
	}

	writeFile(t, filepath.Join(prebuiltDir, "vnd-ecc-sig.der"), der)
	writeFile(t, filepath.Join(prebuiltDir, "vnd-lms-sig.bin"), make([]byte, api.LMSSigSize))
}

// PublicKey loads the provisioned ECC public key for a role and provenance.
func PublicKey(t *testing.T, root string, r keys.Role, p keys.Provenance) *ecdsa.PublicKey {
	t.Helper()

	sel, err := rolePaths(r, p)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := sign.LoadECCPublicKey(filepath.Join(root, "key", Project, sel.ECCPubKey))
	if err != nil {
		t.Fatalf("LoadECCPublicKey: %v", err)
	}
	return pub
}

// imageContent derives a small deterministic firmware binary from its name.
func imageContent(name string) []byte {
	data := []byte(fmt.Sprintf("firmware image %s\n", name))
	// Pad to distinct sizes so offset bugs shift the layout visibly.
	pad := sha512.Sum384([]byte(name))
	return append(data, pad[:len(name)%32+8]...)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile(%q): %v", path, err)
	}
}
