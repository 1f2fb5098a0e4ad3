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

// Package sign produces the manifest signatures: ECDSA P-384 locally, LMS
// through the platform's external sign helper.
package sign

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/cptra-tools/imgtool/api"
)

const eccCoordSize = api.ECC384SigSize / 2

// zeroReader supplies the added entropy for ECDSA signing. Fixing it makes
// signatures a pure function of key and digest, which the byte-identical
// rebuild guarantee requires; nonce safety is preserved because the nonce
// derivation also mixes in the private key and digest.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// LoadECCPrivateKey reads a PEM encoded P-384 private key (SEC 1 or PKCS #8).
func LoadECCPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %q", path)
	}

	var key *ecdsa.PrivateKey
	if key, err = x509.ParseECPrivateKey(block.Bytes); err != nil {
		k, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err8 != nil {
			return nil, fmt.Errorf("parsing EC private key %q: %v", path, err)
		}
		var ok bool
		if key, ok = k.(*ecdsa.PrivateKey); !ok {
			return nil, fmt.Errorf("%q does not contain an EC private key", path)
		}
	}
	if key.Curve != elliptic.P384() {
		return nil, fmt.Errorf("%q: unsupported curve %s, want P-384", path, key.Curve.Params().Name)
	}
	return key, nil
}

// LoadECCPublicKey reads a PEM encoded P-384 public key in PKIX form.
func LoadECCPublicKey(path string) (*ecdsa.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %q", path)
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing EC public key %q: %v", path, err)
	}
	pub, ok := k.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%q does not contain an EC public key", path)
	}
	if pub.Curve != elliptic.P384() {
		return nil, fmt.Errorf("%q: unsupported curve %s, want P-384", path, pub.Curve.Params().Name)
	}
	return pub, nil
}

// ECCSign signs a SHA-384 digest and returns the signature in the raw wire
// form the verifier ROM consumes: fixed 48-byte r and s with each aligned
// 4-byte word reversed.
func ECCSign(key *ecdsa.PrivateKey, digest []byte) ([api.ECC384SigSize]byte, error) {
	var sig [api.ECC384SigSize]byte

	r, s, err := ecdsa.Sign(zeroReader{}, key, digest)
	if err != nil {
		return sig, fmt.Errorf("ECDSA signing failed: %v", err)
	}

	r.FillBytes(sig[:eccCoordSize])
	s.FillBytes(sig[eccCoordSize:])
	wordSwap(sig[:])
	return sig, nil
}

// ECCVerify checks a raw wire-form signature over a SHA-384 digest.
func ECCVerify(pub *ecdsa.PublicKey, digest []byte, sig [api.ECC384SigSize]byte) bool {
	buf := sig
	wordSwap(buf[:])
	r := new(big.Int).SetBytes(buf[:eccCoordSize])
	s := new(big.Int).SetBytes(buf[eccCoordSize:])
	return ecdsa.Verify(pub, digest, r, s)
}

// ECCPubKeyBytes returns the embedded wire form of a public key: X and Y in
// the same word order as the signatures.
func ECCPubKeyBytes(pub *ecdsa.PublicKey) [api.ECC384PubKeySize]byte {
	var out [api.ECC384PubKeySize]byte
	pub.X.FillBytes(out[:eccCoordSize])
	pub.Y.FillBytes(out[eccCoordSize:])
	wordSwap(out[:])
	return out
}

// DERToRaw converts a DER encoded ECDSA signature to the raw hardware form:
// fixed-width r and s with each 4-byte word reversed, matching the verifier
// ROM's word ordering.
func DERToRaw(der []byte) ([api.ECC384SigSize]byte, error) {
	var out [api.ECC384SigSize]byte

	var inner cryptobyte.String
	input := cryptobyte.String(der)
	r, s := new(big.Int), new(big.Int)
	if !input.ReadASN1(&inner, casn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return out, fmt.Errorf("malformed DER signature")
	}
	if r.BitLen() > eccCoordSize*8 || s.BitLen() > eccCoordSize*8 {
		return out, fmt.Errorf("DER signature component wider than %d bytes", eccCoordSize)
	}

	r.FillBytes(out[:eccCoordSize])
	s.FillBytes(out[eccCoordSize:])
	wordSwap(out[:])
	return out, nil
}

// RawToDER is the inverse conversion, used by the harness to fabricate
// prebuilt signature blobs from fresh signatures.
func RawToDER(raw [api.ECC384SigSize]byte) ([]byte, error) {
	buf := raw
	wordSwap(buf[:])
	r := new(big.Int).SetBytes(buf[:eccCoordSize])
	s := new(big.Int).SetBytes(buf[eccCoordSize:])

	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}

// wordSwap reverses each aligned 4-byte word of b in place.
func wordSwap(b []byte) {
	for i := 0; i+4 <= len(b); i += 4 {
		b[i], b[i+3] = b[i+3], b[i]
		b[i+1], b[i+2] = b[i+2], b[i+1]
	}
}
