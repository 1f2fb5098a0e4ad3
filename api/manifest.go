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

// Package api defines the on-flash wire formats produced by the packaging
// pipeline: the SoC authorization manifest and the composite flash image.
//
// Both formats are fixed-layout little-endian structures whose shape is
// dictated by the on-device verifier; the structural offsets of the magic
// and checksum fields are load-bearing constants shared with the negative
// fixture generator.
package api

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Sizes of the cryptographic fields carried by the manifest preamble.
const (
	ECC384PubKeySize = 96
	ECC384SigSize    = 96
	LMSPubKeySize    = 48
	LMSSigSize       = 1620
	SHA384DigestSize = 48
)

const (
	// ManifestMagic identifies a SoC authorization manifest ("ATMN").
	ManifestMagic uint32 = 0x4e4d5441

	// MetadataMaxCount is the largest number of image metadata entries the
	// on-device verifier will parse.
	MetadataMaxCount = 127
)

// Structural offsets shared by the manifest and flash image headers.
const (
	OffsetMagic    = 0
	OffsetChecksum = 4
)

// checksumStart is the first byte covered by the header checksum; everything
// before it is the magic and the checksum field itself.
const checksumStart = 8

// ErrFormat reports a structurally invalid image or an attempt to build one.
var ErrFormat = errors.New("image format error")

// Metadata entry flag encoding.
const (
	metadataFlagIgnoreAuth = 1 << 0
	metadataLoadStageShift = 8
	metadataLoadStageMask  = 0xff
)

// MetadataFlags packs the per-image authorization flags and boot load stage
// into the wire representation.
func MetadataFlags(ignoreAuthCheck bool, loadStage uint32) uint32 {
	f := (loadStage & metadataLoadStageMask) << metadataLoadStageShift
	if ignoreAuthCheck {
		f |= metadataFlagIgnoreAuth
	}
	return f
}

// SignatureBlock holds one authority's signatures over a region, one per
// supported algorithm. A zeroed LMS signature means the platform policy did
// not configure hash-based signing for this image.
type SignatureBlock struct {
	ECC [ECC384SigSize]byte
	LMS [LMSSigSize]byte
}

// PublicKeyBlock holds one authority's public keys embedded in the preamble.
type PublicKeyBlock struct {
	ECC [ECC384PubKeySize]byte
	LMS [LMSPubKeySize]byte
}

// Preamble is the fixed-layout portion of the manifest.
//
// Field order is the wire order. The checksum field lives between Magic and
// Size on the wire but is computed at encode time and therefore not part of
// this struct.
type Preamble struct {
	Size            uint32
	Version         uint32
	Flags           uint32
	SecurityVersion uint32

	VendorManifestKeys PublicKeyBlock
	VendorManifestSig  SignatureBlock
	OwnerManifestKeys  PublicKeyBlock
	OwnerManifestSig   SignatureBlock

	// OwnerSVNSig covers (Version, Flags, SecurityVersion) and is the
	// owner's anti-rollback commitment.
	OwnerSVNSig SignatureBlock

	// The metadata signatures are produced with the vendor and owner
	// firmware keys, authorizing the image digest list.
	VendorMetadataSig SignatureBlock
	OwnerMetadataSig  SignatureBlock
}

// ImageMetadata describes one authorized firmware image.
type ImageMetadata struct {
	FWID   uint32
	Flags  uint32
	Digest [SHA384DigestSize]byte
}

// Manifest is the parsed SoC authorization manifest.
type Manifest struct {
	Preamble
	Metadata []ImageMetadata
}

const metadataEntrySize = 4 + 4 + SHA384DigestSize

// preambleSize is the wire size of the magic, checksum and Preamble fields.
var preambleSize = 4 + 4 + binary.Size(Preamble{})

// EncodedSize returns the total wire size of the manifest, including magic
// and checksum.
func (m *Manifest) EncodedSize() int {
	return preambleSize + 4 + len(m.Metadata)*metadataEntrySize
}

// Encode serializes the manifest, embedding its total size and the CRC-32
// checksum over every byte following the checksum field. Encoding identical
// manifests yields identical bytes.
func (m *Manifest) Encode() ([]byte, error) {
	if len(m.Metadata) == 0 {
		return nil, fmt.Errorf("%w: manifest must carry at least the first mutable code entry", ErrFormat)
	}
	if len(m.Metadata) > MetadataMaxCount {
		return nil, fmt.Errorf("%w: %d metadata entries exceeds maximum %d", ErrFormat, len(m.Metadata), MetadataMaxCount)
	}

	p := m.Preamble
	p.Size = uint32(m.EncodedSize())

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, ManifestMagic)
	binary.Write(buf, binary.LittleEndian, uint32(0)) // checksum, patched below
	if err := binary.Write(buf, binary.LittleEndian, p); err != nil {
		return nil, err
	}
	binary.Write(buf, binary.LittleEndian, uint32(len(m.Metadata)))
	for _, md := range m.Metadata {
		if err := binary.Write(buf, binary.LittleEndian, md); err != nil {
			return nil, err
		}
	}

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[OffsetChecksum:], Checksum(out))

	return out, nil
}

// Decode parses buf into m, validating the magic, size and metadata bounds.
// The checksum is not verified here, see VerifyChecksum.
func (m *Manifest) Decode(buf []byte) error {
	if len(buf) < preambleSize+4 {
		return fmt.Errorf("%w: %d bytes is too short for a manifest preamble", ErrFormat, len(buf))
	}
	if magic := binary.LittleEndian.Uint32(buf[OffsetMagic:]); magic != ManifestMagic {
		return fmt.Errorf("%w: bad manifest magic %#08x", ErrFormat, magic)
	}

	r := bytes.NewReader(buf[checksumStart:])
	if err := binary.Read(r, binary.LittleEndian, &m.Preamble); err != nil {
		return err
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	if count > MetadataMaxCount {
		return fmt.Errorf("%w: metadata count %d exceeds maximum %d", ErrFormat, count, MetadataMaxCount)
	}
	m.Metadata = make([]ImageMetadata, count)
	for i := range m.Metadata {
		if err := binary.Read(r, binary.LittleEndian, &m.Metadata[i]); err != nil {
			return fmt.Errorf("%w: truncated metadata collection: %v", ErrFormat, err)
		}
	}

	if int(m.Size) != m.EncodedSize() {
		return fmt.Errorf("%w: embedded size %d does not match encoded size %d", ErrFormat, m.Size, m.EncodedSize())
	}

	return nil
}

// Checksum computes the CRC-32 (IEEE) over every byte of an encoded image
// following its checksum field.
func Checksum(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf[checksumStart:])
}

// VerifyChecksum recomputes the checksum of an encoded image and compares it
// against the embedded value.
func VerifyChecksum(buf []byte) error {
	if len(buf) < checksumStart {
		return fmt.Errorf("%w: %d bytes is too short for a checksummed header", ErrFormat, len(buf))
	}
	want := binary.LittleEndian.Uint32(buf[OffsetChecksum:])
	if got := Checksum(buf); got != want {
		return fmt.Errorf("%w: checksum mismatch, embedded %#08x computed %#08x", ErrFormat, want, got)
	}
	return nil
}

// ManifestDigest returns the SHA-384 digest signed by the vendor and owner
// manifest keys: the header tail from Size through SecurityVersion.
func (m *Manifest) ManifestDigest() [SHA384DigestSize]byte {
	var b [16]byte
	binary.LittleEndian.PutUint32(b[0:], uint32(m.EncodedSize()))
	binary.LittleEndian.PutUint32(b[4:], m.Version)
	binary.LittleEndian.PutUint32(b[8:], m.Flags)
	binary.LittleEndian.PutUint32(b[12:], m.SecurityVersion)
	return sha512.Sum384(b[:])
}

// SVNDigest returns the SHA-384 digest signed by the owner's anti-rollback
// signature: (Version, Flags, SecurityVersion).
func (m *Manifest) SVNDigest() [SHA384DigestSize]byte {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:], m.Version)
	binary.LittleEndian.PutUint32(b[4:], m.Flags)
	binary.LittleEndian.PutUint32(b[8:], m.SecurityVersion)
	return sha512.Sum384(b[:])
}

// MetadataDigest returns the SHA-384 digest signed by the vendor and owner
// firmware keys: the serialized metadata collection, count included.
func (m *Manifest) MetadataDigest() [SHA384DigestSize]byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(len(m.Metadata)))
	for _, md := range m.Metadata {
		binary.Write(buf, binary.LittleEndian, md)
	}
	return sha512.Sum384(buf.Bytes())
}
