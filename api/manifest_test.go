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

package api

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testManifest(entries int) *Manifest {
	m := &Manifest{}
	m.Version = 3
	m.Flags = 0x10
	m.SecurityVersion = 7
	m.VendorManifestKeys.ECC[0] = 0xaa
	m.OwnerManifestSig.ECC[95] = 0xbb
	m.OwnerSVNSig.LMS[1619] = 0xcc
	for i := 0; i < entries; i++ {
		md := ImageMetadata{
			FWID:  uint32(i + 1),
			Flags: MetadataFlags(i == 0, uint32(i+1)),
		}
		md.Digest[0] = byte(i)
		m.Metadata = append(m.Metadata, md)
	}
	return m
}

func TestManifestRoundTrip(t *testing.T) {
	m := testManifest(3)
	buf, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got, want := len(buf), m.EncodedSize(); got != want {
		t.Errorf("Encode produced %d bytes, EncodedSize is %d", got, want)
	}

	var got Manifest
	if err := got.Decode(buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := *m
	want.Size = uint32(m.EncodedSize())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decoded manifest diff (-want +got):\n%s", diff)
	}
}

func TestManifestStructuralOffsets(t *testing.T) {
	buf, err := testManifest(1).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := binary.LittleEndian.Uint32(buf[OffsetMagic:]); got != ManifestMagic {
		t.Errorf("Magic at offset %d: got %#08x, want %#08x", OffsetMagic, got, ManifestMagic)
	}
	if got, want := binary.LittleEndian.Uint32(buf[OffsetChecksum:]), Checksum(buf); got != want {
		t.Errorf("Checksum at offset %d: got %#08x, want %#08x", OffsetChecksum, got, want)
	}
	if err := VerifyChecksum(buf); err != nil {
		t.Errorf("VerifyChecksum: %v", err)
	}
}

func TestManifestEncodeDeterministic(t *testing.T) {
	a, err := testManifest(5).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := testManifest(5).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("Encoding identical manifests produced different bytes")
	}
}

func TestManifestChecksumSensitivity(t *testing.T) {
	buf, err := testManifest(2).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Any bit after the checksum field must invalidate the checksum.
	for _, off := range []int{8, len(buf) / 2, len(buf) - 1} {
		mod := bytes.Clone(buf)
		mod[off] ^= 0x01
		if err := VerifyChecksum(mod); err == nil {
			t.Errorf("VerifyChecksum accepted image with bit flipped at offset %d", off)
		}
	}
}

func TestManifestEncodeBounds(t *testing.T) {
	if _, err := (&Manifest{}).Encode(); !errors.Is(err, ErrFormat) {
		t.Errorf("Encode with no metadata: got %v, want ErrFormat", err)
	}
	if _, err := testManifest(MetadataMaxCount + 1).Encode(); !errors.Is(err, ErrFormat) {
		t.Errorf("Encode with %d entries: got %v, want ErrFormat", MetadataMaxCount+1, err)
	}
	if _, err := testManifest(MetadataMaxCount).Encode(); err != nil {
		t.Errorf("Encode with %d entries: %v", MetadataMaxCount, err)
	}
}

func TestManifestDecodeRejects(t *testing.T) {
	good, err := testManifest(2).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, test := range []struct {
		name string
		mod  func([]byte) []byte
	}{
		{
			name: "short buffer",
			mod:  func(b []byte) []byte { return b[:16] },
		}, {
			name: "bad magic",
			mod: func(b []byte) []byte {
				b[OffsetMagic] = 0xff
				return b
			},
		}, {
			name: "size mismatch",
			mod: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[checksumStart:], uint32(len(b))+4)
				return b
			},
		}, {
			name: "truncated metadata",
			mod:  func(b []byte) []byte { return b[:len(b)-1] },
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			var m Manifest
			if err := m.Decode(test.mod(bytes.Clone(good))); !errors.Is(err, ErrFormat) {
				t.Errorf("Decode: got %v, want ErrFormat", err)
			}
		})
	}
}

func TestMetadataFlags(t *testing.T) {
	for _, test := range []struct {
		ignore bool
		stage  uint32
		want   uint32
	}{
		{false, 0, 0},
		{true, 0, 1},
		{false, 1, 0x100},
		{true, 7, 0x701},
		{false, 0xff, 0xff00},
	} {
		if got := MetadataFlags(test.ignore, test.stage); got != test.want {
			t.Errorf("MetadataFlags(%t, %d): got %#x, want %#x", test.ignore, test.stage, got, test.want)
		}
	}
}

func TestManifestDigestsDisjoint(t *testing.T) {
	m := testManifest(2)
	md, sd, dd := m.ManifestDigest(), m.SVNDigest(), m.MetadataDigest()
	if md == sd || md == dd || sd == dd {
		t.Error("Manifest, SVN and metadata digests must cover distinct regions")
	}

	// The SVN digest must move with the security version and ignore the
	// metadata list.
	m2 := testManifest(2)
	m2.SecurityVersion++
	if m.SVNDigest() == m2.SVNDigest() {
		t.Error("SVNDigest did not change with SecurityVersion")
	}
	m3 := testManifest(3)
	m3Svn, mSvn := m3.SVNDigest(), m.SVNDigest()
	if !bytes.Equal(m3Svn[:], mSvn[:]) {
		t.Error("SVNDigest changed with the metadata list")
	}
}
