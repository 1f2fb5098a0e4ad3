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
	"encoding/binary"
	"fmt"
)

const (
	// FlashMagic identifies a composite flash image ("FLSH").
	FlashMagic uint32 = 0x48534c46

	// FlashHeaderVersion is the current flash header layout revision.
	FlashHeaderVersion uint32 = 1
)

// Image identifiers for the payloads the assembler places itself; SoC images
// carry their configured firmware ID.
const (
	ImageIDCaliptraRuntime uint32 = 0x1000
	ImageIDSoCManifest     uint32 = 0x1001
)

// flashHeaderSize covers magic, checksum, header version and image count.
const flashHeaderSize = 16

const imageInfoSize = 12

// FlashEntry is a single payload destined for the flash image.
type FlashEntry struct {
	FWID uint32
	Data []byte
}

// ImageInfo is the wire form of one image-information record; offsets and
// sizes are derived from payload lengths at assembly time, never configured.
type ImageInfo struct {
	FWID   uint32
	Offset uint32
	Size   uint32
}

// FlashImage is a composite flash image prior to serialization.
type FlashImage struct {
	HeaderVersion uint32
	Entries       []FlashEntry
}

// EncodedSize returns the total wire size of the flash image.
func (f *FlashImage) EncodedSize() int {
	n := flashHeaderSize + len(f.Entries)*imageInfoSize
	for _, e := range f.Entries {
		n += len(e.Data)
	}
	return n
}

// Encode lays out the flash image: header, checksum, image information, then
// the concatenated image binaries in entry order. The checksum covers the
// header tail and the image-information region; binary integrity is the
// manifest's responsibility.
func (f *FlashImage) Encode() ([]byte, error) {
	if len(f.Entries) == 0 {
		return nil, fmt.Errorf("%w: flash image carries no binaries", ErrFormat)
	}

	out := make([]byte, flashHeaderSize, f.EncodedSize())
	binary.LittleEndian.PutUint32(out[OffsetMagic:], FlashMagic)
	binary.LittleEndian.PutUint32(out[8:], f.HeaderVersion)
	binary.LittleEndian.PutUint32(out[12:], uint32(len(f.Entries)))

	offset := flashHeaderSize + len(f.Entries)*imageInfoSize
	var info [imageInfoSize]byte
	for _, e := range f.Entries {
		binary.LittleEndian.PutUint32(info[0:], e.FWID)
		binary.LittleEndian.PutUint32(info[4:], uint32(offset))
		binary.LittleEndian.PutUint32(info[8:], uint32(len(e.Data)))
		out = append(out, info[:]...)
		offset += len(e.Data)
	}

	// The checksum is computed before the binaries are appended: it covers
	// bytes 8 through the end of the image-information region only.
	binary.LittleEndian.PutUint32(out[OffsetChecksum:], Checksum(out))

	for _, e := range f.Entries {
		out = append(out, e.Data...)
	}

	return out, nil
}

// DecodeFlash parses an encoded flash image, returning its image information
// records and a payload accessor over buf.
func DecodeFlash(buf []byte) (*FlashImage, []ImageInfo, error) {
	if len(buf) < flashHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes is too short for a flash header", ErrFormat, len(buf))
	}
	if magic := binary.LittleEndian.Uint32(buf[OffsetMagic:]); magic != FlashMagic {
		return nil, nil, fmt.Errorf("%w: bad flash magic %#08x", ErrFormat, magic)
	}

	f := &FlashImage{
		HeaderVersion: binary.LittleEndian.Uint32(buf[8:]),
	}
	count := int(binary.LittleEndian.Uint32(buf[12:]))
	infoEnd := flashHeaderSize + count*imageInfoSize
	if len(buf) < infoEnd {
		return nil, nil, fmt.Errorf("%w: truncated image information region", ErrFormat)
	}

	infos := make([]ImageInfo, count)
	for i := range infos {
		rec := buf[flashHeaderSize+i*imageInfoSize:]
		infos[i] = ImageInfo{
			FWID:   binary.LittleEndian.Uint32(rec[0:]),
			Offset: binary.LittleEndian.Uint32(rec[4:]),
			Size:   binary.LittleEndian.Uint32(rec[8:]),
		}
		end := int(infos[i].Offset) + int(infos[i].Size)
		if int(infos[i].Offset) < infoEnd || end > len(buf) {
			return nil, nil, fmt.Errorf("%w: image %d extent [%d, %d) out of bounds", ErrFormat, i, infos[i].Offset, end)
		}
		f.Entries = append(f.Entries, FlashEntry{
			FWID: infos[i].FWID,
			Data: buf[infos[i].Offset:end],
		})
	}

	return f, infos, nil
}

// VerifyFlashChecksum recomputes the flash header checksum, which covers the
// header tail and image-information region but not the binaries.
func VerifyFlashChecksum(buf []byte) error {
	if len(buf) < flashHeaderSize {
		return fmt.Errorf("%w: %d bytes is too short for a flash header", ErrFormat, len(buf))
	}
	count := int(binary.LittleEndian.Uint32(buf[12:]))
	infoEnd := flashHeaderSize + count*imageInfoSize
	if len(buf) < infoEnd {
		return fmt.Errorf("%w: truncated image information region", ErrFormat)
	}
	want := binary.LittleEndian.Uint32(buf[OffsetChecksum:])
	if got := Checksum(buf[:infoEnd]); got != want {
		return fmt.Errorf("%w: checksum mismatch, embedded %#08x computed %#08x", ErrFormat, want, got)
	}
	return nil
}
