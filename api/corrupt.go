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

import "fmt"

// CorruptSentinel is the byte written over the targeted field. It is fixed so
// corrupted fixtures are reproducible.
const CorruptSentinel byte = 0x5a

// CorruptTarget names a structural field of a finished image that a negative
// fixture mutates.
type CorruptTarget string

const (
	CorruptMagic    CorruptTarget = "magic"
	CorruptChecksum CorruptTarget = "checksum"
)

// Offset returns the byte offset mutated for the target. The offsets are
// format constants, not computed: a wrong offset silently produces a fixture
// that fails verification for the wrong reason.
func (t CorruptTarget) Offset() (int, error) {
	switch t {
	case CorruptMagic:
		return OffsetMagic, nil
	case CorruptChecksum:
		return OffsetChecksum, nil
	}
	return 0, fmt.Errorf("%w: unknown corruption target %q", ErrFormat, t)
}

// Corrupt overwrites exactly one byte of img at the target's offset with the
// sentinel value. Every other byte is left untouched.
func Corrupt(img []byte, target CorruptTarget) error {
	off, err := target.Offset()
	if err != nil {
		return err
	}
	if len(img) <= off {
		return fmt.Errorf("%w: image of %d bytes is too short to corrupt %s at offset %d", ErrFormat, len(img), target, off)
	}
	img[off] = CorruptSentinel
	return nil
}
