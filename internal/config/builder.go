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

package config

import (
	"github.com/cptra-tools/imgtool/internal/keys"
)

// Prebuilt vendor firmware signature blobs, present in the prebuilt
// directory when the vendor signed centrally.
const (
	PrebuiltVendorECCSig = "vnd-ecc-sig.der"
	PrebuiltVendorLMSSig = "vnd-lms-sig.bin"
)

// MCURuntimeFWID is the firmware ID of the MCU runtime. The runtime is the
// First Mutable Code: it heads the metadata list but is laid into the flash
// image from the runtime section, not the SoC image list.
const MCURuntimeFWID uint32 = 1

// bootSequence is the platform boot order. One metadata entry is emitted per
// row; ordering is preserved verbatim into the binary metadata list.
var bootSequence = []struct {
	file   string
	source uint32
	fwID   uint32
}{
	{"mcu-runtime.bin", 1, MCURuntimeFWID},
	{"spl.bin", 1, 2},
	{"fw-loader.bin", 1, 3},
	{"secure-os.bin", 1, 4},
	{"bootloader.bin", 1, 5},
	{"sec-proc0.bin", 1, 6},
	{"sec-proc1.bin", 1, 7},
}

const (
	caliptraRuntimeFile = "caliptra-runtime.bin"
	mcuRuntimeFile      = "mcu-runtime.bin"
)

// Build synthesizes a complete build configuration from scenario parameters
// and resolved key selections.
//
// Whether the prebuilt vendor firmware signature is referenced is re-derived
// here from the resolved vendor-firmware provenance: only the genuine
// provisioned key has a centrally distributed signature. It is deliberately
// not an input, so a caller cannot drift it out of sync with the selector.
func Build(version, flags, securityVersion uint32, sels keys.Selections) *Config {
	c := &Config{
		ManifestConfig: General{
			Version:         version,
			Flags:           flags,
			SecurityVersion: securityVersion,
		},
		VendorFWKey:  keyFiles(sels.Get(keys.VendorFirmware)),
		VendorManKey: keyFiles(sels.Get(keys.VendorManifest)),
		OwnerFWKey:   keyFiles(sels.Get(keys.OwnerFirmware)),
		OwnerManKey:  keyFiles(sels.Get(keys.OwnerManifest)),
		ImageRuntimeList: RuntimeImages{
			CaliptraFile: caliptraRuntimeFile,
			MCUFile:      mcuRuntimeFile,
		},
	}

	if sels.Get(keys.VendorFirmware).Provenance == keys.Genuine {
		c.ManifestConfig.VndPrebuiltECCSig = PrebuiltVendorECCSig
		c.ManifestConfig.VndPrebuiltLMSSig = PrebuiltVendorLMSSig
	}

	for i, row := range bootSequence {
		c.ImageMetadataList = append(c.ImageMetadataList, ImageMetadataEntry{
			File:            row.file,
			Source:          row.source,
			FWID:            row.fwID,
			IgnoreAuthCheck: false,
			LoadStage:       uint32(i + 1),
		})
	}

	return c
}

func keyFiles(sel keys.Selection) KeyFiles {
	return KeyFiles{
		ECCPubKey:  sel.Keys.ECCPubKey,
		ECCPrivKey: sel.Keys.ECCPrivKey,
		LMSPubKey:  sel.Keys.LMSPubKey,
		LMSPrivKey: sel.Keys.LMSPrivKey,
	}
}
