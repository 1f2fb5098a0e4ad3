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

package build

import (
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/cptra-tools/imgtool/api"
	"github.com/cptra-tools/imgtool/internal/config"
)

// FlashAssembler lays a manifest and the binaries it references out into the
// composite flash image. Identical inputs produce byte-identical output.
type FlashAssembler struct {
	Config *config.Config

	// Manifest is the encoded SoC manifest to embed.
	Manifest []byte
}

// Build assembles the flash image: Caliptra runtime, SoC manifest, MCU
// runtime, then every non-tombstone SoC image in metadata order. The MCU
// runtime heads the metadata list as the First Mutable Code but is placed
// from the runtime section, so its metadata row is skipped here.
func (a *FlashAssembler) Build() (*api.FlashImage, error) {
	f := &api.FlashImage{HeaderVersion: api.FlashHeaderVersion}

	caliptra, err := a.readBinary(a.Config.ImageRuntimeList.CaliptraFile)
	if err != nil {
		return nil, err
	}
	f.Entries = append(f.Entries, api.FlashEntry{FWID: api.ImageIDCaliptraRuntime, Data: caliptra})

	if len(a.Manifest) == 0 {
		return nil, fmt.Errorf("%w: flash assembly requires an encoded manifest", api.ErrFormat)
	}
	f.Entries = append(f.Entries, api.FlashEntry{FWID: api.ImageIDSoCManifest, Data: a.Manifest})

	mcu, err := a.readBinary(a.Config.ImageRuntimeList.MCUFile)
	if err != nil {
		return nil, err
	}
	f.Entries = append(f.Entries, api.FlashEntry{FWID: config.MCURuntimeFWID, Data: mcu})

	for _, e := range a.Config.ImageMetadataList {
		if e.Tombstone() || e.FWID == config.MCURuntimeFWID {
			continue
		}
		data, err := a.readBinary(e.File)
		if err != nil {
			return nil, err
		}
		f.Entries = append(f.Entries, api.FlashEntry{FWID: e.FWID, Data: data})
	}

	klog.V(1).Infof("assembled flash image: %d images, %d bytes", len(f.Entries), f.EncodedSize())
	return f, nil
}

func (a *FlashAssembler) readBinary(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: binary %q", config.ErrMissingResource, path)
		}
		return nil, err
	}
	return data, nil
}
