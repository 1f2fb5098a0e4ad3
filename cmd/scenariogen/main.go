// Copyright 2025 The CPTRA Image Tools authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// The scenariogen command builds the full verification matrix: signed
// manifests and flash images for every key-pair scenario, plus the corrupted
// negative fixtures, and a signed inventory of everything it produced.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"

	"github.com/cptra-tools/imgtool/internal/matrix"
)

var (
	root         = flag.String("root", ".", "Project tree root holding key/ and prebuilt/ directories.")
	project      = flag.String("project", "", "Project name, selects <root>/key/<prj> and <root>/prebuilt/<prj>.")
	outDir       = flag.String("out_dir", "out", "Directory to write matrix artifacts to.")
	workers      = flag.Int("workers", runtime.NumCPU(), "Number of cases to build concurrently.")
	lmsHelper    = flag.String("lms_helper", "", "External hash-based sign helper command; empty leaves LMS fields zeroed.")
	invSignerKey = flag.String("inventory_key_file", "", "File containing a Note signer key for the artifact inventory; empty writes it unsigned.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var signer note.Signer
	if *invSignerKey != "" {
		raw, err := os.ReadFile(*invSignerKey)
		if err != nil {
			klog.Exitf("Failed to read inventory key %q: %v", *invSignerKey, err)
		}
		if signer, err = note.NewSigner(strings.TrimSpace(string(raw))); err != nil {
			klog.Exitf("Invalid inventory signer key: %v", err)
		}
	}

	r := &matrix.Runner{
		Root:      *root,
		Project:   *project,
		OutDir:    *outDir,
		Workers:   *workers,
		LMSHelper: *lmsHelper,
	}
	rep, err := r.Run(context.Background())
	if err != nil {
		klog.Exitf("Matrix run failed: %v", err)
	}

	fmt.Print(rep.Summary())

	invPath := filepath.Join(*outDir, "inventory.note")
	if err := matrix.WriteInventory(invPath, rep, signer); err != nil {
		klog.Exitf("Failed to write inventory: %v", err)
	}
	klog.Infof("Wrote inventory to %s", invPath)

	if n := len(rep.Failed()); n > 0 {
		klog.Exitf("%d of %d cases failed", n, len(rep.Results))
	}
}
