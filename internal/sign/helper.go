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

package sign

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/cptra-tools/imgtool/api"
)

// HelperSigner delegates signing to an external platform helper, the flow
// used for LMS where no local implementation exists. The protocol is file
// based: the digest is written to a scratch file, the helper is invoked with
// the key and file paths, and the helper overwrites the file with the
// signature blob.
type HelperSigner struct {
	// Command is the helper executable. An empty Command means hash-based
	// signing is not configured; callers leave the LMS fields zeroed.
	Command string
	// KeyPath is the private key file handed to the helper.
	KeyPath string
	// WorkDir hosts the scratch file; it must be case-private when cases
	// run in parallel.
	WorkDir string
}

// Configured reports whether a helper command is set.
func (h *HelperSigner) Configured() bool {
	return h != nil && h.Command != ""
}

// SignLMS signs a digest and returns the fixed-size LMS signature blob. The
// helper emits the diversification counter q in its native byte order; the
// leading 4 bytes are reversed to match what the verifier ROM expects.
func (h *HelperSigner) SignLMS(digest []byte) ([api.LMSSigSize]byte, error) {
	var sig [api.LMSSigSize]byte

	if _, err := os.Stat(h.KeyPath); err != nil {
		return sig, fmt.Errorf("LMS private key: %w", err)
	}

	scratch, err := os.CreateTemp(h.WorkDir, "lms-digest-*")
	if err != nil {
		return sig, err
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	if _, err := scratch.Write(digest); err != nil {
		scratch.Close()
		return sig, err
	}
	if err := scratch.Close(); err != nil {
		return sig, err
	}

	cmd := exec.Command(h.Command, "--algo", "lms", "--key", h.KeyPath, "--by-file", "--input", scratchPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return sig, fmt.Errorf("sign helper %s: %v: %s", filepath.Base(h.Command), err, out)
	}
	klog.V(2).Infof("sign helper produced LMS signature with key %s", filepath.Base(h.KeyPath))

	blob, err := os.ReadFile(scratchPath)
	if err != nil {
		return sig, err
	}
	if len(blob) != api.LMSSigSize {
		return sig, fmt.Errorf("sign helper returned %d bytes, want %d", len(blob), api.LMSSigSize)
	}

	copy(sig[:], blob)
	// q endianness fix for ROM verification.
	sig[0], sig[1], sig[2], sig[3] = sig[3], sig[2], sig[1], sig[0]
	return sig, nil
}
