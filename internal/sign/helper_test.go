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
	"bytes"
	"crypto/sha512"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/cptra-tools/imgtool/api"
)

// writeHelperScript installs a stand-in sign helper that overwrites the
// digest file with blobSize bytes: a fixed 4-byte counter followed by 'A's.
func writeHelperScript(t *testing.T, dir string, blobSize int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell helper fixture requires a POSIX shell")
	}

	script := fmt.Sprintf(`#!/bin/sh
# args: --algo lms --key <key> --by-file --input <digest file>
out="$7"
printf '\001\002\003\004' > "$out"
i=4
while [ "$i" -lt %d ]; do
  printf 'A' >> "$out"
  i=$((i+1))
done
`, blobSize)

	path := filepath.Join(dir, "sign-helper.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("WriteFile(%q): %v", path, err)
	}
	return path
}

func TestHelperSignLMS(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "lms-prvk.bin")
	if err := os.WriteFile(keyPath, []byte("opaque key blob"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	h := &HelperSigner{
		Command: writeHelperScript(t, dir, api.LMSSigSize),
		KeyPath: keyPath,
		WorkDir: dir,
	}
	if !h.Configured() {
		t.Fatal("Configured returned false for a set command")
	}

	digest := sha512.Sum384([]byte("metadata collection"))
	sig, err := h.SignLMS(digest[:])
	if err != nil {
		t.Fatalf("SignLMS: %v", err)
	}

	// The counter bytes come back reversed, the remainder verbatim.
	if want := [4]byte{4, 3, 2, 1}; !bytes.Equal(sig[:4], want[:]) {
		t.Errorf("Signature counter: got % x, want % x", sig[:4], want)
	}
	for i := 4; i < api.LMSSigSize; i++ {
		if sig[i] != 'A' {
			t.Fatalf("Signature byte %d: got %#02x, want 'A'", i, sig[i])
		}
	}
}

func TestHelperSignLMSBadBlobSize(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "lms-prvk.bin")
	if err := os.WriteFile(keyPath, []byte("opaque key blob"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	h := &HelperSigner{
		Command: writeHelperScript(t, dir, 16),
		KeyPath: keyPath,
		WorkDir: dir,
	}
	digest := sha512.Sum384([]byte("metadata collection"))
	if _, err := h.SignLMS(digest[:]); err == nil {
		t.Error("SignLMS accepted a short helper blob")
	}
}

func TestHelperSignLMSMissingKey(t *testing.T) {
	dir := t.TempDir()
	h := &HelperSigner{
		Command: writeHelperScript(t, dir, api.LMSSigSize),
		KeyPath: filepath.Join(dir, "nonexistent.bin"),
		WorkDir: dir,
	}
	digest := sha512.Sum384([]byte("metadata collection"))
	if _, err := h.SignLMS(digest[:]); err == nil {
		t.Error("SignLMS proceeded without the private key")
	}
}

func TestHelperNotConfigured(t *testing.T) {
	var h *HelperSigner
	if h.Configured() {
		t.Error("nil HelperSigner reported configured")
	}
	if (&HelperSigner{}).Configured() {
		t.Error("empty HelperSigner reported configured")
	}
}
