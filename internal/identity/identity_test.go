// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, contents []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, contents, 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDigestFileMatchesSHA256(t *testing.T) {
	dir := t.TempDir()
	contents := make([]byte, digestChunkSize*3+17)
	for i := range contents {
		contents[i] = byte(i)
	}
	path := writeFile(t, dir, "bin", contents)

	got, err := digestFile(path)
	if err != nil {
		t.Fatalf("digestFile: %v", err)
	}
	want := sha256.Sum256(contents)
	if got != Digest(want) {
		t.Fatalf("digest mismatch: got %x want %x", got, want)
	}
}

func TestDigestFileMissingIsBackendError(t *testing.T) {
	if _, err := digestFile("/nonexistent/path/does/not/exist"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRegistryUnknownThenTrustedAfterEnroll(t *testing.T) {
	r := NewRegistry()
	d := Digest(sha256.Sum256([]byte("binary-a")))

	if got := r.Check("/usr/bin/client", d); got != OutcomeUnknown {
		t.Fatalf("expected OutcomeUnknown, got %v", got)
	}

	r.Enroll("/usr/bin/client", d)
	if got := r.Check("/usr/bin/client", d); got != OutcomeTrusted {
		t.Fatalf("expected OutcomeTrusted, got %v", got)
	}
}

func TestRegistryDetectsDigestMismatch(t *testing.T) {
	r := NewRegistry()
	original := Digest(sha256.Sum256([]byte("binary-a")))
	tampered := Digest(sha256.Sum256([]byte("binary-a-trojan")))

	r.Enroll("/usr/bin/client", original)
	if got := r.Check("/usr/bin/client", tampered); got != OutcomeMismatch {
		t.Fatalf("expected OutcomeMismatch, got %v", got)
	}
}

func TestRegistryReenrollClearsMismatch(t *testing.T) {
	r := NewRegistry()
	original := Digest(sha256.Sum256([]byte("binary-a")))
	updated := Digest(sha256.Sum256([]byte("binary-a-updated")))

	r.Enroll("/usr/bin/client", original)
	if got := r.Check("/usr/bin/client", updated); got != OutcomeMismatch {
		t.Fatalf("expected OutcomeMismatch before re-enrollment, got %v", got)
	}

	r.Enroll("/usr/bin/client", updated)
	if got := r.Check("/usr/bin/client", updated); got != OutcomeTrusted {
		t.Fatalf("expected OutcomeTrusted after re-enrollment, got %v", got)
	}
}
