// SPDX-License-Identifier: Apache-2.0

// Package identity implements the client identity gate (C6): resolving a
// D-Bus caller's executable from its connection credentials, digesting
// that executable, and comparing the digest against what was enrolled the
// first time that executable path was seen. Unlike the original
// implementation — whose equivalent leaves the spoofing check as a TODO
// and trusts any caller with a previously-seen path — a digest mismatch
// here is always rejected.
package identity

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/tks-project/secretsd/internal/tkserr"
)

// digestChunkSize is the bounded streaming-read buffer used while hashing a
// candidate executable.
const digestChunkSize = 1024

// Digest uniquely identifies the contents of an executable file.
type Digest [sha256.Size]byte

// Resolve looks up the PID owning sender on conn, reads its executable
// path, and computes that executable's current digest.
func Resolve(conn *dbus.Conn, sender string) (exePath string, digest Digest, err error) {
	var creds map[string]dbus.Variant
	call := conn.BusObject().Call("org.freedesktop.DBus.GetConnectionCredentials", 0, sender)
	if call.Err != nil {
		return "", Digest{}, tkserr.Backend("GetConnectionCredentials", call.Err)
	}
	if err := call.Store(&creds); err != nil {
		return "", Digest{}, tkserr.Backend("decode connection credentials", err)
	}
	pidVariant, ok := creds["UnixProcessID"]
	if !ok {
		return "", Digest{}, tkserr.Backend("peer credentials do not include UnixProcessID", nil)
	}
	pid, ok := pidVariant.Value().(uint32)
	if !ok {
		return "", Digest{}, tkserr.Backend("unexpected UnixProcessID type", nil)
	}

	exePath, err = os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return "", Digest{}, tkserr.Backend("resolve /proc/<pid>/exe", err)
	}

	digest, err = digestFile(exePath)
	if err != nil {
		return "", Digest{}, err
	}
	return exePath, digest, nil
}

// digestFile streams path through SHA-256 in bounded 1 KiB chunks so a
// very large executable never forces a single huge allocation.
func digestFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, tkserr.Backend("open candidate executable", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, digestChunkSize)
	// Wrapping f hides (*os.File).WriteTo, which would otherwise make
	// CopyBuffer ignore buf and copy through its own 32 KiB buffer.
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{f}, buf); err != nil {
		return Digest{}, tkserr.Backend("digest candidate executable", err)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Record is what the gate remembers about a trusted executable path.
type Record struct {
	ExePath string
	Digest  Digest
}

// Registry is the process-wide table of enrolled clients, keyed by
// executable path.
type Registry struct {
	mu    sync.Mutex
	known map[string]Record
}

// NewRegistry returns an empty client registry.
func NewRegistry() *Registry {
	return &Registry{known: make(map[string]Record)}
}

// Outcome classifies a lookup against the registry.
type Outcome int

const (
	// OutcomeTrusted means exePath is known and its digest matches.
	OutcomeTrusted Outcome = iota
	// OutcomeUnknown means exePath has never been enrolled; the caller
	// should run the enrollment prompt before proceeding.
	OutcomeUnknown
	// OutcomeMismatch means exePath is known but its current digest does
	// not match what was enrolled — the file at that path changed, or a
	// different binary is impersonating a trusted path.
	OutcomeMismatch
)

// Check classifies exePath/digest against the registry.
func (r *Registry) Check(exePath string, digest Digest) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.known[exePath]
	if !ok {
		return OutcomeUnknown
	}
	if rec.Digest != digest {
		return OutcomeMismatch
	}
	return OutcomeTrusted
}

// Enroll records exePath as trusted with the given digest, overwriting any
// prior enrollment for that path, so enrolling again after a mismatch makes
// the new digest the trusted one. Gate calls it only for executable paths
// that were never enrolled; it never re-enrolls after a mismatch.
func (r *Registry) Enroll(exePath string, digest Digest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known[exePath] = Record{ExePath: exePath, Digest: digest}
}
