// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"log"

	"github.com/godbus/dbus/v5"

	"github.com/tks-project/secretsd/internal/prompt"
	"github.com/tks-project/secretsd/internal/tkserr"
)

// Gate is the C6 client identity check wired to the prompt engine: it
// resolves a caller's executable, consults the Registry, and — for an
// executable never seen before — blocks on an enrollment confirmation
// prompt before admitting the caller.
type Gate struct {
	registry *Registry
	prompts  *prompt.Registry
	dialog   prompt.Dialog
	resolve  func(sender string) (exePath string, digest Digest, err error)
}

// NewGate builds a client identity gate bound to conn for credential
// resolution and prompts for enrollment confirmation.
func NewGate(conn *dbus.Conn, prompts *prompt.Registry, dialog prompt.Dialog) *Gate {
	return &Gate{
		registry: NewRegistry(),
		prompts:  prompts,
		dialog:   dialog,
		resolve:  func(sender string) (string, Digest, error) { return Resolve(conn, sender) },
	}
}

// Authorize resolves sender's executable and digest and admits the call,
// blocking on an enrollment prompt the first time an executable path is
// seen. A known path whose digest no longer matches what was enrolled is
// always rejected with PermissionDenied — the one check the original
// equivalent left unimplemented.
func (g *Gate) Authorize(ctx context.Context, sender string) error {
	exePath, digest, err := g.resolve(sender)
	if err != nil {
		return err
	}

	switch g.registry.Check(exePath, digest) {
	case OutcomeTrusted:
		return nil

	case OutcomeMismatch:
		log.Printf("identity: executable %q digest no longer matches its enrollment; rejecting caller %q", exePath, sender)
		return tkserr.PermissionDenied("executable digest does not match enrollment: " + exePath)

	default: // OutcomeUnknown
		return g.enroll(ctx, sender, exePath, digest)
	}
}

// enroll runs a synchronous enrollment confirmation prompt for a
// never-before-seen executable path. It does not go through the async
// Prompt/Completed D-Bus dance the other prompts use, since Authorize is
// called inline from a method dispatch and has no prompt object path to
// hand back to the caller; it drives the same Dialog directly instead.
func (g *Gate) enroll(ctx context.Context, sender, exePath string, digest Digest) error {
	text := "Allow " + exePath + " to access the secret service?"
	result, err := g.dialog.Show(ctx, prompt.KindConfirmation, text)
	if err != nil {
		return tkserr.Backend("enrollment prompt", err)
	}
	if !result.Confirmed {
		return tkserr.PermissionDenied("enrollment declined for " + exePath)
	}
	g.registry.Enroll(exePath, digest)
	log.Printf("identity: enrolled new client executable %q (sender %q)", exePath, sender)
	return nil
}
