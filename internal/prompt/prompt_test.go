// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

// fakeDialog lets tests script a Show outcome or block until context
// cancellation to exercise Dismiss.
type fakeDialog struct {
	result  Result
	err     error
	blocked chan struct{}
}

func (d *fakeDialog) Show(ctx context.Context, kind Kind, text string) (Result, error) {
	if d.blocked != nil {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-d.blocked:
		}
	}
	return d.result, d.err
}

// fakeConn is a no-op busConn so tests can observe prompt behavior through
// the onConfirm/onDeny callbacks without a real bus connection.
type fakeConn struct{}

func (fakeConn) Export(v interface{}, path dbus.ObjectPath, iface string) error { return nil }
func (fakeConn) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return newRegistry(fakeConn{})
}

func waitForCallback(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for prompt callback")
	}
}

func TestPromptConfirmRunsOnConfirm(t *testing.T) {
	r := newTestRegistry(t)
	done := make(chan struct{})
	var gotConfirmed bool

	p := r.New(KindConfirmation, "allow?", &fakeDialog{result: Result{Confirmed: true}},
		func(res Result) (dbus.Variant, error) {
			gotConfirmed = res.Confirmed
			close(done)
			return dbus.MakeVariant("ok"), nil
		},
		func() error { t.Fatal("onDeny should not run"); return nil },
	)

	if dbusErr := p.Prompt(""); dbusErr != nil {
		t.Fatalf("Prompt: %v", dbusErr)
	}
	waitForCallback(t, done)
	if !gotConfirmed {
		t.Fatal("expected Confirmed result")
	}
}

func TestPromptDenyRunsOnDeny(t *testing.T) {
	r := newTestRegistry(t)
	done := make(chan struct{})

	p := r.New(KindConfirmation, "allow?", &fakeDialog{result: Result{Confirmed: false}},
		func(Result) (dbus.Variant, error) { t.Fatal("onConfirm should not run"); return dbus.Variant{}, nil },
		func() error { close(done); return nil },
	)

	if dbusErr := p.Prompt(""); dbusErr != nil {
		t.Fatalf("Prompt: %v", dbusErr)
	}
	waitForCallback(t, done)
}

func TestDismissCancelsInFlightDialog(t *testing.T) {
	r := newTestRegistry(t)
	blocked := make(chan struct{})
	done := make(chan struct{})

	p := r.New(KindPassphrase, "enter passphrase", &fakeDialog{blocked: blocked}, nil,
		func() error { close(done); return nil },
	)

	if dbusErr := p.Prompt(""); dbusErr != nil {
		t.Fatalf("Prompt: %v", dbusErr)
	}
	if dbusErr := p.Dismiss(); dbusErr != nil {
		t.Fatalf("Dismiss: %v", dbusErr)
	}
	waitForCallback(t, done)
}

func TestDismissAfterCompletionIsNoOp(t *testing.T) {
	r := newTestRegistry(t)
	done := make(chan struct{})
	p := r.New(KindMessage, "fyi", &fakeDialog{result: Result{Confirmed: true}},
		func(Result) (dbus.Variant, error) { close(done); return dbus.MakeVariant(""), nil },
		nil,
	)
	if dbusErr := p.Prompt(""); dbusErr != nil {
		t.Fatalf("Prompt: %v", dbusErr)
	}
	waitForCallback(t, done)

	if dbusErr := p.Dismiss(); dbusErr != nil {
		t.Fatalf("expected Dismiss after completion to succeed as a no-op, got %v", dbusErr)
	}
}
