// SPDX-License-Identifier: Apache-2.0

package promptdriver

import (
	"context"
	"testing"
	"time"

	"github.com/tks-project/secretsd/internal/prompt"
)

// fakePinentryScript returns shell -c arguments for a minimal Assuan server:
// it greets, answers SETDESC/SETPROMPT with OK, and answers
// GETPIN/CONFIRM/MESSAGE according to outcome ("ok" or "cancel").
func fakePinentryScript(outcome string) []string {
	final := "OK"
	if outcome == "cancel" {
		final = "ERR 83886179 Operation cancelled <Pinentry>"
	}
	script := `
echo "OK Pleased to meet you"
while IFS= read -r line; do
  case "$line" in
    SETDESC*) echo "OK" ;;
    SETPROMPT*) echo "OK" ;;
    GETPIN*)
      if [ "` + outcome + `" = "ok" ]; then
        echo "D hunter2"
        echo "OK"
      else
        echo "` + final + `"
      fi
      ;;
    CONFIRM*|MESSAGE*) echo "` + final + `" ;;
    *) echo "ERR 1 unknown command" ;;
  esac
done
`
	return []string{"-c", script}
}

func newFakeDriver(outcome string) *Pinentry {
	return &Pinentry{binPath: "sh", args: fakePinentryScript(outcome)}
}

func TestPinentryConfirmAccepted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := newFakeDriver("ok").Show(ctx, prompt.KindConfirmation, "allow?")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if !result.Confirmed {
		t.Fatal("expected Confirmed true")
	}
}

func TestPinentryConfirmCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := newFakeDriver("cancel").Show(ctx, prompt.KindConfirmation, "allow?")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if result.Confirmed {
		t.Fatal("expected Confirmed false on cancel")
	}
}

func TestPinentryGetPinReturnsPassphrase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := newFakeDriver("ok").Show(ctx, prompt.KindPassphrase, "enter passphrase")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if string(result.Passphrase) != "hunter2" {
		t.Fatalf("got passphrase %q", result.Passphrase)
	}
}

func TestPinentryMessageAcknowledged(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := newFakeDriver("ok").Show(ctx, prompt.KindMessage, "heads up")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if !result.Confirmed {
		t.Fatal("expected Confirmed true for message ack")
	}
}
