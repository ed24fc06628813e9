// SPDX-License-Identifier: Apache-2.0

// Package prompt implements the async prompt engine (C5): transient
// org.freedesktop.Secret.Prompt objects that mediate user consent without
// blocking the D-Bus dispatcher. A Prompt runs its Dialog on its own
// goroutine, emits Completed exactly once, and Dismiss genuinely cancels an
// in-flight dialog rather than the stub the original implementation left
// for it.
package prompt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"

	"github.com/tks-project/secretsd/internal/tkserr"
)

// Kind distinguishes the three dialog shapes the daemon ever shows.
type Kind int

const (
	// KindMessage is a plain acknowledgement dialog (e.g. "operation
	// complete"); Result.Confirmed is always true when it completes.
	KindMessage Kind = iota
	// KindConfirmation asks a yes/no question, such as enrolling a new
	// client executable or allowing a collection to be deleted.
	KindConfirmation
	// KindPassphrase asks the user to type a passphrase, used to create or
	// unlock a collection.
	KindPassphrase
)

// Result is what a Dialog reports back.
type Result struct {
	Confirmed  bool
	Passphrase []byte
}

// Dialog drives the actual user interaction. Implementations must honor
// ctx cancellation promptly: Dismiss relies on it to abandon an in-flight
// dialog.
type Dialog interface {
	Show(ctx context.Context, kind Kind, text string) (Result, error)
}

const iface = "org.freedesktop.Secret.Prompt"

// busConn is the slice of *dbus.Conn this package needs, narrowed to an
// interface so tests can exercise Prompt/Dismiss/Completed-signal ordering
// without a real bus connection.
type busConn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Prompt is one transient prompt object. Path is stable for the object's
// lifetime; Prompt objects are never reused across calls.
type Prompt struct {
	Path dbus.ObjectPath

	conn      busConn
	registry  *Registry
	kind      Kind
	text      string
	dialog    Dialog
	onConfirm func(Result) (dbus.Variant, error)
	onDeny    func() error

	mu        sync.Mutex
	started   bool
	completed bool
	cancel    context.CancelFunc
}

// Registry tracks live prompt objects and mints fresh object paths.
type Registry struct {
	conn    busConn
	counter uint64
	mu      sync.Mutex
	prompts map[dbus.ObjectPath]*Prompt
}

// NewRegistry constructs an empty prompt registry bound to conn.
func NewRegistry(conn *dbus.Conn) *Registry {
	return newRegistry(conn)
}

func newRegistry(conn busConn) *Registry {
	return &Registry{conn: conn, prompts: make(map[dbus.ObjectPath]*Prompt)}
}

// New creates and exports a new prompt object. onConfirm runs (on the
// prompt's own goroutine, never the D-Bus dispatcher goroutine) if the
// dialog reports Confirmed, and its returned variant becomes the Completed
// signal's result payload (e.g. a newly created collection's object path).
// onDeny runs when the dialog reports a plain "no", including on
// dismissal. Either callback may be nil.
func (r *Registry) New(kind Kind, text string, dialog Dialog, onConfirm func(Result) (dbus.Variant, error), onDeny func() error) *Prompt {
	id := atomic.AddUint64(&r.counter, 1)
	path := dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/secrets/prompt/p%d", id))

	p := &Prompt{
		Path:      path,
		conn:      r.conn,
		registry:  r,
		kind:      kind,
		text:      text,
		dialog:    dialog,
		onConfirm: onConfirm,
		onDeny:    onDeny,
	}

	r.mu.Lock()
	r.prompts[path] = p
	r.mu.Unlock()

	_ = r.conn.Export(p, path, iface)
	return p
}

// release unexports and forgets p.
func (r *Registry) release(p *Prompt) {
	r.mu.Lock()
	delete(r.prompts, p.Path)
	r.mu.Unlock()
	_ = r.conn.Export(nil, p.Path, iface)
}

// Prompt implements org.freedesktop.Secret.Prompt.Prompt. It starts the
// dialog on a new goroutine and returns immediately; the result arrives via
// the Completed signal.
func (p *Prompt) Prompt(windowID string) *dbus.Error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return dbusErr(tkserr.Parameter("prompt already started"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.started = true
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(ctx)
	return nil
}

func (p *Prompt) run(ctx context.Context) {
	result, err := p.dialog.Show(ctx, p.kind, p.text)

	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return
	}
	p.completed = true
	p.mu.Unlock()

	dismissed := err != nil
	resultVariant := dbus.MakeVariant("")
	if dismissed {
		if p.onDeny != nil {
			_ = p.onDeny()
		}
	} else {
		if result.Confirmed {
			if p.onConfirm != nil {
				v, actionErr := p.onConfirm(result)
				if actionErr != nil {
					dismissed = true
				} else {
					resultVariant = v
				}
			}
		} else {
			dismissed = true
			if p.onDeny != nil {
				_ = p.onDeny()
			}
		}
	}

	_ = p.conn.Emit(p.Path, iface+".Completed", dismissed, resultVariant)
	p.registry.release(p)
}

// Dismiss implements org.freedesktop.Secret.Prompt.Dismiss. It cancels an
// in-flight dialog; the running goroutine's Show call is expected to return
// promptly once ctx is canceled, after which it emits Completed(dismissed=
// true). If the prompt already completed, Dismiss is a no-op success.
func (p *Prompt) Dismiss() *dbus.Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	} else {
		// Prompt() was never called: there is nothing running to cancel,
		// so mark completion ourselves and signal immediately.
		p.completed = true
		go func() {
			if p.onDeny != nil {
				_ = p.onDeny()
			}
			_ = p.conn.Emit(p.Path, iface+".Completed", true, dbus.MakeVariant(""))
			p.registry.release(p)
		}()
	}
	return nil
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{Name: "org.freedesktop.Secret.Error." + tkserr.KindOf(err).String(), Body: []interface{}{err.Error()}}
}
