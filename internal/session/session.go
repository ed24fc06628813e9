// SPDX-License-Identifier: Apache-2.0

// Package session implements the Secret Service session registry (C2): the
// dbus.Session/plain negotiation, the active-session table, and secret
// encryption/decryption bound to the session's negotiated algorithm.
package session

import (
	"runtime/secret"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/tks-project/secretsd/internal/cryptoengine"
	"github.com/tks-project/secretsd/internal/tkserr"
)

// Session is an open Secret Service session with a single client connection.
// aesKey is nil for "plain" sessions; 16 bytes for
// "dh-ietf1024-sha256-aes128-cbc-pkcs7" sessions. sender is the D-Bus unique
// name that opened the session; Decrypt refuses calls from any other sender
// so one client cannot reuse another's session object path.
type Session struct {
	Path      dbus.ObjectPath
	Algorithm string
	sender    string
	aesKey    []byte
}

// Open negotiates a new session. For AlgorithmPlain, input must be empty and
// the returned output is empty. For AlgorithmDH, input is the peer's X25519
// public key and the returned output is this daemon's ephemeral public key.
func Open(path dbus.ObjectPath, sender, algorithm string, input []byte) (*Session, []byte, error) {
	switch algorithm {
	case cryptoengine.AlgorithmPlain:
		if len(input) != 0 {
			return nil, nil, tkserr.Parameter("plain session accepts no input")
		}
		return &Session{Path: path, Algorithm: algorithm, sender: sender}, nil, nil

	case cryptoengine.AlgorithmDH:
		kp, err := cryptoengine.GenerateKeyPair()
		if err != nil {
			return nil, nil, err
		}
		defer kp.Wipe()
		aesKey, err := cryptoengine.DeriveSessionKey(kp, input)
		if err != nil {
			return nil, nil, err
		}
		output := append([]byte(nil), kp.Public[:]...)
		return &Session{Path: path, Algorithm: algorithm, sender: sender, aesKey: aesKey}, output, nil

	default:
		return nil, nil, tkserr.Parameter("unsupported session algorithm: " + algorithm)
	}
}

// Sender returns the bus name that opened the session.
func (s *Session) Sender() string { return s.sender }

// Encrypt encodes plaintext for delivery to the client. Returns
// (parameters, value): parameters is the empty slice for plain sessions and
// the 16-byte IV for DH sessions.
func (s *Session) Encrypt(plaintext []byte) (params, value []byte, err error) {
	if s.aesKey == nil {
		return []byte{}, plaintext, nil
	}
	iv, ciphertext, err := cryptoengine.EncryptCBC(s.aesKey, plaintext)
	if err != nil {
		return nil, nil, err
	}
	return iv, ciphertext, nil
}

// Decrypt decodes a secret the client sent, verifying that caller is the
// same bus sender that opened the session.
func (s *Session) Decrypt(caller string, params, ciphertext []byte) ([]byte, error) {
	if caller != s.sender {
		return nil, tkserr.PermissionDenied("session does not belong to caller")
	}
	if s.aesKey == nil {
		return ciphertext, nil
	}
	if len(params) != 16 {
		return nil, tkserr.Parameter("expected 16-byte IV")
	}
	return cryptoengine.DecryptCBC(s.aesKey, params, ciphertext)
}

// Close wipes the session's AES key, if any. Idempotent.
func (s *Session) Close() {
	secret.Do(func() {
		clear(s.aesKey)
		s.aesKey = nil
	})
}

// Registry tracks every open session by object path.
type Registry struct {
	mu       sync.Mutex
	sessions map[dbus.ObjectPath]*Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[dbus.ObjectPath]*Session)}
}

// Add registers s.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Path] = s
}

// Remove drops and returns the session at path, if present.
func (r *Registry) Remove(path dbus.ObjectPath) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[path]
	if ok {
		delete(r.sessions, path)
	}
	return s, ok
}

// Get looks up the session at path.
func (r *Registry) Get(path dbus.ObjectPath) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[path]
	return s, ok
}

// RemoveBySender drops and returns every session opened by sender. A client
// whose bus name disappears without calling Session.Close can otherwise
// leave sessions registered forever.
func (r *Registry) RemoveBySender(sender string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*Session
	for path, s := range r.sessions {
		if s.sender == sender {
			removed = append(removed, s)
			delete(r.sessions, path)
		}
	}
	return removed
}
