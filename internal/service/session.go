// SPDX-License-Identifier: Apache-2.0

package service

import (
	"github.com/godbus/dbus/v5"

	"github.com/tks-project/secretsd/internal/session"
)

// sessionObject is the thin D-Bus wrapper around a session.Session: the
// transport crypto and sender binding live in internal/session, this type
// only adapts Close to the bus.
type sessionObject struct {
	sess *session.Session
	svc  *Service
}

// Close implements org.freedesktop.Secret.Session.Close().
func (s *sessionObject) Close() *dbus.Error {
	s.svc.recordActivity()
	s.svc.sessions.Remove(s.sess.Path)
	_ = s.svc.conn.Export(nil, s.sess.Path, SessionIface)
	s.sess.Close()
	return nil
}
