// SPDX-License-Identifier: Apache-2.0

package service

import (
	"github.com/godbus/dbus/v5"

	"github.com/tks-project/secretsd/internal/tkserr"
)

// toDBusError maps a tkserr.Error (or any error) to a D-Bus error at the
// service boundary. Internal/backend/crypto failure detail never crosses
// the bus: only the taxonomy kind and a fixed generic message do, mirroring
// the redaction the example pack's bridge performs to avoid leaking backend
// internals (HTTP bodies, file paths, cipher state) to callers.
func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	switch tkserr.KindOf(err) {
	case tkserr.KindNotFound:
		return &dbus.Error{Name: "org.freedesktop.Secret.Error.NoSuchObject", Body: []interface{}{"no such object"}}
	case tkserr.KindPermissionDenied, tkserr.KindLocking:
		return &dbus.Error{Name: "org.freedesktop.Secret.Error.IsLocked", Body: []interface{}{"collection is locked"}}
	case tkserr.KindParameter:
		return &dbus.Error{Name: "org.freedesktop.DBus.Error.InvalidArgs", Body: []interface{}{"invalid arguments"}}
	case tkserr.KindNotSupported:
		return &dbus.Error{Name: "org.freedesktop.DBus.Error.NotSupported", Body: []interface{}{"not supported"}}
	case tkserr.KindDuplicate:
		return &dbus.Error{Name: "org.freedesktop.DBus.Error.Failed", Body: []interface{}{"duplicate item"}}
	default:
		return &dbus.Error{Name: "org.freedesktop.DBus.Error.Failed", Body: []interface{}{"internal error"}}
	}
}

func noSessionErr(session dbus.ObjectPath) *dbus.Error {
	return &dbus.Error{Name: "org.freedesktop.Secret.Error.NoSession", Body: []interface{}{"session not open: " + string(session)}}
}
