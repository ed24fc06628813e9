// SPDX-License-Identifier: Apache-2.0

// Package service implements the org.freedesktop.Secret.Service D-Bus
// interface and its sub-objects (Collection, Item, Session, Prompt) — the
// façade (C7) that wires the session registry, item/collection store,
// storage backend, prompt engine, and client identity gate onto the bus.
package service

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	BusName     = "org.freedesktop.secrets"
	ServicePath = "/org/freedesktop/secrets"

	ServiceIface    = "org.freedesktop.Secret.Service"
	CollectionIface = "org.freedesktop.Secret.Collection"
	ItemIface       = "org.freedesktop.Secret.Item"
	SessionIface    = "org.freedesktop.Secret.Session"
	PromptIface     = "org.freedesktop.Secret.Prompt"

	CollectionPathPrefix = "/org/freedesktop/secrets/collection/"
	SessionPathPrefix    = "/org/freedesktop/secrets/session/"
	AliasPathPrefix      = "/org/freedesktop/secrets/aliases/"

	// NoPrompt is returned from a method in place of a prompt object path
	// when the operation completed without needing user interaction.
	NoPrompt = dbus.ObjectPath("/")
)

// Secret is the D-Bus struct type (oayays) carrying an encoded secret value
// between client and service.
type Secret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

// CollectionPath returns the object path for a named collection.
func CollectionPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath(CollectionPathPrefix + name)
}

// AliasPath returns the object path a collection is additionally exported
// at when it has an alias.
func AliasPath(alias string) dbus.ObjectPath {
	return dbus.ObjectPath(AliasPathPrefix + alias)
}

// ItemPath returns the object path for an item within a collection. Hyphens
// in uuid are replaced with underscores to satisfy D-Bus object path rules.
func ItemPath(collection, uuid string) dbus.ObjectPath {
	return dbus.ObjectPath(CollectionPathPrefix + collection + "/" + strings.ReplaceAll(uuid, "-", "_"))
}

// SessionPath returns the object path for a session.
func SessionPath(id string) dbus.ObjectPath {
	return dbus.ObjectPath(SessionPathPrefix + strings.ReplaceAll(id, "-", "_"))
}

// CollectionNameFromPath extracts the collection name from a collection (or
// item) object path, e.g. ".../collection/login" -> "login".
func CollectionNameFromPath(path dbus.ObjectPath) string {
	s := string(path)
	if len(s) <= len(CollectionPathPrefix) {
		return ""
	}
	rest := s[len(CollectionPathPrefix):]
	for i, c := range rest {
		if c == '/' {
			return rest[:i]
		}
	}
	return rest
}

// ItemUUIDFromPath extracts the collection name and item UUID from an item
// object path, converting underscores in the UUID segment back to hyphens.
func ItemUUIDFromPath(path dbus.ObjectPath) (collection, uuid string) {
	s := string(path)
	if len(s) <= len(CollectionPathPrefix) {
		return "", ""
	}
	rest := s[len(CollectionPathPrefix):]
	for i, c := range rest {
		if c == '/' {
			return rest[:i], strings.ReplaceAll(rest[i+1:], "_", "-")
		}
	}
	return "", ""
}
