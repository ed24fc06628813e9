// SPDX-License-Identifier: Apache-2.0

package service

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/tks-project/secretsd/internal/tkserr"
)

func TestCollectionSlug(t *testing.T) {
	cases := map[string]string{
		"My Secrets":  "mysecrets",
		"  spaced  ":  "spaced",
		"W0rk!!! 123": "w0rk123",
		"???":         "collection",
		"":            "collection",
	}
	for in, want := range cases {
		if got := collectionSlug(in); got != want {
			t.Errorf("collectionSlug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatchesAttrs(t *testing.T) {
	have := map[string]string{"app": "firefox", "user": "alice"}

	if !matchesAttrs(have, map[string]string{"app": "firefox"}) {
		t.Error("expected subset match to succeed")
	}
	if matchesAttrs(have, map[string]string{"app": "chrome"}) {
		t.Error("expected mismatched value to fail")
	}
	if matchesAttrs(have, map[string]string{"missing": "x"}) {
		t.Error("expected missing key to fail")
	}
	if !matchesAttrs(have, map[string]string{}) {
		t.Error("expected empty query to match anything")
	}
}

func TestItemPropsFromVariants(t *testing.T) {
	attrs := map[string]string{"app": "firefox"}
	props := map[string]dbus.Variant{
		ItemIface + ".Label":      dbus.MakeVariant("my item"),
		ItemIface + ".Attributes": dbus.MakeVariant(attrs),
	}
	label, got := itemPropsFromVariants(props)
	if label != "my item" {
		t.Errorf("label = %q, want %q", label, "my item")
	}
	if got["app"] != "firefox" {
		t.Errorf("attrs = %v, want app=firefox", got)
	}
}

func TestItemPropsFromVariantsDefaultsToEmptyAttributes(t *testing.T) {
	_, got := itemPropsFromVariants(map[string]dbus.Variant{})
	if got == nil || len(got) != 0 {
		t.Errorf("expected non-nil empty attributes map, got %v", got)
	}
}

func TestUnlockPromptText(t *testing.T) {
	if got := unlockPromptText([]string{"login"}); got != `Enter the passphrase for collection "login"` {
		t.Errorf("unexpected single-collection text: %q", got)
	}
	if got := unlockPromptText([]string{"login", "work"}); got != "Enter the passphrase for 2 collections" {
		t.Errorf("unexpected multi-collection text: %q", got)
	}
}

func TestToDBusErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err  error
		name string
	}{
		{tkserr.NotFound("x"), "org.freedesktop.Secret.Error.NoSuchObject"},
		{tkserr.PermissionDenied("x"), "org.freedesktop.Secret.Error.IsLocked"},
		{tkserr.Locking("x"), "org.freedesktop.Secret.Error.IsLocked"},
		{tkserr.Parameter("x"), "org.freedesktop.DBus.Error.InvalidArgs"},
		{tkserr.NotSupported("x"), "org.freedesktop.DBus.Error.NotSupported"},
		{tkserr.Duplicate("x"), "org.freedesktop.DBus.Error.Failed"},
	}
	for _, c := range cases {
		got := toDBusError(c.err)
		if got == nil || got.Name != c.name {
			t.Errorf("toDBusError(%v) = %v, want name %q", c.err, got, c.name)
		}
	}
	if toDBusError(nil) != nil {
		t.Error("expected nil error to map to nil *dbus.Error")
	}
}
