// SPDX-License-Identifier: Apache-2.0

package service

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestItemPathRoundTripsUUIDWithHyphens(t *testing.T) {
	path := ItemPath("work", "ab12-cd34-ef56")
	gotCol, gotUUID := ItemUUIDFromPath(path)
	if gotCol != "work" {
		t.Fatalf("collection = %q, want %q", gotCol, "work")
	}
	if gotUUID != "ab12-cd34-ef56" {
		t.Fatalf("uuid = %q, want %q", gotUUID, "ab12-cd34-ef56")
	}
}

func TestCollectionNameFromPath(t *testing.T) {
	cases := map[string]string{
		string(CollectionPath("login")):  "login",
		string(ItemPath("login", "a-b")): "login",
		"/org/freedesktop/secrets":        "",
		"/some/unrelated/path":            "",
	}
	for path, want := range cases {
		if got := CollectionNameFromPath(dbus.ObjectPath(path)); got != want {
			t.Errorf("CollectionNameFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
