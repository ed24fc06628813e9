// SPDX-License-Identifier: Apache-2.0

package diskgcm

import (
	"testing"

	"github.com/tks-project/secretsd/internal/backend"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func testMeta(name string) backend.CollectionMetadata {
	return backend.CollectionMetadata{
		Name:       name,
		Label:      "Test",
		Created:    1,
		Modified:   1,
		Salt:       []byte("0123456789abcdef"),
		Iterations: 200_000,
		Items:      map[string]backend.ItemMetadata{},
	}
}

func TestSaveLoadMetadataRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	meta := testMeta("login")
	if err := b.SaveMetadata(meta); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	got, err := b.LoadMetadata("login")
	if err != nil {
		t.Fatalf("LoadMetadata: %v", err)
	}
	if got.Label != meta.Label || got.Iterations != meta.Iterations {
		t.Fatalf("metadata mismatch: got %+v", got)
	}
}

func TestLoadMetadataMissingIsNotFound(t *testing.T) {
	b := newTestBackend(t)
	if _, err := b.LoadMetadata("nope"); err == nil {
		t.Fatal("expected error for missing collection")
	}
}

func TestSaveLoadItemsRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	meta := testMeta("login")
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	items := map[string]backend.ItemSecret{
		"item-1": {Data: []byte("hunter2"), ContentType: "text/plain"},
	}
	if err := b.SaveItems(meta, items, key); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}
	got, err := b.LoadItems(meta, key)
	if err != nil {
		t.Fatalf("LoadItems: %v", err)
	}
	if string(got["item-1"].Data) != "hunter2" {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadItemsWrongKeyFails(t *testing.T) {
	b := newTestBackend(t)
	meta := testMeta("login")
	key := make([]byte, 32)
	wrongKey := make([]byte, 32)
	wrongKey[0] = 1
	items := map[string]backend.ItemSecret{"item-1": {Data: []byte("x")}}
	if err := b.SaveItems(meta, items, key); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}
	if _, err := b.LoadItems(meta, wrongKey); err == nil {
		t.Fatal("expected authentication failure with wrong key")
	}
}

func TestLoadItemsDetectsMetadataSwap(t *testing.T) {
	b := newTestBackend(t)
	meta := testMeta("login")
	key := make([]byte, 32)
	items := map[string]backend.ItemSecret{"item-1": {Data: []byte("x")}}
	if err := b.SaveItems(meta, items, key); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}

	tampered := meta
	tampered.Label = "Something Else"
	if _, err := b.LoadItems(tampered, key); err == nil {
		t.Fatal("expected authentication failure when metadata used as AD changes")
	}
}

func TestListCollectionsAndDelete(t *testing.T) {
	b := newTestBackend(t)
	if err := b.SaveMetadata(testMeta("login")); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	if err := b.SaveMetadata(testMeta("work")); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}

	names, err := b.ListCollections()
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 collections, got %v", names)
	}

	if err := b.DeleteCollection("login"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	names, err = b.ListCollections()
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(names) != 1 || names[0] != "work" {
		t.Fatalf("expected only work to remain, got %v", names)
	}
}
