// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/tks-project/secretsd/internal/backend/diskgcm"
	"github.com/tks-project/secretsd/internal/cryptoengine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	be, err := diskgcm.New(t.TempDir())
	if err != nil {
		t.Fatalf("diskgcm.New: %v", err)
	}
	s, err := New(be)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return s
}

func testPassphrase() []byte { return []byte("test-passphrase") }

func TestNewCreatesLoginCollectionAndDefaultAlias(t *testing.T) {
	s := newTestStore(t)
	if _, ok := s.GetCollection(DefaultCollectionName); !ok {
		t.Fatal("expected login collection to exist")
	}
	if got := s.GetAlias(DefaultAlias); got != DefaultCollectionName {
		t.Fatalf("expected default alias to resolve to login, got %q", got)
	}
}

func TestCreateCollectionIsUnlocked(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateCollection("work", "Work", testPassphrase())
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if c.State != StateUnlocked {
		t.Fatalf("expected new collection to be unlocked, got %v", c.State)
	}
}

func TestCreateDuplicateCollectionErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateCollection("work", "Work", testPassphrase()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreateCollection("work", "Work", testPassphrase()); err == nil {
		t.Fatal("expected Duplicate error on second create")
	}
}

func TestCreateItemRequiresUnlockedCollection(t *testing.T) {
	s := newTestStore(t)
	// "login" starts StateLocked per New().
	if _, err := s.CreateItem(DefaultCollectionName, "u1", "label", nil, []byte("s"), "text/plain", false); err == nil {
		t.Fatal("expected PermissionDenied on locked collection")
	}
}

func TestCreateGetDeleteItem(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateCollection("work", "Work", testPassphrase()); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	item, err := s.CreateItem("work", "u1", "My Item", map[string]string{"k": "v"}, []byte("hunter2"), "text/plain", false)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if string(item.Secret) != "hunter2" {
		t.Fatalf("got secret %q", item.Secret)
	}

	got, err := s.GetItem("work", "u1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Label != "My Item" {
		t.Fatalf("got label %q", got.Label)
	}

	if err := s.DeleteItem("work", "u1"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, err := s.GetItem("work", "u1"); err == nil {
		t.Fatal("expected NotFound after delete")
	}
}

func TestCreateItemDuplicateRejectedWithoutReplace(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("work", "Work", testPassphrase())
	attrs := map[string]string{"k": "v"}
	if _, err := s.CreateItem("work", "u1", "A", attrs, []byte("same"), "text/plain", false); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreateItem("work", "u2", "B", attrs, []byte("same"), "text/plain", false); err == nil {
		t.Fatal("expected Duplicate error")
	}
}

func TestCreateItemReplaceOverwritesInPlace(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("work", "Work", testPassphrase())
	attrs := map[string]string{"k": "v"}
	first, err := s.CreateItem("work", "u1", "A", attrs, []byte("same"), "text/plain", false)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := s.CreateItem("work", "u2", "B", attrs, []byte("same"), "text/plain", true)
	if err != nil {
		t.Fatalf("replace create: %v", err)
	}
	if second.UUID != first.UUID {
		t.Fatalf("expected replace to reuse UUID %q, got %q", first.UUID, second.UUID)
	}
	if second.Label != "B" {
		t.Fatalf("expected replaced label B, got %q", second.Label)
	}
}

func TestLockWipesSecretsAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("work", "Work", testPassphrase())
	s.CreateItem("work", "u1", "A", nil, []byte("secret"), "text/plain", false)

	if err := s.Lock("work"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	c, _ := s.GetCollection("work")
	if c.State != StateLocked {
		t.Fatalf("expected locked, got %v", c.State)
	}
	if c.Items["u1"].Secret != nil {
		t.Fatal("expected secret to be wiped on lock")
	}
	if err := s.Lock("work"); err != nil {
		t.Fatalf("second Lock should be a no-op, got error: %v", err)
	}
}

func TestUnlockBeginIdempotentForAlreadyUnlocked(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("work", "Work", testPassphrase())
	needsPrompt, err := s.BeginUnlock("work")
	if err != nil {
		t.Fatalf("BeginUnlock: %v", err)
	}
	if needsPrompt {
		t.Fatal("expected no prompt needed for already-unlocked collection")
	}
}

func TestUnlockRoundTripAfterLock(t *testing.T) {
	s := newTestStore(t)
	passphrase := testPassphrase()
	s.CreateCollection("work", "Work", passphrase)
	s.CreateItem("work", "u1", "A", nil, []byte("secret"), "text/plain", false)
	if err := s.Lock("work"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	needsPrompt, err := s.BeginUnlock("work")
	if err != nil {
		t.Fatalf("BeginUnlock: %v", err)
	}
	if !needsPrompt {
		t.Fatal("expected prompt needed for locked collection")
	}
	c, _ := s.GetCollection("work")
	key, err := cryptoengine.DerivePassphraseKey(passphrase, c.Salt, c.Iterations)
	if err != nil {
		t.Fatalf("DerivePassphraseKey: %v", err)
	}
	warnings, err := s.FinishUnlock("work", key)
	if err != nil {
		t.Fatalf("FinishUnlock: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	c, _ = s.GetCollection("work")
	if c.State != StateUnlocked {
		t.Fatalf("expected unlocked, got %v", c.State)
	}
	if string(c.Items["u1"].Secret) != "secret" {
		t.Fatalf("expected secret restored, got %q", c.Items["u1"].Secret)
	}
}

func TestSearchItemsSeparatesLockedAndUnlocked(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("work", "Work", testPassphrase())
	s.CreateItem("work", "u1", "A", map[string]string{"app": "x"}, []byte("s"), "text/plain", false)
	s.Lock("work")

	unlocked, locked := s.SearchItems(map[string]string{"app": "x"})
	if len(unlocked) != 0 {
		t.Fatalf("expected no unlocked matches, got %v", unlocked)
	}
	if len(locked) != 1 || locked[0] != "work" {
		t.Fatalf("expected work listed as locked, got %v", locked)
	}
}

func TestAliases(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("work", "Work", testPassphrase())
	if err := s.SetAlias("myalias", "work"); err != nil {
		t.Fatalf("SetAlias: %v", err)
	}
	if got := s.GetAlias("myalias"); got != "work" {
		t.Fatalf("got %q", got)
	}
	if err := s.SetAlias("myalias", ""); err != nil {
		t.Fatalf("unset SetAlias: %v", err)
	}
	if got := s.GetAlias("myalias"); got != "" {
		t.Fatalf("expected unset alias, got %q", got)
	}
}

func TestDefaultAliasCannotBeUnset(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetAlias(DefaultAlias, ""); err == nil {
		t.Fatal("expected error unsetting the default alias")
	}
}

func TestDeleteCollectionRemovesAliases(t *testing.T) {
	s := newTestStore(t)
	s.CreateCollection("work", "Work", testPassphrase())
	s.SetAlias("myalias", "work")
	if err := s.DeleteCollection("work"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	if got := s.GetAlias("myalias"); got != "" {
		t.Fatalf("expected alias removed, got %q", got)
	}
}
