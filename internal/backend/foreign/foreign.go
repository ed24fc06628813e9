// SPDX-License-Identifier: Apache-2.0

// Package foreign is a read-only adapter for a foreign keyring format,
// modeled on the original implementation's password-store backend: it
// exposes exactly one collection (wrapping an existing external store) and
// never supports creating, writing, or deleting collections or items.
// Ported in shape, not content — the original's equivalent reads entries
// out of the "pass" password manager's GPG-encrypted tree; this adapter
// leaves that integration unimplemented (LoadMetadata and LoadItems return
// NotSupported), since no GPG/pass client library appears anywhere in the
// example corpus to ground it on.
package foreign

import "github.com/tks-project/secretsd/internal/backend"

// Kind is the storage.kind value selecting this backend.
const Kind = "foreign"

// Backend wraps a single pre-existing foreign-format collection as a
// read-only Secret Service collection.
type Backend struct {
	collectionName string
}

// New names the single collection this adapter will expose.
func New(collectionName string) *Backend {
	return &Backend{collectionName: collectionName}
}

func (b *Backend) Kind() string { return Kind }

func (b *Backend) ListCollections() ([]string, error) {
	return []string{b.collectionName}, nil
}

func (b *Backend) LoadMetadata(name string) (backend.CollectionMetadata, error) {
	return backend.CollectionMetadata{}, backend.ErrNotSupported("foreign LoadMetadata")
}

// SaveMetadata is unsupported: this adapter never creates or renames the
// collection it wraps.
func (b *Backend) SaveMetadata(meta backend.CollectionMetadata) error {
	return backend.ErrNotSupported("foreign SaveMetadata")
}

// SaveItems is unsupported: this adapter is read-only.
func (b *Backend) SaveItems(meta backend.CollectionMetadata, items map[string]backend.ItemSecret, key []byte) error {
	return backend.ErrNotSupported("foreign SaveItems")
}

func (b *Backend) LoadItems(meta backend.CollectionMetadata, key []byte) (map[string]backend.ItemSecret, error) {
	return nil, backend.ErrNotSupported("foreign LoadItems")
}

// DeleteCollection is unsupported: "we do not support adding any other
// collection" carries the same way for deletion.
func (b *Backend) DeleteCollection(name string) error {
	return backend.ErrNotSupported("foreign DeleteCollection")
}
