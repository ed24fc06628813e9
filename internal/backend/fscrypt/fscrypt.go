// SPDX-License-Identifier: Apache-2.0

// Package fscrypt is an experimental storage backend that relies on the
// filesystem's own fscrypt encryption for item secrets instead of sealing
// them with AES-GCM itself: item files live under an fscrypt-encrypted
// directory and the backend trusts the kernel to deny reads until that
// directory has been unlocked with its fscrypt key. Ported from the
// "commissioned" gate in the original implementation's fscrypt backend,
// this variant is not required to be complete — every method beyond the
// commissioning check returns backend.ErrNotSupported until a real
// keyring-unlock integration lands.
package fscrypt

import (
	"os"

	"github.com/tks-project/secretsd/internal/backend"
	"github.com/tks-project/secretsd/internal/tkserr"
)

// Kind is the storage.kind value selecting this backend.
const Kind = "fscrypt"

// Backend is the experimental fscrypt-backed storage strategy.
type Backend struct {
	root         string
	commissioned bool
}

// New reports whether root has been "commissioned" (an fscrypt policy has
// been applied to it) by checking for a sentinel file an operator-run setup
// step is expected to create. It does not itself commission the directory.
func New(root string) (*Backend, error) {
	_, err := os.Stat(root + "/.fscrypt-commissioned")
	return &Backend{root: root, commissioned: err == nil}, nil
}

func (b *Backend) Kind() string { return Kind }

func (b *Backend) ListCollections() ([]string, error) {
	return nil, backend.ErrNotSupported("fscrypt ListCollections")
}

func (b *Backend) LoadMetadata(name string) (backend.CollectionMetadata, error) {
	return backend.CollectionMetadata{}, backend.ErrNotSupported("fscrypt LoadMetadata")
}

func (b *Backend) SaveMetadata(meta backend.CollectionMetadata) error {
	return backend.ErrNotSupported("fscrypt SaveMetadata")
}

func (b *Backend) SaveItems(meta backend.CollectionMetadata, items map[string]backend.ItemSecret, key []byte) error {
	return backend.ErrNotSupported("fscrypt SaveItems")
}

// LoadItems refuses to proceed unless the storage directory has been
// commissioned, matching the original backend's unlock_items guard.
func (b *Backend) LoadItems(meta backend.CollectionMetadata, key []byte) (map[string]backend.ItemSecret, error) {
	if !b.commissioned {
		return nil, tkserr.Backend("fscrypt storage directory is not commissioned", nil)
	}
	return nil, backend.ErrNotSupported("fscrypt LoadItems")
}

func (b *Backend) DeleteCollection(name string) error {
	return backend.ErrNotSupported("fscrypt DeleteCollection")
}
