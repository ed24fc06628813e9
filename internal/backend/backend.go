// SPDX-License-Identifier: Apache-2.0

// Package backend defines the storage backend interface (C4): how
// collection metadata and sealed item secrets are read from and written to
// durable storage. Concrete backends live in subpackages (diskgcm, fscrypt,
// foreign).
package backend

import "github.com/tks-project/secretsd/internal/tkserr"

// ItemMetadata is the non-secret half of an item: everything that is safe
// to keep in the always-readable metadata file.
type ItemMetadata struct {
	Label       string            `json:"label"`
	Attributes  map[string]string `json:"attributes"`
	Created     uint64            `json:"created"`
	Modified    uint64            `json:"modified"`
	ContentType string            `json:"content_type"`
}

// CollectionMetadata is the full contents of a collection's metadata file.
// Salt and Iterations parameterize the PBKDF2 derivation of the collection
// master key from its passphrase; neither is secret on its own.
type CollectionMetadata struct {
	Name       string                  `json:"name"`
	Label      string                  `json:"label"`
	Created    uint64                  `json:"created"`
	Modified   uint64                  `json:"modified"`
	Salt       []byte                  `json:"salt"`
	Iterations int                     `json:"iterations"`
	Items      map[string]ItemMetadata `json:"items"`
}

// ItemSecret is one item's plaintext payload, as sealed in the items file.
type ItemSecret struct {
	Data        []byte
	ContentType string
}

// Backend is the storage contract every collection persistence strategy
// implements. Metadata is always readable without a key; item secrets
// require the collection's derived master key.
type Backend interface {
	// Kind names the backend implementation, e.g. "tks_gcm".
	Kind() string

	// ListCollections returns the names of every collection with metadata
	// currently on disk.
	ListCollections() ([]string, error)

	// LoadMetadata reads a collection's metadata file.
	LoadMetadata(name string) (CollectionMetadata, error)

	// SaveMetadata writes (or overwrites) a collection's metadata file.
	SaveMetadata(meta CollectionMetadata) error

	// SaveItems seals and writes a collection's item secrets under key.
	SaveItems(meta CollectionMetadata, items map[string]ItemSecret, key []byte) error

	// LoadItems opens and authenticates a collection's sealed item secrets
	// under key. A wrong key, or tampered ciphertext, returns a CryptoError.
	LoadItems(meta CollectionMetadata, key []byte) (map[string]ItemSecret, error)

	// DeleteCollection removes a collection's metadata and items files.
	DeleteCollection(name string) error
}

// ErrNotSupported builds the error a backend variant returns for an
// operation its interface intentionally leaves incomplete (read-only
// foreign-format adapters, experimental backends not yet commissioned).
func ErrNotSupported(operation string) error {
	return tkserr.NotSupported(operation + " is not supported by this backend")
}
