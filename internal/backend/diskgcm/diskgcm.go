// SPDX-License-Identifier: Apache-2.0

// Package diskgcm implements the "tks_gcm" storage backend: collection
// metadata is kept in cleartext JSON (labels and attributes are not
// secret), and each collection's item secrets are sealed with AES-256-GCM
// under a key derived from the collection's passphrase via PBKDF2. The
// additional authenticated data binds the ciphertext to the metadata file's
// exact bytes and to both file paths, so swapping either file out from
// under the daemon is detected rather than silently accepted.
package diskgcm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tks-project/secretsd/internal/backend"
	"github.com/tks-project/secretsd/internal/tkserr"
)

// Kind is the storage.kind value selecting this backend.
const Kind = "tks_gcm"

// Backend implements backend.Backend by sealing item secrets on the local
// filesystem under root.
type Backend struct {
	root string
}

// New returns a Backend rooted at dir. dir/metadata and dir/items are
// created if absent.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Join(dir, "metadata"), 0o700); err != nil {
		return nil, tkserr.Backend("create metadata directory", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "items"), 0o700); err != nil {
		return nil, tkserr.Backend("create items directory", err)
	}
	return &Backend{root: dir}, nil
}

func (b *Backend) Kind() string { return Kind }

func (b *Backend) metadataPath(name string) string {
	return filepath.Join(b.root, "metadata", name+".json")
}

func (b *Backend) itemsPath(name string) string {
	return filepath.Join(b.root, "items", name+".bin")
}

// ListCollections enumerates every collection with a metadata file on disk.
func (b *Backend) ListCollections() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, "metadata"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, tkserr.Backend("list metadata directory", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const ext = ".json"
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

func (b *Backend) LoadMetadata(name string) (backend.CollectionMetadata, error) {
	raw, err := os.ReadFile(b.metadataPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return backend.CollectionMetadata{}, tkserr.NotFound(name)
		}
		return backend.CollectionMetadata{}, tkserr.Backend("read metadata file", err)
	}
	var meta backend.CollectionMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return backend.CollectionMetadata{}, tkserr.Backend("parse metadata file", err)
	}
	return meta, nil
}

func (b *Backend) SaveMetadata(meta backend.CollectionMetadata) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return tkserr.Backend("marshal metadata", err)
	}
	return atomicWrite(b.metadataPath(meta.Name), raw)
}

// associatedData binds sealed item bytes to the exact metadata this backend
// has on disk plus both file paths, so an attacker who swaps either file
// for another collection's cannot get it to decrypt.
func (b *Backend) associatedData(meta backend.CollectionMetadata) ([]byte, error) {
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, tkserr.Backend("marshal metadata for AEAD binding", err)
	}
	ad := append([]byte(nil), metaJSON...)
	ad = append(ad, []byte(b.metadataPath(meta.Name))...)
	ad = append(ad, []byte(b.itemsPath(meta.Name))...)
	return ad, nil
}

func (b *Backend) SaveItems(meta backend.CollectionMetadata, items map[string]backend.ItemSecret, key []byte) error {
	plaintext, err := json.Marshal(items)
	if err != nil {
		return tkserr.Backend("marshal item secrets", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return tkserr.Crypto("construct AES-256 cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return tkserr.Crypto("construct AES-GCM", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return tkserr.Crypto("generate GCM nonce", err)
	}
	ad, err := b.associatedData(meta)
	if err != nil {
		return err
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, ad)

	return atomicWrite(b.itemsPath(meta.Name), sealed)
}

func (b *Backend) LoadItems(meta backend.CollectionMetadata, key []byte) (map[string]backend.ItemSecret, error) {
	sealed, err := os.ReadFile(b.itemsPath(meta.Name))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]backend.ItemSecret{}, nil
		}
		return nil, tkserr.Backend("read items file", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, tkserr.Crypto("construct AES-256 cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, tkserr.Crypto("construct AES-GCM", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, tkserr.Crypto("items file shorter than GCM nonce", nil)
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	ad, err := b.associatedData(meta)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, tkserr.Crypto("authenticate items file (wrong passphrase or tampered data)", err)
	}

	var items map[string]backend.ItemSecret
	if err := json.Unmarshal(plaintext, &items); err != nil {
		return nil, tkserr.Backend("parse decrypted item secrets", err)
	}
	return items, nil
}

func (b *Backend) DeleteCollection(name string) error {
	if err := os.Remove(b.metadataPath(name)); err != nil && !os.IsNotExist(err) {
		return tkserr.Backend("remove metadata file", err)
	}
	if err := os.Remove(b.itemsPath(name)); err != nil && !os.IsNotExist(err) {
		return tkserr.Backend("remove items file", err)
	}
	return nil
}

// atomicWrite writes data to a sibling temp file and renames it over path,
// so a crash mid-write never leaves a half-written file in place.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return tkserr.Backend("open temp file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return tkserr.Backend("write temp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return tkserr.Backend("sync temp file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return tkserr.Backend("close temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return tkserr.Backend("rename temp file into place", err)
	}
	return nil
}
