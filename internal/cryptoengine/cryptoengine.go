// SPDX-License-Identifier: Apache-2.0

// Package cryptoengine implements the transport and at-rest cryptographic
// primitives used throughout the daemon: ephemeral X25519 key agreement for
// the "dh-ietf1024-sha256-aes128-cbc-pkcs7" session algorithm, AES-128-CBC
// with PKCS7 padding for secret payloads, and PBKDF2-HMAC-SHA256 for
// deriving a collection's master key from a passphrase.
package cryptoengine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"runtime/secret"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/tks-project/secretsd/internal/tkserr"
)

// AlgorithmPlain and AlgorithmDH name the two session algorithms defined by
// the Secret Service specification. The DH name is historical; the
// implementation underneath is X25519, not classical modular-exponentiation
// Diffie-Hellman.
const (
	AlgorithmPlain = "plain"
	AlgorithmDH    = "dh-ietf1024-sha256-aes128-cbc-pkcs7"
)

// X25519KeySize is the fixed size in bytes of an X25519 public or private key.
const X25519KeySize = 32

// MinPBKDF2Iterations is the minimum iteration count accepted when deriving
// a collection master key. Callers configuring fewer iterations than this
// get rejected with a ConfigurationError before any key is derived.
const MinPBKDF2Iterations = 200_000

// KeyPair holds an ephemeral X25519 private/public pair. Private is zeroed
// by Wipe; it must not be retained beyond the single OpenSession exchange
// that consumes it.
type KeyPair struct {
	Private [X25519KeySize]byte
	Public  [X25519KeySize]byte
}

// GenerateKeyPair produces a fresh ephemeral X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, tkserr.Crypto("generate X25519 private key", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, tkserr.Crypto("derive X25519 public key", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Wipe zeroes the private scalar. Safe to call more than once.
func (kp *KeyPair) Wipe() {
	if kp == nil {
		return
	}
	secret.Do(func() {
		clear(kp.Private[:])
	})
}

// DeriveSessionKey computes the X25519 shared secret with peerPublic and
// runs it through HKDF-SHA256 with an empty salt and empty info, returning
// the first 16 bytes as the AES-128 session key. This matches the
// "dh-ietf1024-sha256-aes128-cbc-pkcs7" algorithm's key schedule.
func DeriveSessionKey(priv *KeyPair, peerPublic []byte) (aesKey []byte, err error) {
	if len(peerPublic) != X25519KeySize {
		return nil, tkserr.Parameter("peer public key must be 32 bytes")
	}
	shared, err := curve25519.X25519(priv.Private[:], peerPublic)
	if err != nil {
		return nil, tkserr.Crypto("X25519 key agreement", err)
	}
	defer secret.Do(func() { clear(shared) })

	kdf := hkdf.New(sha256.New, shared, nil, nil)
	aesKey = make([]byte, 16)
	if _, err := io.ReadFull(kdf, aesKey); err != nil {
		return nil, tkserr.Crypto("HKDF-SHA256 key derivation", err)
	}
	return aesKey, nil
}

// DerivePassphraseKey derives a 256-bit AES key for sealing a collection's
// items file from a user-supplied passphrase and a per-collection random
// salt, using PBKDF2-HMAC-SHA256. iterations must be at least
// MinPBKDF2Iterations.
func DerivePassphraseKey(passphrase []byte, salt []byte, iterations int) ([]byte, error) {
	if iterations < MinPBKDF2Iterations {
		return nil, tkserr.Configuration("pbkdf2 iteration count below minimum", nil)
	}
	return pbkdf2.Key(passphrase, salt, iterations, 32, sha256.New), nil
}

// EncryptCBC encrypts plaintext with AES-128-CBC and PKCS7 padding under a
// random IV. Returns (iv, ciphertext).
func EncryptCBC(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, tkserr.Crypto("construct AES cipher", err)
	}
	iv = make([]byte, aes.BlockSize)
	if _, err = rand.Read(iv); err != nil {
		return nil, nil, tkserr.Crypto("generate IV", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return iv, ciphertext, nil
}

// DecryptCBC decrypts AES-128-CBC ciphertext (PKCS7 padded) under the given
// key and IV.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, tkserr.Crypto("ciphertext length is not a multiple of the AES block size", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, tkserr.Crypto("construct AES cipher", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, tkserr.Parameter("IV must be 16 bytes")
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	out, err := pkcs7Unpad(plaintext)
	if err != nil {
		return nil, tkserr.Crypto("remove PKCS7 padding", err)
	}
	return out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padding)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padding)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, tkserr.Crypto("empty padded data", nil)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, tkserr.Crypto("invalid PKCS7 padding", nil)
	}
	for i := len(data) - padding; i < len(data); i++ {
		if data[i] != byte(padding) {
			return nil, tkserr.Crypto("invalid PKCS7 padding byte", nil)
		}
	}
	return data[:len(data)-padding], nil
}
