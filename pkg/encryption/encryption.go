// Package encryption seals archive data sections with XChaCha20-Poly1305
// under a key derived from a passphrase.
//
// The passphrase never reaches the AEAD directly: DeriveKey stretches it
// with Argon2id into a 32-byte key held in a secret.Buffer. Every sealed
// section uses a fresh random 24-byte nonce, which the archive stores in the
// clear next to the ciphertext. The nonce is independent of the passphrase.
package encryption

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"lusl/pkg/secret"
)

// KeySize is the size in bytes of a derived key.
const KeySize = chacha20poly1305.KeySize

// NonceSize is the size in bytes of the nonce stored in an archive.
const NonceSize = chacha20poly1305.NonceSizeX

// Overhead is the authentication tag length appended to every ciphertext.
const Overhead = chacha20poly1305.Overhead

// keySalt is the Argon2id salt. It is a format constant: the archive layout
// has no salt field, so the salt only separates this key derivation from
// any other use of the same passphrase. Changing it makes every existing
// encrypted archive undecryptable.
var keySalt = []byte("lusl.archive.key.v1")

var (
	// ErrAuthentication is returned when the tag does not verify: wrong
	// passphrase, tampered ciphertext, nonce or associated data.
	ErrAuthentication = errors.New("message authentication failed")

	// ErrTruncated is returned when a ciphertext is too short to hold a tag.
	ErrTruncated = errors.New("ciphertext shorter than authentication tag")
)

// Nonce is the per-archive AEAD nonce.
type Nonce [NonceSize]byte

// KeyDerivation holds the Argon2id cost parameters.
type KeyDerivation struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultKeyDerivation uses the IDKey parameters recommended by
// golang.org/x/crypto/argon2: one pass over 64 MiB.
var DefaultKeyDerivation = KeyDerivation{
	Time:      1,
	MemoryKiB: 64 * 1024,
	Threads:   4,
}

// DeriveKey derives the archive key for passphrase with the default
// parameters. The returned Buffer must be closed by the caller.
func DeriveKey(passphrase string) (*secret.Buffer, error) {
	return DefaultKeyDerivation.DeriveKey(passphrase)
}

// DeriveKey derives the archive key for passphrase. The same passphrase
// and parameters always produce the same key.
func (kd KeyDerivation) DeriveKey(passphrase string) (*secret.Buffer, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	if kd.Time == 0 || kd.MemoryKiB == 0 || kd.Threads == 0 {
		return nil, fmt.Errorf("invalid key derivation parameters %+v", kd)
	}

	key := argon2.IDKey([]byte(passphrase), keySalt, kd.Time, kd.MemoryKiB, kd.Threads, KeySize)
	// NewFromBytes copies into protected memory and zeroes key.
	buffer, err := secret.NewFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("storing derived key: %w", err)
	}
	return buffer, nil
}

// NewNonce returns a fresh random nonce.
func NewNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return Nonce{}, fmt.Errorf("generating random nonce: %w", err)
	}
	return nonce, nil
}

// Seal encrypts plaintext and returns ciphertext with the tag appended. The
// associated data is authenticated but not encrypted.
//
// The key is borrowed and NOT closed.
func Seal(key *secret.Buffer, nonce Nonce, plaintext, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return aead.Seal(make([]byte, 0, len(plaintext)+Overhead), nonce[:], plaintext, associatedData), nil
}

// Open authenticates and decrypts a ciphertext produced by Seal. On any
// failure no plaintext is returned.
//
// The key is borrowed and NOT closed.
func Open(key *secret.Buffer, nonce Nonce, ciphertext, associatedData []byte) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, fmt.Errorf("ciphertext is %d bytes, minimum is %d: %w", len(ciphertext), Overhead, ErrTruncated)
	}

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, associatedData)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
