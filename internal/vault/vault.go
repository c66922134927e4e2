// Package vault decrypts per-user upstream secrets.
//
// Secrets are sealed with XChaCha20-Poly1305. Each key version maps to a
// configured master secret from which the AEAD key is derived with
// HKDF-SHA256, so old ciphertexts stay readable after a key rotation.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrUnknownKeyVersion is returned when no key is configured for a version.
	ErrUnknownKeyVersion = errors.New("vault: unknown key version")
	// ErrDecrypt is returned when a ciphertext fails authentication.
	ErrDecrypt = errors.New("vault: decryption failed")
)

const minMasterLen = 16

// Vault holds one AEAD per key version.
type Vault struct {
	aeads   map[int]cipher.AEAD
	current int
}

// New derives AEADs for every master secret. The highest version is used
// for sealing.
func New(masters map[int][]byte) (*Vault, error) {
	if len(masters) == 0 {
		return nil, errors.New("vault: no keys configured")
	}
	v := &Vault{aeads: make(map[int]cipher.AEAD, len(masters))}
	for version, master := range masters {
		if len(master) < minMasterLen {
			return nil, fmt.Errorf("vault: key version %d shorter than %d bytes", version, minMasterLen)
		}
		key, err := deriveKey(master, version)
		if err != nil {
			return nil, err
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("vault: key version %d: %w", version, err)
		}
		v.aeads[version] = aead
		if version > v.current {
			v.current = version
		}
	}
	return v, nil
}

func deriveKey(master []byte, version int) ([]byte, error) {
	h := hkdf.New(sha256.New, master, nil, []byte("timetable-credential-v"+strconv.Itoa(version)))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("vault: derive key version %d: %w", version, err)
	}
	return key, nil
}

// Open decrypts a secret sealed under keyVersion. Callers should zero the
// returned slice once it is no longer needed.
func (v *Vault) Open(ciphertext, nonce []byte, keyVersion int) ([]byte, error) {
	aead, ok := v.aeads[keyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKeyVersion, keyVersion)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce length %d", ErrDecrypt, len(nonce))
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Seal encrypts plaintext under the newest key version.
func (v *Vault) Seal(plaintext []byte) (ciphertext, nonce []byte, keyVersion int, err error) {
	aead := v.aeads[v.current]
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, 0, fmt.Errorf("vault: nonce: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, nil), nonce, v.current, nil
}

// ParseKeys reads "version:base64,version:base64" as used by
// APP_CREDENTIAL_KEYS.
func ParseKeys(list string) (map[int][]byte, error) {
	keys := make(map[int][]byte)
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		rawVersion, encoded, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("vault: key %q: expected version:base64", item)
		}
		version, err := strconv.Atoi(strings.TrimSpace(rawVersion))
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("vault: key %q: invalid version", item)
		}
		if _, dup := keys[version]; dup {
			return nil, fmt.Errorf("vault: duplicate key version %d", version)
		}
		master, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return nil, fmt.Errorf("vault: key version %d: %w", version, err)
		}
		keys[version] = master
	}
	if len(keys) == 0 {
		return nil, errors.New("vault: no keys configured")
	}
	return keys, nil
}

// Zero overwrites b.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
