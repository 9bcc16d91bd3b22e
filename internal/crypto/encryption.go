// Package crypto provides password-based encryption at rest for operator
// secrets (provider API credentials), adapted from the teacher's
// Argon2id + AES-256-GCM mnemonic encryption (internal/services/crypto) to
// encrypt an arbitrary byte blob instead of a BIP-39 phrase.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time    = 4
	argon2Memory  = 256 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
	aesNonceLen   = 12
)

// sealed is the in-memory form of an encrypted blob; Encrypt/Decrypt pack
// and unpack it to the wire format below.
type sealed struct {
	salt       []byte
	nonce      []byte
	ciphertext []byte
}

// clearBytes zeros b so sensitive key material doesn't linger in memory
// past its use.
func clearBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// Encrypt seals data under password with Argon2id-derived AES-256-GCM,
// returning a self-describing blob Decrypt can open given the same
// password. Used to persist price-provider API credentials at rest.
func Encrypt(data []byte, password string) ([]byte, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}

	key := deriveKey(password, salt)
	defer clearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	nonce := make([]byte, aesNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, data, nil)
	return serialize(sealed{salt: salt, nonce: nonce, ciphertext: ciphertext}), nil
}

// Decrypt opens a blob produced by Encrypt under the same password.
func Decrypt(blob []byte, password string) ([]byte, error) {
	s, err := deserialize(blob)
	if err != nil {
		return nil, err
	}

	key := deriveKey(password, s.salt)
	defer clearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, s.nonce, s.ciphertext, nil)
	if err != nil {
		return nil, errors.New("crypto: authentication failed: wrong password or corrupted data")
	}
	return plaintext, nil
}

// serialize packs a sealed blob as [saltLen:4][salt][nonceLen:4][nonce][ciphertext].
func serialize(s sealed) []byte {
	out := make([]byte, 4+len(s.salt)+4+len(s.nonce)+len(s.ciphertext))
	offset := 0
	binary.BigEndian.PutUint32(out[offset:], uint32(len(s.salt)))
	offset += 4
	offset += copy(out[offset:], s.salt)
	binary.BigEndian.PutUint32(out[offset:], uint32(len(s.nonce)))
	offset += 4
	offset += copy(out[offset:], s.nonce)
	copy(out[offset:], s.ciphertext)
	return out
}

func deserialize(data []byte) (sealed, error) {
	if len(data) < 8 {
		return sealed{}, errors.New("crypto: encrypted blob too short")
	}
	offset := 0
	saltLen := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	if uint32(len(data)-offset) < saltLen {
		return sealed{}, errors.New("crypto: truncated salt")
	}
	salt := data[offset : offset+int(saltLen)]
	offset += int(saltLen)

	if len(data)-offset < 4 {
		return sealed{}, errors.New("crypto: truncated nonce length")
	}
	nonceLen := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	if uint32(len(data)-offset) < nonceLen {
		return sealed{}, errors.New("crypto: truncated nonce")
	}
	nonce := data[offset : offset+int(nonceLen)]
	offset += int(nonceLen)

	ciphertext := data[offset:]
	return sealed{salt: salt, nonce: nonce, ciphertext: ciphertext}, nil
}
