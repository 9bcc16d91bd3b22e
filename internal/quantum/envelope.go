package quantum

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"

	"github.com/arcbridge/bridge-core/internal/bridgeerr"
)

const hkdfInfo = "arcbridge/aead-key/v1"

// Sealed is the wire form of an envelope: everything needed to decapsulate
// it on the other chain, plus the quantum_hash both chains bind their
// transactions to.
type Sealed struct {
	KeyID          string
	KemCiphertext  []byte
	Nonce          []byte
	AEADCiphertext []byte
	IntegrityTag   []byte
	QuantumHash    [32]byte
}

// Encapsulate seals a CanonicalDescriptor under the manager's active key.
//
// Shared secret -> HKDF-SHA-256 derives the AEAD key -> AES-256-GCM seals
// the descriptor -> an HMAC-SHA-256 tag binds descriptor, KEM ciphertext and
// AEAD ciphertext together -> quantum_hash is the SHA-256 of descriptor,
// KEM ciphertext and the integrity tag. The shared secret and derived AEAD
// key are wiped before returning.
func Encapsulate(descriptor CanonicalDescriptor, km *KeyManager) (*Sealed, error) {
	key := km.Active()
	ek := key.EncapsulationKey()

	sharedSecret, kemCiphertext := ek.Encapsulate()
	defer clearBytes(sharedSecret)

	descriptorBytes := descriptor.Encode()

	aeadKey, err := deriveAEADKey(sharedSecret, kemCiphertext)
	if err != nil {
		return nil, err
	}
	defer clearBytes(aeadKey)

	gcm, err := newGCM(aeadKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("quantum: generate nonce: %w", err)
	}

	aeadCiphertext := gcm.Seal(nil, nonce, descriptorBytes, nil)
	integrityTag := integrityTagFor(aeadKey, descriptorBytes, kemCiphertext, aeadCiphertext)
	quantumHash := sha256.Sum256(concat(descriptorBytes, kemCiphertext, integrityTag))

	return &Sealed{
		KeyID:          key.ID,
		KemCiphertext:  kemCiphertext,
		Nonce:          nonce,
		AEADCiphertext: aeadCiphertext,
		IntegrityTag:   integrityTag,
		QuantumHash:    quantumHash,
	}, nil
}

// Decapsulate opens a Sealed envelope, verifying the integrity tag and the
// quantum_hash before returning the descriptor. Any failure is reported as
// a bridgeerr.Error classified NonRetryable: a bad envelope is never
// transiently bad, resubmitting the same bytes will not fix it.
func Decapsulate(sealed *Sealed, km *KeyManager) (CanonicalDescriptor, error) {
	var zero CanonicalDescriptor

	key, ok := km.Lookup(sealed.KeyID)
	if !ok || key.decap == nil {
		return zero, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeDecapsulationFailed,
			fmt.Sprintf("unknown or retired key id %q", sealed.KeyID), nil)
	}

	sharedSecret, err := key.decap.Decapsulate(sealed.KemCiphertext)
	if err != nil {
		return zero, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeDecapsulationFailed,
			"ML-KEM decapsulation failed", err)
	}
	defer clearBytes(sharedSecret)

	aeadKey, err := deriveAEADKey(sharedSecret, sealed.KemCiphertext)
	if err != nil {
		return zero, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeDecapsulationFailed,
			"deriving AEAD key failed", err)
	}
	defer clearBytes(aeadKey)

	gcm, err := newGCM(aeadKey)
	if err != nil {
		return zero, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeDecapsulationFailed,
			"constructing AEAD cipher failed", err)
	}

	descriptorBytes, err := gcm.Open(nil, sealed.Nonce, sealed.AEADCiphertext, nil)
	if err != nil {
		return zero, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeIntegrityCheckFailed,
			"AEAD authentication failed", err)
	}

	expectedTag := integrityTagFor(aeadKey, descriptorBytes, sealed.KemCiphertext, sealed.AEADCiphertext)
	if !hmac.Equal(expectedTag, sealed.IntegrityTag) {
		return zero, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeIntegrityCheckFailed,
			"integrity tag mismatch", nil)
	}

	expectedHash := sha256.Sum256(concat(descriptorBytes, sealed.KemCiphertext, sealed.IntegrityTag))
	if expectedHash != sealed.QuantumHash {
		return zero, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeQuantumHashMismatch,
			"quantum_hash does not match recomputed value", nil)
	}

	descriptor, err := DecodeCanonicalDescriptor(descriptorBytes)
	if err != nil {
		return zero, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeDecapsulationFailed,
			"decoding canonical descriptor failed", err)
	}
	return descriptor, nil
}

// deriveAEADKey expands the KEM shared secret into a 32-byte AES-256-GCM
// key. The salt is the hash of the KEM ciphertext rather than of the
// descriptor: the decapsulating side must derive the same key before it has
// recovered the descriptor, so the descriptor itself cannot be an input.
func deriveAEADKey(sharedSecret, kemCiphertext []byte) ([]byte, error) {
	salt := sha256.Sum256(kemCiphertext)
	reader := hkdf.New(sha256.New, sharedSecret, salt[:], []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("quantum: derive AEAD key: %w", err)
	}
	return key, nil
}

func newGCM(aeadKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(aeadKey)
	if err != nil {
		return nil, fmt.Errorf("quantum: construct AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("quantum: construct GCM mode: %w", err)
	}
	return gcm, nil
}

func integrityTagFor(aeadKey, descriptorBytes, kemCiphertext, aeadCiphertext []byte) []byte {
	mac := hmac.New(sha256.New, aeadKey)
	mac.Write(descriptorBytes)
	mac.Write(kemCiphertext)
	mac.Write(aeadCiphertext)
	return mac.Sum(nil)
}

func concat(parts ...[]byte) []byte {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// clearBytes zeroes key material in place. runtime.KeepAlive prevents the
// compiler from eliding the zeroing as a dead store once b is otherwise
// unused.
func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
