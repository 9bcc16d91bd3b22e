// Package chainadapter - KeySource implementations
package chainadapter

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// MnemonicKeySource implements KeySource using a BIP39 mnemonic phrase.
//
// Security:
// - Private keys are derived on-demand and NOT stored
// - Mnemonic is stored in memory (caller responsible for secure handling)
// - Uses BIP32 hierarchical deterministic key derivation
type MnemonicKeySource struct {
	mnemonic string
	password string // Optional BIP39 passphrase (empty string if none)
}

// NewMnemonicKeySource creates a KeySource from a BIP39 mnemonic.
//
// Parameters:
// - mnemonic: BIP39 mnemonic phrase (12, 15, 18, 21, or 24 words)
// - password: Optional BIP39 passphrase (use "" for no passphrase)
//
// Returns error if mnemonic is invalid.
func NewMnemonicKeySource(mnemonic string, password string) (*MnemonicKeySource, error) {
	// Validate mnemonic
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, NewNonRetryableError(
			ErrCodeInvalidPath,
			"invalid BIP39 mnemonic",
			nil,
		)
	}

	return &MnemonicKeySource{
		mnemonic: mnemonic,
		password: password,
	}, nil
}

// Type returns the key source type
func (m *MnemonicKeySource) Type() KeySourceType {
	return KeySourceMnemonic
}

// GetPublicKey derives the public key for the given BIP44 path.
//
// Path format: m/44'/cointype'/account'/change/index
//
// Examples:
// - Bitcoin: m/44'/0'/0'/0/0
// - Ethereum: m/44'/60'/0'/0/0
//
// Returns compressed public key bytes (33 bytes for secp256k1)
func (m *MnemonicKeySource) GetPublicKey(path string) ([]byte, error) {
	// Convert mnemonic to seed
	seed := bip39.NewSeed(m.mnemonic, m.password)

	// Create master key
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, NewNonRetryableError(
			ErrCodeInvalidPath,
			"failed to create master key from seed",
			err,
		)
	}

	// Parse and derive path
	derivedKey, err := derivePath(masterKey, path)
	if err != nil {
		return nil, err
	}

	// Return compressed public key
	return derivedKey.PublicKey().Key, nil
}

// GetPrivateKey derives the private key for signing (used internally by signers).
// WARNING: This method exposes private key material and should only be used by trusted signers.
func (m *MnemonicKeySource) GetPrivateKey(path string) ([]byte, error) {
	seed := bip39.NewSeed(m.mnemonic, m.password)
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, NewNonRetryableError(
			ErrCodeInvalidPath,
			"failed to create master key from seed",
			err,
		)
	}

	derivedKey, err := derivePath(masterKey, path)
	if err != nil {
		return nil, err
	}

	return derivedKey.Key, nil
}

// GetEthereumPrivateKey derives an Ethereum-compatible private key.
// Returns *ecdsa.PrivateKey for use with go-ethereum's crypto functions.
func (m *MnemonicKeySource) GetEthereumPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	privateKeyBytes, err := m.GetPrivateKey(path)
	if err != nil {
		return nil, err
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, NewNonRetryableError(
			ErrCodeInvalidPath,
			"failed to convert private key to ECDSA",
			err,
		)
	}

	return privateKey, nil
}

// GetBitcoinPrivateKey derives a Bitcoin-compatible private key.
// Returns *btcec.PrivateKey for use with btcd's signing functions.
func (m *MnemonicKeySource) GetBitcoinPrivateKey(path string) (*btcec.PrivateKey, error) {
	privateKeyBytes, err := m.GetPrivateKey(path)
	if err != nil {
		return nil, err
	}

	privateKey, publicKey := btcec.PrivKeyFromBytes(privateKeyBytes)
	_ = publicKey // Suppress unused warning

	return privateKey, nil
}

// derivePath derives a BIP32 key from a master key given a BIP44 path.
//
// Path format: m/44'/cointype'/account'/change/index
// - m: master key (implicit)
// - 44': purpose (BIP44)
// - cointype': 0 for Bitcoin, 60 for Ethereum
// - account': account index (usually 0)
// - change: 0 for external, 1 for internal (change addresses)
// - index: address index (0, 1, 2, ...)
//
// Apostrophe (') indicates hardened derivation.
func derivePath(masterKey *bip32.Key, path string) (*bip32.Key, error) {
	// Parse path (e.g., "m/44'/0'/0'/0/0")
	indices, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	// Derive each level
	key := masterKey
	for i, index := range indices {
		derivedKey, err := key.NewChildKey(index)
		if err != nil {
			return nil, NewNonRetryableError(
				ErrCodeInvalidPath,
				fmt.Sprintf("failed to derive child key at level %d", i),
				err,
			)
		}
		key = derivedKey
	}

	return key, nil
}

// parsePath parses a BIP44 derivation path into child indices.
//
// Examples:
// - "m/44'/0'/0'/0/0" â†’ [0x8000002C, 0x80000000, 0x80000000, 0, 0]
// - "0/0" â†’ [0, 0]
//
// Apostrophe (') adds 0x80000000 to make it hardened.
func parsePath(path string) ([]uint32, error) {
	// Simple parser for BIP44 paths
	// Format: m/44'/0'/0'/0/0 or 0/0 (for xpub relative paths)

	if path == "" || path == "m" {
		return []uint32{}, nil
	}

	// Remove "m/" prefix if present
	if len(path) >= 2 && path[:2] == "m/" {
		path = path[2:]
	}

	// Split by "/"
	parts := []string{}
	current := ""
	for _, c := range path {
		if c == '/' {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
		} else {
			current += string(c)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}

	indices := make([]uint32, len(parts))
	for i, part := range parts {
		var index uint32
		hardened := false

		// Check for hardened marker (')
		if len(part) > 0 && part[len(part)-1] == '\'' {
			hardened = true
			part = part[:len(part)-1]
		}

		// Parse number
		var num uint32
		_, err := fmt.Sscanf(part, "%d", &num)
		if err != nil {
			return nil, NewNonRetryableError(
				ErrCodeInvalidPath,
				fmt.Sprintf("invalid path component: %s", part),
				err,
			)
		}

		if hardened {
			index = num + bip32.FirstHardenedChild
		} else {
			index = num
		}

		indices[i] = index
	}

	return indices, nil
}
