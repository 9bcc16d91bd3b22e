package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// signer signs lock/unlock transactions with ECDSA secp256k1, the key
// material supplied by a chainadapter.KeySource (HD-derived or otherwise).
type signer struct {
	privateKey *ecdsa.PrivateKey
	address    string
	chainID    *big.Int
}

func newSigner(privKeyBytes []byte, chainID int64) (*signer, error) {
	if len(privKeyBytes) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privKeyBytes))
	}
	privKey, err := crypto.ToECDSA(privKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	pubKeyECDSA, ok := privKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}
	address := crypto.PubkeyToAddress(*pubKeyECDSA)

	return &signer{
		privateKey: privKey,
		address:    address.Hex(),
		chainID:    big.NewInt(chainID),
	}, nil
}

func (s *signer) Address() string {
	return s.address
}

// signTx signs a go-ethereum EIP-1559 transaction under the London signer
// for this chain ID.
func (s *signer) signTx(tx *types.Transaction) (*types.Transaction, error) {
	londonSigner := types.NewLondonSigner(s.chainID)
	signedTx, err := types.SignTx(tx, londonSigner, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("transaction signing failed: %w", err)
	}
	return signedTx, nil
}

// verifySignature recovers the signer address from a signed hash and
// compares it against the expected address. Nothing in the adapter calls it;
// SubscribeEvents does not check the origin of the logs it decodes.
func verifySignature(hash []byte, signature []byte, address string) (bool, error) {
	if len(hash) != 32 {
		return false, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	if len(signature) != 65 {
		return false, fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}
	sigCopy := make([]byte, 65)
	copy(sigCopy, signature)
	if sigCopy[64] >= 35 {
		sigCopy[64] = (sigCopy[64] - 35) % 2
	} else if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}

	pubKeyBytes, err := crypto.Ecrecover(hash, sigCopy)
	if err != nil {
		return false, fmt.Errorf("public key recovery failed: %w", err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("invalid public key: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	return recovered == common.HexToAddress(address), nil
}
