package btc

import (
	"crypto/sha256"

	"github.com/arcbridge/chainadapter"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// signer wraps a secp256k1 private key controlling one P2WPKH address.
type signer struct {
	privateKey *btcec.PrivateKey
	address    string
	network    *chaincfg.Params
}

// newSigner derives the P2WPKH address for privKeyBytes on the given network.
func newSigner(privKeyBytes []byte, network *chaincfg.Params) (*signer, error) {
	if len(privKeyBytes) != 32 {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature,
			"private key must be 32 bytes", nil)
	}
	privateKey, pubKey := btcec.PrivKeyFromBytes(privKeyBytes)

	addr, err := pubKeyToP2WPKHAddress(pubKey.SerializeCompressed(), network)
	if err != nil {
		return nil, err
	}

	return &signer{privateKey: privateKey, address: addr, network: network}, nil
}

func (s *signer) Address() string { return s.address }

func (s *signer) PublicKey() []byte {
	return s.privateKey.PubKey().SerializeCompressed()
}

// signHash signs, as is and without hashing it again, a sighash computed by
// the transaction builder for one input's witness program.
func (s *signer) signHash(sigHash []byte) ([]byte, error) {
	sig := ecdsa.Sign(s.privateKey, sigHash)
	return sig.Serialize(), nil
}

// verifySignature checks a DER signature against a compressed public key and
// the single SHA-256 digest of payload.
func verifySignature(payload, signature, pubKeyBytes []byte) (bool, error) {
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature,
			"invalid public key", err)
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature,
			"invalid DER signature", err)
	}
	hash := sha256.Sum256(payload)
	return sig.Verify(hash[:], pubKey), nil
}

func addressForPubKey(pubKeyBytes []byte, network *chaincfg.Params) (btcutil.Address, error) {
	hash := btcutil.Hash160(pubKeyBytes)
	return btcutil.NewAddressWitnessPubKeyHash(hash, network)
}
