package btc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/arcbridge/chainadapter"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var bip44Pattern = regexp.MustCompile(`^m/44'/(\d+)'/(\d+)'/(\d+)/(\d+)$`)

// validateBIP44Path checks that path is a well-formed BIP44 path for the
// expected coin type (0 for Bitcoin mainnet, 1 for testnet/regtest).
func validateBIP44Path(path string, expectedCoinType int) error {
	matches := bip44Pattern.FindStringSubmatch(path)
	if matches == nil {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath,
			fmt.Sprintf("path %q does not match BIP44 format m/44'/cointype'/account'/change/index", path), nil)
	}

	coinType, err := strconv.Atoi(matches[1])
	if err != nil {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath, "invalid coin type", err)
	}
	if coinType != expectedCoinType {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath,
			fmt.Sprintf("coin type %d does not match expected %d", coinType, expectedCoinType), nil)
	}

	change := matches[3]
	if change != "0" && change != "1" {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath,
			fmt.Sprintf("change must be 0 or 1, got %s", change), nil)
	}

	return nil
}

// pubKeyToP2WPKHAddress derives the bech32 P2WPKH address for a compressed
// secp256k1 public key.
func pubKeyToP2WPKHAddress(pubKeyBytes []byte, network *chaincfg.Params) (string, error) {
	if len(pubKeyBytes) != 33 || (pubKeyBytes[0] != 0x02 && pubKeyBytes[0] != 0x03) {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress,
			"public key must be 33-byte compressed form", nil)
	}
	if _, err := btcec.ParsePubKey(pubKeyBytes); err != nil {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress,
			"invalid public key", err)
	}

	hash := btcutil.Hash160(pubKeyBytes)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, network)
	if err != nil {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress,
			"failed to derive P2WPKH address", err)
	}
	return addr.EncodeAddress(), nil
}

func networkForChainID(chainID string) *chaincfg.Params {
	if strings.Contains(chainID, "testnet") {
		return &chaincfg.TestNet3Params
	}
	if strings.Contains(chainID, "regtest") {
		return &chaincfg.RegressionNetParams
	}
	return &chaincfg.MainNetParams
}
