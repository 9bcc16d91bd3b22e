package api

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
)

// validateAddress checks that addr is well-formed for chain, adapted from
// the teacher's per-chain address derivation package
// (internal/services/address) but narrowed from key-derivation to format
// validation of an externally supplied address, and to only the two chains
// the bridge's adapters currently cover.
func validateAddress(chain, addr string) error {
	switch chain {
	case "ethereum":
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%q is not a valid ethereum address", addr)
		}
	case "bitcoin":
		if _, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err != nil {
			return fmt.Errorf("%q is not a valid bitcoin address: %w", addr, err)
		}
	default:
		return fmt.Errorf("no address format known for chain %q", chain)
	}
	return nil
}
