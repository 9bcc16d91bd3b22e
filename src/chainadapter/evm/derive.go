package evm

import (
	"fmt"
	"regexp"
	"strconv"
)

// bip44Pattern matches m/44'/cointype'/account'/change/index.
var bip44Pattern = regexp.MustCompile(`^m/44'/(\d+)'/(\d+)'/([01])/(\d+)$`)

// validateBIP44Path validates a derivation path against the expected coin
// type (60 for Ethereum and EVM-compatible chains).
func validateBIP44Path(path string, expectedCoinType int) error {
	matches := bip44Pattern.FindStringSubmatch(path)
	if matches == nil {
		return fmt.Errorf("path must follow BIP44 format: m/44'/cointype'/account'/change/index")
	}

	coinType, err := strconv.Atoi(matches[1])
	if err != nil {
		return fmt.Errorf("invalid coin type: %s", matches[1])
	}
	if coinType != expectedCoinType {
		return fmt.Errorf("coin type mismatch: expected %d, got %d", expectedCoinType, coinType)
	}
	if _, err := strconv.Atoi(matches[2]); err != nil {
		return fmt.Errorf("invalid account: %s", matches[2])
	}
	if _, err := strconv.Atoi(matches[4]); err != nil {
		return fmt.Errorf("invalid index: %s", matches[4])
	}
	return nil
}
