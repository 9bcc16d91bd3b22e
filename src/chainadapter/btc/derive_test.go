package btc

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBIP44Path(t *testing.T) {
	tests := []struct {
		name             string
		path             string
		expectedCoinType int
		expectError      bool
	}{
		{"valid bitcoin mainnet path", "m/44'/0'/0'/0/0", 0, false},
		{"valid bitcoin testnet path", "m/44'/1'/0'/1/3", 1, false},
		{"wrong coin type", "m/44'/60'/0'/0/0", 0, true},
		{"malformed path", "m/44/0/0/0/0", 0, true},
		{"invalid change", "m/44'/0'/0'/2/0", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBIP44Path(tt.path, tt.expectedCoinType)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPubKeyToP2WPKHAddress(t *testing.T) {
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	compressed := privKey.PubKey().SerializeCompressed()

	tests := []struct {
		name        string
		pubKey      []byte
		network     *chaincfg.Params
		expectError bool
		prefix      string
	}{
		{"mainnet address", compressed, &chaincfg.MainNetParams, false, "bc1"},
		{"testnet address", compressed, &chaincfg.TestNet3Params, false, "tb1"},
		{"invalid length", compressed[:20], &chaincfg.MainNetParams, true, ""},
		{"invalid prefix byte", append([]byte{0x01}, compressed[1:]...), &chaincfg.MainNetParams, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := pubKeyToP2WPKHAddress(tt.pubKey, tt.network)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, addr, tt.prefix)
		})
	}
}

func TestPubKeyToP2WPKHAddress_Deterministic(t *testing.T) {
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	compressed := privKey.PubKey().SerializeCompressed()

	addr1, err := pubKeyToP2WPKHAddress(compressed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	addr2, err := pubKeyToP2WPKHAddress(compressed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
}

func TestNetworkForChainID(t *testing.T) {
	assert.Equal(t, &chaincfg.MainNetParams, networkForChainID("bitcoin"))
	assert.Equal(t, &chaincfg.TestNet3Params, networkForChainID("bitcoin-testnet"))
	assert.Equal(t, &chaincfg.RegressionNetParams, networkForChainID("bitcoin-regtest"))
}
