package evm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeLockData_RoundTrip(t *testing.T) {
	tests := []struct {
		name          string
		quantumHash   [32]byte
		destChain     string
		destRecipient string
	}{
		{
			name:          "bitcoin destination",
			quantumHash:   [32]byte{1, 2, 3, 4},
			destChain:     "bitcoin",
			destRecipient: "bc1qexampleaddress000000000000000000000",
		},
		{
			name:          "empty recipient",
			quantumHash:   [32]byte{0xff},
			destChain:     "ethereum-sepolia",
			destRecipient: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encodeLockData(tt.quantumHash, tt.destChain, tt.destRecipient)

			gotHash, gotChain, gotRecipient, err := decodeLockData(data)
			require.NoError(t, err)
			assert.Equal(t, tt.quantumHash, gotHash)
			assert.Equal(t, tt.destChain, gotChain)
			assert.Equal(t, tt.destRecipient, gotRecipient)
		})
	}
}

func TestDecodeLockData_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{
			name:    "too short",
			data:    make([]byte, 10),
			wantErr: "too short",
		},
		{
			name:    "missing separator",
			data:    append(make([]byte, 32), []byte("nochainsep")...),
			wantErr: "separator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := decodeLockData(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEncodeUnlockData(t *testing.T) {
	quantumHash := [32]byte{9, 9, 9}
	data := encodeUnlockData(quantumHash, "proof-123")

	assert.Equal(t, quantumHash[:], data[:32])
	assert.Equal(t, "proof-123", string(data[32:]))
}

func TestIsValidAddress(t *testing.T) {
	b := newTxBuilder(1)

	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{"valid checksummed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"missing prefix", "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"too short", "0x1234", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, b.isValidAddress(tt.addr))
		})
	}
}
