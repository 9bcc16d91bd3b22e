package quantum

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDescriptor() CanonicalDescriptor {
	return CanonicalDescriptor{
		TransferID:   "xfer-1",
		SourceChain:  "ethereum",
		DestChain:    "bitcoin",
		SourceAsset:  "USDC",
		DestAsset:    "BTC",
		AmountSource: big.NewInt(1_000_000),
		AmountDest:   big.NewInt(1500),
		Sender:       "0xabc",
		Recipient:    "bc1qxyz",
		IssuedAtUnix: 1_800_000_000,
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	d := sampleDescriptor()
	encoded := d.Encode()

	decoded, err := DecodeCanonicalDescriptor(encoded)
	require.NoError(t, err)
	assert.Equal(t, d.TransferID, decoded.TransferID)
	assert.Equal(t, d.SourceChain, decoded.SourceChain)
	assert.Equal(t, d.DestChain, decoded.DestChain)
	assert.Equal(t, d.SourceAsset, decoded.SourceAsset)
	assert.Equal(t, d.DestAsset, decoded.DestAsset)
	assert.Equal(t, 0, d.AmountSource.Cmp(decoded.AmountSource))
	assert.Equal(t, 0, d.AmountDest.Cmp(decoded.AmountDest))
	assert.Equal(t, d.Sender, decoded.Sender)
	assert.Equal(t, d.Recipient, decoded.Recipient)
	assert.Equal(t, d.IssuedAtUnix, decoded.IssuedAtUnix)
}

func TestEncode_Deterministic(t *testing.T) {
	d := sampleDescriptor()
	assert.Equal(t, d.Encode(), d.Encode())
}

func TestEncode_FieldChangeChangesBytes(t *testing.T) {
	a := sampleDescriptor()
	b := sampleDescriptor()
	b.TransferID = "xfer-2"
	assert.NotEqual(t, a.Encode(), b.Encode())
}

func TestEncode_AmountIsFixed32Bytes(t *testing.T) {
	small := sampleDescriptor()
	small.AmountSource = big.NewInt(1)
	large := sampleDescriptor()
	large.AmountSource = new(big.Int).Lsh(big.NewInt(1), 200)

	assert.Len(t, small.Encode(), len(large.Encode()))
}

func TestDecodeCanonicalDescriptor_TooShort(t *testing.T) {
	_, err := DecodeCanonicalDescriptor([]byte{0, 0})
	assert.Error(t, err)
}

func TestDecodeCanonicalDescriptor_TrailingBytes(t *testing.T) {
	d := sampleDescriptor()
	encoded := append(d.Encode(), 0xff)
	_, err := DecodeCanonicalDescriptor(encoded)
	assert.ErrorContains(t, err, "trailing")
}
