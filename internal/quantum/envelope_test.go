package quantum

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyManager(t *testing.T) *KeyManager {
	t.Helper()
	km, err := NewKeyManager(time.Hour, &fakeReferenceCounter{counts: map[string]int{}})
	require.NoError(t, err)
	return km
}

func TestEncapsulateDecapsulate_RoundTrip(t *testing.T) {
	km := newTestKeyManager(t)
	descriptor := sampleDescriptor()

	sealed, err := Encapsulate(descriptor, km)
	require.NoError(t, err)
	assert.NotEmpty(t, sealed.KemCiphertext)
	assert.NotEmpty(t, sealed.AEADCiphertext)
	assert.NotEmpty(t, sealed.IntegrityTag)
	assert.NotEqual(t, [32]byte{}, sealed.QuantumHash)

	opened, err := Decapsulate(sealed, km)
	require.NoError(t, err)
	assert.Equal(t, descriptor.TransferID, opened.TransferID)
	assert.Equal(t, descriptor.Sender, opened.Sender)
	assert.Equal(t, descriptor.Recipient, opened.Recipient)
	assert.Equal(t, 0, descriptor.AmountSource.Cmp(opened.AmountSource))
}

func TestEncapsulate_DifferentDescriptorsProduceDifferentHashes(t *testing.T) {
	km := newTestKeyManager(t)

	a := sampleDescriptor()
	b := sampleDescriptor()
	b.TransferID = "xfer-other"

	sealedA, err := Encapsulate(a, km)
	require.NoError(t, err)
	sealedB, err := Encapsulate(b, km)
	require.NoError(t, err)

	assert.NotEqual(t, sealedA.QuantumHash, sealedB.QuantumHash)
}

func TestDecapsulate_TamperedCiphertextFailsIntegrity(t *testing.T) {
	km := newTestKeyManager(t)
	sealed, err := Encapsulate(sampleDescriptor(), km)
	require.NoError(t, err)

	sealed.AEADCiphertext[0] ^= 0xff

	_, err = Decapsulate(sealed, km)
	assert.ErrorContains(t, err, "ERR_INTEGRITY_CHECK_FAILED")
}

func TestDecapsulate_TamperedQuantumHashDetected(t *testing.T) {
	km := newTestKeyManager(t)
	sealed, err := Encapsulate(sampleDescriptor(), km)
	require.NoError(t, err)

	sealed.QuantumHash[0] ^= 0xff

	_, err = Decapsulate(sealed, km)
	assert.ErrorContains(t, err, "ERR_QUANTUM_HASH_MISMATCH")
}

func TestDecapsulate_UnknownKeyID(t *testing.T) {
	km := newTestKeyManager(t)
	sealed, err := Encapsulate(sampleDescriptor(), km)
	require.NoError(t, err)

	sealed.KeyID = "qk-does-not-exist"

	_, err = Decapsulate(sealed, km)
	assert.ErrorContains(t, err, "ERR_DECAPSULATION_FAILED")
}

func TestDecapsulate_WorksAgainstRetiringKeyAfterRotation(t *testing.T) {
	km := newTestKeyManager(t)
	sealed, err := Encapsulate(sampleDescriptor(), km)
	require.NoError(t, err)

	_, err = km.Rotate()
	require.NoError(t, err)

	opened, err := Decapsulate(sealed, km)
	require.NoError(t, err, "an envelope sealed before rotation must still open against the now-retiring key")
	assert.Equal(t, "xfer-1", opened.TransferID)
}
