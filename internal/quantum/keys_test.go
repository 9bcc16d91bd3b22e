package quantum

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReferenceCounter struct {
	counts map[string]int
}

func (f *fakeReferenceCounter) CountNonTerminalReferencingKey(keyID string) (int, error) {
	return f.counts[keyID], nil
}

func TestNewKeyManager_HasSingleActiveKey(t *testing.T) {
	km, err := NewKeyManager(time.Hour, &fakeReferenceCounter{counts: map[string]int{}})
	require.NoError(t, err)

	active := km.Active()
	require.NotNil(t, active)
	assert.Equal(t, KeyStatusActive, active.Status)
	assert.Equal(t, "ML-KEM-1024", active.Algorithm)

	looked, ok := km.Lookup(active.ID)
	assert.True(t, ok)
	assert.Same(t, active, looked)
}

func TestRotate_DemotesPreviousActiveToRetiring(t *testing.T) {
	km, err := NewKeyManager(time.Hour, &fakeReferenceCounter{counts: map[string]int{}})
	require.NoError(t, err)
	first := km.Active()

	second, err := km.Rotate()
	require.NoError(t, err)

	assert.Equal(t, KeyStatusActive, second.Status)
	assert.Same(t, second, km.Active())

	demoted, ok := km.Lookup(first.ID)
	require.True(t, ok)
	assert.Equal(t, KeyStatusRetiring, demoted.Status)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRetireEligible_KeepsKeyStillReferenced(t *testing.T) {
	store := &fakeReferenceCounter{counts: map[string]int{}}
	km, err := NewKeyManager(time.Hour, store)
	require.NoError(t, err)
	first := km.Active()

	_, err = km.Rotate()
	require.NoError(t, err)
	store.counts[first.ID] = 3

	require.NoError(t, km.RetireEligible())

	still, ok := km.Lookup(first.ID)
	require.True(t, ok)
	assert.Equal(t, KeyStatusRetiring, still.Status)
}

func TestRetireEligible_DropsKeyWithNoReferences(t *testing.T) {
	store := &fakeReferenceCounter{counts: map[string]int{}}
	km, err := NewKeyManager(time.Hour, store)
	require.NoError(t, err)
	first := km.Active()

	_, err = km.Rotate()
	require.NoError(t, err)
	store.counts[first.ID] = 0

	require.NoError(t, km.RetireEligible())

	_, ok := km.Lookup(first.ID)
	assert.False(t, ok, "a retired key with no referencing transfers must be dropped from lookup")
}
