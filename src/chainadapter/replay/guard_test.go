package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "bitcoin:proof-1", Key("bitcoin", "proof-1"))
	assert.NotEqual(t, Key("bitcoin", "proof-1"), Key("ethereum", "proof-1"))
}

func TestGuard_CheckUnknown(t *testing.T) {
	g := New()
	_, seen := g.Check(Key("bitcoin", "proof-1"))
	assert.False(t, seen)
}

func TestGuard_MarkProcessedThenCheck(t *testing.T) {
	g := New()
	key := Key("bitcoin", "proof-1")

	g.MarkProcessed(key, "0xabc123")

	rec, seen := g.Check(key)
	require.True(t, seen)
	assert.Equal(t, "0xabc123", rec.TxID)
	assert.False(t, rec.ProcessedAt.IsZero())
}

func TestGuard_FirstWriterWins(t *testing.T) {
	g := New()
	key := Key("ethereum", "proof-2")

	g.MarkProcessed(key, "0xfirst")
	g.MarkProcessed(key, "0xsecond")

	rec, seen := g.Check(key)
	require.True(t, seen)
	assert.Equal(t, "0xfirst", rec.TxID, "first MarkProcessed call must win")
}

func TestGuard_IndependentKeys(t *testing.T) {
	g := New()
	g.MarkProcessed(Key("bitcoin", "proof-a"), "0xaaa")
	g.MarkProcessed(Key("ethereum", "proof-a"), "0xbbb")

	recBTC, _ := g.Check(Key("bitcoin", "proof-a"))
	recETH, _ := g.Check(Key("ethereum", "proof-a"))
	assert.Equal(t, "0xaaa", recBTC.TxID)
	assert.Equal(t, "0xbbb", recETH.TxID)
}

func TestGuard_ConcurrentMarkProcessed(t *testing.T) {
	g := New()
	key := Key("bitcoin", "proof-race")
	done := make(chan struct{})

	for i := 0; i < 50; i++ {
		go func(i int) {
			g.MarkProcessed(key, "0xrace")
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 50; i++ {
		<-done
	}

	rec, seen := g.Check(key)
	require.True(t, seen)
	assert.Equal(t, "0xrace", rec.TxID)
}
