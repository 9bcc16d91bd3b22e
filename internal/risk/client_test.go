package risk

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbridge/bridge-core/internal/bridgeerr"
)

func testRequest() Request {
	return Request{
		UserID: "u1", FromChain: "ethereum", ToChain: "bitcoin",
		FromToken: "ETH", ToToken: "BTC", Amount: big.NewInt(1_000_000),
		Sender: "0xsender", Recipient: "bc1recipient",
	}
}

func TestClient_Score_CallsRemoteAndCaches(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(Assessment{Score: 0.1, Level: "low", Approved: true})
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL})
	req := testRequest()

	a1, err := c.Score(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, a1.Approved)

	a2, err := c.Score(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, a2.Approved)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call should be served from cache")
}

func TestClient_Score_RemoteFailureSurfacesRiskUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL})
	_, err := c.Score(context.Background(), testRequest())

	require.Error(t, err)
	assert.ErrorContains(t, err, bridgeerr.CodeRiskUnavailable)
}

func TestClient_Score_CacheExpires(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(Assessment{Score: 0.1, Approved: true})
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL, CacheTTL: 10 * time.Millisecond})
	req := testRequest()

	_, err := c.Score(context.Background(), req)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = c.Score(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
