package quote

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine() *Engine {
	return New(Config{
		BaseFeePct:               0.001,
		ProtocolFeePct:           0.0005,
		SlippageProtectionFeePct: 0.0002,
	})
}

func testRequest() Request {
	return Request{
		FromToken: "ETH", ToToken: "BTC", FromChain: "ethereum", ToChain: "bitcoin",
		FromAmount: big.NewInt(1_000_000_000_000_000_000),
	}
}

func testInputs() Inputs {
	return Inputs{
		OracleRate: 0.05, OracleConfidence: 0.95,
		DexRate: 0.051, DexConfidence: 0.9, DexAvailable: true,
		VolatilityIndicator: 0.2,
		GasCostSourceAsset:  big.NewInt(2_000_000_000_000_000),
	}
}

func TestGetQuote_Deterministic(t *testing.T) {
	e := testEngine()
	issuedAt := time.Unix(1_800_000_000, 0)

	q1, err := e.GetQuote("quote-1", testRequest(), testInputs(), issuedAt)
	require.NoError(t, err)
	q2, err := e.GetQuote("quote-1", testRequest(), testInputs(), issuedAt)
	require.NoError(t, err)

	b1, err := json.Marshal(q1)
	require.NoError(t, err)
	b2, err := json.Marshal(q2)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestGetQuote_ExpiresAfterIssuedAt(t *testing.T) {
	e := testEngine()
	issuedAt := time.Unix(1_800_000_000, 0)

	q, err := e.GetQuote("quote-1", testRequest(), testInputs(), issuedAt)
	require.NoError(t, err)
	assert.True(t, q.ExpiresAt.After(q.IssuedAt))
}

func TestGetQuote_FeePercentageMatchesTotal(t *testing.T) {
	e := testEngine()
	req := testRequest()

	q, err := e.GetQuote("quote-1", req, testInputs(), time.Now())
	require.NoError(t, err)

	totalFloat := new(big.Float).SetInt(q.Fees.Total)
	fromFloat := new(big.Float).SetInt(req.FromAmount)
	expectedPct := new(big.Float).Quo(totalFloat, fromFloat)
	expectedPctF, _ := expectedPct.Float64()

	assert.InDelta(t, expectedPctF, q.Fees.Percentage, 1e-9)
}

func TestGetQuote_FeeComponentsSumToTotal(t *testing.T) {
	e := testEngine()
	q, err := e.GetQuote("quote-1", testRequest(), testInputs(), time.Now())
	require.NoError(t, err)

	sum := new(big.Int).Add(q.Fees.Base, q.Fees.Protocol)
	sum.Add(sum, q.Fees.SlippageProtection)
	sum.Add(sum, q.Fees.Gas)

	assert.Equal(t, 0, sum.Cmp(q.Fees.Total))
}

func TestGetQuote_RecommendedSlippageNeverExceedsMaximum(t *testing.T) {
	e := testEngine()
	inputs := testInputs()
	inputs.VolatilityIndicator = 1.0

	q, err := e.GetQuote("quote-1", testRequest(), inputs, time.Now())
	require.NoError(t, err)
	assert.LessOrEqual(t, q.Slippage.Recommended, q.Slippage.Maximum)
}

func TestGetQuote_FallsBackToOracleOnlyWhenDexUnavailable(t *testing.T) {
	e := testEngine()
	inputs := testInputs()
	inputs.DexAvailable = false

	q, err := e.GetQuote("quote-1", testRequest(), inputs, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "oracle", q.ExchangeRate.Source)
	assert.Equal(t, inputs.OracleConfidence, q.ExchangeRate.Confidence)
}

func TestGetQuote_ZeroAmountRejected(t *testing.T) {
	e := testEngine()
	req := testRequest()
	req.FromAmount = big.NewInt(0)

	_, err := e.GetQuote("quote-1", req, testInputs(), time.Now())
	assert.ErrorContains(t, err, "ERR_AMOUNT_OUT_OF_BOUNDS")
}

func TestGetQuote_MissingRequiredFieldRejected(t *testing.T) {
	e := testEngine()
	req := testRequest()
	req.ToToken = ""

	_, err := e.GetQuote("quote-1", req, testInputs(), time.Now())
	assert.ErrorContains(t, err, "ERR_INVALID_REQUEST")
}

func TestGetQuote_HighImpactRecommendsBlock(t *testing.T) {
	e := New(Config{BaseFeePct: 0.03}) // 3% fee, well past the high threshold
	q, err := e.GetQuote("quote-1", testRequest(), testInputs(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, ImpactHigh, q.PriceImpact.Category)
	assert.Equal(t, RecommendBlock, q.PriceImpact.Recommendation)
}
