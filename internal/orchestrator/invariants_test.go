package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbridge/bridge-core/internal/eventbus"
	"github.com/arcbridge/bridge-core/internal/quantum"
	"github.com/arcbridge/bridge-core/internal/risk"
	"github.com/arcbridge/bridge-core/internal/store"
	"github.com/arcbridge/chainadapter"
)

// fakeAdapter is a minimal in-memory chainadapter.BridgeAdapter stand-in,
// grounded on the contract comments in src/chainadapter/adapter.go.
type fakeAdapter struct {
	mu             sync.Mutex
	chainID        string
	nextTxID       int
	observations   map[string]chainadapter.Observation
	submittedLocks map[string]chainadapter.SubmitResult
	unlocksByKey   map[string]chainadapter.SubmitResult
	processedProof map[string]bool
}

func newFakeAdapter(chainID string) *fakeAdapter {
	return &fakeAdapter{
		chainID: chainID, observations: make(map[string]chainadapter.Observation),
		submittedLocks: make(map[string]chainadapter.SubmitResult),
		unlocksByKey:   make(map[string]chainadapter.SubmitResult),
		processedProof: make(map[string]bool),
	}
}

func (f *fakeAdapter) ChainID() string                                    { return f.chainID }
func (f *fakeAdapter) MinConfirmations() int                              { return 1 }
func (f *fakeAdapter) FinalitySemantics() chainadapter.FinalitySemantics  { return chainadapter.FinalityDeterministic }
func (f *fakeAdapter) FeeEstimate(ctx context.Context) (*big.Int, error)  { return big.NewInt(1000), nil }

func (f *fakeAdapter) SubmitLock(ctx context.Context, params chainadapter.LockParams) (*chainadapter.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTxID++
	txID := f.chainID + "-lock-" + itoa(f.nextTxID)
	result := chainadapter.SubmitResult{TxID: txID, SubmittedAt: time.Now()}
	f.submittedLocks[txID] = result
	f.observations[txID] = chainadapter.Observation{
		Status: chainadapter.ObservationConfirmed,
		Payload: &chainadapter.EventPayload{
			Kind: chainadapter.EventLock, TxID: txID, QuantumHash: params.QuantumHash,
		},
	}
	return &result, nil
}

func (f *fakeAdapter) SubmitUnlock(ctx context.Context, params chainadapter.UnlockParams, idempotencyKey string) (*chainadapter.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.unlocksByKey[idempotencyKey]; ok {
		return &existing, nil
	}

	f.nextTxID++
	txID := f.chainID + "-unlock-" + itoa(f.nextTxID)
	result := chainadapter.SubmitResult{TxID: txID, SubmittedAt: time.Now()}
	f.unlocksByKey[idempotencyKey] = result
	f.observations[txID] = chainadapter.Observation{
		Status: chainadapter.ObservationConfirmed,
		Payload: &chainadapter.EventPayload{
			Kind: chainadapter.EventUnlock, TxID: txID, QuantumHash: params.QuantumHash,
		},
	}
	return &result, nil
}

func (f *fakeAdapter) Observe(ctx context.Context, txID string) (*chainadapter.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obs, ok := f.observations[txID]
	if !ok {
		return nil, errors.New("fakeAdapter: unknown tx id")
	}
	return &obs, nil
}

func (f *fakeAdapter) SubscribeEvents(ctx context.Context, fromCheckpoint uint64) (<-chan chainadapter.BridgeEvent, error) {
	ch := make(chan chainadapter.BridgeEvent)
	close(ch)
	return ch, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

type approvingRisk struct{}

func (approvingRisk) Score(ctx context.Context, req risk.Request) (*risk.Assessment, error) {
	return &risk.Assessment{Score: 0.1, Approved: true}, nil
}

type denyingRisk struct{}

func (denyingRisk) Score(ctx context.Context, req risk.Request) (*risk.Assessment, error) {
	return &risk.Assessment{Score: 0.99, Approved: false}, nil
}

func testMachine(t *testing.T, scorer RiskScorer) (*Machine, store.Store, map[string]*fakeAdapter) {
	t.Helper()
	st := store.NewFake()
	keys, err := quantum.NewKeyManager(time.Hour, NewKeyReferenceCounter(st))
	require.NoError(t, err)

	src := newFakeAdapter("ethereum")
	dst := newFakeAdapter("bitcoin")
	adapters := map[string]chainadapter.BridgeAdapter{"ethereum": src, "bitcoin": dst}

	m := New(st, adapters, keys, scorer, eventbus.New(), Config{})
	return m, st, map[string]*fakeAdapter{"ethereum": src, "bitcoin": dst}
}

func driveToCompletion(t *testing.T, m *Machine, transferID string) *store.Transfer {
	t.Helper()
	ctx := context.Background()

	_, err := m.AttachQuote(ctx, transferID, big.NewInt(900), "quote-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = m.RunRiskCheck(ctx, transferID, risk.Request{})
	require.NoError(t, err)

	_, err = m.SubmitLock(ctx, transferID)
	require.NoError(t, err)

	_, err = m.ObserveLock(ctx, transferID)
	require.NoError(t, err)

	_, err = m.SubmitUnlock(ctx, transferID)
	require.NoError(t, err)

	final, err := m.ObserveUnlock(ctx, transferID)
	require.NoError(t, err)
	return final
}

func TestMachine_HappyPath_CompletesWithWriteOnceProofs(t *testing.T) {
	m, _, _ := testMachine(t, approvingRisk{})
	ctx := context.Background()

	_, err := m.CreateTransfer(ctx, TransferRequest{
		TransferID: "t1", Sender: "0xsender", Recipient: "bc1recipient",
		SourceChain: "ethereum", DestChain: "bitcoin", SourceAsset: "ETH", DestAsset: "BTC",
		AmountSource: big.NewInt(1000),
	})
	require.NoError(t, err)

	final := driveToCompletion(t, m, "t1")
	assert.Equal(t, store.TransferCompleted, final.Status)
	assert.NotEmpty(t, final.SourceProofID)
	assert.NotEmpty(t, final.DestProofID)
	assert.NotEmpty(t, final.QuantumHash)
}

func TestMachine_RiskDenied_FailsBeforeAnyAdapterCall(t *testing.T) {
	m, _, adapters := testMachine(t, denyingRisk{})
	ctx := context.Background()

	_, err := m.CreateTransfer(ctx, TransferRequest{
		TransferID: "t1", Sender: "0xsender", Recipient: "bc1recipient",
		SourceChain: "ethereum", DestChain: "bitcoin", SourceAsset: "ETH", DestAsset: "BTC",
		AmountSource: big.NewInt(1000),
	})
	require.NoError(t, err)
	_, err = m.AttachQuote(ctx, "t1", big.NewInt(900), "quote-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	final, err := m.RunRiskCheck(ctx, "t1", risk.Request{})
	require.NoError(t, err)
	assert.Equal(t, store.TransferFailed, final.Status)
	assert.Equal(t, ReasonRiskDenied, final.TerminalReason)
	assert.Empty(t, adapters["ethereum"].submittedLocks, "a denied transfer must never reach the adapter")
}

func TestMachine_QuoteStale_FailsOnInsufficientHeadroom(t *testing.T) {
	m, _, _ := testMachine(t, approvingRisk{})
	ctx := context.Background()

	_, err := m.CreateTransfer(ctx, TransferRequest{TransferID: "t1", SourceChain: "ethereum", DestChain: "bitcoin", AmountSource: big.NewInt(1000)})
	require.NoError(t, err)

	final, err := m.AttachQuote(ctx, "t1", big.NewInt(900), "quote-1", time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, store.TransferFailed, final.Status)
	assert.Equal(t, ReasonQuoteStale, final.TerminalReason)
}

func TestMachine_ReplayExclusivity_SecondUnlockObservationRejected(t *testing.T) {
	m, st, adapters := testMachine(t, approvingRisk{})
	ctx := context.Background()

	_, err := m.CreateTransfer(ctx, TransferRequest{
		TransferID: "t1", Sender: "0xsender", Recipient: "bc1recipient",
		SourceChain: "ethereum", DestChain: "bitcoin", SourceAsset: "ETH", DestAsset: "BTC",
		AmountSource: big.NewInt(1000),
	})
	require.NoError(t, err)
	final := driveToCompletion(t, m, "t1")
	require.Equal(t, store.TransferCompleted, final.Status)

	sourceProofID := final.SourceProofID
	processed, err := st.IsProofProcessed(ctx, "bitcoin", sourceProofID)
	require.NoError(t, err)
	assert.True(t, processed)

	// Simulate a second, independent transfer that happens to observe the
	// same foreign tx hash (e.g. a replayed event) — the store must reject
	// the second InsertProcessedProofAndTransition outright.
	dup := &store.ProcessedProof{ChainID: "bitcoin", ForeignTxHash: sourceProofID, TransferID: "t2", FirstSeenAt: time.Now()}
	other := *final
	other.ID = "t2"
	err = st.InsertProcessedProofAndTransition(ctx, dup, &other)
	assert.ErrorIs(t, err, store.ErrProofAlreadyProcessed)
	_ = adapters
}

func TestMachine_QuantumHashMismatch_FailsWithProofMismatch(t *testing.T) {
	m, st, adapters := testMachine(t, approvingRisk{})
	ctx := context.Background()

	_, err := m.CreateTransfer(ctx, TransferRequest{
		TransferID: "t1", Sender: "0xsender", Recipient: "bc1recipient",
		SourceChain: "ethereum", DestChain: "bitcoin", SourceAsset: "ETH", DestAsset: "BTC",
		AmountSource: big.NewInt(1000),
	})
	require.NoError(t, err)
	_, err = m.AttachQuote(ctx, "t1", big.NewInt(900), "quote-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = m.RunRiskCheck(ctx, "t1", risk.Request{})
	require.NoError(t, err)
	_, err = m.SubmitLock(ctx, "t1")
	require.NoError(t, err)

	// Corrupt the observed event's quantum_hash to simulate a tampered or
	// mismatched on-chain event.
	src := adapters["ethereum"]
	t1, err := st.GetTransfer(ctx, "t1")
	require.NoError(t, err)
	src.mu.Lock()
	obs := src.observations[t1.SourceProofID]
	obs.Payload.QuantumHash[0] ^= 0xFF
	src.observations[t1.SourceProofID] = obs
	src.mu.Unlock()

	final, err := m.ObserveLock(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.TransferFailed, final.Status)
	assert.Equal(t, ReasonProofMismatch, final.TerminalReason)
}

func TestMachine_SubmitUnlock_IdempotentOnRetry(t *testing.T) {
	m, st, adapters := testMachine(t, approvingRisk{})
	ctx := context.Background()

	_, err := m.CreateTransfer(ctx, TransferRequest{
		TransferID: "t1", Sender: "0xsender", Recipient: "bc1recipient",
		SourceChain: "ethereum", DestChain: "bitcoin", SourceAsset: "ETH", DestAsset: "BTC",
		AmountSource: big.NewInt(1000),
	})
	require.NoError(t, err)
	_, err = m.AttachQuote(ctx, "t1", big.NewInt(900), "quote-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = m.RunRiskCheck(ctx, "t1", risk.Request{})
	require.NoError(t, err)
	_, err = m.SubmitLock(ctx, "t1")
	require.NoError(t, err)
	_, err = m.ObserveLock(ctx, "t1")
	require.NoError(t, err)

	first, err := m.SubmitUnlock(ctx, "t1")
	require.NoError(t, err)

	// Force the transfer back to LockConfirmed to simulate a crash-retry
	// of the same transition, then call SubmitUnlock again: the adapter's
	// idempotency key must return the same tx id rather than a new one.
	t1, err := st.GetTransfer(ctx, "t1")
	require.NoError(t, err)
	t1.Status = store.TransferLockConfirmed
	require.NoError(t, st.UpdateTransfer(ctx, t1))

	second, err := m.SubmitUnlock(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, first.DestProofID, second.DestProofID)
	assert.Len(t, adapters["bitcoin"].unlocksByKey, 1, "only one idempotency key should ever be recorded")
}

func TestMachine_Recover_ResumesWithoutDoubleSubmitting(t *testing.T) {
	m, st, adapters := testMachine(t, approvingRisk{})
	ctx := context.Background()

	_, err := m.CreateTransfer(ctx, TransferRequest{
		TransferID: "t1", Sender: "0xsender", Recipient: "bc1recipient",
		SourceChain: "ethereum", DestChain: "bitcoin", SourceAsset: "ETH", DestAsset: "BTC",
		AmountSource: big.NewInt(1000),
	})
	require.NoError(t, err)
	_, err = m.AttachQuote(ctx, "t1", big.NewInt(900), "quote-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = m.RunRiskCheck(ctx, "t1", risk.Request{})
	require.NoError(t, err)
	_, err = m.SubmitLock(ctx, "t1")
	require.NoError(t, err)

	// Simulate a crash right after LockPending was persisted; Recover must
	// resume by observing the existing tx, not submitting a second lock.
	require.NoError(t, m.Recover(ctx))

	t1, err := st.GetTransfer(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.TransferLockConfirmed, t1.Status)
	assert.Len(t, adapters["ethereum"].submittedLocks, 1, "recovery must not resubmit a lock already observed")
}

func TestMachine_CreateTransfer_IdempotentResubmission(t *testing.T) {
	m, _, _ := testMachine(t, approvingRisk{})
	ctx := context.Background()

	req := TransferRequest{
		TransferID: "t1", Sender: "0xsender", Recipient: "bc1recipient",
		SourceChain: "ethereum", DestChain: "bitcoin", SourceAsset: "ETH", DestAsset: "BTC",
		AmountSource: big.NewInt(1000),
	}
	first, err := m.CreateTransfer(ctx, req)
	require.NoError(t, err)
	second, err := m.CreateTransfer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestMachine_QuantumHash_IsHexEncodedSHA256(t *testing.T) {
	m, st, _ := testMachine(t, approvingRisk{})
	ctx := context.Background()

	_, err := m.CreateTransfer(ctx, TransferRequest{
		TransferID: "t1", Sender: "0xsender", Recipient: "bc1recipient",
		SourceChain: "ethereum", DestChain: "bitcoin", SourceAsset: "ETH", DestAsset: "BTC",
		AmountSource: big.NewInt(1000),
	})
	require.NoError(t, err)
	_, err = m.AttachQuote(ctx, "t1", big.NewInt(900), "quote-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = m.RunRiskCheck(ctx, "t1", risk.Request{})
	require.NoError(t, err)
	_, err = m.SubmitLock(ctx, "t1")
	require.NoError(t, err)

	t1, err := st.GetTransfer(ctx, "t1")
	require.NoError(t, err)
	decoded, err := hex.DecodeString(t1.QuantumHash)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}
