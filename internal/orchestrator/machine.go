// Package orchestrator drives one Transfer through the state graph in
// spec §4.1: Created -> Quoted -> RiskCheck -> Admitted -> LockSubmitting ->
// LockPending -> LockConfirmed -> UnlockSubmitting -> UnlockPending ->
// UnlockConfirmed -> Completed, with Failed/Expired/CompensatingRefund
// branches. Each transition is a Machine method returning (*store.Transfer,
// error), mirroring the teacher's per-method *ChainError contract-comment
// style in src/chainadapter/adapter.go.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/arcbridge/bridge-core/internal/audit"
	"github.com/arcbridge/bridge-core/internal/bridgeerr"
	"github.com/arcbridge/bridge-core/internal/eventbus"
	"github.com/arcbridge/bridge-core/internal/quantum"
	"github.com/arcbridge/bridge-core/internal/risk"
	"github.com/arcbridge/bridge-core/internal/store"
	"github.com/arcbridge/chainadapter"
)

// Config parameterizes policy decisions the state machine itself doesn't
// hard-code, sourced from internal/config's Chain/Risk sections.
type Config struct {
	MinProcessingHeadroom  time.Duration
	RiskAutoBlockThreshold float64
	RiskPolicy             string // "fail-open" or "fail-closed"
	LockPendingMaxWait     time.Duration
	UnlockPendingMaxWait   time.Duration
	Backoff                backoffPolicy
}

func (c Config) withDefaults() Config {
	if c.MinProcessingHeadroom == 0 {
		c.MinProcessingHeadroom = defaultMinProcessingHeadroom
	}
	if c.RiskAutoBlockThreshold == 0 {
		c.RiskAutoBlockThreshold = 0.85
	}
	if c.RiskPolicy == "" {
		c.RiskPolicy = "fail-closed"
	}
	if c.LockPendingMaxWait == 0 {
		c.LockPendingMaxWait = 30 * time.Minute
	}
	if c.UnlockPendingMaxWait == 0 {
		c.UnlockPendingMaxWait = 30 * time.Minute
	}
	if c.Backoff == (backoffPolicy{}) {
		c.Backoff = defaultBackoff()
	}
	return c
}

// RiskScorer is the subset of *risk.Client the orchestrator depends on,
// narrowed to an interface so Machine's risk-policy branches are testable
// without an HTTP server.
type RiskScorer interface {
	Score(ctx context.Context, req risk.Request) (*risk.Assessment, error)
}

// Machine is the bridge orchestrator: one instance serves every transfer,
// dispatching to the chain adapter keyed by chain id.
type Machine struct {
	store    store.Store
	adapters map[string]chainadapter.BridgeAdapter
	keys     *quantum.KeyManager
	risk     RiskScorer
	bus      *eventbus.Bus
	registry *workerRegistry
	cfg      Config
	audit    *audit.Logger
}

// SetAuditLogger attaches an append-only audit trail of every state
// transition publish emits. Optional: a Machine with no logger attached
// still functions, it just doesn't persist a transition history beyond the
// eventbus subscribers already watching TopicTransferProgress.
func (m *Machine) SetAuditLogger(l *audit.Logger) {
	m.audit = l
}

// New constructs a Machine. adapters is keyed by chain id (e.g.
// "ethereum", "bitcoin").
func New(st store.Store, adapters map[string]chainadapter.BridgeAdapter, keys *quantum.KeyManager, riskClient RiskScorer, bus *eventbus.Bus, cfg Config) *Machine {
	return &Machine{
		store: st, adapters: adapters, keys: keys, risk: riskClient, bus: bus,
		registry: newWorkerRegistry(), cfg: cfg.withDefaults(),
	}
}

// Store exposes the underlying store.Store for read-only lookups (e.g. the
// api package's GetTransfer), keeping Machine the single construction point
// for orchestration dependencies instead of threading the store separately.
func (m *Machine) Store() store.Store {
	return m.store
}

func (m *Machine) publish(transferID string, from, to store.TransferState, detail string) {
	now := time.Now()
	m.bus.Publish(eventbus.TopicTransferProgress, eventbus.TransferProgress{
		TransferID: transferID, FromState: string(from), ToState: string(to), At: now, Detail: detail,
	})
	if m.audit != nil {
		// Best-effort: a stalled disk must never block a transfer transition.
		_ = m.audit.Log(audit.Entry{
			TransferID: transferID, Timestamp: now,
			FromState: string(from), ToState: string(to), Detail: detail,
		})
	}
}

// CreateTransfer opens a Transfer in the Created state. Idempotent by
// TransferID: a resubmission returns the existing snapshot rather than
// creating a second record (spec §6).
func (m *Machine) CreateTransfer(ctx context.Context, req TransferRequest) (*store.Transfer, error) {
	if existing, err := m.store.GetTransfer(ctx, req.TransferID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	t := &store.Transfer{
		ID: req.TransferID, SourceChain: req.SourceChain, DestChain: req.DestChain,
		SourceAsset: req.SourceAsset, DestAsset: req.DestAsset,
		AmountSource: req.AmountSource, Sender: req.Sender, Recipient: req.Recipient,
		Status: store.TransferCreated, QuoteID: req.QuoteID,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := m.store.CreateTransfer(ctx, t); err != nil {
		return nil, err
	}
	m.publish(t.ID, "", store.TransferCreated, "transfer created")
	return t, nil
}

// AttachQuote performs Created->Quoted: attaches quote's frozen amounts and
// fails QuoteStale if expiresAt doesn't clear the configured headroom.
func (m *Machine) AttachQuote(ctx context.Context, transferID string, amountDest *big.Int, quoteID string, expiresAt time.Time) (*store.Transfer, error) {
	var result *store.Transfer
	err := m.registry.withTransferLock(transferID, func() error {
		t, err := m.store.GetTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != store.TransferCreated {
			return bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeInvalidRequest,
				fmt.Sprintf("transfer %s not in Created state", transferID), nil)
		}
		if !expiresAt.After(time.Now().Add(m.cfg.MinProcessingHeadroom)) {
			t.Status = store.TransferFailed
			t.TerminalReason = ReasonQuoteStale
			t.UpdatedAt = time.Now()
			if err := m.store.UpdateTransfer(ctx, t); err != nil {
				return err
			}
			m.publish(t.ID, store.TransferCreated, store.TransferFailed, ReasonQuoteStale)
			result = t
			return nil
		}

		t.AmountDest = amountDest
		t.QuoteID = quoteID
		t.Status = store.TransferQuoted
		t.UpdatedAt = time.Now()
		if err := m.store.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		m.publish(t.ID, store.TransferCreated, store.TransferQuoted, "quote attached")
		result = t
		return nil
	})
	return result, err
}

// RunRiskCheck performs Quoted->RiskCheck->Admitted. Policy from spec
// §4.1: score >= threshold blocks outright; an unreachable risk engine
// blocks under fail-closed and proceeds with a recorded degraded flag
// under fail-open.
func (m *Machine) RunRiskCheck(ctx context.Context, transferID string, req risk.Request) (*store.Transfer, error) {
	var result *store.Transfer
	err := m.registry.withTransferLock(transferID, func() error {
		t, err := m.store.GetTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != store.TransferQuoted {
			return bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeInvalidRequest,
				fmt.Sprintf("transfer %s not in Quoted state", transferID), nil)
		}

		assessment, scoreErr := m.risk.Score(ctx, req)
		switch {
		case scoreErr != nil && m.cfg.RiskPolicy == "fail-closed":
			t.Status = store.TransferFailed
			t.TerminalReason = ReasonRiskUnavailable
		case scoreErr != nil:
			t.Status = store.TransferAdmitted
			t.Degraded = true
		case assessment.Score >= m.cfg.RiskAutoBlockThreshold || !assessment.Approved:
			t.Status = store.TransferFailed
			t.TerminalReason = ReasonRiskDenied
		default:
			t.Status = store.TransferAdmitted
		}

		t.UpdatedAt = time.Now()
		if err := m.store.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		m.publish(t.ID, store.TransferQuoted, t.Status, t.TerminalReason)
		result = t
		return nil
	})
	return result, err
}

// SubmitLock performs Admitted->LockSubmitting->LockPending: computes the
// quantum_hash, then calls the source adapter's SubmitLock. Persisting the
// LockSubmitting state before the network call means a crash between the
// two yields a resumable record that Recover can re-query rather than
// blindly resubmit. A transfer already in LockSubmitting is resumed the same
// way, reusing the quantum_hash it already carries.
func (m *Machine) SubmitLock(ctx context.Context, transferID string) (*store.Transfer, error) {
	var result *store.Transfer
	err := m.registry.withTransferLock(transferID, func() error {
		t, err := m.store.GetTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != store.TransferAdmitted && t.Status != store.TransferLockSubmitting {
			return bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeInvalidRequest,
				fmt.Sprintf("transfer %s not in Admitted or LockSubmitting state", transferID), nil)
		}

		if t.QuantumHash == "" {
			sealed, err := quantum.Encapsulate(quantum.CanonicalDescriptor{
				TransferID: t.ID, SourceChain: t.SourceChain, DestChain: t.DestChain,
				SourceAsset: t.SourceAsset, DestAsset: t.DestAsset,
				AmountSource: t.AmountSource, AmountDest: t.AmountDest,
				Sender: t.Sender, Recipient: t.Recipient, IssuedAtUnix: t.CreatedAt.Unix(),
			}, m.keys)
			if err != nil {
				return err
			}
			t.QuantumHash = hex.EncodeToString(sealed.QuantumHash[:])
			t.QuantumKeyID = sealed.KeyID
		}

		t.Status = store.TransferLockSubmitting
		t.UpdatedAt = time.Now()
		if err := m.store.UpdateTransfer(ctx, t); err != nil {
			return err
		}

		adapter, ok := m.adapters[t.SourceChain]
		if !ok {
			return fmt.Errorf("orchestrator: no adapter registered for chain %q", t.SourceChain)
		}

		var quantumHash [32]byte
		hashBytes, _ := hex.DecodeString(t.QuantumHash)
		copy(quantumHash[:], hashBytes)

		submitResult, err := adapter.SubmitLock(ctx, chainadapter.LockParams{
			From: t.Sender, Amount: t.AmountSource, Asset: t.SourceAsset,
			QuantumHash: quantumHash, DestChain: t.DestChain, DestRecipient: t.Recipient,
		})
		if err != nil {
			return err
		}

		t.SourceProofID = submitResult.TxID
		t.Status = store.TransferLockPending
		t.UpdatedAt = time.Now()
		if err := m.store.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		m.publish(t.ID, store.TransferLockSubmitting, store.TransferLockPending, "lock submitted")
		result = t
		return nil
	})
	return result, err
}

// ObserveLock performs LockPending->LockConfirmed: polls the source
// adapter for the lock tx and checks the observed quantum_hash matches
// what was submitted. A mismatch is Failed(ProofMismatch) per spec §4.1.
func (m *Machine) ObserveLock(ctx context.Context, transferID string) (*store.Transfer, error) {
	var result *store.Transfer
	err := m.registry.withTransferLock(transferID, func() error {
		t, err := m.store.GetTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != store.TransferLockPending {
			return bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeInvalidRequest,
				fmt.Sprintf("transfer %s not in LockPending state", transferID), nil)
		}

		adapter, ok := m.adapters[t.SourceChain]
		if !ok {
			return fmt.Errorf("orchestrator: no adapter registered for chain %q", t.SourceChain)
		}
		obs, err := adapter.Observe(ctx, t.SourceProofID)
		if err != nil {
			return err
		}

		switch obs.Status {
		case chainadapter.ObservationPending:
			result = t
			return nil
		case chainadapter.ObservationOrphaned, chainadapter.ObservationFailed:
			if time.Since(t.UpdatedAt) > m.cfg.LockPendingMaxWait {
				t.Status = store.TransferCompensatingRefund
			} else {
				t.Status = store.TransferFailed
				t.TerminalReason = obs.FailReason
			}
		case chainadapter.ObservationConfirmed:
			observedHash := hex.EncodeToString(obs.Payload.QuantumHash[:])
			if observedHash != t.QuantumHash {
				t.Status = store.TransferFailed
				t.TerminalReason = ReasonProofMismatch
				break
			}
			t.Status = store.TransferLockConfirmed
		}

		t.UpdatedAt = time.Now()
		if err := m.store.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		m.publish(t.ID, store.TransferLockPending, t.Status, string(obs.Status))
		result = t
		return nil
	})
	return result, err
}

// SubmitUnlock performs LockConfirmed->UnlockSubmitting: calls the
// destination adapter's SubmitUnlock with idempotency key
// (dest_chain, source_proof_id), so a retried call after a crash returns
// the prior result rather than submitting twice. A transfer already in
// UnlockSubmitting is resumed the same way.
func (m *Machine) SubmitUnlock(ctx context.Context, transferID string) (*store.Transfer, error) {
	var result *store.Transfer
	err := m.registry.withTransferLock(transferID, func() error {
		t, err := m.store.GetTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != store.TransferLockConfirmed && t.Status != store.TransferUnlockSubmitting {
			return bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeInvalidRequest,
				fmt.Sprintf("transfer %s not in LockConfirmed or UnlockSubmitting state", transferID), nil)
		}

		adapter, ok := m.adapters[t.DestChain]
		if !ok {
			return fmt.Errorf("orchestrator: no adapter registered for chain %q", t.DestChain)
		}

		t.Status = store.TransferUnlockSubmitting
		t.UpdatedAt = time.Now()
		if err := m.store.UpdateTransfer(ctx, t); err != nil {
			return err
		}

		idempotencyKey := idempotencyKeyFor(t.DestChain, t.SourceProofID)
		var quantumHash [32]byte
		hashBytes, _ := hex.DecodeString(t.QuantumHash)
		copy(quantumHash[:], hashBytes)

		submitResult, err := adapter.SubmitUnlock(ctx, chainadapter.UnlockParams{
			Recipient: t.Recipient, AmountDest: t.AmountDest, Asset: t.DestAsset,
			SourceProofID: t.SourceProofID, QuantumHash: quantumHash,
		}, idempotencyKey)
		if err != nil {
			return err
		}

		t.DestProofID = submitResult.TxID
		t.Status = store.TransferUnlockPending
		t.UpdatedAt = time.Now()
		if err := m.store.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		m.publish(t.ID, store.TransferUnlockSubmitting, store.TransferUnlockPending, "unlock submitted")
		result = t
		return nil
	})
	return result, err
}

// ObserveUnlock moves UnlockPending straight to Completed once the unlock is
// confirmed; UnlockConfirmed is never stored as a state of its own. The
// ProcessedProof insertion is atomic with this transition (spec §4.8): a
// collision means some other path already consumed source_proof_id and
// this branch MUST fail rather than complete a second time.
func (m *Machine) ObserveUnlock(ctx context.Context, transferID string) (*store.Transfer, error) {
	var result *store.Transfer
	err := m.registry.withTransferLock(transferID, func() error {
		t, err := m.store.GetTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != store.TransferUnlockPending {
			return bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeInvalidRequest,
				fmt.Sprintf("transfer %s not in UnlockPending state", transferID), nil)
		}

		adapter, ok := m.adapters[t.DestChain]
		if !ok {
			return fmt.Errorf("orchestrator: no adapter registered for chain %q", t.DestChain)
		}
		obs, err := adapter.Observe(ctx, t.DestProofID)
		if err != nil {
			return err
		}

		switch obs.Status {
		case chainadapter.ObservationPending:
			result = t
			return nil
		case chainadapter.ObservationOrphaned, chainadapter.ObservationFailed:
			if time.Since(t.UpdatedAt) > m.cfg.UnlockPendingMaxWait {
				t.Status = store.TransferFailed
				t.TerminalReason = ReasonStuck
			} else {
				t.Status = store.TransferFailed
				t.TerminalReason = obs.FailReason
			}
			t.UpdatedAt = time.Now()
			if err := m.store.UpdateTransfer(ctx, t); err != nil {
				return err
			}
			m.publish(t.ID, store.TransferUnlockPending, t.Status, t.TerminalReason)
			result = t
			return nil
		case chainadapter.ObservationConfirmed:
			proof := &store.ProcessedProof{
				ChainID: t.DestChain, ForeignTxHash: t.SourceProofID, TransferID: t.ID, FirstSeenAt: time.Now(),
			}
			t.Status = store.TransferCompleted
			t.UpdatedAt = time.Now()
			if err := m.store.InsertProcessedProofAndTransition(ctx, proof, t); err != nil {
				return err
			}
			m.publish(t.ID, store.TransferUnlockPending, store.TransferCompleted, "transfer completed")
			result = t
			return nil
		}
		return nil
	})
	return result, err
}

func idempotencyKeyFor(destChain, sourceProofID string) string {
	sum := sha256.Sum256([]byte(destChain + "/" + sourceProofID))
	return hex.EncodeToString(sum[:])
}
