package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration for sqlx
)

const uniqueViolation = "23505"

// Postgres is the durable Store backing production deployments. It pairs a
// pgxpool.Pool (used directly for the transactional
// InsertProcessedProofAndTransition path, which needs an explicit
// pgx.Tx) with an *sqlx.DB built on the same driver (used for the
// struct-scanning reads), the same dual-handle split the teacher reaches
// for whenever a raw connection and a convenience query layer are both
// needed.
type Postgres struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
}

// Open connects to Postgres via dsn, used by both pgxpool (transactional
// writes) and sqlx (scanning reads). Migrations are applied separately via
// internal/store/migrations through goose; Open does not run them.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect pgxpool: %w", err)
	}
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: connect sqlx: %w", err)
	}
	return &Postgres{pool: pool, db: db}, nil
}

// Close releases both underlying connections.
func (p *Postgres) Close() {
	p.pool.Close()
	_ = p.db.Close()
}

func (p *Postgres) CreateTransfer(ctx context.Context, t *Transfer) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO transfers (
			id, source_chain, dest_chain, source_asset, dest_asset,
			amount_source, amount_dest, sender, recipient, status,
			quote_id, quantum_hash, quantum_key_id, source_proof_id,
			dest_proof_id, degraded, terminal_reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, t.ID, t.SourceChain, t.DestChain, t.SourceAsset, t.DestAsset,
		amountString(t.AmountSource), amountString(t.AmountDest), t.Sender, t.Recipient, t.Status,
		t.QuoteID, t.QuantumHash, t.QuantumKeyID, t.SourceProofID,
		t.DestProofID, t.Degraded, t.TerminalReason, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create transfer: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateTransfer(ctx context.Context, t *Transfer) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE transfers SET
			status = $2, amount_dest = $3, quantum_hash = $4, quantum_key_id = $5,
			source_proof_id = $6, dest_proof_id = $7, degraded = $8,
			terminal_reason = $9, updated_at = $10
		WHERE id = $1
	`, t.ID, t.Status, amountString(t.AmountDest), t.QuantumHash, t.QuantumKeyID,
		t.SourceProofID, t.DestProofID, t.Degraded, t.TerminalReason, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: update transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	var row transferRow
	err := p.db.GetContext(ctx, &row, `SELECT * FROM transfers WHERE id = $1`, id)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get transfer: %w", err)
	}
	return row.toTransfer()
}

func (p *Postgres) ListNonTerminal(ctx context.Context) ([]*Transfer, error) {
	var rows []transferRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT * FROM transfers WHERE status NOT IN ($1,$2,$3,$4)
	`, TransferCompleted, TransferRefunded, TransferFailed, TransferExpired)
	if err != nil {
		return nil, fmt.Errorf("store: list non-terminal: %w", err)
	}
	return toTransfers(rows)
}

func (p *Postgres) ListByQuantumKey(ctx context.Context, keyID string) ([]*Transfer, error) {
	var rows []transferRow
	err := p.db.SelectContext(ctx, &rows, `SELECT * FROM transfers WHERE quantum_key_id = $1`, keyID)
	if err != nil {
		return nil, fmt.Errorf("store: list by quantum key: %w", err)
	}
	return toTransfers(rows)
}

// InsertProcessedProofAndTransition is the one operation that must be a
// single transaction: spec §4.8 requires proof insertion be atomic with
// the transfer transition it accompanies, and a PK collision on
// (chain_id, foreign_tx_hash) is the replay signal the caller branches on.
func (p *Postgres) InsertProcessedProofAndTransition(ctx context.Context, proof *ProcessedProof, t *Transfer) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO processed_proofs (chain_id, foreign_tx_hash, transfer_id, first_seen_at)
		VALUES ($1,$2,$3,$4)
	`, proof.ChainID, proof.ForeignTxHash, proof.TransferID, proof.FirstSeenAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrProofAlreadyProcessed
		}
		return fmt.Errorf("store: insert processed proof: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE transfers SET status = $2, quantum_hash = $3, source_proof_id = $4,
			dest_proof_id = $5, updated_at = $6
		WHERE id = $1
	`, t.ID, t.Status, t.QuantumHash, t.SourceProofID, t.DestProofID, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: transition transfer: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) IsProofProcessed(ctx context.Context, chainID, foreignTxHash string) (bool, error) {
	var exists bool
	err := p.db.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM processed_proofs WHERE chain_id = $1 AND foreign_tx_hash = $2)
	`, chainID, foreignTxHash)
	if err != nil {
		return false, fmt.Errorf("store: check processed proof: %w", err)
	}
	return exists, nil
}

func (p *Postgres) GetCheckpoint(ctx context.Context, chainID string) (*AdapterCheckpoint, error) {
	var cp AdapterCheckpoint
	err := p.db.GetContext(ctx, &cp, `SELECT chain_id, position, updated_at FROM adapter_checkpoints WHERE chain_id = $1`, chainID)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get checkpoint: %w", err)
	}
	return &cp, nil
}

func (p *Postgres) SaveCheckpoint(ctx context.Context, cp *AdapterCheckpoint) error {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO adapter_checkpoints (chain_id, position, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (chain_id) DO UPDATE
			SET position = $2, updated_at = $3
			WHERE adapter_checkpoints.position <= $2
	`, cp.ChainID, cp.Position, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either a brand-new row inserted with no conflict (RowsAffected
		// would be 1 in that case) or the WHERE guard rejected a
		// regression; distinguish by re-reading.
		existing, getErr := p.GetCheckpoint(ctx, cp.ChainID)
		if getErr == nil && existing.Position > cp.Position {
			return ErrCheckpointRegression
		}
	}
	return nil
}

func (p *Postgres) SaveKey(ctx context.Context, k *QuantumKeyRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO quantum_keys (id, algorithm, public_key, sealed_private_key, created_at, next_rotation_due, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET status = $7, next_rotation_due = $6
	`, k.ID, k.Algorithm, k.PublicKey, k.SealedPrivateKey, k.CreatedAt, k.NextRotationDue, k.Status)
	if err != nil {
		return fmt.Errorf("store: save key: %w", err)
	}
	return nil
}

func (p *Postgres) GetKey(ctx context.Context, id string) (*QuantumKeyRecord, error) {
	var k QuantumKeyRecord
	err := p.db.GetContext(ctx, &k, `SELECT id, algorithm, public_key, sealed_private_key, created_at, next_rotation_due, status FROM quantum_keys WHERE id = $1`, id)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get key: %w", err)
	}
	return &k, nil
}

func (p *Postgres) ListByStatus(ctx context.Context, status QuantumKeyStatus) ([]*QuantumKeyRecord, error) {
	var keys []*QuantumKeyRecord
	err := p.db.SelectContext(ctx, &keys, `SELECT id, algorithm, public_key, sealed_private_key, created_at, next_rotation_due, status FROM quantum_keys WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("store: list keys by status: %w", err)
	}
	return keys, nil
}

// transferRow mirrors the transfers table layout for sqlx scanning; amounts
// are stored as numeric strings and converted to *big.Int on the way out,
// since database/sql has no native arbitrary-precision integer type.
type transferRow struct {
	ID             string `db:"id"`
	SourceChain    string `db:"source_chain"`
	DestChain      string `db:"dest_chain"`
	SourceAsset    string `db:"source_asset"`
	DestAsset      string `db:"dest_asset"`
	AmountSource   string `db:"amount_source"`
	AmountDest     string `db:"amount_dest"`
	Sender         string `db:"sender"`
	Recipient      string `db:"recipient"`
	Status         string `db:"status"`
	QuoteID        string `db:"quote_id"`
	QuantumHash    string `db:"quantum_hash"`
	QuantumKeyID   string `db:"quantum_key_id"`
	SourceProofID  string `db:"source_proof_id"`
	DestProofID    string `db:"dest_proof_id"`
	Degraded       bool   `db:"degraded"`
	TerminalReason string `db:"terminal_reason"`
	CreatedAt      pgtype.Timestamptz `db:"created_at"`
	UpdatedAt      pgtype.Timestamptz `db:"updated_at"`
}

func (r transferRow) toTransfer() (*Transfer, error) {
	amountSource, ok := new(big.Int).SetString(r.AmountSource, 10)
	if !ok {
		return nil, fmt.Errorf("store: malformed amount_source %q", r.AmountSource)
	}
	amountDest, ok := new(big.Int).SetString(r.AmountDest, 10)
	if !ok {
		return nil, fmt.Errorf("store: malformed amount_dest %q", r.AmountDest)
	}
	return &Transfer{
		ID: r.ID, SourceChain: r.SourceChain, DestChain: r.DestChain,
		SourceAsset: r.SourceAsset, DestAsset: r.DestAsset,
		AmountSource: amountSource, AmountDest: amountDest,
		Sender: r.Sender, Recipient: r.Recipient, Status: TransferState(r.Status),
		QuoteID: r.QuoteID, QuantumHash: r.QuantumHash, QuantumKeyID: r.QuantumKeyID,
		SourceProofID: r.SourceProofID, DestProofID: r.DestProofID, Degraded: r.Degraded,
		TerminalReason: r.TerminalReason, CreatedAt: r.CreatedAt.Time, UpdatedAt: r.UpdatedAt.Time,
	}, nil
}

func toTransfers(rows []transferRow) ([]*Transfer, error) {
	out := make([]*Transfer, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTransfer()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func amountString(a *big.Int) string {
	if a == nil {
		return "0"
	}
	return a.String()
}
