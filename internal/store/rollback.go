package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransactionOperation is one journaled mutation within a transaction scope,
// recorded in the order it happened so it can be reverse-applied.
type TransactionOperation struct {
	ID        string    `json:"id"`
	TxID      string    `json:"txId"`
	Type      string    `json:"type"` // insert, update, delete
	Table     string    `json:"table"`
	RecordID  string    `json:"recordId"`
	Before    []byte    `json:"before,omitempty"` // JSON snapshot prior to the op, nil for insert
	After     []byte    `json:"after,omitempty"`  // JSON snapshot after the op, nil for delete
	Timestamp time.Time `json:"timestamp"`
}

// draftUnsafeTypes are operation types excluded from draft preservation;
// bulk_update is excluded since a single draft slot cannot represent a
// fan-out mutation meaningfully.
var draftUnsafeTypes = map[string]bool{"bulk_update": true}

const (
	draftMaxOps    = 1000
	draftRetention = 24 * time.Hour
	rollbackBudget = 50 * time.Millisecond
)

// RollbackManager reverse-applies a transaction's operations in reverse
// chronological order, and preserves a bounded, time-limited set of
// committed "safe" transactions as drafts, persisted in draft_storage, so a
// caller can undo work after the transaction has already committed (even
// across a process restart).
type RollbackManager struct {
	store *Store
	log   zerolog.Logger
}

func newRollbackManager(s *Store, log zerolog.Logger) *RollbackManager {
	return &RollbackManager{
		store: s,
		log:   log.With().Str("component", "rollback").Logger(),
	}
}

// Preserve records a committed transaction's operations as a draft row in
// draft_storage, unless ops contains an unsafe operation type, subject to
// the draft size cap and 24h retention window. It is called synchronously
// right after the owning Transact call commits, while the write lease is
// still held, so no other writer can interleave with this write.
func (r *RollbackManager) Preserve(txID string, ops []TransactionOperation) {
	if len(ops) == 0 {
		return
	}
	for _, op := range ops {
		if draftUnsafeTypes[op.Type] {
			r.log.Debug().Str("tx_id", txID).Str("type", op.Type).Msg("skipping draft preservation: unsafe op type")
			return
		}
	}
	if len(ops) > draftMaxOps {
		ops = ops[len(ops)-draftMaxOps:]
	}

	payload, err := json.Marshal(ops)
	if err != nil {
		r.log.Warn().Err(err).Str("tx_id", txID).Msg("failed to marshal draft ops")
		return
	}

	now := time.Now().UTC()
	_, err = r.store.eng.db.ExecContext(context.Background(),
		`INSERT INTO draft_storage (draft_id, tx_id, ops, created_at, expires_at) VALUES (?,?,?,?,?)`,
		uuid.NewString(), txID, payload, formatTimestamp(now), formatTimestamp(now.Add(draftRetention)),
	)
	if err != nil {
		r.log.Warn().Err(err).Str("tx_id", txID).Msg("failed to persist rollback draft")
		return
	}

	r.evictExpired()
}

func (r *RollbackManager) evictExpired() {
	_, err := r.store.eng.db.ExecContext(context.Background(),
		`DELETE FROM draft_storage WHERE expires_at < ?`, formatTimestamp(time.Now().UTC()))
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to evict expired rollback drafts")
	}
}

// draftRow is the most recently preserved draft for a given tx_id.
type draftRow struct {
	draftID string
	ops     []TransactionOperation
}

func (r *RollbackManager) loadDraft(ctx context.Context, txID string) (*draftRow, error) {
	row := r.store.eng.db.QueryRowContext(ctx,
		`SELECT draft_id, ops FROM draft_storage WHERE tx_id = ? ORDER BY created_at DESC LIMIT 1`, txID)

	var draftID string
	var payload []byte
	if err := row.Scan(&draftID, &payload); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, newQueryFailed("select draft_storage", err)
	}

	var ops []TransactionOperation
	if err := json.Unmarshal(payload, &ops); err != nil {
		return nil, err
	}
	return &draftRow{draftID: draftID, ops: ops}, nil
}

// ListDrafts returns every unexpired rollback draft currently persisted,
// without their preserved operations.
func (r *RollbackManager) ListDrafts(ctx context.Context) ([]DraftInfo, error) {
	rows, err := r.store.eng.db.QueryContext(ctx,
		`SELECT draft_id, tx_id, created_at, expires_at FROM draft_storage WHERE expires_at >= ? ORDER BY created_at DESC`,
		formatTimestamp(time.Now().UTC()))
	if err != nil {
		return nil, newQueryFailed("select draft_storage", err)
	}
	defer rows.Close()

	var out []DraftInfo
	for rows.Next() {
		var d DraftInfo
		var createdAt, expiresAt string
		if err := rows.Scan(&d.DraftID, &d.OriginalTxID, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		d.CreatedAt, _ = parseTimestamp(createdAt)
		d.ExpiresAt, _ = parseTimestamp(expiresAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Rollback reverse-applies every operation of a preserved draft, most recent
// first. It logs a warning, but does not fail, if reconstruction exceeds the
// soft 50ms time budget.
func (r *RollbackManager) Rollback(ctx context.Context, txID string) (RollbackResult, error) {
	start := time.Now()
	result := RollbackResult{TxID: txID}

	d, err := r.loadDraft(ctx, txID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	if d == nil {
		rerr := &RollbackFailedError{TxID: txID, Reason: "no preserved draft found"}
		result.Error = rerr.Error()
		return result, rerr
	}
	result.PreservedDraftID = d.draftID

	err = r.store.txn.Transact(ctx, func(ctx context.Context) error {
		for i := len(d.ops) - 1; i >= 0; i-- {
			if err := r.reverseApply(ctx, d.ops[i]); err != nil {
				return &RollbackFailedError{TxID: txID, Reason: err.Error()}
			}
			result.OpsRolledBack++
		}
		return nil
	})
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, err
	}

	if _, delErr := r.store.eng.db.ExecContext(ctx, `DELETE FROM draft_storage WHERE draft_id = ?`, d.draftID); delErr != nil {
		r.log.Warn().Err(delErr).Str("tx_id", txID).Msg("failed to delete consumed rollback draft")
	}

	result.Success = true
	result.Duration = time.Since(start)
	if result.Duration > rollbackBudget {
		r.log.Warn().Str("tx_id", txID).Dur("elapsed", result.Duration).Msg("rollback exceeded soft time budget")
	}
	return result, nil
}

func (r *RollbackManager) reverseApply(ctx context.Context, op TransactionOperation) error {
	switch op.Table {
	case "nodes":
		return r.reverseNode(ctx, op)
	case "edges":
		return r.reverseEdge(ctx, op)
	default:
		return nil
	}
}

func (r *RollbackManager) reverseNode(ctx context.Context, op TransactionOperation) error {
	switch op.Type {
	case "insert":
		return r.store.PurgeNode(ctx, op.RecordID)
	case "update", "delete":
		var before Node
		if err := json.Unmarshal(op.Before, &before); err != nil {
			return err
		}
		return r.store.restoreNodeRaw(ctx, &before)
	}
	return nil
}

func (r *RollbackManager) reverseEdge(ctx context.Context, op TransactionOperation) error {
	switch op.Type {
	case "insert":
		return r.store.DeleteEdge(ctx, op.RecordID)
	case "update":
		var before Edge
		if err := json.Unmarshal(op.Before, &before); err != nil {
			return err
		}
		return r.store.restoreEdgeRaw(ctx, &before)
	case "delete":
		var before Edge
		if err := json.Unmarshal(op.Before, &before); err != nil {
			return err
		}
		return r.store.recreateEdgeRaw(ctx, &before)
	}
	return nil
}

func newTxOpID() string { return uuid.NewString() }
