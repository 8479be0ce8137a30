package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// txScope is a flat-nested transaction scope: a Transact call nested inside
// an outer one joins the outer scope instead of opening a savepoint. Only the
// outermost call commits, retries, and flushes the change journal.
type txScope struct {
	tx            *sql.Tx
	correlationID string
	depth         int
	events        []ChangeEvent
	ops           []TransactionOperation
}

type scopeCtxKey struct{}

func scopeFromContext(ctx context.Context) *txScope {
	s, _ := ctx.Value(scopeCtxKey{}).(*txScope)
	return s
}

func withScope(ctx context.Context, s *txScope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, s)
}

func (s *txScope) record(evt ChangeEvent) {
	evt.CorrelationID = s.correlationID
	s.events = append(s.events, evt)
}

// recordOp appends a rollback journal entry for the scope's transaction.
// before/after are JSON snapshots of the record prior to / after the
// mutation (nil before for insert, nil after for delete).
func (s *txScope) recordOp(opType, table, recordID string, before, after any) {
	op := TransactionOperation{
		ID:        newTxOpID(),
		TxID:      s.correlationID,
		Type:      opType,
		Table:     table,
		RecordID:  recordID,
		Timestamp: time.Now().UTC(),
	}
	if before != nil {
		op.Before, _ = json.Marshal(before)
	}
	if after != nil {
		op.After, _ = json.Marshal(after)
	}
	s.ops = append(s.ops, op)
}

// txCoordinator serializes write scopes against the engine's write lease,
// retries on SQLITE_BUSY/SQLITE_LOCKED with exponential backoff, and fans
// committed change events out to observers once the outermost scope commits.
type txCoordinator struct {
	eng       *engine
	log       zerolog.Logger
	observers []Observer
	preserve  func(txID string, ops []TransactionOperation)
}

func newTxCoordinator(eng *engine, log zerolog.Logger) *txCoordinator {
	return &txCoordinator{eng: eng, log: log.With().Str("component", "txn").Logger()}
}

func (c *txCoordinator) addObserver(o Observer) {
	c.observers = append(c.observers, o)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// retryPolicy implements the 200/400/800ms busy-retry budget as a bounded
// exponential backoff.
func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 800 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// Transact runs fn inside a write transaction scope. A Transact call made
// while ctx already carries a scope joins it (flat nesting, no savepoint);
// only the outermost call actually begins, retries, commits/rolls back, and
// publishes the accumulated change events to observers.
func (c *txCoordinator) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := c.TransactWithID(ctx, fn)
	return err
}

// TransactWithID behaves like Transact but also returns the transaction's
// correlation id, so a caller can later hand it to RollbackManager.Rollback.
// Nested calls return the outer scope's id.
func (c *txCoordinator) TransactWithID(ctx context.Context, fn func(ctx context.Context) error) (string, error) {
	if outer := scopeFromContext(ctx); outer != nil {
		return outer.correlationID, fn(ctx)
	}

	var finalErr error
	var txID string
	op := func() error {
		tx, release, err := c.eng.beginWrite(ctx)
		if err != nil {
			if isBusyErr(err) {
				return &TransactionError{Cause: ErrContention}
			}
			return backoff.Permanent(&TransactionError{Cause: err})
		}
		defer release()

		scope := &txScope{tx: tx, correlationID: uuid.NewString()}
		innerCtx := withScope(ctx, scope)

		if err := fn(innerCtx); err != nil {
			_ = tx.Rollback()
			if isBusyErr(err) {
				return &TransactionError{Cause: ErrContention}
			}
			finalErr = &TransactionError{Cause: err}
			return backoff.Permanent(finalErr)
		}

		if err := tx.Commit(); err != nil {
			if isBusyErr(err) {
				return &TransactionError{Cause: ErrContention}
			}
			finalErr = &TransactionError{Cause: err}
			return backoff.Permanent(finalErr)
		}

		c.publish(scope.events)
		if c.preserve != nil {
			c.preserve(scope.correlationID, scope.ops)
		}
		txID = scope.correlationID
		return nil
	}

	if err := backoff.Retry(op, retryPolicy()); err != nil {
		if finalErr != nil {
			return "", finalErr
		}
		return "", &TransactionError{Cause: ErrContention}
	}
	return txID, nil
}

func (c *txCoordinator) publish(events []ChangeEvent) {
	for _, evt := range events {
		for _, o := range c.observers {
			o.NotifyChange(evt)
		}
	}
}

// txOrNil returns the *sql.Tx of the current write scope if ctx carries one,
// or nil if this call should fall back to a direct read against the engine's
// shared DB handle.
func txOrNil(ctx context.Context) *sql.Tx {
	if s := scopeFromContext(ctx); s != nil {
		return s.tx
	}
	return nil
}
