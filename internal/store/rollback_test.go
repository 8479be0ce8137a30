package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollbackUndoesInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &Node{Name: "Undoable"}
	txID, err := s.TransactWithID(ctx, func(ctx context.Context) error {
		return s.CreateNode(ctx, n)
	})
	require.NoError(t, err)

	result, err := s.RollbackTransaction(ctx, txID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.OpsRolledBack)

	_, err = s.GetNode(ctx, n.ID)
	require.Error(t, err)
}

func TestRollbackUndoesUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &Node{Name: "Original"}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateNode(ctx, n) }))
	originalVersion := n.Version
	originalModifiedAt := n.ModifiedAt

	txID, err := s.TransactWithID(ctx, func(ctx context.Context) error {
		n.Content = "changed"
		return s.UpdateNode(ctx, n)
	})
	require.NoError(t, err)

	result, err := s.RollbackTransaction(ctx, txID)
	require.NoError(t, err)
	assert.True(t, result.Success)

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Content)
	assert.Equal(t, originalVersion, got.Version)
	assert.WithinDuration(t, originalModifiedAt, got.ModifiedAt, time.Millisecond)
}

func TestRollbackUndoesEdgeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreateNode(t, s, "RA")
	b := mustCreateNode(t, s, "RB")
	e := &Edge{EdgeType: EdgeLink, SourceID: a.ID, TargetID: b.ID}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateEdge(ctx, e) }))

	txID, err := s.TransactWithID(ctx, func(ctx context.Context) error {
		return s.DeleteEdge(ctx, e.ID)
	})
	require.NoError(t, err)

	result, err := s.RollbackTransaction(ctx, txID)
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, err = s.GetEdge(ctx, e.ID)
	require.NoError(t, err)
}

func TestRollbackUnknownTransaction(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RollbackTransaction(context.Background(), "does-not-exist")
	require.Error(t, err)
	var rfe *RollbackFailedError
	assert.ErrorAs(t, err, &rfe)
}

func TestRollbackManagerPreserveSkipsUnsafeOps(t *testing.T) {
	s := newTestStore(t)
	r := newRollbackManager(s, zerolog.Nop())
	r.Preserve("tx-unsafe", []TransactionOperation{{Type: "bulk_update", Table: "nodes", RecordID: "1"}})

	d, err := r.loadDraft(context.Background(), "tx-unsafe")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestRollbackConsumesDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &Node{Name: "OneShot"}
	txID, err := s.TransactWithID(ctx, func(ctx context.Context) error {
		return s.CreateNode(ctx, n)
	})
	require.NoError(t, err)

	_, err = s.RollbackTransaction(ctx, txID)
	require.NoError(t, err)

	_, err = s.RollbackTransaction(ctx, txID)
	require.Error(t, err)
	var rfe *RollbackFailedError
	assert.ErrorAs(t, err, &rfe)
}
