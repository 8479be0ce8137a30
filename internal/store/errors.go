package store

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers distinguish failure classes with errors.Is;
// the concrete wrapper types below carry the extra fields and are reachable
// with errors.As.
var (
	ErrNotInitialized    = errors.New("store: not initialized")
	ErrMigrationFailed   = errors.New("store: migration failed")
	ErrQueryFailed       = errors.New("store: query failed")
	ErrContention        = errors.New("store: contention")
	ErrNotFound          = errors.New("store: not found")
	ErrDuplicate         = errors.New("store: duplicate")
	ErrInvalidPath       = errors.New("store: invalid path")
	ErrCircularReference = errors.New("store: circular reference")
	ErrTransactionFailed = errors.New("store: transaction failed")
	ErrSyncTransport     = errors.New("store: sync transport")
	ErrConflictDetected  = errors.New("store: conflict detected")
	ErrRollbackFailed    = errors.New("store: rollback failed")
)

// MigrationError reports a failed schema migration.
type MigrationError struct {
	Version int
	Cause   error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("schema migration %d failed: %v", e.Version, e.Cause)
}
func (e *MigrationError) Unwrap() []error { return []error{ErrMigrationFailed, e.Cause} }

// QueryError wraps a failed SQL statement with the statement text.
type QueryError struct {
	SQL   string
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v (sql: %s)", e.Cause, e.SQL)
}
func (e *QueryError) Unwrap() []error { return []error{ErrQueryFailed, e.Cause} }

// NotFoundError reports a missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateError reports a record that already exists.
type DuplicateError struct {
	Entity string
	ID     string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Entity, e.ID)
}
func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// InvalidPathError reports that no path exists between two nodes.
type InvalidPathError struct {
	From string
	To   string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("no path from %q to %q", e.From, e.To)
}
func (e *InvalidPathError) Unwrap() error { return ErrInvalidPath }

// CircularReferenceError reports a would-be cycle rejected by an operation
// that requires acyclicity (e.g. NEST edges).
type CircularReferenceError struct {
	ID string
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular reference through node %q", e.ID)
}
func (e *CircularReferenceError) Unwrap() error { return ErrCircularReference }

// TransactionError wraps a failure inside a transaction scope.
type TransactionError struct {
	Cause error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed: %v", e.Cause)
}
func (e *TransactionError) Unwrap() []error { return []error{ErrTransactionFailed, e.Cause} }

// SyncTransportError wraps a failure returned by the remote record store.
type SyncTransportError struct {
	Cause error
}

func (e *SyncTransportError) Error() string {
	return fmt.Sprintf("sync transport error: %v", e.Cause)
}
func (e *SyncTransportError) Unwrap() []error { return []error{ErrSyncTransport, e.Cause} }

// ConflictDetectedError reports a local/remote version mismatch resolved by
// last-writer-wins.
type ConflictDetectedError struct {
	Local  int
	Remote int
}

func (e *ConflictDetectedError) Error() string {
	return fmt.Sprintf("conflict detected: local version %d, remote version %d", e.Local, e.Remote)
}
func (e *ConflictDetectedError) Unwrap() error { return ErrConflictDetected }

// RollbackFailedError reports that a transaction's reverse-apply could not
// complete.
type RollbackFailedError struct {
	TxID   string
	Reason string
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback of transaction %q failed: %s", e.TxID, e.Reason)
}
func (e *RollbackFailedError) Unwrap() error { return ErrRollbackFailed }

var errNodeNameRequired = errors.New("node name is required")
var errUnknownResolution = errors.New("unknown conflict resolution")

func newNotFound(entity, id string) error    { return &NotFoundError{Entity: entity, ID: id} }
func newDuplicate(entity, id string) error   { return &DuplicateError{Entity: entity, ID: id} }
func newQueryFailed(sql string, cause error) error {
	if cause == nil {
		return nil
	}
	return &QueryError{SQL: sql, Cause: cause}
}
