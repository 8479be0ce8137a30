// Package synctransport defines the capability surface a remote record store
// must expose for the graph store's sync manager to push and pull changes
// against it. The real transport (HTTP, gRPC, a vendor SDK) is out of scope
// here; this package only names the contract and ships an in-memory
// reference implementation for tests.
package synctransport

import (
	"context"
	"sync"
)

// Record is one remote-side representation of a node or edge, keyed by the
// same id used locally. Fields carries the record's serialized attributes;
// the sync manager is responsible for mapping them to/from store.Node and
// store.Edge.
type Record struct {
	ID      string
	Table   string
	Fields  map[string]any
	Version int
	Deleted bool
}

// ChangeToken is an opaque cursor returned by FetchZoneChanges and replayed
// on the next call to resume from where the last fetch left off.
type ChangeToken []byte

// ZoneChanges is one page of remote changes.
type ZoneChanges struct {
	Records []Record
	Token   ChangeToken
	HasMore bool
}

// RemoteStore is the capability surface the sync manager depends on.
type RemoteStore interface {
	// EnsureZone provisions (idempotently) the remote namespace sync will
	// read from and write to.
	EnsureZone(ctx context.Context, zone string) error
	// Subscribe registers interest in future changes to zone; implementations
	// that poll rather than push may treat this as a no-op.
	Subscribe(ctx context.Context, zone string) error
	// ModifyRecords pushes a batch of local changes to the remote zone.
	ModifyRecords(ctx context.Context, zone string, records []Record) error
	// FetchZoneChanges pulls remote changes since the given token. A nil
	// token fetches from the beginning.
	FetchZoneChanges(ctx context.Context, zone string, since ChangeToken) (ZoneChanges, error)
}

// MemoryStore is an in-process RemoteStore used by tests and the CLI's
// sync subcommand; it never round-trips over a real network.
type MemoryStore struct {
	mu      sync.Mutex
	zones   map[string]bool
	records map[string]map[string]Record // zone -> id -> record
	seq     int
}

// NewMemoryStore constructs an empty in-memory remote store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		zones:   map[string]bool{},
		records: map[string]map[string]Record{},
	}
}

func (m *MemoryStore) EnsureZone(_ context.Context, zone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[zone] = true
	if m.records[zone] == nil {
		m.records[zone] = map[string]Record{}
	}
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context, _ string) error {
	return nil
}

func (m *MemoryStore) ModifyRecords(_ context.Context, zone string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[zone] == nil {
		m.records[zone] = map[string]Record{}
	}
	for _, r := range records {
		m.records[zone][r.ID] = r
	}
	m.seq++
	return nil
}

// FetchZoneChanges in the in-memory reference implementation returns every
// record in the zone on every call, whatever token is passed, since there is
// no real persistence to page through; the returned token is always
// "snapshot" and HasMore is always false.
func (m *MemoryStore) FetchZoneChanges(_ context.Context, zone string, _ ChangeToken) (ZoneChanges, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records[zone] {
		out = append(out, r)
	}
	return ZoneChanges{Records: out, Token: ChangeToken("snapshot"), HasMore: false}, nil
}
