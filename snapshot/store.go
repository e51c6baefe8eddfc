// Package snapshot captures tagged, checksummed copies of relevant state
// around execution, keyed by execution id. Snapshots are append-only and
// retained indefinitely for audit and replay; there is no deletion API.
package snapshot

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/fieldgrid/safeguard/types"
)

// Store persists execution snapshots.
type Store interface {
	// Capture appends a snapshot of state for executionID.
	Capture(ctx context.Context, executionID string, tag types.SnapshotTag, state []byte) (*types.Snapshot, error)
	// List returns the snapshots for executionID in capture order.
	List(ctx context.Context, executionID string) ([]*types.Snapshot, error)
}

// Checksum computes the integrity checksum stored with each snapshot.
func Checksum(state []byte) string {
	sum := md5.Sum(state)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether a snapshot's payload still matches its recorded
// checksum.
func Verify(s *types.Snapshot) bool {
	return s != nil && Checksum(s.State) == s.Checksum
}

// New builds a snapshot value without persisting it. Backends share this so
// every store records identical metadata.
func New(executionID string, tag types.SnapshotTag, state []byte) *types.Snapshot {
	stored := make([]byte, len(state))
	copy(stored, state)
	return &types.Snapshot{
		ExecutionID: executionID,
		Tag:         tag,
		TakenAt:     time.Now().UTC(),
		State:       stored,
		Size:        int64(len(stored)),
		Checksum:    Checksum(stored),
	}
}

// MemoryStore keeps snapshots in process memory. It is the default store
// and the one used in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]*types.Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]*types.Snapshot),
	}
}

// Capture appends a snapshot for executionID.
func (m *MemoryStore) Capture(_ context.Context, executionID string, tag types.SnapshotTag, state []byte) (*types.Snapshot, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	snap := New(executionID, tag, state)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[executionID] = append(m.snapshots[executionID], snap)
	return snap, nil
}

// List returns the snapshots captured for executionID in order.
func (m *MemoryStore) List(_ context.Context, executionID string) ([]*types.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.snapshots[executionID]
	out := make([]*types.Snapshot, len(stored))
	copy(out, stored)
	return out, nil
}
