package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/safeguard/types"
)

func TestCapturePreservesOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Capture(ctx, "exec-1", types.SnapshotPreExecution, []byte(`{"rows":10}`))
	require.NoError(t, err)
	_, err = store.Capture(ctx, "exec-1", types.SnapshotCheckpoint, []byte(`{"rows":7}`))
	require.NoError(t, err)
	_, err = store.Capture(ctx, "exec-1", types.SnapshotPostExecution, []byte(`{"rows":12}`))
	require.NoError(t, err)

	snaps, err := store.List(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	require.Equal(t, types.SnapshotPreExecution, snaps[0].Tag)
	require.Equal(t, types.SnapshotCheckpoint, snaps[1].Tag)
	require.Equal(t, types.SnapshotPostExecution, snaps[2].Tag)
}

func TestCaptureRequiresExecutionID(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Capture(context.Background(), "", types.SnapshotPreExecution, nil)
	require.Error(t, err)
}

func TestSnapshotsAreIsolatedPerExecution(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Capture(ctx, "exec-1", types.SnapshotPreExecution, []byte("a"))
	require.NoError(t, err)
	_, err = store.Capture(ctx, "exec-2", types.SnapshotPreExecution, []byte("b"))
	require.NoError(t, err)

	snaps, err := store.List(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, "exec-1", snaps[0].ExecutionID)
}

func TestChecksumAndVerify(t *testing.T) {
	snap := New("exec-1", types.SnapshotPreExecution, []byte(`{"rows":10}`))

	require.Equal(t, int64(len(`{"rows":10}`)), snap.Size)
	require.Equal(t, Checksum([]byte(`{"rows":10}`)), snap.Checksum)
	require.True(t, Verify(snap))

	snap.State = []byte(`{"rows":99}`)
	require.False(t, Verify(snap))

	require.False(t, Verify(nil))
}

func TestCaptureCopiesState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	buf := []byte(`{"rows":10}`)
	snap, err := store.Capture(ctx, "exec-1", types.SnapshotPreExecution, buf)
	require.NoError(t, err)

	buf[2] = 'X'
	require.True(t, Verify(snap))
	require.Equal(t, byte('r'), snap.State[2])
}
