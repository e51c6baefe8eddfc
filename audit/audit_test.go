package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/safeguard/types"
)

type failingSink struct{}

func (failingSink) Record(context.Context, *Entry) error {
	return errors.New("sink unavailable")
}

func TestMemorySinkRetainsOrder(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, &Entry{RequestID: "req-1", Status: types.StatusPending}))
	require.NoError(t, sink.Record(ctx, &Entry{RequestID: "req-1", Status: types.StatusCompleted}))

	entries := sink.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, types.StatusPending, entries[0].Status)
	require.Equal(t, types.StatusCompleted, entries[1].Status)
}

func TestMultiSinkFansOut(t *testing.T) {
	a := NewMemorySink()
	b := NewMemorySink()
	multi := MultiSink{a, b}

	require.NoError(t, multi.Record(context.Background(), &Entry{RequestID: "req-1"}))
	require.Len(t, a.Entries(), 1)
	require.Len(t, b.Entries(), 1)
}

func TestMultiSinkReturnsFirstError(t *testing.T) {
	mem := NewMemorySink()
	multi := MultiSink{mem, failingSink{}}

	err := multi.Record(context.Background(), &Entry{RequestID: "req-1"})
	require.Error(t, err)
	require.Len(t, mem.Entries(), 1)
}
