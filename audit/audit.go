// Package audit records every safety-relevant decision the engine makes:
// approvals granted, executions finished, rollbacks attempted. Entries are
// append-only; sinks must never drop an entry silently.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/fieldgrid/safeguard/types"
)

// Entry is one audit record.
type Entry struct {
	RequestID      string                `json:"request_id"`
	Type           types.OperationKind   `json:"type"`
	Status         types.ExecutionStatus `json:"status"`
	Actor          string                `json:"actor"`
	BusinessUnitID string                `json:"business_unit_id"`
	StartedAt      time.Time             `json:"started_at"`
	CompletedAt    time.Time             `json:"completed_at"`
	Error          string                `json:"error,omitempty"`
	Detail         string                `json:"detail,omitempty"`
}

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, entry *Entry) error
}

// LogSink writes audit entries through a structured logger.
type LogSink struct {
	logger hclog.Logger
}

// NewLogSink creates a sink that logs entries at info level.
func NewLogSink(logger hclog.Logger) *LogSink {
	if logger == nil {
		logger = hclog.Default()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, entry *Entry) error {
	s.logger.Info("execution audit",
		"request_id", entry.RequestID,
		"type", entry.Type,
		"status", entry.Status,
		"actor", entry.Actor,
		"business_unit_id", entry.BusinessUnitID,
		"duration", entry.CompletedAt.Sub(entry.StartedAt),
		"error", entry.Error,
		"detail", entry.Detail,
	)
	return nil
}

// MemorySink retains entries in memory; used in tests and as a buffer for
// UI surfaces that tail recent decisions.
type MemorySink struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record implements Sink.
func (s *MemorySink) Record(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries in arrival order.
func (s *MemorySink) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// MultiSink fans entries out to several sinks, returning the first error.
type MultiSink []Sink

// Record implements Sink.
func (m MultiSink) Record(ctx context.Context, entry *Entry) error {
	for _, sink := range m {
		if err := sink.Record(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}
