// Package journal keeps a durable append-only record of allocator activity.
// The in-ledger event log is capped for document size; this WAL is the
// complete audit trail operators reconcile against.
package journal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	segmentLimit = 1000
	maxSegments  = 20

	keyPrefix = "op_"
)

// EventKind classifies a journal entry.
type EventKind string

const (
	KindRebalance     EventKind = "rebalance"
	KindCapitalGrant  EventKind = "capital_grant"
	KindCapitalDenied EventKind = "capital_denied"
	KindTradeClose    EventKind = "trade_close"
	KindBreakerChange EventKind = "breaker_change"
	KindTierWarning   EventKind = "tier_warning"
)

// Event is one journaled allocator operation. Amounts are serialized as
// strings to keep decimal precision intact.
type Event struct {
	Time       time.Time `json:"ts"`
	Kind       EventKind `json:"kind"`
	Strategy   string    `json:"strategy,omitempty"`
	PositionID string    `json:"position_id,omitempty"`
	Amount     string    `json:"amount_usdt,omitempty"`
	Message    string    `json:"message"`
}

// Record bundles an event with the WAL index it was read from.
type Record struct {
	Index uint64
	Event Event
}

// WALStore persists allocator events in a write-ahead log.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed journal in the given directory.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		return nil, errors.New("journal dir is required")
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init journal WAL")
	}
	return &WALStore{wal: wal}, nil
}

// Append writes one event to the journal.
func (s *WALStore) Append(event Event) error {
	if s == nil || s.wal == nil {
		return errors.New("journal is not initialized")
	}
	if event.Kind == "" {
		return errors.New("journal event kind is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal journal event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, keyPrefix+string(event.Kind), payload)
}

// EventsAfter returns all events written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		_, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}

		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		records = append(records, Record{Index: idx, Event: event})
	}
	return records, nil
}

// Close releases the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return nil
	}
	return s.wal.Close()
}
