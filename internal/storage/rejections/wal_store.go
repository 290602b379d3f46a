// Package rejections persists quote-rejection telemetry. The store is
// append-only and is read back only by health checks, never by the
// optimizer.
package rejections

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/vadiminshakov/gowal"
)

const (
	segmentThreshold = 1000
	maxSegments      = 10

	rejectionKeyPrefix = "rejection_"
)

// WALStore is a WAL-backed rejection telemetry store.
type WALStore struct {
	wal     *gowal.Wal
	mu      sync.RWMutex
	records []entity.RebalanceQuoteRejection
}

// NewWALStore opens (or creates) the store in dir and replays existing
// records.
func NewWALStore(dir string) (*WALStore, error) {
	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "rejection_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init rejection WAL")
	}

	s := &WALStore{wal: wal}

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, rejectionKeyPrefix) {
			continue
		}
		var rejection entity.RebalanceQuoteRejection
		if err := json.Unmarshal(msg.Value, &rejection); err != nil {
			continue // telemetry only, a bad record is not worth failing startup
		}
		s.records = append(s.records, rejection)
	}

	return s, nil
}

// Create appends one rejection record. Callers treat failures as
// best-effort: a persistence error must never abort an optimization cycle.
func (s *WALStore) Create(rejection entity.RebalanceQuoteRejection) error {
	if s == nil || s.wal == nil {
		return errors.New("rejection store is not initialized")
	}

	if rejection.CreatedAt.IsZero() {
		rejection.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(rejection)
	if err != nil {
		return errors.Wrap(err, "marshal rejection")
	}

	key := rejectionKeyPrefix + uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.Write(s.wal.CurrentIndex()+1, key, payload); err != nil {
		return errors.Wrap(err, "write rejection")
	}
	s.records = append(s.records, rejection)

	return nil
}

// HasRejectionsInLastHour reports whether any quote was rejected within the
// last hour. Fails closed: an uninitialized store reports false.
func (s *WALStore) HasRejectionsInLastHour() bool {
	return s.RecentRejectionCount(60) > 0
}

// RecentRejectionCount counts rejections within the last N minutes. Fails
// closed: an uninitialized store reports 0.
func (s *WALStore) RecentRejectionCount(minutes int) int {
	if s == nil || minutes <= 0 {
		return 0
	}

	cutoff := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.records {
		if r.CreatedAt.After(cutoff) {
			count++
		}
	}
	return count
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("rejection store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
