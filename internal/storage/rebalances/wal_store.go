// Package rebalances persists RebalanceJob records in a WAL. Records are
// append-only; a status update appends a new version under the same key, so
// the full transition history survives as an audit trail.
package rebalances

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/vadiminshakov/gowal"
)

const (
	segmentThreshold = 1000
	maxSegments      = 100

	jobKeyPrefix = "rebalance_job_"
)

// WALStore is a WAL-backed rebalance job repository. The latest version of
// every job is kept in memory for reads; the WAL is the durable source,
// replayed on startup.
type WALStore struct {
	wal  *gowal.Wal
	mu   sync.RWMutex
	jobs map[string]entity.RebalanceJob
}

// NewWALStore opens (or creates) the store in dir and replays existing
// records.
func NewWALStore(dir string) (*WALStore, error) {
	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "rebalance_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init rebalance WAL")
	}

	s := &WALStore{wal: wal, jobs: make(map[string]entity.RebalanceJob)}

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, jobKeyPrefix) {
			continue
		}
		var job entity.RebalanceJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			return nil, errors.Wrapf(err, "decode rebalance job %s", msg.Key)
		}
		// later WAL entries win, giving the latest version per job id
		s.jobs[job.RebalanceJobID] = job
	}

	return s, nil
}

// Create persists a new job. The job must carry a rebalanceJobID and must not
// already exist.
func (s *WALStore) Create(job entity.RebalanceJob) error {
	if s == nil || s.wal == nil {
		return errors.New("rebalance store is not initialized")
	}
	if job.RebalanceJobID == "" {
		return errors.New("rebalance job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.RebalanceJobID]; exists {
		return fmt.Errorf("rebalance job %s already exists", job.RebalanceJobID)
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = entity.StatusPending
	}

	if err := s.append(job); err != nil {
		return err
	}
	s.jobs[job.RebalanceJobID] = job

	return nil
}

// UpdateStatus transitions the job with the given id. This is the only
// permitted mutation path. Once a job is terminal further updates are
// no-ops, which makes replays under at-least-once delivery harmless.
func (s *WALStore) UpdateStatus(rebalanceJobID string, status entity.RebalanceStatus) error {
	if s == nil || s.wal == nil {
		return errors.New("rebalance store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[rebalanceJobID]
	if !ok {
		return fmt.Errorf("rebalance job %s not found", rebalanceJobID)
	}
	if job.Status.Terminal() {
		return nil
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()

	if err := s.append(job); err != nil {
		return err
	}
	s.jobs[rebalanceJobID] = job

	return nil
}

// Get returns the latest version of a job.
func (s *WALStore) Get(rebalanceJobID string) (entity.RebalanceJob, bool) {
	if s == nil {
		return entity.RebalanceJob{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[rebalanceJobID]
	return job, ok
}

// All returns a snapshot of every tracked job, newest first.
func (s *WALStore) All() []entity.RebalanceJob {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]entity.RebalanceJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		all = append(all, job)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all
}

// HasSuccessfulRebalancesInLastHour reports whether any job completed within
// the last hour. Fails closed: an uninitialized store reports false.
func (s *WALStore) HasSuccessfulRebalancesInLastHour() bool {
	return s.RecentSuccessCount(60) > 0
}

// RecentSuccessCount counts jobs completed within the last N minutes. Fails
// closed: an uninitialized store reports 0.
func (s *WALStore) RecentSuccessCount(minutes int) int {
	if s == nil || minutes <= 0 {
		return 0
	}

	cutoff := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, job := range s.jobs {
		if job.Status == entity.StatusCompleted && job.UpdatedAt.After(cutoff) {
			count++
		}
	}
	return count
}

func (s *WALStore) append(job entity.RebalanceJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal rebalance job")
	}

	key := jobKeyPrefix + job.RebalanceJobID
	return s.wal.Write(s.wal.CurrentIndex()+1, key, payload)
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("rebalance store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
