// Package memory provides an in-memory ledger used for tests and ephemeral
// environments.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"trafficcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the ledger interface.
var _ domain.Ledger = (*Store)(nil)

// Store keeps samples, thresholds and challans in process memory. A single
// RWMutex serialises writers; every method observes a consistent state.
type Store struct {
	mu          sync.RWMutex
	samples     []domain.LaneSample
	thresholds  map[string]uint
	challans    map[int64]domain.Challan
	numbers     map[string]int64
	nextSample  int64
	nextChallan int64
	now         func() time.Time
}

// NewStore constructs an empty in-memory ledger.
func NewStore() *Store {
	return &Store{
		thresholds: make(map[string]uint),
		challans:   make(map[int64]domain.Challan),
		numbers:    make(map[string]int64),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used for challan timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// RecordSamples appends samples atomically; a validation failure stores nothing.
func (s *Store) RecordSamples(ctx context.Context, area string, samples []domain.LaneSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateSamples(area, samples); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range samples {
		s.nextSample++
		sample.ID = s.nextSample
		sample.Timestamp = sample.Timestamp.UTC()
		s.samples = append(s.samples, sample)
	}
	return nil
}

// QueryHistory returns the newest q.Limit matching samples in ascending order.
func (s *Store) QueryHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.LaneSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]domain.LaneSample, 0)
	for _, sample := range s.samples {
		if sample.Area != q.Area {
			continue
		}
		if q.LaneID != "" && sample.LaneID != q.LaneID {
			continue
		}
		matched = append(matched, sample)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].ID < matched[j].ID
	})
	if len(matched) > q.Limit {
		matched = matched[len(matched)-q.Limit:]
	}
	return matched, nil
}

// GetThreshold returns the stored threshold or domain.DefaultThreshold.
func (s *Store) GetThreshold(ctx context.Context, area string) (uint, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.thresholds[area]; ok {
		return v, nil
	}
	return domain.DefaultThreshold, nil
}

// SetThreshold upserts the area threshold.
func (s *Store) SetThreshold(ctx context.Context, area string, maxDensity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateThreshold(maxDensity); err != nil {
		return err
	}
	s.mu.Lock()
	s.thresholds[area] = uint(maxDensity)
	s.mu.Unlock()
	return nil
}

// CreateChallan stores a challan in its issue status and returns its id.
func (s *Store) CreateChallan(ctx context.Context, draft domain.ChallanDraft) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := draft.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.numbers[draft.ChallanNumber]; exists {
		return 0, domain.ConflictError{Entity: domain.EntityChallan, Key: draft.ChallanNumber}
	}
	s.nextChallan++
	id := s.nextChallan
	status := draft.IssueStatus()
	draft.InitialStatus = ""
	s.challans[id] = domain.Challan{
		ID:           id,
		Timestamp:    s.now().UTC(),
		Status:       status,
		ChallanDraft: draft,
	}
	s.numbers[draft.ChallanNumber] = id
	return id, nil
}

// ListChallans returns an area's challans newest first.
func (s *Store) ListChallans(ctx context.Context, area string, status domain.ChallanStatus) ([]domain.Challan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, domain.InvalidInput("status", "unrecognised challan status %q", status)
	}
	s.mu.RLock()
	out := make([]domain.Challan, 0)
	for _, c := range s.challans {
		if c.Area != area {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// GetChallan returns a single challan by id.
func (s *Store) GetChallan(ctx context.Context, id int64) (domain.Challan, error) {
	if err := ctx.Err(); err != nil {
		return domain.Challan{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challans[id]
	if !ok {
		return domain.Challan{}, domain.NotFound(domain.EntityChallan, strconv.FormatInt(id, 10))
	}
	return c, nil
}

// UpdateChallanStatus replaces only the status of an existing challan.
func (s *Store) UpdateChallanStatus(ctx context.Context, id int64, status domain.ChallanStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return domain.InvalidInput("status", "unrecognised challan status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challans[id]
	if !ok {
		return domain.NotFound(domain.EntityChallan, strconv.FormatInt(id, 10))
	}
	c.Status = status
	s.challans[id] = c
	return nil
}

// CountChallans returns the number of stored challans.
func (s *Store) CountChallans(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.challans), nil
}

// Close is a no-op for the in-memory ledger.
func (s *Store) Close() error { return nil }
