package repository

import (
	"context"
	"sort"
	"sync"

	"MoverPull/internal/domain/models"
	domainrepo "MoverPull/internal/domain/repository"
)

// MemoryMoverStore is a process-local MoverStore. Its insert is atomic under one mutex.
type MemoryMoverStore struct {
	mu      sync.RWMutex
	records map[string]models.MoverRecord
}

var _ domainrepo.MoverStore = (*MemoryMoverStore)(nil)

func NewMemoryMoverStore() *MemoryMoverStore {
	return &MemoryMoverStore{records: make(map[string]models.MoverRecord)}
}

func (s *MemoryMoverStore) Exists(_ context.Context, date string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[date]
	return ok, nil
}

func (s *MemoryMoverStore) Get(_ context.Context, date string) (*models.MoverRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[date]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryMoverStore) TryInsert(_ context.Context, rec models.MoverRecord) (models.InsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Date]; ok {
		return models.AlreadyPresent, nil
	}
	s.records[rec.Date] = rec
	return models.Inserted, nil
}

func (s *MemoryMoverStore) Latest(_ context.Context, n int) ([]models.MoverRecord, error) {
	if n <= 0 {
		return []models.MoverRecord{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	dates := make([]string, 0, len(s.records))
	for d := range s.records {
		dates = append(dates, d)
	}
	// ISO dates sort lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if n < len(dates) {
		dates = dates[:n]
	}

	out := make([]models.MoverRecord, 0, len(dates))
	for _, d := range dates {
		out = append(out, s.records[d])
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryMoverStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryMoverStore) Health(context.Context) error { return nil }

func (s *MemoryMoverStore) Close() error { return nil }
