package pack

import (
	"context"
	"fmt"
	"sync"
)

// DefaultQuotaBytes is the storage budget applied when none is configured.
const DefaultQuotaBytes int64 = 512 << 20 // 512 MiB

// MemoryStorage is an in-memory implementation of Storage. This is intended
// for testing and for devices running without persistent cache; production
// should use SQLiteStorage.
type MemoryStorage struct {
	mu       sync.RWMutex
	packages map[string]*TrailPackage
	quota    int64
}

// NewMemoryStorage creates a new in-memory package store. A non-positive
// quota falls back to DefaultQuotaBytes.
func NewMemoryStorage(quotaBytes int64) *MemoryStorage {
	if quotaBytes <= 0 {
		quotaBytes = DefaultQuotaBytes
	}
	return &MemoryStorage{
		packages: make(map[string]*TrailPackage),
		quota:    quotaBytes,
	}
}

// Get retrieves a package by trail ID.
func (s *MemoryStorage) Get(_ context.Context, id string) (*TrailPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.packages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}

	// Return a copy
	cpy := *p
	return &cpy, nil
}

// Set stores a package, replacing any existing one with the same ID.
func (s *MemoryStorage) Set(_ context.Context, p *TrailPackage) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: package has no id", ErrPackageInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	used := int64(0)
	for id, existing := range s.packages {
		if id == p.ID {
			continue
		}
		used += existing.SizeBytes
	}
	if used+p.SizeBytes > s.quota {
		return fmt.Errorf("%w: %d + %d bytes over %d", ErrQuotaExceeded, used, p.SizeBytes, s.quota)
	}

	cpy := *p
	s.packages[p.ID] = &cpy
	return nil
}

// Delete removes a package by trail ID.
func (s *MemoryStorage) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.packages, id)
	return nil
}

// Has reports whether a package is cached for the trail ID.
func (s *MemoryStorage) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.packages[id]
	return ok, nil
}

// StorageUsed returns the total bytes of cached packages.
func (s *MemoryStorage) StorageUsed(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var used int64
	for _, p := range s.packages {
		used += p.SizeBytes
	}
	return used, nil
}

// StorageQuota returns the configured storage budget.
func (s *MemoryStorage) StorageQuota(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.quota, nil
}

// Ensure MemoryStorage implements Storage interface.
var _ Storage = (*MemoryStorage)(nil)
