package gate

import (
	"context"
	"sync"
	"time"
)

type accountDevices struct {
	registered map[string]struct{}
	lastSeen   map[string]time.Time
}

// InMemoryDeviceStore keeps device sets and sighting times per account
// behind one mutex. Suitable for single-node runs and tests.
type InMemoryDeviceStore struct {
	mu       sync.Mutex
	accounts map[string]*accountDevices
}

// NewInMemoryDeviceStore creates an empty store.
func NewInMemoryDeviceStore() *InMemoryDeviceStore {
	return &InMemoryDeviceStore{accounts: make(map[string]*accountDevices)}
}

func (s *InMemoryDeviceStore) forAccount(accountID string) *accountDevices {
	acct, ok := s.accounts[accountID]
	if !ok {
		acct = &accountDevices{
			registered: make(map[string]struct{}),
			lastSeen:   make(map[string]time.Time),
		}
		s.accounts[accountID] = acct
	}
	return acct
}

func (s *InMemoryDeviceStore) IsRegistered(_ context.Context, accountID, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.forAccount(accountID).registered[fingerprint]
	return ok, nil
}

func (s *InMemoryDeviceStore) CountRegistered(_ context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forAccount(accountID).registered), nil
}

func (s *InMemoryDeviceStore) RegisterDevice(_ context.Context, accountID, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forAccount(accountID).registered[fingerprint] = struct{}{}
	return nil
}

func (s *InMemoryDeviceStore) RecordSighting(_ context.Context, accountID, fingerprint string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forAccount(accountID).lastSeen[fingerprint] = at
	return nil
}

// DistinctSightings counts fingerprints seen inside the window and
// prunes entries that have aged out.
func (s *InMemoryDeviceStore) DistinctSightings(_ context.Context, accountID string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.forAccount(accountID)
	cutoff := time.Now().Add(-window)
	count := 0
	for fp, seen := range acct.lastSeen {
		if seen.After(cutoff) {
			count++
		} else {
			delete(acct.lastSeen, fp)
		}
	}
	return count, nil
}
