package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"roper/internal/profile"
)

var errNotInitialized = errors.New("store is not initialized")

// MemoryStore keeps encoded records in process memory, so callers never share
// a cached profile.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	profiles    map[string][]byte
	creatures   map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.profiles = make(map[string][]byte)
	s.creatures = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, key string, p *profile.Profile) error {
	payload, err := EncodeProfile(key, p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.profiles[key] = payload
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, key string) (*profile.Profile, bool, error) {
	s.mu.RLock()
	payload, ok := s.profiles[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	record, err := DecodeProfile(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode profile %s: %w", key, err)
	}
	return record.Profile, true, nil
}

func (s *MemoryStore) SaveCreature(_ context.Context, record CreatureRecord) error {
	payload, err := EncodeCreature(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.creatures[record.Name] = payload
	return nil
}

func (s *MemoryStore) GetCreature(_ context.Context, name string) (CreatureRecord, bool, error) {
	s.mu.RLock()
	payload, ok := s.creatures[name]
	s.mu.RUnlock()

	if !ok {
		return CreatureRecord{}, false, nil
	}
	record, err := DecodeCreature(payload)
	if err != nil {
		return CreatureRecord{}, false, fmt.Errorf("decode creature %s: %w", name, err)
	}
	return record, true, nil
}

// NopStore caches nothing.
type NopStore struct{}

func (NopStore) Init(context.Context) error { return nil }

func (NopStore) GetProfile(context.Context, string) (*profile.Profile, bool, error) {
	return nil, false, nil
}

func (NopStore) SaveProfile(context.Context, string, *profile.Profile) error { return nil }

func (NopStore) SaveCreature(context.Context, CreatureRecord) error { return nil }

func (NopStore) GetCreature(context.Context, string) (CreatureRecord, bool, error) {
	return CreatureRecord{}, false, nil
}
