// Package staging is the device-local durable key/value area used for state
// that must survive a restart before it reaches the gateway: the pending
// entry ledger and the set of records awaiting spreadsheet sync.
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is a minimal durable key/value store with set and lease primitives.
// Set and lease operations are atomic in the backing store, so processes
// sharing one store can edit a set concurrently without losing updates.
type Store interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	AddMembers(ctx context.Context, key string, members ...string) error
	RemoveMembers(ctx context.Context, key string, members ...string) error
	// Members returns the set at key in ascending order; an absent set is empty.
	Members(ctx context.Context, key string) ([]string, error)

	// TryLock takes the lease on key for ttl unless another holder has an
	// unexpired one. The token releases it through Unlock.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Unlock releases the lease when token still holds it.
	Unlock(ctx context.Context, key, token string) error

	Close() error
}

// GetJSON decodes the value stored at key into dst. It reports false when
// the key is absent and leaves dst untouched.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode staging key %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode staging key %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// MemoryStore keeps values in process memory. It is durable only for the
// lifetime of the process and is meant for tests and the memory backend.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	sets   map[string]map[string]struct{}
	leases map[string]lease
	now    func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   make(map[string][]byte),
		sets:   make(map[string]map[string]struct{}),
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) AddMembers(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		m.sets[key] = set
	}
	for _, v := range members {
		set[v] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) RemoveMembers(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[key]
	for _, v := range members {
		delete(set, v)
	}
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *MemoryStore) Members(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for v := range m.sets[key] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if l, ok := m.leases[key]; ok && now.Before(l.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.leases[key] = lease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (m *MemoryStore) Unlock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[key]; ok && l.token == token {
		delete(m.leases, key)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
