package drafts

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore keeps slots in process. Slots are stored serialised so callers
// never share pointers with the store, the same as the database stores.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string][]byte
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte), now: time.Now}
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(sessionID)
}

func (m *MemoryStore) Save(ctx context.Context, sessionID string, slot *Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store(sessionID, slot)
}

func (m *MemoryStore) Update(ctx context.Context, sessionID string, fn func(*Slot) error) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.load(sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(slot); err != nil {
		return nil, err
	}
	if err := m.store(sessionID, slot); err != nil {
		return nil, err
	}
	return slot, nil
}

func (m *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, sessionID)
	return nil
}

func (m *MemoryStore) Expire(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id := range m.slots {
		slot, err := m.load(id)
		if err != nil {
			return n, err
		}
		if slot.UpdatedAt.Before(before) {
			delete(m.slots, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) load(sessionID string) (*Slot, error) {
	raw, ok := m.slots[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	var slot Slot
	if err := json.Unmarshal(raw, &slot); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (m *MemoryStore) store(sessionID string, slot *Slot) error {
	slot.UpdatedAt = m.now().UTC()
	raw, err := json.Marshal(slot)
	if err != nil {
		return err
	}
	m.slots[sessionID] = raw
	return nil
}
