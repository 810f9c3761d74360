package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/mailflow/internal/domain"
)

// MemoryStore keeps events in process memory. Used by tests and by the
// server when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	events []domain.EmailEvent
	now    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Append(_ context.Context, evt domain.EmailEvent) error {
	if err := Prepare(&evt, m.now()); err != nil {
		return err
	}
	if evt.Meta != nil {
		meta := make(map[string]string, len(evt.Meta))
		for k, v := range evt.Meta {
			meta[k] = v
		}
		evt.Meta = meta
	}
	m.mu.Lock()
	m.events = append(m.events, evt)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CountByType(_ context.Context, campaignID string) (map[domain.EventType]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[domain.EventType]int{}
	for _, e := range m.events {
		if e.CampaignID == campaignID {
			counts[e.Type]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]domain.EmailEvent, error) {
	m.mu.RLock()
	var out []domain.EmailEvent
	for _, e := range m.events {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Len returns the number of stored events.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
