// README: Presence records for kitchen displays and the in-process store.
package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"kottu/internal/types"
)

// Presence is one connected client. Key identifies the client (usually a
// device or tab id); UserID the staff member behind it. OnlineAt is the last
// time the client was seen; Refresh moves it forward.
type Presence struct {
	Key      string    `json:"key"`
	UserID   string    `json:"user_id"`
	Name     string    `json:"name,omitempty"`
	Role     string    `json:"role,omitempty"`
	OnlineAt time.Time `json:"online_at"`
}

type PresenceStore interface {
	Put(ctx context.Context, tenantID types.ID, p Presence) error
	Remove(ctx context.Context, tenantID types.ID, key string) error
	List(ctx context.Context, tenantID types.ID, staleBefore time.Time) ([]Presence, error)
}

type MemoryPresence struct {
	mu      sync.Mutex
	tenants map[types.ID]map[string]Presence
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{tenants: make(map[types.ID]map[string]Presence)}
}

func (s *MemoryPresence) Put(_ context.Context, tenantID types.ID, p Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenants[tenantID] == nil {
		s.tenants[tenantID] = make(map[string]Presence)
	}
	s.tenants[tenantID][p.Key] = p
	return nil
}

func (s *MemoryPresence) Remove(_ context.Context, tenantID types.ID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants[tenantID], key)
	return nil
}

func (s *MemoryPresence) List(_ context.Context, tenantID types.ID, staleBefore time.Time) ([]Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.tenants[tenantID]
	out := make([]Presence, 0, len(members))
	for key, p := range members {
		if p.OnlineAt.Before(staleBefore) {
			delete(members, key)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
