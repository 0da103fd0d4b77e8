package penalty

import (
	"context"
	"sync"
	"time"
)

// Store persists penalties. History is newest first.
type Store interface {
	Append(ctx context.Context, p *Penalty) error
	History(ctx context.Context, player string) ([]*Penalty, error)
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	players map[string][]*Penalty // oldest first
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{players: make(map[string][]*Penalty)}
}

func (s *MemoryStore) Append(_ context.Context, p *Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := playerKey(p.Player)
	cp := *p
	s.players[key] = append(s.players[key], &cp)
	return nil
}

func (s *MemoryStore) History(_ context.Context, player string) ([]*Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.players[playerKey(player)]
	out := make([]*Penalty, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}

// Sweep drops penalties that ended (or, for warnings, were issued) before cutoff.
func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key, list := range s.players {
		kept := list[:0]
		for _, p := range list {
			end := p.ExpiresAt
			if end.IsZero() {
				end = p.CreatedAt
			}
			if end.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(s.players, key)
			continue
		}
		s.players[key] = kept
	}
	return dropped, nil
}
