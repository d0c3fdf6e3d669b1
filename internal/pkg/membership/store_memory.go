package membership

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/guildgate/guildgate/app/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and
// single-node deployments that do not want a database.
type MemoryStore struct {
	mu      sync.Mutex
	members map[string]models.Member
	nextID  uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[string]models.Member), nextID: 1}
}

func (s *MemoryStore) Get(ctx context.Context, purchaseEmail string) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[strings.TrimSpace(purchaseEmail)]
	if !ok {
		return nil, ErrMemberNotFound
	}
	out := m
	return &out, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, member *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(member.PurchaseEmail)
	member.PurchaseEmail = key
	now := time.Now()
	if existing, ok := s.members[key]; ok {
		member.ID = existing.ID
		member.CreatedAt = existing.CreatedAt
	} else {
		member.ID = s.nextID
		s.nextID++
		member.CreatedAt = now
	}
	member.UpdatedAt = now
	s.members[key] = *member
	return nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PurchaseEmail < out[j].PurchaseEmail
	})
	return out, nil
}
