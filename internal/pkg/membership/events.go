package membership

import (
	"context"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/guildgate/guildgate/app/models"
)

// EventStore persists inbound webhook deliveries idempotently so that
// replayed deliveries acknowledge without reprocessing.
type EventStore interface {
	// Record stores the event unless one with the same provider/event id
	// exists. Returns whether this delivery is new plus the stored row.
	Record(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, eventID uint, processingErr error) error
}

type gormEventStore struct {
	db *gorm.DB
}

func NewGormEventStore(db *gorm.DB) EventStore {
	return &gormEventStore{db: db}
}

func (s *gormEventStore) Record(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (s *gormEventStore) MarkProcessed(ctx context.Context, eventID uint, processingErr error) error {
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": errMsg,
	}
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", eventID).Updates(updates).Error
}

// MemoryEventStore is the in-memory EventStore used in tests and
// database-less deployments.
type MemoryEventStore struct {
	mu     sync.Mutex
	events map[string]models.WebhookEvent
	nextID uint
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]models.WebhookEvent), nextID: 1}
}

func (s *MemoryEventStore) Record(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(event.Provider) + "/" + strings.TrimSpace(event.ProviderEventID)
	if stored, ok := s.events[key]; ok {
		out := stored
		return false, &out, nil
	}
	event.ID = s.nextID
	s.nextID++
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	s.events[key] = *event
	out := *event
	return true, &out, nil
}

func (s *MemoryEventStore) MarkProcessed(ctx context.Context, eventID uint, processingErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, stored := range s.events {
		if stored.ID != eventID {
			continue
		}
		now := time.Now()
		stored.ProcessedAt = &now
		if processingErr != nil {
			stored.ProcessingError = processingErr.Error()
		} else {
			stored.ProcessingError = ""
		}
		stored.UpdatedAt = now
		s.events[key] = stored
		return nil
	}
	return nil
}
