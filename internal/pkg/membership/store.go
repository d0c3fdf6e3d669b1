package membership

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/guildgate/guildgate/app/models"
)

// Store is the member persistence boundary. Implementations guarantee
// atomic single-key get/upsert, nothing stronger; the service layers no
// transactions on top.
type Store interface {
	Get(ctx context.Context, purchaseEmail string) (*models.Member, error)
	Upsert(ctx context.Context, member *models.Member) error
	ListAll(ctx context.Context) ([]models.Member, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates the production member store backed by GORM.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Get(ctx context.Context, purchaseEmail string) (*models.Member, error) {
	var m models.Member
	err := s.db.WithContext(ctx).
		Where("purchase_email = ?", strings.TrimSpace(purchaseEmail)).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *gormStore) Upsert(ctx context.Context, member *models.Member) error {
	member.PurchaseEmail = strings.TrimSpace(member.PurchaseEmail)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "purchase_email"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_id",
			"subscription_status",
			"plan",
			"discord_user_id",
			"updated_at",
		}),
	}).Create(member).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return s.db.WithContext(ctx).
		Where("purchase_email = ?", member.PurchaseEmail).
		First(member).Error
}

func (s *gormStore) ListAll(ctx context.Context) ([]models.Member, error) {
	var members []models.Member
	err := s.db.WithContext(ctx).Order("purchase_email").Find(&members).Error
	return members, err
}
