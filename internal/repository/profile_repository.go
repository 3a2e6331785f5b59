package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/appointment-lifecycle/internal/model"
)

type ProfileRepository interface {
	Create(ctx context.Context, p *model.Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Profile, error)
	ListByStatus(ctx context.Context, status model.SubscriptionStatus) ([]model.Profile, error)
	// Условная смена зеркала статуса подписки.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next model.SubscriptionStatus) (bool, error)
	// Безусловная запись зеркала; false, если профиля нет.
	SetStatus(ctx context.Context, id uuid.UUID, status model.SubscriptionStatus) (bool, error)
	// Профили, у которых зеркало расходится со строкой подписки, и сколько пар проверено.
	ListMismatched(ctx context.Context) ([]StatusMismatch, int64, error)
}

// StatusMismatch: профиль, чей subscription_status не совпадает с subscriptions.status.
type StatusMismatch struct {
	UserID             uuid.UUID
	ProfileStatus      model.SubscriptionStatus
	SubscriptionStatus model.SubscriptionStatus
}

type GormProfileRepository struct {
	db *gorm.DB
}

func NewGormProfileRepository(db *gorm.DB) *GormProfileRepository {
	return &GormProfileRepository{db: db}
}

func (r *GormProfileRepository) Create(ctx context.Context, p *model.Profile) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *GormProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	var p model.Profile
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormProfileRepository) ListByStatus(ctx context.Context, status model.SubscriptionStatus) ([]model.Profile, error) {
	var profiles []model.Profile
	err := r.db.WithContext(ctx).
		Where("subscription_status = ?", status).
		Order("created_at ASC").
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *GormProfileRepository) CompareAndSetStatus(
	ctx context.Context,
	id uuid.UUID,
	expected, next model.SubscriptionStatus,
) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Profile{}).
		Where("id = ? AND subscription_status = ?", id, expected).
		Update("subscription_status", next)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormProfileRepository) SetStatus(ctx context.Context, id uuid.UUID, status model.SubscriptionStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Profile{}).
		Where("id = ?", id).
		Update("subscription_status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormProfileRepository) ListMismatched(ctx context.Context) ([]StatusMismatch, int64, error) {
	var checked int64
	base := r.db.WithContext(ctx).
		Table("profiles").
		Joins("JOIN subscriptions ON subscriptions.user_id = profiles.id")

	if err := base.Session(&gorm.Session{}).Count(&checked).Error; err != nil {
		return nil, 0, err
	}

	var rows []StatusMismatch
	err := base.Session(&gorm.Session{}).
		Select("profiles.id AS user_id, profiles.subscription_status AS profile_status, subscriptions.status AS subscription_status").
		Where("profiles.subscription_status <> subscriptions.status").
		Order("profiles.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, checked, nil
}
