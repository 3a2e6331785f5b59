package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Leganyst/appointment-lifecycle/internal/model"
)

type SubscriptionRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Subscription, error)
	GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error)
	// Upsert по user_id: вставка или обновление перечисленных колонок.
	// Возвращает актуальную строку после записи.
	Upsert(ctx context.Context, sub *model.Subscription, updateColumns []string) (*model.Subscription, error)
	CompareAndSetStatus(ctx context.Context, userID uuid.UUID, expected, next model.SubscriptionStatus) (bool, error)
}

type GormSubscriptionRepository struct {
	db *gorm.DB
}

func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

func (r *GormSubscriptionRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Subscription, error) {
	return findOne(r.db.WithContext(ctx).Preload("Plan").Where("user_id = ?", userID))
}

func (r *GormSubscriptionRepository) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	return findOne(r.db.WithContext(ctx).Where("provider_subscription_id = ?", providerSubscriptionID))
}

// findOne: промах штатный (вебхук до checkout, профиль без подписки).
// Отдаёт gorm.ErrRecordNotFound, но в лог GORM промах не попадает.
func findOne(q *gorm.DB) (*model.Subscription, error) {
	var rows []model.Subscription
	res := q.Limit(1).Find(&rows)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &rows[0], nil
}

func (r *GormSubscriptionRepository) Upsert(
	ctx context.Context,
	sub *model.Subscription,
	updateColumns []string,
) (*model.Subscription, error) {
	cols := append([]string{"updated_at"}, updateColumns...)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).
		Create(sub).Error
	if err != nil {
		return nil, err
	}
	// id у существующей строки не меняется, перечитываем.
	return r.GetByUserID(ctx, sub.UserID)
}

func (r *GormSubscriptionRepository) CompareAndSetStatus(
	ctx context.Context,
	userID uuid.UUID,
	expected, next model.SubscriptionStatus,
) (bool, error) {
	update := map[string]any{"status": next}
	if next != model.SubscriptionStatusTrial {
		update["is_trial"] = false
	}
	res := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("user_id = ? AND status = ?", userID, expected).
		Updates(update)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
