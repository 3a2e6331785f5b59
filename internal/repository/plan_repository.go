package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Leganyst/appointment-lifecycle/internal/model"
)

type PlanRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Plan, error)
	// Первый активный план (по дате создания).
	FirstActive(ctx context.Context) (*model.Plan, error)
	UpsertByName(ctx context.Context, plan *model.Plan) (*model.Plan, error)
}

type GormPlanRepository struct {
	db *gorm.DB
}

func NewGormPlanRepository(db *gorm.DB) *GormPlanRepository {
	return &GormPlanRepository{db: db}
}

func (r *GormPlanRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Plan, error) {
	var p model.Plan
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormPlanRepository) FirstActive(ctx context.Context) (*model.Plan, error) {
	var p model.Plan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormPlanRepository) UpsertByName(ctx context.Context, plan *model.Plan) (*model.Plan, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"price", "currency", "provider_plan_id", "is_active", "updated_at"}),
		}).
		Create(plan).Error
	if err != nil {
		return nil, err
	}

	var p model.Plan
	if err := r.db.WithContext(ctx).First(&p, "name = ?", plan.Name).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
