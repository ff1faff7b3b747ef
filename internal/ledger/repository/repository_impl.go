package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/lingora/internal/ledger/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type RepositoryParam struct {
	fx.In

	DB *gorm.DB
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(p RepositoryParam) ledgerdomain.Repository {
	return &Repository{db: p.DB}
}

func (r *Repository) ListCompleted(ctx context.Context, subjectType, period string, subjectIDs []snowflake.ID) ([]ledgerdomain.Entry, error) {
	stmt := r.db.WithContext(ctx).
		Where("subject_type = ? AND competence_period = ? AND completed_at IS NOT NULL", subjectType, period).
		Order("subject_id, id")
	if len(subjectIDs) > 0 {
		stmt = stmt.Where("subject_id IN ?", subjectIDs)
	}

	var entries []ledgerdomain.Entry
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
