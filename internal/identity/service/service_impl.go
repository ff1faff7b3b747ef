package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallbiznis/lingora/internal/identity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) identitydomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("identity.service"),
	}
}

func (s *Service) Resolve(ctx context.Context, id snowflake.ID) (identitydomain.User, error) {
	var user identitydomain.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return identitydomain.User{}, identitydomain.ErrNotFound
		}
		return identitydomain.User{}, err
	}
	return user, nil
}
