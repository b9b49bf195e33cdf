package account

import (
	"context"
	"strings"

	"engagement-core/pkg/db"
	"engagement-core/pkg/errutil"
	"engagement-core/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	node  *snowflake.Node
	users repository.Repository[User]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:  p.Node,
		users: repository.ProvideStore[User](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errutil.ValidationFailed("username is required", nil)
	}

	user := &User{ID: s.node.Generate().String(), Username: username}
	if err := s.users.Create(ctx, user); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errutil.Conflict("username already taken", err)
		}
		zap.L().Error("failed to create user", zap.String("username", username), zap.Error(err))
		return nil, err
	}

	return user, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, errutil.ValidationFailed("user_id is required", nil)
	}

	user, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errutil.NotFound("user not found", nil)
	}

	return user, nil
}
