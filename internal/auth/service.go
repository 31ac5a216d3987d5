package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
)

// Service provides user lookup, credential checks and the admin-only
// account operations.
type Service struct {
	db *gorm.DB
}

// NewService creates a new auth Service instance
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetPrincipal loads the principal for a username. Deactivated
// accounts resolve to unauthorized.
func (s *Service) GetPrincipal(ctx context.Context, username string) (*Principal, error) {
	if username == "" {
		return nil, apperr.Unauthorized("username is empty")
	}

	var user model.User
	result := s.db.WithContext(ctx).Preload("Roles").Where("username = ?", username).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("user not found", "username", username)
			return nil, apperr.Unauthorized("unknown user")
		}
		return nil, apperr.Storage(result.Error, "failed to fetch user")
	}
	if !user.Active {
		return nil, apperr.Unauthorized("account deactivated")
	}

	return &Principal{
		UserID:   user.UserID,
		Username: user.Username,
		FullName: user.FullName,
		Roles:    user.RoleNames(),
	}, nil
}

// Authenticate verifies a credential pair and returns the principal.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Principal, error) {
	var user model.User
	result := s.db.WithContext(ctx).Preload("Roles").Where("username = ?", username).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, apperr.Storage(result.Error, "failed to fetch user")
	}
	if !user.Active {
		return nil, apperr.Unauthorized("account deactivated")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Unauthorized("invalid credentials")
	}

	return &Principal{
		UserID:   user.UserID,
		Username: user.Username,
		FullName: user.FullName,
		Roles:    user.RoleNames(),
	}, nil
}

// ListUsers returns every account with its roles.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Preload("Roles").Order("username").Find(&users).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list users")
	}
	return users, nil
}

// CreateUser registers an account with a bcrypt password hash and the
// given role set.
func (s *Service) CreateUser(ctx context.Context, dto *model.CreateUserDTO) (*model.User, error) {
	if dto.Username == "" || dto.Password == "" {
		return nil, apperr.BadRequest("username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Username:     dto.Username,
		PasswordHash: string(hash),
		FullName:     dto.FullName,
		Active:       true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roles, err := s.lookupRoles(tx, dto.Roles)
		if err != nil {
			return err
		}
		user.Roles = roles
		if err := tx.Create(user).Error; err != nil {
			return apperr.Storage(err, "failed to create user")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("user created", "username", user.Username, "roles", dto.Roles)
	return user, nil
}

// UpdateRoles replaces a user's role set.
func (s *Service) UpdateRoles(ctx context.Context, userID int64, roleNames []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("user not found")
			}
			return apperr.Storage(err, "failed to fetch user")
		}

		roles, err := s.lookupRoles(tx, roleNames)
		if err != nil {
			return err
		}
		if err := tx.Model(&user).Association("Roles").Replace(roles); err != nil {
			return apperr.Storage(err, "failed to update roles")
		}
		return nil
	})
}

// Deactivate turns an account off without deleting it.
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	result := s.db.WithContext(ctx).Model(&model.User{}).Where("user_id = ?", userID).Update("active", false)
	if result.Error != nil {
		return apperr.Storage(result.Error, "failed to deactivate user")
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

func (s *Service) lookupRoles(tx *gorm.DB, names []string) ([]model.Role, error) {
	if len(names) == 0 {
		return nil, apperr.BadRequest("at least one role is required")
	}
	var roles []model.Role
	if err := tx.Where("name IN ?", names).Find(&roles).Error; err != nil {
		return nil, apperr.Storage(err, "failed to fetch roles")
	}
	if len(roles) != len(names) {
		return nil, apperr.BadRequest("unknown role in role set")
	}
	return roles, nil
}
