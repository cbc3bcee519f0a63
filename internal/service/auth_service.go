package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/carserv/carserv-api/internal/domain"
	"github.com/carserv/carserv-api/internal/repository"
	"github.com/carserv/carserv-api/pkg/auth"
	"github.com/carserv/carserv-api/pkg/config"
	"github.com/carserv/carserv-api/pkg/events"
	"github.com/carserv/carserv-api/pkg/logger"
)

type AuthService interface {
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.AuthResponse, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthResponse, error)
}

type authService struct {
	userRepo repository.UserRepository
	eventBus events.Publisher
	config   *config.Config
}

func NewAuthService(userRepo repository.UserRepository, eventBus events.Publisher, config *config.Config) AuthService {
	return &authService{
		userRepo: userRepo,
		eventBus: eventBus,
		config:   config,
	}
}

func (s *authService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.AuthResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrUserExists
	}

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.userRepo.Create(ctx, &domain.User{
		FullName:     req.FullName,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Phone:        req.Phone,
		Address:      req.Address,
		Role:         domain.RoleCustomer,
		Cars:         req.Cars,
	})
	if err != nil {
		// The unique index catches a concurrent registration for the same
		// e-mail between the lookup above and this insert.
		if errors.Is(err, domain.ErrUserExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	if err := s.eventBus.Publish(ctx, events.UserRegistered, events.UserRegisteredEvent{
		UserID:       user.ID.Hex(),
		Email:        user.Email,
		FullName:     user.FullName,
		RegisteredAt: user.CreatedAt,
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish user.registered event", "error", err, "user_id", user.ID.Hex())
	}

	return &domain.AuthResponse{Token: token, User: user.ToUserInfo()}, nil
}

func (s *authService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// Same error as a wrong password so accounts cannot be enumerated.
		return nil, domain.ErrInvalidCredentials
	}

	valid, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	return &domain.AuthResponse{Token: token, User: user.ToUserInfo()}, nil
}

func (s *authService) issueToken(user *domain.User) (string, error) {
	ttl := s.config.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := auth.NewAccessToken(user.ID.Hex(), user.Email, user.Role, s.config.Auth.JWTSecret, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to create access token: %w", err)
	}
	return token, nil
}
