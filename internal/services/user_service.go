package services

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/auth"
	"delivery-backend/internal/models"
	"delivery-backend/internal/repositories"
	"delivery-backend/internal/validation"
)

// TokenIssuer signs session tokens for authenticated users.
type TokenIssuer interface {
	GenerateToken(user *models.User) (string, error)
}

// UserService is the authentication collaborator: it verifies credentials and
// resolves a token subject to the caller identity the engines work with.
type UserService struct {
	Users  UserStore
	Tokens TokenIssuer
	Log    logrus.FieldLogger
}

func NewUserService(users UserStore, tokens TokenIssuer, log logrus.FieldLogger) *UserService {
	return &UserService{Users: users, Tokens: tokens, Log: log.WithField("component", "auth")}
}

// Login authenticates a user and returns a JWT token
func (s *UserService) Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResponse, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	user, err := s.Users.GetByEmail(ctx, req.Email)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperr.Authentication("invalid email or password")
	}
	if err != nil {
		return nil, storeError(err, "user")
	}
	if !user.IsActive || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		s.Log.WithField("email", req.Email).Warn("[Auth] Failed login")
		return nil, apperr.Authentication("invalid email or password")
	}

	token, err := s.Tokens.GenerateToken(user)
	if err != nil {
		return nil, apperr.Internal(err, false)
	}
	return &models.AuthResponse{Token: token, User: user}, nil
}

// Caller loads the current identity for a token subject. Role and branch come
// from the store, not the token, so changes apply without re-login.
func (s *UserService) Caller(ctx context.Context, userID int) (models.Caller, error) {
	user, err := s.Users.Get(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.Caller{}, apperr.Authentication("user no longer exists")
	}
	if err != nil {
		return models.Caller{}, storeError(err, "user")
	}
	if !user.IsActive {
		return models.Caller{}, apperr.Authentication("user is disabled")
	}
	if user.Role == models.RoleBranch && user.BranchID == nil {
		return models.Caller{}, apperr.Authorization("branch user is not assigned to a branch")
	}
	return models.Caller{UserID: user.ID, Role: user.Role, BranchID: user.BranchID}, nil
}

func (s *UserService) Me(ctx context.Context, userID int) (*models.User, error) {
	user, err := s.Users.Get(ctx, userID)
	if err != nil {
		return nil, storeError(err, "user")
	}
	return user, nil
}
