package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"support-chat-backend/internal/database"
	internaljwt "support-chat-backend/internal/jwt"
	"support-chat-backend/internal/model"

	"github.com/google/uuid"
)

const customerRoleKey = "customer"

type Service struct {
	repo Repository
	now  func() time.Time
}

var createTokenWithRefresh = internaljwt.CreateTokenWithRefresh

// SetTokenIssuer swaps the token issuer. Tests use it to avoid the
// redis-backed refresh store.
func SetTokenIssuer(issuer func(internaljwt.User, internaljwt.Role, int64) (internaljwt.TokenResponse, error)) {
	if issuer == nil {
		createTokenWithRefresh = internaljwt.CreateTokenWithRefresh
		return
	}
	createTokenWithRefresh = issuer
}

func New(db *database.Database) *Service {
	return &Service{
		repo: NewDynamoRepository(db),
		now:  time.Now,
	}
}

func NewWithRepository(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo: repo,
		now:  now,
	}
}

// Register creates a customer account. Staff accounts are provisioned out
// of band with a staff role key; self-signup always lands on the customer
// role.
func (s *Service) Register(ctx context.Context, params RegisterParams) (AuthResult, error) {
	email := normalizeEmail(params.Email)
	password := strings.TrimSpace(params.Password)
	name := strings.TrimSpace(params.Name)

	if email == "" || password == "" || name == "" {
		return AuthResult{}, newError(ErrorCodeValidation, "missing required fields", nil)
	}

	if _, err := s.repo.FindUserByEmail(ctx, email); err == nil {
		return AuthResult{}, newError(ErrorCodeConflict, "email already registered", nil)
	} else if !errors.Is(err, ErrNotFound) {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to check email", err)
	}

	newUser, err := internaljwt.NewUser(internaljwt.RegisterUser{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to prepare user", err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	user := model.UserItem{
		UserID:       uuid.NewString(),
		Email:        email,
		Name:         name,
		Role:         customerRoleKey,
		Status:       model.UserStatusVerified,
		PasswordHash: newUser.PasswordHash,
		CreatedAt:    now,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to save user", err)
	}

	newUser.Id = user.UserID
	newUser.Name = user.Name
	newUser.Status = user.Status

	tokens, err := createTokenWithRefresh(newUser, internaljwt.RoleCustomer, 0)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to issue tokens", err)
	}

	return AuthResult{
		User:   user,
		Staff:  false,
		Tokens: tokens,
	}, nil
}

// Login verifies credentials and issues a token pair signed with the
// secret of the user's side (customer or staff).
func (s *Service) Login(ctx context.Context, params LoginParams) (AuthResult, error) {
	email := normalizeEmail(params.Email)
	password := strings.TrimSpace(params.Password)

	if email == "" || password == "" {
		return AuthResult{}, newError(ErrorCodeValidation, "missing required fields", nil)
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResult{}, newError(ErrorCodeUnauthorized, "invalid credentials", nil)
		}
		return AuthResult{}, newError(ErrorCodeInternal, "failed to fetch user", err)
	}

	if !internaljwt.ValidatePassword(user.PasswordHash, password) {
		return AuthResult{}, newError(ErrorCodeUnauthorized, "invalid credentials", nil)
	}

	if user.Status != model.UserStatusVerified {
		return AuthResult{}, newError(ErrorCodeUnauthorized, "account is not verified", nil)
	}

	staff, err := s.isStaff(ctx, user.Role)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to resolve role", err)
	}

	jwtRole := internaljwt.RoleCustomer
	if staff {
		jwtRole = internaljwt.RoleStaff
	}

	tokens, err := createTokenWithRefresh(internaljwt.User{
		Id:           user.UserID,
		Email:        user.Email,
		Name:         user.Name,
		Status:       user.Status,
		PasswordHash: user.PasswordHash,
	}, jwtRole, 0)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to issue tokens", err)
	}

	return AuthResult{
		User:   user,
		Staff:  staff,
		Tokens: tokens,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. The trailing
// role character picks which side's store the token must match.
func (s *Service) Refresh(refreshToken string, staff bool) (string, error) {
	role := internaljwt.RoleCustomer
	if staff {
		role = internaljwt.RoleStaff
	}

	accessToken, err := internaljwt.RefreshToken(refreshToken, role)
	if err != nil {
		return "", newError(ErrorCodeUnauthorized, "invalid refresh token", err)
	}

	return accessToken, nil
}

// Me returns the stored profile for an authenticated identity.
func (s *Service) Me(ctx context.Context, identity Identity) (model.UserItem, error) {
	userID := strings.TrimSpace(identity.UserID)
	if userID == "" {
		return model.UserItem{}, newError(ErrorCodeUnauthorized, "invalid user identity", nil)
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.UserItem{}, newError(ErrorCodeNotFound, "user not found", err)
		}
		return model.UserItem{}, newError(ErrorCodeInternal, "failed to fetch user", err)
	}

	return user, nil
}

func (s *Service) isStaff(ctx context.Context, roleKey string) (bool, error) {
	if roleKey == "" || roleKey == customerRoleKey {
		return false, nil
	}

	role, err := s.repo.GetRole(ctx, roleKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Unknown role keys never grant staff capability.
			return false, nil
		}
		return false, err
	}

	return role.IsStaff, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
