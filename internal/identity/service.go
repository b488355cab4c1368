// Package identity owns user accounts: registration, password
// authentication, session tokens and profile lookups.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"chat-sync/internal/apperr"
	"chat-sync/internal/auth"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

const minPasswordLength = 6

// Session is the result of a successful authentication.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

type credentials struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=6,max=72"`
}

// Service implements the identity store on top of a UserRepository.
type Service struct {
	users    repositories.UserRepository
	tokens   *auth.JWTManager
	cache    *lru.Cache
	validate *validator.Validate
	log      zerolog.Logger
}

// NewService builds the identity store. cacheSize bounds the user lookup cache.
func NewService(users repositories.UserRepository, tokens *auth.JWTManager, cacheSize int, log zerolog.Logger) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("user cache: %w", err)
	}
	return &Service{
		users:    users,
		tokens:   tokens,
		cache:    cache,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With().Str("component", "identity").Logger(),
	}, nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers a new account.
func (s *Service) CreateUser(ctx context.Context, email, password string) (models.User, error) {
	const op = "identity.CreateUser"
	creds := credentials{Email: NormalizeEmail(email), Password: password}
	if err := s.validate.Struct(creds); err != nil {
		return models.User{}, apperr.New(apperr.KindValidation, op, describeValidation(err), apperr.ErrInvalidCredential)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, apperr.Internal(op, err)
	}

	user, err := s.users.CreateUser(ctx, models.User{
		UID:          uuid.NewString(),
		Email:        creds.Email,
		PasswordHash: hash,
	})
	if errors.Is(err, repositories.ErrDuplicateEmail) {
		return models.User{}, apperr.AuthFailure(op, apperr.ErrDuplicateEmail)
	}
	if err != nil {
		return models.User{}, apperr.Internal(op, err)
	}

	s.cache.Add(user.UID, user)
	s.log.Info().Str("uid", user.UID).Msg("user created")
	return user, nil
}

// Authenticate checks a password and issues a session token.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Session, error) {
	const op = "identity.Authenticate"
	user, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, repositories.ErrUserNotFound) {
		return Session{}, apperr.AuthFailure(op, apperr.ErrInvalidCredential)
	}
	if err != nil {
		return Session{}, apperr.Internal(op, err)
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return Session{}, apperr.AuthFailure(op, apperr.ErrInvalidCredential)
	}

	token, expiresAt, err := s.tokens.GenerateToken(user.UID, user.Email)
	if err != nil {
		return Session{}, apperr.Internal(op, err)
	}
	return Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// VerifyToken validates a session token.
func (s *Service) VerifyToken(token string) (*auth.Claims, error) {
	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return nil, apperr.AuthFailure("identity.VerifyToken", fmt.Errorf("%w: %v", apperr.ErrInvalidSession, err))
	}
	return claims, nil
}

// GetUser returns a user by uid.
func (s *Service) GetUser(ctx context.Context, uid string) (models.User, error) {
	if cached, ok := s.cache.Get(uid); ok {
		return cached.(models.User), nil
	}
	user, err := s.users.GetUser(ctx, uid)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, apperr.NotFound("identity.GetUser", err)
	}
	if err != nil {
		return models.User{}, apperr.Internal("identity.GetUser", err)
	}
	s.cache.Add(uid, user)
	return user, nil
}

// SetProfileImage links an uploaded avatar to the user.
func (s *Service) SetProfileImage(ctx context.Context, uid, url string) error {
	err := s.users.SetProfileImage(ctx, uid, url)
	s.cache.Remove(uid)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return apperr.NotFound("identity.SetProfileImage", err)
	}
	if err != nil {
		return apperr.Internal("identity.SetProfileImage", err)
	}
	return nil
}

// DeleteUser removes an account. Only registration rollback calls it.
func (s *Service) DeleteUser(ctx context.Context, uid string) error {
	err := s.users.DeleteUser(ctx, uid)
	s.cache.Remove(uid)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return apperr.NotFound("identity.DeleteUser", err)
	}
	if err != nil {
		return apperr.Internal("identity.DeleteUser", err)
	}
	return nil
}

// AnnounceUser publishes users.created. Callers invoke it once the account is
// final, so a rolled-back registration is never announced.
func (s *Service) AnnounceUser(ctx context.Context, user models.User) {
	headers := observability.BuildHeaders(observability.RequestIDFromContext(ctx), observability.TraceIDFromContext(ctx))
	envelope := observability.NewEnvelope("users", "user_created", map[string]interface{}{
		"uid":   user.UID,
		"email": user.Email,
	})
	if err := observability.PublishEvent(ctx, observability.RoutingUserCreated, envelope, headers); err != nil {
		s.log.Warn().Err(err).Str("uid", user.UID).Msg("publish user created")
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.ErrInvalidCredential.Error()
	}
	switch fe := verrs[0]; {
	case fe.Field() == "Email":
		return "a valid email address is required"
	case fe.Tag() == "min":
		return fmt.Sprintf("password must be at least %d characters", minPasswordLength)
	case fe.Tag() == "max":
		return "password is too long"
	default:
		return "password is required"
	}
}
