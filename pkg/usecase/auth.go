package usecase

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"golang.org/x/crypto/bcrypt"
)

const (
	roleClaim       = "role"
	DefaultTokenTTL = 24 * time.Hour
)

// AuthUseCaseInterface issues and verifies bearer tokens
type AuthUseCaseInterface interface {
	Authenticate(ctx context.Context, userID types.UserID, password string) (*auth.Token, error)
	ValidateToken(ctx context.Context, token string) (auth.Actor, error)
	IsNoAuthn() bool
}

// AuthUseCase authenticates users of the configured directory and issues
// HS256 signed JWTs
type AuthUseCase struct {
	users *model.UserDirectory
	key   []byte
	ttl   time.Duration
	now   func() time.Time
}

// AuthOption is a functional option for AuthUseCase
type AuthOption func(*AuthUseCase)

// WithTokenTTL sets the lifetime of issued tokens
func WithTokenTTL(ttl time.Duration) AuthOption {
	return func(uc *AuthUseCase) {
		uc.ttl = ttl
	}
}

// WithAuthClock overrides time.Now for token issue and validation
func WithAuthClock(now func() time.Time) AuthOption {
	return func(uc *AuthUseCase) {
		uc.now = now
	}
}

func NewAuthUseCase(users *model.UserDirectory, signingKey []byte, options ...AuthOption) *AuthUseCase {
	uc := &AuthUseCase{
		users: users,
		key:   signingKey,
		ttl:   DefaultTokenTTL,
		now:   time.Now,
	}

	for _, opt := range options {
		opt(uc)
	}

	return uc
}

// Authenticate checks the password of userID and issues a token
func (uc *AuthUseCase) Authenticate(ctx context.Context, userID types.UserID, password string) (*auth.Token, error) {
	user, err := uc.users.Get(userID)
	if err != nil {
		// Same error as a wrong password
		return nil, goerr.Wrap(model.ErrUnauthorized, "invalid credentials", goerr.V(model.UserIDKey, userID))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, goerr.Wrap(model.ErrUnauthorized, "invalid credentials", goerr.V(model.UserIDKey, userID))
	}

	now := uc.now().UTC().Truncate(time.Second)
	exp := now.Add(uc.ttl)

	tok, err := jwt.NewBuilder().
		Subject(user.ID.String()).
		IssuedAt(now).
		Expiration(exp).
		Claim(roleClaim, user.Role.String()).
		Build()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build token", goerr.V(model.UserIDKey, userID))
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, uc.key))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to sign token", goerr.V(model.UserIDKey, userID))
	}

	logging.From(ctx).Info("token issued", "user_id", user.ID, "role", user.Role, "expires_at", exp)

	return &auth.Token{
		Value:     string(signed),
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: exp,
	}, nil
}

// ValidateToken verifies signature and expiry of a token and returns its actor.
// The user must still exist in the directory with the same role.
func (uc *AuthUseCase) ValidateToken(ctx context.Context, token string) (auth.Actor, error) {
	if token == "" {
		return auth.Actor{}, goerr.Wrap(model.ErrUnauthorized, "token is empty")
	}

	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, uc.key),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(uc.now)),
	)
	if err != nil {
		return auth.Actor{}, goerr.Wrap(model.ErrUnauthorized, "invalid token", goerr.V("reason", err.Error()))
	}

	rawRole, ok := tok.Get(roleClaim)
	if !ok {
		return auth.Actor{}, goerr.Wrap(model.ErrUnauthorized, "token has no role claim")
	}
	roleStr, ok := rawRole.(string)
	if !ok {
		return auth.Actor{}, goerr.Wrap(model.ErrUnauthorized, "token role claim is not a string")
	}

	user, err := uc.users.Get(types.UserID(tok.Subject()))
	if err != nil {
		return auth.Actor{}, goerr.Wrap(model.ErrUnauthorized, "token subject is unknown", goerr.V(model.UserIDKey, tok.Subject()))
	}
	if user.Role.String() != roleStr {
		return auth.Actor{}, goerr.Wrap(model.ErrUnauthorized, "token role is outdated",
			goerr.V(model.UserIDKey, user.ID), goerr.V(model.RoleKey, roleStr))
	}

	return auth.Actor{ID: user.ID, Role: user.Role}, nil
}

// IsNoAuthn returns false for AuthUseCase
func (uc *AuthUseCase) IsNoAuthn() bool {
	return false
}
