package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// NoAuthnUseCase serves the loopback API of the device agent. The actor is
// the user of the stored sync session, whatever token the caller sends.
type NoAuthnUseCase struct {
	repo interfaces.Repository
}

// NewNoAuthnUseCase creates a new NoAuthnUseCase instance
func NewNoAuthnUseCase(repo interfaces.Repository) *NoAuthnUseCase {
	return &NoAuthnUseCase{repo: repo}
}

// Authenticate is not available on the device; `changegate login` signs in
// against the server instead
func (uc *NoAuthnUseCase) Authenticate(ctx context.Context, userID types.UserID, password string) (*auth.Token, error) {
	return nil, goerr.Wrap(model.ErrUnauthorized, "authentication is handled by the server", goerr.V(model.UserIDKey, userID))
}

// ValidateToken returns the actor of the stored session. Expired tokens are
// accepted so the device keeps working offline.
func (uc *NoAuthnUseCase) ValidateToken(ctx context.Context, token string) (auth.Actor, error) {
	state, err := uc.repo.GetSyncState(ctx)
	if err != nil {
		return auth.Actor{}, goerr.Wrap(err, "failed to load sync state")
	}
	if state.UserID == "" {
		return auth.Actor{}, goerr.Wrap(ErrNotLoggedIn, "no stored session")
	}
	return auth.Actor{ID: state.UserID, Role: state.Role}, nil
}

// IsNoAuthn returns true for NoAuthnUseCase
func (uc *NoAuthnUseCase) IsNoAuthn() bool {
	return true
}
