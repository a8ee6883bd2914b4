// This file defines the authentication service: token login, restoring the
// session from the local store, logout, and the liveness probe of the
// remote store.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/bitacora/internal/client/appstate"
	"github.com/dmitrijs2005/bitacora/internal/client/auth"
	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/remote"
)

// Metadata keys of the persisted session.
const (
	MetaAccessToken = "access_token"
	MetaUser        = "user"
)

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - Login: validate an access token, resolve the user's role from the
//     profiles table when online, persist the session locally.
//   - Restore: rebuild the session from the local store; works offline
//     with the last known profile.
//   - Logout: forget the persisted session.
//   - Ping: check remote liveness.
type AuthService interface {
	Login(ctx context.Context, token string) (models.User, error)
	Restore(ctx context.Context) (models.User, error)
	Logout(ctx context.Context) error
	Ping(ctx context.Context) error
}

// MetadataStore persists small session values.
type MetadataStore interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
	DeleteMeta(ctx context.Context, key string) error
}

type authService struct {
	meta   MetadataStore
	remote remote.Store
	state  *appstate.State
	secret []byte
}

// NewAuthService constructs an AuthService. remote may be nil; secret may
// be empty, in which case token signatures are left to the backend.
func NewAuthService(meta MetadataStore, rs remote.Store, state *appstate.State, secret []byte) AuthService {
	return &authService{meta: meta, remote: rs, state: state, secret: secret}
}

func (a *authService) Login(ctx context.Context, token string) (models.User, error) {
	u, err := a.establish(ctx, token)
	if err != nil {
		return models.User{}, err
	}
	if err := a.meta.SetMeta(ctx, MetaAccessToken, token); err != nil {
		return models.User{}, fmt.Errorf("session saving error: %w", err)
	}
	return u, nil
}

func (a *authService) Restore(ctx context.Context) (models.User, error) {
	token, ok, err := a.meta.GetMeta(ctx, MetaAccessToken)
	if err != nil {
		return models.User{}, err
	}
	if !ok || token == "" {
		return models.User{}, common.ErrNotLoggedIn
	}
	return a.establish(ctx, token)
}

// establish parses the token, completes the user from the profile (or the
// cached copy when the profile is unreachable) and publishes it.
func (a *authService) establish(ctx context.Context, token string) (models.User, error) {
	claims, err := auth.ParseToken(token, a.secret)
	if err != nil {
		return models.User{}, err
	}
	u := claims.User()

	if a.remote != nil && a.state.IsOnline() {
		p, err := a.remote.GetProfile(ctx, u.ID)
		switch {
		case err == nil:
			u.Role = p.Role
			if p.Email != "" {
				u.Email = p.Email
			}
		case errors.Is(err, common.ErrNotFound):
		case common.IsConnectivity(err):
			u = a.cached(ctx, u)
		default:
			return models.User{}, fmt.Errorf("profile error: %w", err)
		}
	} else {
		u = a.cached(ctx, u)
	}

	raw, err := json.Marshal(u)
	if err != nil {
		return models.User{}, err
	}
	if err := a.meta.SetMeta(ctx, MetaUser, string(raw)); err != nil {
		return models.User{}, fmt.Errorf("session saving error: %w", err)
	}
	a.state.SetUser(u)
	return u, nil
}

// cached fills the role from the last saved profile of the same user.
func (a *authService) cached(ctx context.Context, u models.User) models.User {
	raw, ok, err := a.meta.GetMeta(ctx, MetaUser)
	if err != nil || !ok {
		return u
	}
	var saved models.User
	if json.Unmarshal([]byte(raw), &saved) != nil || saved.ID != u.ID {
		return u
	}
	if saved.Role != "" {
		u.Role = saved.Role
	}
	if u.Email == "" {
		u.Email = saved.Email
	}
	return u
}

func (a *authService) Logout(ctx context.Context) error {
	a.state.ClearUser()
	if err := a.meta.DeleteMeta(ctx, MetaAccessToken); err != nil {
		return err
	}
	return a.meta.DeleteMeta(ctx, MetaUser)
}

func (a *authService) Ping(ctx context.Context) error {
	if a.remote == nil {
		return common.ErrRemoteDisabled
	}
	return a.remote.Ping(ctx)
}
