// Package usecase contains the application services of the orchestration
// plane: auth flows, job submission, status reconciliation, replay, gallery
// and stats. Usecases speak to the outside world only through domain ports.
package usecase

import (
	"errors"
	"fmt"
	"net/mail"

	"golang.org/x/crypto/bcrypt"

	"github.com/zimagehq/zimage/internal/adapter/token"
	"github.com/zimagehq/zimage/internal/domain"
)

// dummyHash is a bcrypt digest of a throwaway password, compared against when
// the email is unknown so login latency does not reveal account existence.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Auth implements registration, login, refresh and profile lookup.
type Auth struct {
	Users      domain.UserRepository
	Tokens     *token.Issuer
	BcryptCost int
}

// NewAuth wires the auth service.
func NewAuth(users domain.UserRepository, tokens *token.Issuer, bcryptCost int) *Auth {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Auth{Users: users, Tokens: tokens, BcryptCost: bcryptCost}
}

// Register validates the fields, persists the account and returns a token
// pair. A taken email is a validation failure, not a conflict, so the client
// sees 400.
func (a *Auth) Register(ctx domain.Context, email, password, name string) (token.Pair, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return token.Pair{}, fmt.Errorf("op=auth.register: email: %w", domain.ErrInvalidArgument)
	}
	if len(password) < 8 || len(password) > 100 {
		return token.Pair{}, fmt.Errorf("op=auth.register: password length: %w", domain.ErrInvalidArgument)
	}
	if len(name) < 2 || len(name) > 100 {
		return token.Pair{}, fmt.Errorf("op=auth.register: name length: %w", domain.ErrInvalidArgument)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.BcryptCost)
	if err != nil {
		return token.Pair{}, fmt.Errorf("op=auth.register: %w", err)
	}
	id, err := a.Users.Create(ctx, domain.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Role:         domain.RoleUser,
		Active:       true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return token.Pair{}, fmt.Errorf("op=auth.register: email already registered: %w", domain.ErrInvalidArgument)
		}
		return token.Pair{}, err
	}
	return a.Tokens.IssuePair(id, domain.RoleUser)
}

// Login verifies credentials and returns a token pair. All failure modes map
// to ErrUnauthorized so callers cannot distinguish them.
func (a *Auth) Login(ctx domain.Context, email, password string) (token.Pair, error) {
	u, err := a.Users.GetByEmail(ctx, email)
	if err != nil {
		// burn a comparable amount of time before failing
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return token.Pair{}, fmt.Errorf("op=auth.login: %w", domain.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return token.Pair{}, fmt.Errorf("op=auth.login: %w", domain.ErrUnauthorized)
	}
	if !u.Active {
		return token.Pair{}, fmt.Errorf("op=auth.login: inactive account: %w", domain.ErrUnauthorized)
	}
	return a.Tokens.IssuePair(u.ID, u.Role)
}

// Refresh exchanges a valid refresh token for a fresh pair.
func (a *Auth) Refresh(ctx domain.Context, refreshToken string) (token.Pair, error) {
	claims, err := a.Tokens.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return token.Pair{}, err
	}
	u, err := a.Users.GetByID(ctx, claims.Subject)
	if err != nil {
		return token.Pair{}, fmt.Errorf("op=auth.refresh: %w", domain.ErrUnauthorized)
	}
	if !u.Active {
		return token.Pair{}, fmt.Errorf("op=auth.refresh: inactive account: %w", domain.ErrUnauthorized)
	}
	return a.Tokens.IssuePair(u.ID, u.Role)
}

// Me returns the caller's profile.
func (a *Auth) Me(ctx domain.Context, userID string) (domain.User, error) {
	u, err := a.Users.GetByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	u.PasswordHash = ""
	return u, nil
}
