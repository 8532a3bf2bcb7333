package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/access"
	"github.com/usenetsync/usenetsync/pkg/api/auth"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
)

// CreateUserParams registers a new local principal.
type CreateUserParams struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// CreatedUser carries the new record plus the API key, which is shown
// exactly once; only its hash is stored.
type CreatedUser struct {
	User   *models.User `json:"user"`
	APIKey string       `json:"api_key"`
}

// CreateUser generates the principal's keypairs, derives the identifier
// from the Ed25519 public key and stores the private material sealed in
// the key store.
func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (*CreatedUser, error) {
	if params.Username == "" {
		return nil, Validationf("username is required")
	}

	signing, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	exchange, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}

	apiKey, err := newAPIKey()
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:          crypto.IDFromPublicKey(signing.Public),
		DisplayName: params.Username,
		Email:       params.Email,
		PublicKey:   signing.Public,
		X25519Pub:   exchange.Public,
		APIKeyHash:  auth.HashAPIKey(apiKey),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if err := s.keys.SaveUserKeys(user.ID, &access.UserKeys{
		Ed25519: signing.Private,
		X25519:  exchange.Private,
	}); err != nil {
		return nil, err
	}

	logger.Info("user created", logger.User(user.ID), "username", params.Username)
	return &CreatedUser{User: user, APIKey: apiKey}, nil
}

// LoginParams authenticates a principal with its API key.
type LoginParams struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

// Session is an issued session token plus the authenticated user.
type Session struct {
	Token *auth.Token  `json:"token"`
	User  *models.User `json:"user"`
}

// Login validates an API key and issues a session token.
func (s *Service) Login(ctx context.Context, params LoginParams) (*Session, error) {
	if params.UserID == "" || params.APIKey == "" {
		return nil, Validationf("user_id and api_key are required")
	}

	user, err := s.store.GetUser(ctx, params.UserID)
	if err != nil {
		// Indistinguishable from a wrong key.
		return nil, ErrInvalidCredentials
	}
	if !auth.VerifyAPIKey(user.APIKeyHash, params.APIKey) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.sessions.GenerateToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: user}, nil
}

// ListUsers returns all local principals.
func (s *Service) ListUsers(ctx context.Context, _ struct{}) ([]*models.User, error) {
	return s.store.ListUsers(ctx)
}

func newAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return "usk_" + hex.EncodeToString(raw), nil
}
