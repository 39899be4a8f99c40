// Package account connects, toggles, lists and removes provider accounts for a user.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/provider"
	"github.com/tidic84/InstaAi/internal/repository"
	"github.com/tidic84/InstaAi/internal/vault"
)

// Verifier checks a credential against the provider.
type Verifier interface {
	Verify(ctx context.Context, username, secret string) (*provider.Session, error)
	Invalidate(accountID string)
}

// Service manages the accounts of one owner at a time.
type Service struct {
	accounts repository.AccountRepository
	vault    vault.Vault
	verifier Verifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(accounts repository.AccountRepository, v vault.Vault, verifier Verifier, logger *slog.Logger) *Service {
	return &Service{
		accounts: accounts,
		vault:    v,
		verifier: verifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Add verifies the credential with a provider login and stores the account encrypted and active.
func (s *Service) Add(ctx context.Context, userID, username, password string) (*model.Account, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" || password == "" {
		return nil, model.NewInvalidRequestError("username and password are required")
	}

	existing, err := s.accounts.FindByUserAndUsername(ctx, userID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateAccountError(username)
	}

	session, err := s.verifier.Verify(ctx, username, password)
	if err != nil {
		s.logger.Warn("account verification failed",
			slog.String("user_id", userID),
			slog.String("username", username),
			slog.String("kind", provider.Kind(err)),
		)
		switch {
		case provider.IsTwoFactor(err):
			return nil, model.NewTwoFactorRequiredError()
		case provider.IsAuthentication(err):
			return nil, model.NewInvalidCredentialsError()
		default:
			return nil, model.NewProviderUnavailableError(err.Error())
		}
	}

	encrypted, err := s.vault.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	now := s.now()
	a := &model.Account{
		ID:                  uuid.New().String(),
		UserID:              userID,
		Username:            username,
		EncryptedCredential: encrypted,
		RemoteUserID:        session.RemoteUserID,
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("account connected",
		slog.String("user_id", userID),
		slog.String("account_id", a.ID),
		slog.String("username", username),
	)
	return a, nil
}

// SetActive enables or disables syncing for an owned account.
// Enabling drops any cached session so the next sync logs in fresh.
func (s *Service) SetActive(ctx context.Context, userID, accountID string, active bool) (*model.Account, error) {
	a, err := s.owned(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.SetActive(ctx, a.ID, active, ""); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	s.verifier.Invalidate(a.ID)

	a.IsActive = active
	a.LastError = ""
	return a, nil
}

// Delete removes an owned account with all of its conversations, messages and suggestions.
func (s *Service) Delete(ctx context.Context, userID, accountID string) error {
	a, err := s.owned(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if err := s.accounts.Delete(ctx, a.ID); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	s.verifier.Invalidate(a.ID)
	s.logger.Info("account deleted", slog.String("user_id", userID), slog.String("account_id", a.ID))
	return nil
}

// List returns the owner's accounts.
func (s *Service) List(ctx context.Context, userID string) ([]*model.Account, error) {
	accounts, err := s.accounts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

func (s *Service) owned(ctx context.Context, userID, accountID string) (*model.Account, error) {
	a, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if a == nil {
		return nil, model.NewAccountNotFoundError(accountID)
	}
	if a.UserID != userID {
		return nil, model.NewForbiddenError()
	}
	return a, nil
}
