// Package session obtains and caches authenticated provider sessions per account
// and reacts to provider login errors.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/tidic84/InstaAi/internal/metrics"
	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/provider"
	"github.com/tidic84/InstaAi/internal/repository"
	"github.com/tidic84/InstaAi/internal/retry"
	"github.com/tidic84/InstaAi/internal/vault"
)

// Default login jitter bounds.
const (
	DefaultJitterMin = 500 * time.Millisecond
	DefaultJitterMax = 1500 * time.Millisecond
)

// ErrAccountInactive is returned for accounts that were deactivated.
var ErrAccountInactive = errors.New("account is inactive")

// Options tunes a Manager. Zero values take the defaults.
type Options struct {
	Cache      Cache
	TTL        time.Duration
	Backoff    time.Duration
	MaxRetries *int
	JitterMin  time.Duration
	JitterMax  time.Duration
	// Jitter picks a delay in [min, max). Nil draws uniformly.
	Jitter  func(min, max time.Duration) time.Duration
	Sleep   retry.Sleeper
	Metrics metrics.MetricsCollector
}

// Manager hands out provider sessions, logging in on a cache miss.
type Manager struct {
	accounts repository.AccountRepository
	vault    vault.Vault
	client   provider.Client
	cache    Cache
	policy   *retry.Policy
	metrics  metrics.MetricsCollector
	logger   *slog.Logger

	jitterMin time.Duration
	jitterMax time.Duration
	jitter    func(min, max time.Duration) time.Duration
	sleep     retry.Sleeper
}

// NewManager creates a Manager.
func NewManager(
	accounts repository.AccountRepository,
	v vault.Vault,
	client provider.Client,
	logger *slog.Logger,
	opts Options,
) *Manager {
	m := &Manager{
		accounts:  accounts,
		vault:     v,
		client:    client,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		logger:    logger,
		jitterMin: opts.JitterMin,
		jitterMax: opts.JitterMax,
		jitter:    opts.Jitter,
		sleep:     opts.Sleep,
	}
	if m.cache == nil {
		m.cache = NewTTLCache(opts.TTL, nil)
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop{}
	}
	if m.jitterMin == 0 && m.jitterMax == 0 {
		m.jitterMin, m.jitterMax = DefaultJitterMin, DefaultJitterMax
	}
	if m.jitter == nil {
		m.jitter = uniformJitter
	}
	if m.sleep == nil {
		m.sleep = retry.Sleep
	}

	m.policy = retry.NewPolicy(provider.IsRateLimited)
	m.policy.Sleep = m.sleep
	if opts.Backoff > 0 {
		m.policy.InitialDelay = opts.Backoff
	}
	if opts.MaxRetries != nil {
		m.policy.MaxRetries = *opts.MaxRetries
	}
	m.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		m.logger.Warn("provider login rate limited, backing off",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
	return m
}

func uniformJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

// Get returns a session for the account, logging in when the cache has none.
// Authentication and two-factor failures deactivate the account before the
// error is returned. Rate-limited logins are retried with backoff.
func (m *Manager) Get(ctx context.Context, accountID string) (*provider.Session, error) {
	if s, ok := m.cache.Get(accountID); ok {
		return s, nil
	}

	account, err := m.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, model.WrapPersistence("load account", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(accountID)
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}

	secret, err := m.vault.Decrypt(account.EncryptedCredential)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	s, err := m.login(ctx, account.Username, secret)
	if err != nil {
		m.handleLoginError(ctx, account, err)
		return nil, err
	}
	s.AccountID = account.ID

	if s.RemoteUserID != "" && s.RemoteUserID != account.RemoteUserID {
		if err := m.accounts.UpdateRemoteUserID(ctx, account.ID, s.RemoteUserID); err != nil {
			return nil, model.WrapPersistence("store remote user id", err)
		}
	}

	m.cache.Put(account.ID, s)
	m.logger.Info("provider session established",
		slog.String("account_id", account.ID),
		slog.String("username", account.Username),
	)
	return s, nil
}

// Verify logs in with a plain credential without touching any stored account.
// It is used to check credentials before an account is created.
func (m *Manager) Verify(ctx context.Context, username, secret string) (*provider.Session, error) {
	s, err := m.login(ctx, username, secret)
	if err != nil {
		m.metrics.RecordLoginFailure(provider.Kind(err))
		return nil, err
	}
	return s, nil
}

// Invalidate drops the cached session of an account.
func (m *Manager) Invalidate(accountID string) {
	m.cache.Delete(accountID)
}

// login runs the remote login under the retry policy with a jitter pause before every attempt.
func (m *Manager) login(ctx context.Context, username, secret string) (*provider.Session, error) {
	var s *provider.Session
	err := m.policy.Do(ctx, func(ctx context.Context) error {
		if d := m.jitter(m.jitterMin, m.jitterMax); d > 0 {
			if err := m.sleep(ctx, d); err != nil {
				return err
			}
		}
		var err error
		s, err = m.client.Login(ctx, username, secret)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &provider.ProviderError{Message: "login returned no session"}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return s, nil
}

func (m *Manager) handleLoginError(ctx context.Context, account *model.Account, err error) {
	kind := provider.Kind(err)
	m.metrics.RecordLoginFailure(kind)

	if !provider.IsAccountFatal(err) {
		m.logger.Warn("provider login failed",
			slog.String("account_id", account.ID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return
	}

	m.cache.Delete(account.ID)
	if dErr := m.accounts.SetActive(ctx, account.ID, false, err.Error()); dErr != nil {
		m.logger.Error("failed to deactivate account",
			slog.String("account_id", account.ID),
			slog.String("error", dErr.Error()),
		)
		return
	}
	m.logger.Warn("account deactivated after login failure",
		slog.String("account_id", account.ID),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}
