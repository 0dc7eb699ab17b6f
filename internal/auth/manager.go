package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"rehearse/internal/config"
	"rehearse/internal/logging"
	"rehearse/internal/services"
)

const (
	refreshPath    = "/api/auth/refresh"
	refreshTimeout = 30 * time.Second
	expiryLeeway   = 30 * time.Second
)

// ErrNoCredentials is returned when neither an access nor a refresh token is known.
var ErrNoCredentials = errors.New("no practice API credentials configured")

// Option customises Manager construction.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for refresh calls.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithTokenStore injects a custom persistence layer.
func WithTokenStore(store TokenStore) Option {
	return func(m *Manager) { m.store = store }
}

// WithLogger overrides the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager caches the bearer token and coordinates refreshes.
type Manager struct {
	baseURL    string
	httpClient *http.Client
	client     *resty.Client
	store      TokenStore
	logger     *slog.Logger
	now        func() time.Time
	group      singleflight.Group

	mu    sync.RWMutex
	state State
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    float64 `json:"expires_in"`
}

// NewManager builds a Manager using the server configuration. Tokens present in
// configuration (or the environment) take precedence over persisted state.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	m := &Manager{
		baseURL: strings.TrimRight(cfg.Server.BaseURL, "/"),
		store:   NewFileTokenStore(cfg.Server.TokenFile),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	m.logger = logging.NewComponentLogger(m.logger, "auth")
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: refreshTimeout}
	}
	m.client = resty.NewWithClient(m.httpClient).SetBaseURL(m.baseURL)

	state, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(cfg.Server.APIToken); token != "" {
		state.AccessToken = token
		state.ExpiresAt = time.Time{}
	}
	if token := strings.TrimSpace(cfg.Server.RefreshToken); token != "" {
		state.RefreshToken = token
	}
	m.state = state
	return m, nil
}

// Token returns a usable access token, refreshing first when the cached token
// is missing or about to expire.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	if state.AccessToken != "" && (state.ExpiresAt.IsZero() || state.ExpiresAt.Sub(m.now()) > expiryLeeway) {
		return state.AccessToken, nil
	}
	if state.RefreshToken == "" {
		if state.AccessToken != "" {
			return state.AccessToken, nil
		}
		return "", services.Wrap(services.ErrAuthExpired, "auth", "token", "", ErrNoCredentials)
	}
	return m.Refresh(ctx, state.AccessToken)
}

// Refresh exchanges the refresh token for a new access token. stale is the
// token the caller saw rejected; if another caller already replaced it, the
// current token is returned without a second exchange. Concurrent callers share
// one in-flight request.
func (m *Manager) Refresh(ctx context.Context, stale string) (string, error) {
	m.mu.RLock()
	current := m.state.AccessToken
	m.mu.RUnlock()
	if current != "" && current != stale {
		return current, nil
	}

	v, err, shared := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx, stale)
	})
	if shared {
		m.logger.Debug("joined in-flight token refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context, stale string) (string, error) {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()
	if state.AccessToken != "" && state.AccessToken != stale {
		return state.AccessToken, nil
	}
	if state.RefreshToken == "" {
		return "", services.Wrap(services.ErrAuthExpired, "auth", "refresh", "no refresh token", nil)
	}

	var body refreshResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(refreshRequest{RefreshToken: state.RefreshToken}).
		SetResult(&body).
		Post(refreshPath)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "auth", "refresh", "request failed", err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		logging.WarnWithContext(m.logger, "token refresh rejected", "token_refresh_rejected",
			logging.Int("status", code),
			logging.String(logging.FieldErrorHint, "log in again"),
			logging.String(logging.FieldImpact, "practice API calls will fail until re-authenticated"),
		)
		m.invalidate()
		return "", services.Wrap(services.ErrAuthExpired, "auth", "refresh", fmt.Sprintf("status %d", code), nil)
	case code < 200 || code > 299:
		return "", services.Wrap(services.ErrTransient, "auth", "refresh", fmt.Sprintf("status %d", code), nil)
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return "", services.Wrap(services.ErrAuthExpired, "auth", "refresh", "empty access token", nil)
	}

	updated := State{
		AccessToken:  body.AccessToken,
		RefreshToken: state.RefreshToken,
	}
	if body.RefreshToken != "" {
		updated.RefreshToken = body.RefreshToken
	}
	if body.ExpiresIn > 0 {
		updated.ExpiresAt = m.now().Add(time.Duration(body.ExpiresIn * float64(time.Second)))
	}
	if err := m.store.Save(updated); err != nil {
		m.logger.Warn("persist refreshed token failed", logging.Error(err))
	}

	m.mu.Lock()
	m.state = updated
	m.mu.Unlock()

	m.logger.Info("access token refreshed", logging.String(logging.FieldEventType, "token_refreshed"))
	return updated.AccessToken, nil
}

// Invalidate discards the cached access token.
func (m *Manager) Invalidate() {
	m.invalidate()
}

func (m *Manager) invalidate() {
	m.mu.Lock()
	m.state.AccessToken = ""
	m.state.ExpiresAt = time.Time{}
	state := m.state
	m.mu.Unlock()
	if err := m.store.Save(state); err != nil {
		m.logger.Debug("persist invalidated token failed", logging.Error(err))
	}
}
