// Package fcm authenticates against the push service and delivers messages.
package fcm

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/logging"
)

const (
	// DefaultTokenURI is the OAuth2 token endpoint for service accounts.
	DefaultTokenURI = "https://oauth2.googleapis.com/token"
	// MessagingScope grants send access to the push API.
	MessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

	jwtBearerGrant         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL           = time.Hour
	refreshMargin          = 60 * time.Second
	defaultTokenTTL        = time.Hour
	defaultExchangeTimeout = 30 * time.Second
)

// TokenSource yields a bearer token for the push API.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenConfig holds the service-account fields used to sign assertions.
type TokenConfig struct {
	ClientEmail string
	PrivateKey  string // PEM, PKCS8 or PKCS1
	TokenURI    string
	Scope       string
}

// TokenManager caches a bearer token and refreshes it near expiry. Concurrent
// callers share one in-flight exchange.
type TokenManager struct {
	cfg    TokenConfig
	key    *rsa.PrivateKey
	http   *http.Client
	now    func() time.Time
	logger zerolog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewTokenManager validates the credentials and parses the signing key. Missing
// or unusable credentials are a fatal ConfigError.
func NewTokenManager(cfg TokenConfig, client *http.Client, clock func() time.Time, logger zerolog.Logger) (*TokenManager, error) {
	if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
		return nil, apperrors.NewConfigError("credentials", "service-account email and private key are required", apperrors.ErrMissingCredentials)
	}
	if cfg.TokenURI == "" {
		cfg.TokenURI = DefaultTokenURI
	}
	if cfg.Scope == "" {
		cfg.Scope = MessagingScope
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, apperrors.NewConfigError("credentials.private_key", "cannot parse RSA private key", err)
	}

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if clock == nil {
		clock = time.Now
	}

	return &TokenManager{
		cfg:    cfg,
		key:    key,
		http:   client,
		now:    clock,
		logger: logging.WithOperation(logger, "fcm_token"),
	}, nil
}

// BuildAssertion returns the signed RS256 service-account assertion for now.
func (m *TokenManager) BuildAssertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   m.cfg.ClientEmail,
		"scope": m.cfg.Scope,
		"aud":   m.cfg.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}
	return signed, nil
}

// AccessToken returns the cached token while now < expiresAt-60s, otherwise
// performs a single shared exchange. The exchange is detached from ctx so one
// caller's deadline does not fail the others; ctx only bounds the wait.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	ch := m.group.DoChan("token", func() (interface{}, error) {
		// Another caller may have refreshed while we queued.
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.exchangeTimeout())
		defer cancel()
		tok, expiresAt, err := m.exchange(ectx)
		if err != nil {
			return "", err
		}
		m.mu.Lock()
		m.token = tok
		m.expiresAt = expiresAt
		m.mu.Unlock()
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *TokenManager) exchangeTimeout() time.Duration {
	if m.http != nil && m.http.Timeout > 0 {
		return m.http.Timeout
	}
	return defaultExchangeTimeout
}

func (m *TokenManager) cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && m.now().Before(m.expiresAt.Add(-refreshMargin)) {
		return m.token, true
	}
	return "", false
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (m *TokenManager) exchange(ctx context.Context) (string, time.Time, error) {
	issuedAt := m.now()
	assertion, err := m.BuildAssertion(issuedAt)
	if err != nil {
		return "", time.Time{}, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := m.http.Do(req)
	logging.LogAPICall(m.logger, http.MethodPost, m.cfg.TokenURI, time.Since(start), err)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, logging.Redact(strings.TrimSpace(string(body))))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", time.Time{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token exchange: empty access_token")
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	expiresAt := issuedAt.Add(ttl)

	m.logger.Debug().Time("expires_at", expiresAt).Msg("Obtained push access token")
	return tr.AccessToken, expiresAt, nil
}
