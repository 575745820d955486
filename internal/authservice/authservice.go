// Package authservice owns the OAuth Authorization Code flow against
// GitHub and the session-token lifecycle (spec §4.6). It is the only
// component that talks to GitHub's OAuth token endpoint or mints a
// session JWT.
package authservice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gitflow-mcp/gitflow-mcp/internal/datastore"
	"github.com/gitflow-mcp/gitflow-mcp/internal/githubclient"
	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
	"github.com/gitflow-mcp/gitflow-mcp/internal/secretstore"
	"github.com/golang-jwt/jwt/v5"
)

// Sentinel error kinds (spec §4.6, §7).
var (
	ErrInvalidState       = errors.New("authservice: invalid state")
	ErrExpiredState       = errors.New("authservice: expired state")
	ErrProviderAuthFailed = errors.New("authservice: provider auth failed")
	ErrInvalidToken       = errors.New("authservice: invalid session token")
	ErrUserGone           = errors.New("authservice: referenced user no longer exists")
	ErrNotAuthenticated   = errors.New("authservice: not authenticated")
)

const authorizeURL = "https://github.com/login/oauth/authorize"
const tokenURL = "https://github.com/login/oauth/access_token"

// stateEntry is one outstanding CSRF state issued by InitiateOAuth.
type stateEntry struct {
	createdAt   time.Time
	redirectURI string
}

// Claims is the JWT payload minted by HandleCallback and RefreshSession.
type Claims struct {
	GitHubID int64        `json:"githubId"`
	Username string       `json:"username"`
	Tier     models.Tier  `json:"tier"`
	jwt.RegisteredClaims
}

// Service implements spec §4.6 over a Data Store, Secret Store and the
// GitHub OAuth/REST surface.
type Service struct {
	clientID     string
	clientSecret string
	scopes       []string
	stateTTL     time.Duration
	jwtSecret    []byte
	jwtExpiresIn time.Duration
	jwtIssuer    string

	store   *datastore.Store
	secrets *secretstore.Store
	http    *http.Client
	logger  *log.Logger

	// tokenURL is the provider's token-exchange endpoint. Defaults to
	// the real GitHub endpoint; overridden in tests against an
	// httptest server.
	tokenURL string

	mu     sync.Mutex
	states map[string]stateEntry

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// Config is the subset of internal/config.Config this service needs.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	StateTTL     time.Duration
	JWTSecret    string
	JWTExpiresIn string
	JWTIssuer    string
}

// New constructs a Service and starts its once-a-minute OAuthState
// sweeper (spec §4.6: "a background cleanup sweeps expired entries each
// minute and does not prevent process exit"). Callers must call Stop
// during graceful shutdown.
func New(cfg Config, store *datastore.Store, secrets *secretstore.Store, logger *log.Logger) (*Service, error) {
	expiresIn, err := parseExpiry(cfg.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("authservice: %w", err)
	}
	s := &Service{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       cfg.Scopes,
		stateTTL:     cfg.StateTTL,
		jwtSecret:    []byte(cfg.JWTSecret),
		jwtExpiresIn: expiresIn,
		jwtIssuer:    cfg.JWTIssuer,
		store:        store,
		secrets:      secrets,
		http:         &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		states:       make(map[string]stateEntry),
		stopSweep:    make(chan struct{}),
		sweepDone:    make(chan struct{}),
		tokenURL:     tokenURL,
	}
	go s.sweepLoop()
	return s, nil
}

// parseExpiry accepts plain time.Duration strings ("168h") and the
// day-suffixed shorthand spec §6 documents ("7d").
func parseExpiry(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 7 * 24 * time.Hour, nil
	}
	if strings.HasSuffix(raw, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid jwt expiry %q: %w", raw, err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid jwt expiry %q: %w", raw, err)
	}
	return d, nil
}

func (s *Service) sweepLoop() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweepExpiredStates()
		}
	}
}

func (s *Service) sweepExpiredStates() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for state, entry := range s.states {
		if now.Sub(entry.createdAt) > s.stateTTL {
			delete(s.states, state)
		}
	}
}

// Stop halts the sweeper goroutine. Safe to call once during shutdown.
func (s *Service) Stop() {
	close(s.stopSweep)
	<-s.sweepDone
}

// InitiateResult is the response of InitiateOAuth.
type InitiateResult struct {
	URL       string
	State     string
	ExpiresIn int // seconds
}

// InitiateOAuth generates a fresh CSRF state and returns the provider
// authorization URL to redirect the user to.
func (s *Service) InitiateOAuth(redirectURI string) (*InitiateResult, error) {
	state, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("authservice: generate state: %w", err)
	}

	s.mu.Lock()
	s.states[state] = stateEntry{createdAt: time.Now(), redirectURI: redirectURI}
	s.mu.Unlock()

	values := url.Values{}
	values.Set("client_id", s.clientID)
	values.Set("redirect_uri", redirectURI)
	values.Set("scope", strings.Join(s.scopes, " "))
	values.Set("state", state)
	values.Set("allow_signup", "true")

	return &InitiateResult{
		URL:       authorizeURL + "?" + values.Encode(),
		State:     state,
		ExpiresIn: int(s.stateTTL.Seconds()),
	}, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// consumeState performs the single-use lookup-then-delete of a state
// token. It must be atomic against concurrent InitiateOAuth calls and
// the sweeper (spec §5).
func (s *Service) consumeState(state string) (stateEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.states[state]
	if !ok {
		return stateEntry{}, ErrInvalidState
	}
	delete(s.states, state)
	if time.Since(entry.createdAt) > s.stateTTL {
		return stateEntry{}, ErrExpiredState
	}
	return entry, nil
}

// CallbackResult is the response of HandleCallback.
type CallbackResult struct {
	User         *models.User
	SessionToken string
	IsNewUser    bool
}

// HandleCallback implements spec §4.6's six-step callback flow.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	entry, err := s.consumeState(state)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.exchangeCode(ctx, code, entry.redirectURI)
	if err != nil {
		return nil, err
	}

	profile, err := githubclient.GetUser(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderAuthFailed, err)
	}

	if err := s.secrets.Put(ctx, profile.ExternalID, accessToken); err != nil {
		return nil, fmt.Errorf("authservice: store access token: %w", err)
	}

	email := profile.Email
	if email == "" {
		email = profile.Login + "@users.noreply.github.com"
	}

	var (
		user    *models.User
		created bool
	)
	err = s.store.Transaction(ctx, func(ctx context.Context, q datastore.Querier) error {
		u, isNew, txErr := datastore.UpsertUserByExternalGitHubID(ctx, q, profile.ExternalID, profile.Login, email, profile.Name, profile.AvatarURL)
		if txErr != nil {
			return txErr
		}
		user, created = u, isNew
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("authservice: upsert user: %w", err)
	}

	token, err := s.mintToken(user)
	if err != nil {
		return nil, err
	}

	return &CallbackResult{User: user, SessionToken: token, IsNewUser: created}, nil
}

type tokenExchangeResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

func (s *Service) exchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	body := url.Values{}
	body.Set("client_id", s.clientID)
	body.Set("client_secret", s.clientSecret)
	body.Set("code", code)
	body.Set("redirect_uri", redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(body.Encode()))
	if err != nil {
		return "", fmt.Errorf("authservice: build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("authservice: token exchange request: %w", err)
	}
	defer resp.Body.Close()

	var parsed tokenExchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("authservice: decode token response: %w", err)
	}
	if parsed.Error != "" {
		s.logger.Printf("authservice: provider reported oauth error: %s (%s)", parsed.Error, parsed.ErrorDesc)
		return "", ErrProviderAuthFailed
	}
	if parsed.AccessToken == "" {
		return "", ErrProviderAuthFailed
	}
	return parsed.AccessToken, nil
}

func (s *Service) mintToken(u *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		GitHubID: u.ExternalGitHubID,
		Username: u.Username,
		Tier:     u.Tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("authservice: sign session token: %w", err)
	}
	return signed, nil
}

// VerifySessionToken parses and validates the JWT's signature and
// expiry, returning its claims. It does not consult the database.
func (s *Service) VerifySessionToken(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(s.jwtIssuer))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// ValidateToken additionally confirms the referenced user still exists
// (e.g. has not been soft-deleted since the token was issued).
func (s *Service) ValidateToken(ctx context.Context, tokenString string) bool {
	claims, err := s.VerifySessionToken(tokenString)
	if err != nil {
		return false
	}
	_, err = s.store.GetUserByID(ctx, claims.Subject)
	return err == nil
}

// GetUserFromSession verifies the token and loads the full user record.
func (s *Service) GetUserFromSession(ctx context.Context, tokenString string) (*models.User, error) {
	claims, err := s.VerifySessionToken(tokenString)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserGone, err)
	}
	return user, nil
}

// RefreshSession re-issues a JWT for the still-valid user referenced by
// token, without re-running the OAuth exchange.
func (s *Service) RefreshSession(ctx context.Context, tokenString string) (string, error) {
	user, err := s.GetUserFromSession(ctx, tokenString)
	if err != nil {
		return "", err
	}
	return s.mintToken(user)
}

// GetAccessToken delegates to the Secret Store, keyed by the user's
// external GitHub id (spec §4.1, §4.6).
func (s *Service) GetAccessToken(ctx context.Context, userID string) (string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	token, err := s.secrets.Get(ctx, user.ExternalGitHubID)
	if err != nil {
		if errors.Is(err, secretstore.ErrAbsent) {
			return "", ErrNotAuthenticated
		}
		return "", err
	}
	return token, nil
}

// Logout deletes the keychain entry and sets the DB token sentinel to
// logged-out. Idempotent.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	return s.secrets.Delete(ctx, user.ExternalGitHubID)
}
