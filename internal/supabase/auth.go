package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshLeeway is how long before expiry the access token is renewed.
const refreshLeeway = 60 * time.Second

var ErrNotSignedIn = errors.New("no active session")

// tokenResponse is the GoTrue token grant payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

// Session holds the signed-in user's tokens and refreshes them on demand.
type Session struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	userID       string

	now func() time.Time
}

// NewSession creates an empty session against the project's auth API.
func NewSession(baseURL, apiKey string) *Session {
	return &Session{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// SignIn exchanges email and password for a session.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grant(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Resume starts a session from a stored refresh token.
func (s *Session) Resume(ctx context.Context, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// AccessToken returns a valid access token, refreshing it when it is about to expire.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken == "" {
		return "", ErrNotSignedIn
	}
	if s.now().Add(refreshLeeway).Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if s.refreshToken == "" {
		return "", fmt.Errorf("access token expired at %s and no refresh token is available", s.expiresAt.Format(time.RFC3339))
	}
	if err := s.grant(ctx, "refresh_token", map[string]string{"refresh_token": s.refreshToken}); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

// UserID is the authenticated user's id (the token subject).
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// RefreshToken returns the current refresh token so callers can persist it.
func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// grant calls the token endpoint. Caller holds s.mu.
func (s *Session) grant(ctx context.Context, grantType string, body map[string]string) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal token request: %w", err)
	}

	url := fmt.Sprintf("%s/auth/v1/token?grant_type=%s", s.baseURL, grantType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: buf.String()}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("failed to parse token response: %w", err)
	}
	return s.apply(tr)
}

// apply stores a token grant. Expiry and user id come from the JWT claims.
func (s *Session) apply(tr tokenResponse) error {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err != nil {
		return fmt.Errorf("failed to parse access token: %w", err)
	}

	s.accessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		s.refreshToken = tr.RefreshToken
	}

	switch {
	case claims.ExpiresAt != nil:
		s.expiresAt = claims.ExpiresAt.Time
	case tr.ExpiresIn > 0:
		s.expiresAt = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		s.expiresAt = s.now().Add(time.Hour)
	}

	s.userID = claims.Subject
	if s.userID == "" {
		s.userID = tr.User.ID
	}
	return nil
}
