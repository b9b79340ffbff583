package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v66/github"
)

const (
	appJWTTTL        = 9 * time.Minute
	appJWTClockSkew  = 60 * time.Second
	tokenRefreshSlop = time.Minute
)

// AppTokenSource exchanges a GitHub App JWT for installation tokens and
// caches them until shortly before they expire.
type AppTokenSource struct {
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	apps           *gh.Client
	now            func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewAppTokenSource(appID, installationID int64, privateKeyPEM []byte, baseURL string, httpClient *http.Client) (*AppTokenSource, error) {
	if appID == 0 || installationID == 0 {
		return nil, fmt.Errorf("github app: app id and installation id are required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("github app: parse private key: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	apps := gh.NewClient(httpClient)
	if baseURL != "" {
		u, err := parseBaseURL(baseURL)
		if err != nil {
			return nil, err
		}
		apps.BaseURL = u
	}
	return &AppTokenSource{appID: appID, installationID: installationID, key: key, apps: apps, now: time.Now}, nil
}

// AppJWT signs a short-lived RS256 token identifying the app.
func (s *AppTokenSource) AppJWT() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-appJWTClockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("github app: sign jwt: %w", err)
	}
	return signed, nil
}

// Token returns a valid installation token, minting a new one when needed.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Add(tokenRefreshSlop).Before(s.expires) {
		return s.token, nil
	}
	appJWT, err := s.AppJWT()
	if err != nil {
		return "", err
	}
	tok, _, err := s.apps.WithAuthToken(appJWT).Apps.CreateInstallationToken(ctx, s.installationID, nil)
	if err != nil {
		return "", fmt.Errorf("github app: create installation token: %w", err)
	}
	s.token = tok.GetToken()
	s.expires = tok.GetExpiresAt().Time
	return s.token, nil
}

type tokenTransport struct {
	src  *AppTokenSource
	base http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.src.Token(req.Context())
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "token "+tok)
	return t.base.RoundTrip(out)
}
