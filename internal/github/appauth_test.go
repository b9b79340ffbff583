package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/issuesense/models"
)

func TestAppTokenSourceMintsAndCaches(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	var mints atomic.Int32
	expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /app/installations/99/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		mints.Add(1)
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) { return &key.PublicKey, nil })
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		iss, _ := parsed.Claims.GetIssuer()
		assert.Equal(t, "12", iss)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"token":"ghs_installation","expires_at":"`+expires+`"}`)
	})
	mux.HandleFunc("GET /repos/acme/app/issues/comments/5", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token ghs_installation", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"id":5,"body":"x"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	src, err := NewAppTokenSource(12, 99, pemKey, srv.URL, nil)
	require.NoError(t, err)

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghs_installation", tok)

	c, err := NewClient(Options{Tokens: src, BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.GetComment(context.Background(), models.CommentRef{Owner: "acme", Repo: "app", ID: 5})
	require.NoError(t, err)
	assert.Equal(t, int32(1), mints.Load(), "token is cached until it nears expiry")
}

func TestAppTokenSourceRejectsBadInput(t *testing.T) {
	_, err := NewAppTokenSource(0, 1, nil, "", nil)
	assert.Error(t, err)
	_, err = NewAppTokenSource(1, 1, []byte("not a key"), "", nil)
	assert.Error(t, err)
}
