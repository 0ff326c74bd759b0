package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-from-call",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOAuthRefresher_RefreshesAndCaches(t *testing.T) {
	srv := tokenServer(t)
	r := NewOAuthRefresher(oauth2.Endpoint{TokenURL: srv.URL}, "client-id", "secret", zap.NewNop().Sugar())

	tok1, err := r.Token(context.Background(), "alpha", "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "token-from-call", tok1.AccessToken)

	tok2, err := r.Token(context.Background(), "alpha", "refresh-1")
	require.NoError(t, err)
	assert.Same(t, tok1, tok2)
}

func TestOAuthRefresher_SeparateChannelsCacheIndependently(t *testing.T) {
	srv := tokenServer(t)
	r := NewOAuthRefresher(oauth2.Endpoint{TokenURL: srv.URL}, "client-id", "secret", zap.NewNop().Sugar())

	_, err := r.Token(context.Background(), "alpha", "refresh-1")
	require.NoError(t, err)
	_, err = r.Token(context.Background(), "beta", "refresh-2")
	require.NoError(t, err)

	assert.NotNil(t, r.cached("alpha"))
	assert.NotNil(t, r.cached("beta"))
}

func TestOAuthRefresher_FailureClassifiedReauthRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	r := NewOAuthRefresher(oauth2.Endpoint{TokenURL: srv.URL}, "client-id", "secret", zap.NewNop().Sugar())
	_, err := r.Token(context.Background(), "alpha", "bad-refresh")
	assert.Error(t, err)
}
