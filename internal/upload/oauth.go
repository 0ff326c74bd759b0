// Package upload implements the rate-limited, quota-ledgered client for
// the external video-upload API: OAuth2 refresh with background
// pre-expiry renewal, quota reservation inside a short transaction, and
// the upload call itself (spec.md §4.6).
package upload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/logging"
)

// refreshWindow is how far ahead of expiry a cached token is proactively
// renewed, per spec.md §4.6 ("within 5 minutes of expiry").
const refreshWindow = 5 * time.Minute

// OAuthRefresher caches one access token per channel and de-duplicates
// concurrent refreshes for the same channel via singleflight, so two
// workers racing to upload for the same channel never both hit the
// token endpoint.
type OAuthRefresher struct {
	endpoint oauth2.Endpoint
	clientID string
	clientSecret string

	group  singleflight.Group
	mu     sync.Mutex
	tokens map[string]*oauth2.Token

	log *zap.SugaredLogger
}

// NewOAuthRefresher constructs a refresher against a single upload
// provider's OAuth endpoint, shared across every channel (each channel
// supplies its own refresh token at call time).
func NewOAuthRefresher(endpoint oauth2.Endpoint, clientID, clientSecret string, log *zap.SugaredLogger) *OAuthRefresher {
	return &OAuthRefresher{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		tokens:       make(map[string]*oauth2.Token),
		log:          log,
	}
}

// Token returns a valid access token for channelID, refreshing (via
// refreshToken) if the cached one is missing or within refreshWindow of
// expiry. A refresh failure is classified ReauthRequired, the signal
// the engine uses to quiesce that channel's upload stage (spec.md §7.7).
func (r *OAuthRefresher) Token(ctx context.Context, channelID, refreshToken string) (*oauth2.Token, error) {
	if tok := r.cached(channelID); tok != nil {
		return tok, nil
	}

	v, err, _ := r.group.Do(channelID, func() (any, error) {
		if tok := r.cached(channelID); tok != nil {
			return tok, nil
		}
		cfg := oauth2.Config{ClientID: r.clientID, ClientSecret: r.clientSecret, Endpoint: r.endpoint}
		ts := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := ts.Token()
		if err != nil {
			return nil, orcherrors.Classify(orcherrors.KindReauthRequired, err)
		}
		r.mu.Lock()
		r.tokens[channelID] = tok
		r.mu.Unlock()
		r.log.Infow("refreshed upload token",
			logging.NewFields().Component("upload").Operation("oauth_refresh").Channel(channelID).Pairs()...)
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (r *OAuthRefresher) cached(channelID string) *oauth2.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[channelID]
	if !ok {
		return nil
	}
	if tok.Expiry.IsZero() || time.Until(tok.Expiry) > refreshWindow {
		return tok
	}
	return nil
}

// BackgroundRefresh runs until ctx is cancelled, keeping channelID's
// token warm so the upload call path rarely pays a synchronous refresh.
// Refresh failures are logged, not fatal: the next call to Token will
// surface ReauthRequired to its caller directly.
func (r *OAuthRefresher) BackgroundRefresh(ctx context.Context, channelID string, refreshTokenFn func() (string, error)) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.cached(channelID) != nil {
				continue
			}
			refreshToken, err := refreshTokenFn()
			if err != nil {
				r.log.Warnw("could not load refresh token for background renewal",
					logging.NewFields().Component("upload").Channel(channelID).Error(err).Pairs()...)
				continue
			}
			if _, err := r.Token(ctx, channelID, refreshToken); err != nil {
				r.log.Warnw("background token refresh failed",
					logging.NewFields().Component("upload").Channel(channelID).Error(err).Pairs()...)
			}
		}
	}
}
