// Package planningdb implements the rate-limited, retrying,
// circuit-broken HTTP client for the external planning-database API
// (spec.md §4.6): the hard 3 req/s ceiling the whole process shares,
// status-label mirroring, and tolerant inbound payload extraction.
package planningdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/internal/ratelimit"
	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/logging"
	"github.com/reelforge/orchestrator/pkg/model"
)

// Client talks to one planning-database account. Every outbound call
// funnels through the shared Limiter (spec.md P4: never exceed 3/sec
// observed over any 1-second window, process-wide, not per-channel).
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *ratelimit.Limiter
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	log        *zap.SugaredLogger
}

// New constructs a Client sharing limiter across every channel's calls.
func New(baseURL string, limiter *ratelimit.Limiter, log *zap.SugaredLogger) *Client {
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "planning-db",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		limiter:    limiter,
		breaker:    breaker,
		log:        log,
	}
}

// PageObservation is one planning-db row as surfaced by either the poll
// or webhook intake path.
type PageObservation struct {
	PageRef     string
	StatusLabel model.PlanningDBStatusLabel
	UpdatedAt   time.Time
	Title       string
	Topic       string
	StoryDirection string
	Priority    model.Priority
}

// do executes req against the shared limiter, circuit breaker and a
// bounded retry policy, classifying the outcome the way every external
// client in this codebase does (spec.md §7).
func (c *Client) do(ctx context.Context, token string, req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	operation := func() (*http.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			return c.httpClient.Do(req.Clone(ctx))
		})
		if err != nil {
			if err == gobreaker.ErrOpenState {
				return nil, orcherrors.Classify(orcherrors.KindInfrastructure, err)
			}
			return nil, orcherrors.Classify(orcherrors.KindRetriableTransient, err)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			return nil, orcherrors.Classify(orcherrors.KindRetriableTransient, fmt.Errorf("planning-db status %d", resp.StatusCode))
		}
		if resp.StatusCode == http.StatusUnauthorized {
			_ = resp.Body.Close()
			return nil, backoff.Permanent(orcherrors.Classify(orcherrors.KindReauthRequired, fmt.Errorf("planning-db unauthorized")))
		}
		if resp.StatusCode >= 400 {
			_ = resp.Body.Close()
			return nil, backoff.Permanent(orcherrors.Classify(orcherrors.KindPermanentClient, fmt.Errorf("planning-db status %d", resp.StatusCode)))
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return nil, orcherrors.FailedToWithDetails("call planning-db", "planningdb", req.URL.Path, err)
	}
	return resp, nil
}

// PostStatusUpdate mirrors a task's new status label out (spec.md's
// "outbound mirror"). errSummary may be empty.
func (c *Client) PostStatusUpdate(ctx context.Context, token, pageRef string, label model.PlanningDBStatusLabel, errSummary string, updatedAt time.Time) error {
	body, err := json.Marshal(map[string]any{
		"page":        pageRef,
		"status":      string(label),
		"error":       errSummary,
		"updated_at":  updatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return orcherrors.FailedTo("marshal status update", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/pages/status", bytes.NewReader(body))
	if err != nil {
		return orcherrors.FailedTo("build status update request", err)
	}
	resp, err := c.do(ctx, token, req)
	if err != nil {
		c.log.Warnw("status mirror post failed",
			logging.NewFields().Component("planningdb").Operation("post_status").Error(err).Pairs()...)
		return err
	}
	defer resp.Body.Close()
	return nil
}

// FinalizeURL writes the published video URL back to the page and
// marks it published (pipeline stage 7, spec.md §4.8).
func (c *Client) FinalizeURL(ctx context.Context, token, pageRef, videoURL string) error {
	body, err := json.Marshal(map[string]any{"page": pageRef, "video_url": videoURL})
	if err != nil {
		return orcherrors.FailedTo("marshal finalize payload", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/pages/finalize", bytes.NewReader(body))
	if err != nil {
		return orcherrors.FailedTo("build finalize request", err)
	}
	resp, err := c.do(ctx, token, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// PollPending fetches pages from databaseID that changed since since,
// for the 60s inbound poll (spec.md's "polling-first" path, C11).
func (c *Client) PollPending(ctx context.Context, token, databaseID string, since time.Time) ([]PageObservation, error) {
	url := fmt.Sprintf("%s/databases/%s/pages?since=%s", c.baseURL, databaseID, since.UTC().Format(time.RFC3339))
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, orcherrors.FailedTo("build poll request", err)
	}
	resp, err := c.do(ctx, token, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, orcherrors.FailedTo("read poll response", err)
	}
	return ParsePagesPayload(raw)
}
