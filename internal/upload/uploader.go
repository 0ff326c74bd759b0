package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/internal/database"
	"github.com/reelforge/orchestrator/internal/metrics"
	"github.com/reelforge/orchestrator/internal/ratelimit"
	"github.com/reelforge/orchestrator/internal/store"
	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/logging"
	"github.com/reelforge/orchestrator/pkg/model"
)

// Alerter is the narrow slice of internal/alerting this package needs,
// kept local so upload never imports the alerting package directly.
type Alerter interface {
	PostAlert(ctx context.Context, severity, summary string, context map[string]any) error
}

// Result describes a completed upload.
type Result struct {
	VideoURL string
	UnitsUsed float64
}

// Uploader performs quota-reserved, rate-limited, OAuth2-authenticated
// uploads against the external video API.
type Uploader struct {
	httpClient *http.Client
	baseURL    string
	limiter    *ratelimit.Limiter
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	refresher  *OAuthRefresher
	pool       *database.Pool
	quota      *store.UploadQuotaRepository
	alerter    Alerter
	metrics    *metrics.Registry
	log        *zap.SugaredLogger
}

// WithMetrics attaches a metrics registry after construction.
func (u *Uploader) WithMetrics(m *metrics.Registry) *Uploader {
	u.metrics = m
	return u
}

// NewUploader constructs an Uploader. alerter may be nil (no alerting
// configured), matching the other sinks' graceful no-op convention.
func NewUploader(baseURL string, limiter *ratelimit.Limiter, refresher *OAuthRefresher, pool *database.Pool, quota *store.UploadQuotaRepository, alerter Alerter, log *zap.SugaredLogger) *Uploader {
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "upload",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Uploader{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    baseURL,
		limiter:    limiter,
		breaker:    breaker,
		refresher:  refresher,
		pool:       pool,
		quota:      quota,
		alerter:    alerter,
		log:        log,
	}
}

// Upload reserves unitsCost against the channel's daily quota ledger,
// refreshes the OAuth token if needed, then performs the upload. On
// QuotaExhausted the caller (the pipeline engine) reschedules the task
// for next UTC midnight without counting it against the retry budget
// (spec.md §7.4); no API call is made in that case.
func (u *Uploader) Upload(ctx context.Context, channelID uuid.UUID, channelIDStr, refreshToken string, dailyCeiling float64, videoPath, title, description string, privacy model.UploadPrivacy, unitsCost float64) (Result, error) {
	reserved := false
	err := u.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := store.ReserveWithinTx(ctx, tx, channelID, unitsCost, dailyCeiling)
		if err != nil {
			return err
		}
		reserved = ok
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if !reserved {
		return Result{}, orcherrors.Classify(orcherrors.KindQuota, orcherrors.ErrQuotaExhausted)
	}

	u.warnIfNearCeiling(ctx, channelID, channelIDStr, dailyCeiling)

	tok, err := u.refresher.Token(ctx, channelIDStr, refreshToken)
	if err != nil {
		return Result{}, err
	}

	videoURL, err := u.doUpload(ctx, tok.AccessToken, videoPath, title, description, privacy)
	if err != nil {
		return Result{}, err
	}
	return Result{VideoURL: videoURL, UnitsUsed: unitsCost}, nil
}

func (u *Uploader) warnIfNearCeiling(ctx context.Context, channelID uuid.UUID, channelIDStr string, ceiling float64) {
	if u.alerter == nil && u.metrics == nil {
		return
	}
	ledger, err := u.quota.Get(ctx, channelID, ceiling)
	if err != nil {
		return
	}
	if u.metrics != nil {
		u.metrics.UploadQuotaUsed.WithLabelValues(channelIDStr).Set(ledger.UtilizationFraction())
	}
	if u.alerter != nil && ledger.UtilizationFraction() >= 0.8 {
		_ = u.alerter.PostAlert(ctx, "warning", "upload quota utilization at or above 80%", map[string]any{
			"channel_id": channelIDStr,
			"used":       ledger.Used,
			"ceiling":    ledger.Ceiling,
		})
	}
}

func (u *Uploader) doUpload(ctx context.Context, accessToken, videoPath, title, description string, privacy model.UploadPrivacy) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"title":       title,
		"description": description,
		"privacy":     string(privacy),
		"source_path": videoPath,
	})
	if err != nil {
		return "", orcherrors.FailedTo("marshal upload payload", err)
	}

	operation := func() (string, error) {
		if err := u.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/videos", bytes.NewReader(payload))
		if err != nil {
			return "", backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := u.breaker.Execute(func() (*http.Response, error) {
			return u.httpClient.Do(req)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState {
				return "", orcherrors.Classify(orcherrors.KindInfrastructure, err)
			}
			return "", orcherrors.Classify(orcherrors.KindRetriableTransient, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			return "", backoff.Permanent(orcherrors.Classify(orcherrors.KindReauthRequired, fmt.Errorf("upload unauthorized")))
		}
		if resp.StatusCode >= 500 {
			return "", orcherrors.Classify(orcherrors.KindRetriableTransient, fmt.Errorf("upload status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return "", backoff.Permanent(orcherrors.Classify(orcherrors.KindPermanentClient, fmt.Errorf("upload status %d", resp.StatusCode)))
		}

		var decoded struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return "", backoff.Permanent(orcherrors.FailedTo("decode upload response", err))
		}
		return decoded.URL, nil
	}

	url, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	if err != nil {
		u.log.Errorw("upload failed",
			logging.NewFields().Component("upload").Operation("upload_video").Error(err).Pairs()...)
		return "", orcherrors.FailedTo("upload video", err)
	}
	return url, nil
}
