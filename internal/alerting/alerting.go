// Package alerting fans a pipeline alert out to whichever sinks are
// configured (spec.md §4.10): a generic webhook and/or a Slack
// incoming-webhook post. Both are optional; an unconfigured Alerter is
// a no-op rather than an error, since alerting must never be the thing
// that makes a pipeline run fail.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/pkg/logging"
)

// Severity is one of the three levels spec.md §4.10 names.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alerter posts a notification to every configured sink. A send failure
// on one sink does not stop delivery to the others, and never
// propagates back to the caller as an error the pipeline needs to
// react to.
type Alerter struct {
	httpClient *http.Client
	webhookURL string
	slackURL   string
	log        *zap.SugaredLogger
}

// New constructs an Alerter. webhookURL and slackURL may both be empty,
// in which case PostAlert only logs.
func New(webhookURL, slackURL string, log *zap.SugaredLogger) *Alerter {
	return &Alerter{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
		slackURL:   slackURL,
		log:        log,
	}
}

// PostAlert implements engine.Alerter and upload.Alerter.
func (a *Alerter) PostAlert(ctx context.Context, severity, summary string, alertContext map[string]any) error {
	fields := logging.NewFields().Component("alerting").Pairs()
	fields = append(fields, "severity", severity, "summary", summary)
	a.log.Infow("alert", fields...)

	if a.webhookURL != "" {
		if err := a.postWebhook(ctx, severity, summary, alertContext); err != nil {
			a.log.Warnw("webhook alert delivery failed",
				logging.NewFields().Component("alerting").Operation("webhook").Error(err).Pairs()...)
		}
	}
	if a.slackURL != "" {
		if err := a.postSlack(ctx, severity, summary, alertContext); err != nil {
			a.log.Warnw("slack alert delivery failed",
				logging.NewFields().Component("alerting").Operation("slack").Error(err).Pairs()...)
		}
	}
	return nil
}

func (a *Alerter) postWebhook(ctx context.Context, severity, summary string, alertContext map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"severity": severity,
		"summary":  summary,
		"context":  alertContext,
	})
	if err != nil {
		return errors.Wrap(err, "marshal webhook alert payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook alert request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook alert")
	}
	defer resp.Body.Close()
	return nil
}

func (a *Alerter) postSlack(ctx context.Context, severity, summary string, alertContext map[string]any) error {
	color := "#439FE0"
	switch Severity(severity) {
	case SeverityWarning:
		color = "#f2c744"
	case SeverityError, SeverityCritical:
		color = "#d9534f"
	}

	var fields []slack.AttachmentField
	for k, v := range alertContext {
		fields = append(fields, slack.AttachmentField{Title: k, Value: toString(v), Short: true})
	}

	msg := slack.WebhookMessage{
		Attachments: []slack.Attachment{{
			Color:  color,
			Title:  summary,
			Fields: fields,
		}},
	}
	if err := slack.PostWebhookContext(ctx, a.slackURL, &msg); err != nil {
		return errors.Wrap(err, "post slack alert")
	}
	return nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
