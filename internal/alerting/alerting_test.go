package alerting

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPostAlert_NoSinksConfiguredIsANoOp(t *testing.T) {
	a := New("", "", zap.NewNop().Sugar())
	err := a.PostAlert(context.Background(), string(SeverityWarning), "quota near ceiling", map[string]any{"channel_id": "chan-1"})
	assert.NoError(t, err)
}

func TestPostAlert_DeliversToWebhook(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(srv.URL, "", zap.NewNop().Sugar())
	err := a.PostAlert(context.Background(), string(SeverityError), "task failed", map[string]any{"task_id": "t-1"})
	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestPostAlert_WebhookFailureDoesNotPropagateAsError(t *testing.T) {
	// no server listening at this address
	a := New("http://127.0.0.1:1", "", zap.NewNop().Sugar())
	err := a.PostAlert(context.Background(), string(SeverityCritical), "reauth required", nil)
	assert.NoError(t, err, "alert delivery failures must never fail the caller")
}
