package control

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/model"
)

type healthResponse struct {
	Status     string `json:"status"`
	DB         string `json:"db"`
	// QueueDepth carries the number of active channels in the registry;
	// it is not a count of queued tasks.
	QueueDepth int    `json:"queue_depth,omitempty"`
}

// handleHealth reports liveness within spec.md's 500ms budget: a
// reachable database and, if that succeeds, the active channel count
// as a cheap proxy for "the registry loaded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 400*time.Millisecond)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", DB: "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", DB: "reachable", QueueDepth: len(s.registry.Active())})
}

// handlePlanningDBWebhook verifies the HMAC-SHA256 signature (constant-
// time compare) before touching the body's contents, then hands the
// payload to the reconciler's fast path.
func (s *Server) handlePlanningDBWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !s.verifySignature(r.Header.Get("X-Signature"), body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	channelID := r.URL.Query().Get("channel_id")
	channel, ok := s.registry.Get(channelID)
	if !ok {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	if err := s.reconciler.HandleWebhook(r.Context(), channel, body); err != nil {
		s.log.Warnw("webhook ingest failed", "channel_id", channelID, "error", err)
		http.Error(w, "ingest failed", http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verifySignature(header string, body []byte) bool {
	if s.webhookSecret == "" {
		return true // no secret configured: signature verification disabled
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.channels.ListChannels(r.Context())
	if err != nil {
		http.Error(w, "failed to list channels", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	channelIDParam := r.URL.Query().Get("channel_id")
	if channelIDParam == "" {
		http.Error(w, "channel_id query parameter is required", http.StatusBadRequest)
		return
	}
	channelID, err := uuid.Parse(channelIDParam)
	if err != nil {
		http.Error(w, "invalid channel_id", http.StatusBadRequest)
		return
	}
	tasks, err := s.tasks.ListTasksByChannel(r.Context(), channelID)
	if err != nil {
		http.Error(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	task, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type reviewRequest struct {
	Reviewer string `json:"reviewer" validate:"required"`
	Note     string `json:"note"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleReviewDecision(w, r, model.DecisionApproved)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleReviewDecision(w, r, model.DecisionRejected)
}

func (s *Server) handleReviewDecision(w http.ResponseWriter, r *http.Request, decision model.ReviewDecision) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	var channel model.Channel
	found := false
	for _, c := range s.registry.Active() {
		if c.ID == task.ChannelID {
			channel, found = c, true
			break
		}
	}
	if !found {
		http.Error(w, "channel not found for task", http.StatusNotFound)
		return
	}

	gate := model.Stages[task.StageIndex].ReviewGate
	if err := s.engine.ApplyReviewDecision(r.Context(), task, channel, gate, decision, req.Reviewer, req.Note); err != nil {
		if orcherrors.KindOf(err) == orcherrors.KindPermanentClient {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "failed to apply review decision", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRetry returns a failed or rejected task to pending at its
// current stage index for immediate reconsideration, clearing its retry
// count and last error. Only the task row is updated; no audit entry is
// written for the retry.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	task, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if task.State != model.StateFailed && task.State != model.StateRejected {
		http.Error(w, "only failed or rejected tasks can be retried", http.StatusConflict)
		return
	}

	task.State = model.StatePending
	task.RetryCount = 0
	task.AvailableAt = time.Now()
	task.LastErrorKind = ""
	task.LastErrorMessage = ""
	if err := s.tasks.UpdateProgress(r.Context(), task); err != nil {
		http.Error(w, "failed to reschedule task", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
