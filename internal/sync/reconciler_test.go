package sync

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/internal/planningdb"
	"github.com/reelforge/orchestrator/internal/store"
	"github.com/reelforge/orchestrator/pkg/model"
)

func newReconcilerWithMocks(t *testing.T) (*Reconciler, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "pgx")
	r := &Reconciler{
		tasks:        store.NewTaskRepository(db),
		observations: store.NewSyncObservationRepository(db),
		pollInterval: time.Minute,
		log:          zap.NewNop().Sugar(),
		lastPolled:   make(map[string]time.Time),
	}
	return r, mock
}

func TestReconciler_Ingest_EnqueuesOnFirstIntakeObservation(t *testing.T) {
	r, mock := newReconcilerWithMocks(t)
	channel := model.Channel{ID: uuid.New(), ChannelID: "chan-1"}
	obs := planningdb.PageObservation{PageRef: "page-1", StatusLabel: model.LabelQueued, Title: "t", Topic: "topic", Priority: model.PriorityHigh}

	mock.ExpectExec(`INSERT INTO sync_observations`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`INSERT INTO tasks`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "channel_id", "planning_page_ref", "title", "topic", "story_direction",
			"priority", "state", "stage_index", "completed_stages", "retry_count", "available_at", "claimed_by",
			"claimed_at", "lock_expires_at", "last_channel_served_at", "last_error_kind", "last_error_message",
			"correlation_id", "attempt", "created_at", "updated_at"}).
			AddRow(uuid.New(), channel.ID, "page-1", "t", "topic", "", "high", "pending", 0, 0, 0,
				time.Now(), "", nil, nil, nil, "", "", "", 0, time.Now(), time.Now()))

	r.ingest(context.Background(), channel, obs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciler_Ingest_SkipsNonIntakeLabels(t *testing.T) {
	r, mock := newReconcilerWithMocks(t)
	channel := model.Channel{ID: uuid.New(), ChannelID: "chan-1"}
	obs := planningdb.PageObservation{PageRef: "page-1", StatusLabel: model.LabelAssetsReady}

	mock.ExpectExec(`INSERT INTO sync_observations`).WillReturnResult(sqlmock.NewResult(1, 1))

	r.ingest(context.Background(), channel, obs)
	// no INSERT INTO tasks expectation was set; ExpectationsWereMet fails
	// if ingest tried to enqueue anyway.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciler_Ingest_SkipsAlreadyObservedRow(t *testing.T) {
	r, mock := newReconcilerWithMocks(t)
	channel := model.Channel{ID: uuid.New(), ChannelID: "chan-1"}
	obs := planningdb.PageObservation{PageRef: "page-1", StatusLabel: model.LabelQueued}

	mock.ExpectExec(`INSERT INTO sync_observations`).WillReturnResult(sqlmock.NewResult(0, 0)) // ON CONFLICT DO NOTHING, 0 rows

	r.ingest(context.Background(), channel, obs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
