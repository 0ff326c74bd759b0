package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TaskRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		db     *sqlx.DB
		repo   *TaskRepository
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		Expect(err).ToNot(HaveOccurred())
		db = sqlx.NewDb(mockDB, "pgx")
		repo = NewTaskRepository(db)
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(mockDB.Close()).To(Succeed())
	})

	taskColumns := []string{
		"id", "channel_id", "planning_page_ref", "title", "topic", "story_direction",
		"priority", "state", "stage_index", "completed_stages", "retry_count",
		"available_at", "claimed_by", "claimed_at", "lock_expires_at",
		"last_channel_served_at", "last_error_kind", "last_error_message",
		"correlation_id", "attempt", "created_at", "updated_at",
	}

	Describe("ClaimNextForChannel", func() {
		It("returns nil, nil when nothing is claimable", func() {
			channelID := uuid.New()
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT \* FROM tasks`).WillReturnError(sql.ErrNoRows)
			mock.ExpectCommit()

			got, err := repo.ClaimNextForChannel(ctx, channelID, "worker-1", 10*time.Minute)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(BeNil())
		})

		It("claims and updates the winning row", func() {
			channelID := uuid.New()
			taskID := uuid.New()
			now := time.Now()

			selectRow := sqlmock.NewRows(taskColumns).AddRow(
				taskID, channelID, "page-1", "t", "", "",
				"normal", "pending", 0, 0, 0,
				now, "", nil, nil,
				nil, "", "",
				"", 1, now, now,
			)
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT \* FROM tasks`).WillReturnRows(selectRow)

			updatedRow := sqlmock.NewRows(taskColumns).AddRow(
				taskID, channelID, "page-1", "t", "", "",
				"normal", "claimed", 0, 0, 0,
				now, "worker-1", now, now,
				now, "", "",
				"", 1, now, now,
			)
			mock.ExpectQuery(`UPDATE tasks SET`).WillReturnRows(updatedRow)
			mock.ExpectCommit()

			got, err := repo.ClaimNextForChannel(ctx, channelID, "worker-1", 10*time.Minute)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).ToNot(BeNil())
			Expect(got.ClaimedBy).To(Equal("worker-1"))
		})
	})

	Describe("ResurrectExpiredLeases", func() {
		It("returns the number of rows resurrected", func() {
			mock.ExpectExec(`UPDATE tasks SET state = 'pending'`).
				WillReturnResult(sqlmock.NewResult(0, 2))
			n, err := repo.ResurrectExpiredLeases(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(2))
		})
	})
})
