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

	"github.com/reelforge/orchestrator/pkg/model"
)

var _ = Describe("ChannelRepository", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		db     *sqlx.DB
		repo   *ChannelRepository
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		Expect(err).ToNot(HaveOccurred())
		db = sqlx.NewDb(mockDB, "pgx")
		repo = NewChannelRepository(db)
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(mockDB.Close()).To(Succeed())
	})

	Describe("UpsertChannel", func() {
		It("inserts and returns the assigned id and timestamps", func() {
			id := uuid.New()
			now := time.Now()
			mock.ExpectQuery(`INSERT INTO channels`).
				WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
					AddRow(id, now, now))

			c := model.Channel{ChannelID: "acme-gaming", ChannelName: "Acme Gaming", MaxConcurrent: 3}
			got, err := repo.UpsertChannel(ctx, c)

			Expect(err).ToNot(HaveOccurred())
			Expect(got.ID).To(Equal(id))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("wraps the driver error", func() {
			mock.ExpectQuery(`INSERT INTO channels`).WillReturnError(sql.ErrConnDone)
			_, err := repo.UpsertChannel(ctx, model.Channel{ChannelID: "x"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("DeactivateChannel", func() {
		It("fails when no row matches", func() {
			mock.ExpectExec(`UPDATE channels SET active`).
				WillReturnResult(sqlmock.NewResult(0, 0))
			err := repo.DeactivateChannel(ctx, "missing")
			Expect(err).To(HaveOccurred())
		})

		It("succeeds when a row is affected", func() {
			mock.ExpectExec(`UPDATE channels SET active`).
				WillReturnResult(sqlmock.NewResult(0, 1))
			err := repo.DeactivateChannel(ctx, "acme-gaming")
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("ListChannels", func() {
		It("maps every row", func() {
			rows := sqlmock.NewRows([]string{
				"id", "channel_id", "channel_name", "planning_db_database_id", "active",
				"priority_weight", "max_concurrent", "voice_id", "intro_path", "outro_path",
				"storage_strategy", "upload_privacy_default", "daily_spend_cap_usd",
				"enc_planning_db_token", "enc_upload_refresh_token", "enc_provider_keys",
				"created_at", "updated_at",
			}).AddRow(
				uuid.New(), "acme-gaming", "Acme Gaming", "db1", true,
				1, 3, "", "", "",
				"local", "private", nil,
				nil, nil, nil,
				time.Now(), time.Now(),
			)
			mock.ExpectQuery(`SELECT \* FROM channels`).WillReturnRows(rows)

			got, err := repo.ListChannels(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ChannelID).To(Equal("acme-gaming"))
		})
	})
})
