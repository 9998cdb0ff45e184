package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

func setupBatchEuRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresBatchEuRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, NewPostgresBatchEuRepository(db)
}

func TestBatchEuLatestInfoByCountry_Success(t *testing.T) {
	db, mock, repo := setupBatchEuRepo(t)
	defer db.Close()

	periodEnd := time.Date(2020, 6, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM batch_files_eu`).
		WithArgs("DK").
		WillReturnRows(sqlmock.NewRows([]string{"period_end", "batch_index"}).AddRow(periodEnd, int32(3)))

	info, err := repo.LatestInfoByCountry(context.Background(), "DK")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int32(3), info.Index)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchEuLatestInfoByCountry_NoBatches(t *testing.T) {
	db, mock, repo := setupBatchEuRepo(t)
	defer db.Close()

	mock.ExpectQuery(`FROM batch_files_eu`).
		WithArgs("DK").
		WillReturnRows(sqlmock.NewRows([]string{"period_end", "batch_index"}))

	info, err := repo.LatestInfoByCountry(context.Background(), "DK")
	require.NoError(t, err)
	assert.Nil(t, info)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchEuCreate(t *testing.T) {
	db, mock, repo := setupBatchEuRepo(t)
	defer db.Close()

	keys, encoded := sampleKeys(t)
	periodStart := time.Date(2020, 6, 9, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2020, 6, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO batch_files_eu`).
		WithArgs(int32(4), encoded, periodStart, periodEnd, int32(1), int32(1), "DK", []byte("zip")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), time.Now()))

	batch := &models.BatchFile{
		Index:         4,
		Keys:          keys,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		SubBatchIndex: 1,
		SubBatchCount: 1,
		Origin:        "DK",
		ClientContent: []byte("zip"),
	}
	require.NoError(t, repo.Create(context.Background(), batch))

	assert.Equal(t, int64(11), batch.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchEuDeleteOlderThan(t *testing.T) {
	db, mock, repo := setupBatchEuRepo(t)
	defer db.Close()

	reference := time.Date(2020, 5, 27, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM batch_files_eu`).
		WithArgs(reference).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := repo.DeleteOlderThan(context.Background(), reference)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
