package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

// PostgresBatchRepository implements BatchRepository on Postgres.
type PostgresBatchRepository struct {
	db *sql.DB
}

var _ BatchRepository = (*PostgresBatchRepository)(nil)

// NewPostgresBatchRepository creates the domestic batch files repository.
func NewPostgresBatchRepository(db *sql.DB) *PostgresBatchRepository {
	return &PostgresBatchRepository{db: db}
}

func (r *PostgresBatchRepository) LatestInfo(ctx context.Context) (*models.BatchInfo, error) {
	query := `
		SELECT period_end, batch_index
		FROM batch_files
		ORDER BY batch_index DESC
		LIMIT 1
	`
	var info models.BatchInfo
	err := r.db.QueryRowContext(ctx, query).Scan(&info.PeriodEnd, &info.Index)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest batch info: %w", err)
	}
	return &info, nil
}

func (r *PostgresBatchRepository) Create(ctx context.Context, batch *models.BatchFile) error {
	keys, err := marshalKeys(batch.Keys)
	if err != nil {
		return err
	}

	batchTag := sql.NullString{String: batch.BatchTag, Valid: batch.BatchTag != ""}
	query := `
		INSERT INTO batch_files (batch_index, keys, period_start, period_end,
			sub_batch_index, sub_batch_count, origin, batch_tag, client_content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowContext(ctx, query,
		batch.Index, keys, batch.PeriodStart, batch.PeriodEnd,
		batch.SubBatchIndex, batch.SubBatchCount, batch.Origin, batchTag, batch.ClientContent).
		Scan(&batch.ID, &batch.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert batch file: %w", err)
	}
	return nil
}

func (r *PostgresBatchRepository) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM batch_files WHERE created_at <= $1`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old batch files: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted batch files count: %w", err)
	}
	return deleted, nil
}
