package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

// PostgresBatchEuRepository implements BatchEuRepository on Postgres.
// The origin column holds the destination country; each country advances
// its own index sequence.
type PostgresBatchEuRepository struct {
	db *sql.DB
}

var _ BatchEuRepository = (*PostgresBatchEuRepository)(nil)

// NewPostgresBatchEuRepository creates the EU batch files repository.
func NewPostgresBatchEuRepository(db *sql.DB) *PostgresBatchEuRepository {
	return &PostgresBatchEuRepository{db: db}
}

func (r *PostgresBatchEuRepository) LatestInfoByCountry(ctx context.Context, country string) (*models.BatchInfo, error) {
	query := `
		SELECT period_end, batch_index
		FROM batch_files_eu
		WHERE origin = $1
		ORDER BY batch_index DESC
		LIMIT 1
	`
	var info models.BatchInfo
	err := r.db.QueryRowContext(ctx, query, country).Scan(&info.PeriodEnd, &info.Index)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest EU batch info: %w", err)
	}
	return &info, nil
}

func (r *PostgresBatchEuRepository) Create(ctx context.Context, batch *models.BatchFile) error {
	keys, err := marshalKeys(batch.Keys)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO batch_files_eu (batch_index, keys, period_start, period_end,
			sub_batch_index, sub_batch_count, origin, client_content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowContext(ctx, query,
		batch.Index, keys, batch.PeriodStart, batch.PeriodEnd,
		batch.SubBatchIndex, batch.SubBatchCount, batch.Origin, batch.ClientContent).
		Scan(&batch.ID, &batch.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert EU batch file: %w", err)
	}
	return nil
}

func (r *PostgresBatchEuRepository) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM batch_files_eu WHERE created_at <= $1`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old EU batch files: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted EU batch files count: %w", err)
	}
	return deleted, nil
}
