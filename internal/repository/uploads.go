package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

// PostgresUploadRepository implements UploadRepository on Postgres.
type PostgresUploadRepository struct {
	db *sql.DB
}

var _ UploadRepository = (*PostgresUploadRepository)(nil)

// NewPostgresUploadRepository creates the uploads repository.
func NewPostgresUploadRepository(db *sql.DB) *PostgresUploadRepository {
	return &PostgresUploadRepository{db: db}
}

func (r *PostgresUploadRepository) Create(ctx context.Context, upload *models.Upload) error {
	keys, err := marshalKeys(upload.Keys)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO uploads (to_publish, symptoms_started_on, keys)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowContext(ctx, query, upload.ToPublish, upload.SymptomsStartedOn, keys).
		Scan(&upload.ID, &upload.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert upload: %w", err)
	}
	return nil
}

func (r *PostgresUploadRepository) ListPending(ctx context.Context) ([]models.Upload, error) {
	query := `
		SELECT id, created_at, to_publish, symptoms_started_on, keys
		FROM uploads
		WHERE to_publish = TRUE
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending uploads: %w", err)
	}
	defer rows.Close()

	var uploads []models.Upload
	for rows.Next() {
		var upload models.Upload
		var keys []byte
		if err := rows.Scan(
			&upload.ID,
			&upload.CreatedAt,
			&upload.ToPublish,
			&upload.SymptomsStartedOn,
			&keys,
		); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		if upload.Keys, err = unmarshalKeys(keys); err != nil {
			return nil, err
		}
		uploads = append(uploads, upload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate uploads: %w", err)
	}
	return uploads, nil
}

func (r *PostgresUploadRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM uploads WHERE to_publish = TRUE`
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending uploads: %w", err)
	}
	return count, nil
}

func (r *PostgresUploadRepository) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE uploads SET to_publish = FALSE WHERE id = ANY($1)`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark uploads as published: %w", err)
	}
	return nil
}

func (r *PostgresUploadRepository) UnprocessedBefore(ctx context.Context, t time.Time) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM uploads WHERE to_publish = TRUE AND created_at <= $1)`
	if err := r.db.QueryRowContext(ctx, query, t).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check unprocessed uploads: %w", err)
	}
	return exists, nil
}

func (r *PostgresUploadRepository) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE created_at <= $1`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old uploads: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted uploads count: %w", err)
	}
	return deleted, nil
}
