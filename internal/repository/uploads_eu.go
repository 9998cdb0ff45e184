package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

// PostgresUploadEuRepository implements UploadEuRepository on Postgres.
type PostgresUploadEuRepository struct {
	db *sql.DB
}

var _ UploadEuRepository = (*PostgresUploadEuRepository)(nil)

// NewPostgresUploadEuRepository creates the EU uploads repository.
func NewPostgresUploadEuRepository(db *sql.DB) *PostgresUploadEuRepository {
	return &PostgresUploadEuRepository{db: db}
}

func (r *PostgresUploadEuRepository) Create(ctx context.Context, upload *models.UploadEu) error {
	keys, err := marshalKeys(upload.Keys)
	if err != nil {
		return err
	}

	batchTag := sql.NullString{String: upload.BatchTag, Valid: upload.BatchTag != ""}
	query := `
		INSERT INTO uploads_eu (to_publish, country, origin, batch_tag, keys)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowContext(ctx, query,
		upload.ToPublish, upload.Country, upload.Origin, batchTag, keys).
		Scan(&upload.ID, &upload.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert EU upload: %w", err)
	}
	return nil
}

func (r *PostgresUploadEuRepository) CountriesToProcess(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT country
		FROM uploads_eu
		WHERE to_publish = TRUE
		ORDER BY country
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query countries to process: %w", err)
	}
	defer rows.Close()

	var countries []string
	for rows.Next() {
		var country string
		if err := rows.Scan(&country); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		countries = append(countries, country)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate countries: %w", err)
	}
	return countries, nil
}

func (r *PostgresUploadEuRepository) ListPendingByCountry(ctx context.Context, country string) ([]models.UploadEu, error) {
	query := `
		SELECT id, created_at, to_publish, country, origin, batch_tag, keys
		FROM uploads_eu
		WHERE to_publish = TRUE AND country = $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, country)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending EU uploads: %w", err)
	}
	defer rows.Close()

	var uploads []models.UploadEu
	for rows.Next() {
		var upload models.UploadEu
		var batchTag sql.NullString
		var keys []byte
		if err := rows.Scan(
			&upload.ID,
			&upload.CreatedAt,
			&upload.ToPublish,
			&upload.Country,
			&upload.Origin,
			&batchTag,
			&keys,
		); err != nil {
			return nil, fmt.Errorf("failed to scan EU upload: %w", err)
		}
		upload.BatchTag = batchTag.String
		if upload.Keys, err = unmarshalKeys(keys); err != nil {
			return nil, err
		}
		uploads = append(uploads, upload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate EU uploads: %w", err)
	}
	return uploads, nil
}

func (r *PostgresUploadEuRepository) CountPendingByCountry(ctx context.Context, country string) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM uploads_eu WHERE to_publish = TRUE AND country = $1`
	if err := r.db.QueryRowContext(ctx, query, country).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending EU uploads: %w", err)
	}
	return count, nil
}

func (r *PostgresUploadEuRepository) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE uploads_eu SET to_publish = FALSE WHERE id = ANY($1)`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark EU uploads as published: %w", err)
	}
	return nil
}

func (r *PostgresUploadEuRepository) UnprocessedBefore(ctx context.Context, t time.Time) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM uploads_eu WHERE to_publish = TRUE AND created_at <= $1)`
	if err := r.db.QueryRowContext(ctx, query, t).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check unprocessed EU uploads: %w", err)
	}
	return exists, nil
}

func (r *PostgresUploadEuRepository) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM uploads_eu WHERE created_at <= $1`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old EU uploads: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted EU uploads count: %w", err)
	}
	return deleted, nil
}
