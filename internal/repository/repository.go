// Package repository provides the data access layer: uploads pending
// publication and the immutable batch files produced from them, for both
// the domestic stream and the EU federation stream.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

// UploadRepository stores client uploads until a batch consumes them.
type UploadRepository interface {
	// Create persists the upload and fills in its ID and CreatedAt.
	Create(ctx context.Context, upload *models.Upload) error
	// ListPending returns the uploads still to be published, oldest first.
	ListPending(ctx context.Context) ([]models.Upload, error)
	// CountPending returns how many uploads are still to be published.
	CountPending(ctx context.Context) (int64, error)
	// MarkPublished flags the given uploads as consumed by a batch.
	MarkPublished(ctx context.Context, ids []int64) error
	// UnprocessedBefore reports whether pending uploads older than t exist.
	UnprocessedBefore(ctx context.Context, t time.Time) (bool, error)
	// DeleteOlderThan removes uploads created at or before t.
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// UploadEuRepository stores key sets imported from the EU federation
// gateway, partitioned by the country of interest they target.
type UploadEuRepository interface {
	Create(ctx context.Context, upload *models.UploadEu) error
	// CountriesToProcess returns the distinct countries with pending uploads.
	CountriesToProcess(ctx context.Context) ([]string, error)
	// ListPendingByCountry returns pending uploads for one country, oldest first.
	ListPendingByCountry(ctx context.Context, country string) ([]models.UploadEu, error)
	CountPendingByCountry(ctx context.Context, country string) (int64, error)
	MarkPublished(ctx context.Context, ids []int64) error
	UnprocessedBefore(ctx context.Context, t time.Time) (bool, error)
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// BatchRepository stores the domestic batch files (including the
// EU-marked-domestic ones, which share the same index sequence).
type BatchRepository interface {
	// LatestInfo returns the window end and index of the newest batch,
	// or nil when no batch exists yet.
	LatestInfo(ctx context.Context) (*models.BatchInfo, error)
	// Create persists the batch and fills in its ID and CreatedAt.
	Create(ctx context.Context, batch *models.BatchFile) error
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// BatchEuRepository stores per-country EU batch files, each country with
// its own independent index sequence.
type BatchEuRepository interface {
	LatestInfoByCountry(ctx context.Context, country string) (*models.BatchInfo, error)
	Create(ctx context.Context, batch *models.BatchFile) error
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// marshalKeys encodes a key list for a JSONB column. A nil slice is
// stored as an empty array, never as SQL NULL.
func marshalKeys(keys []models.TemporaryExposureKey) ([]byte, error) {
	if keys == nil {
		keys = []models.TemporaryExposureKey{}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keys: %w", err)
	}
	return data, nil
}

func unmarshalKeys(data []byte) ([]models.TemporaryExposureKey, error) {
	var keys []models.TemporaryExposureKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keys: %w", err)
	}
	return keys, nil
}
