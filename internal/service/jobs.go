package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/config"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/lock"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

// Lock names, one per guarded job. Retention runs unguarded: it only
// touches data far behind the active aggregation window.
const (
	lockProcessUploads   = "process_uploads"
	lockProcessUploadsEu = "process_uploads_eu"
)

// BatchBuilder is the aggregation core the periodic jobs drive.
type BatchBuilder interface {
	CreateDomesticBatch(ctx context.Context) error
	CreateEuMarkedBatch(ctx context.Context) error
	CreateCountryBatch(ctx context.Context, country string) error
}

// Locker guards a named job against concurrent runs across instances.
type Locker interface {
	Acquire(ctx context.Context, name string) (*lock.Lock, error)
}

// RetentionStore is the slice of an upload store the retention sweep
// uses.
type RetentionStore interface {
	UnprocessedBefore(ctx context.Context, t time.Time) (bool, error)
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// EuUploadStore adds the per-country enumeration the EU job needs.
type EuUploadStore interface {
	RetentionStore
	CountriesToProcess(ctx context.Context) ([]string, error)
}

// BatchStore is the slice of a batch store the retention sweep uses.
type BatchStore interface {
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// Jobs holds the three periodic jobs of the worker.
type Jobs struct {
	cfg       *config.Config
	builder   BatchBuilder
	guard     Locker
	uploads   RetentionStore
	uploadsEu EuUploadStore
	batches   BatchStore
	batchesEu BatchStore
	logger    *zap.Logger

	now func() time.Time
}

// NewJobs wires the periodic jobs to their collaborators.
func NewJobs(
	cfg *config.Config,
	builder BatchBuilder,
	guard Locker,
	uploads RetentionStore,
	uploadsEu EuUploadStore,
	batches, batchesEu BatchStore,
	logger *zap.Logger,
) *Jobs {
	return &Jobs{
		cfg:       cfg,
		builder:   builder,
		guard:     guard,
		uploads:   uploads,
		uploadsEu: uploadsEu,
		batches:   batches,
		batchesEu: batchesEu,
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessUploads runs the domestic aggregation: the domestic upload
// stream first, then the federation uploads destined to the home
// country. The streams fail independently; a held lock skips the run.
func (j *Jobs) ProcessUploads(ctx context.Context) error {
	j.logger.Info("About to start processing uploads")

	held, err := j.guard.Acquire(ctx, lockProcessUploads)
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			j.logger.Warn("Another run holds the lock, skipping",
				zap.String("job", lockProcessUploads))
			return nil
		}
		return err
	}
	defer j.release(ctx, held)
	j.logger.Info("Obtained lock", zap.String("job", lockProcessUploads))

	var domesticErr, euMarkedErr error
	if domesticErr = j.builder.CreateDomesticBatch(ctx); domesticErr != nil {
		j.logger.Error("Domestic batch creation failed", zap.Error(domesticErr))
	}
	if euMarkedErr = j.builder.CreateEuMarkedBatch(ctx); euMarkedErr != nil {
		j.logger.Error("EU-marked batch creation failed", zap.Error(euMarkedErr))
	}
	if err := errors.Join(domesticErr, euMarkedErr); err != nil {
		return fmt.Errorf("upload processing: %w", err)
	}

	j.logger.Info("Upload processing completed successfully")
	return nil
}

// ProcessUploadsEu runs one aggregation per foreign country with pending
// federation uploads. The home country's bucket belongs to the domestic
// run and is skipped here. Countries fail independently.
func (j *Jobs) ProcessUploadsEu(ctx context.Context) error {
	j.logger.Info("About to start processing uploads from EU")

	held, err := j.guard.Acquire(ctx, lockProcessUploadsEu)
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			j.logger.Warn("Another run holds the lock, skipping",
				zap.String("job", lockProcessUploadsEu))
			return nil
		}
		return err
	}
	defer j.release(ctx, held)
	j.logger.Info("Obtained lock", zap.String("job", lockProcessUploadsEu))

	countries, err := j.uploadsEu.CountriesToProcess(ctx)
	if err != nil {
		return fmt.Errorf("failed to list countries to process: %w", err)
	}
	j.logger.Info("Fetched countries to process", zap.Strings("countries", countries))

	var errs []error
	for _, country := range countries {
		if country == models.OriginDomestic {
			continue
		}
		if err := j.builder.CreateCountryBatch(ctx, country); err != nil {
			j.logger.Error("Country batch creation failed",
				zap.String("country", country),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("country %s: %w", country, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("EU upload processing: %w", err)
	}

	j.logger.Info("EU uploads processing completed successfully")
	return nil
}

// DeleteOldData removes uploads and batch files older than the retention
// horizon, measured from UTC midnight of the current day. Pending
// uploads past the horizon are an anomaly worth an error log, but they
// are deleted all the same: retention is unconditional.
func (j *Jobs) DeleteOldData(ctx context.Context) error {
	year, month, day := j.now().UTC().Date()
	reference := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -j.cfg.Retention.Days)
	log := j.logger.With(zap.Time("created_before", reference))

	if pending, err := j.uploads.UnprocessedBefore(ctx, reference); err != nil {
		return fmt.Errorf("failed to check unprocessed uploads: %w", err)
	} else if pending {
		log.Error("Some uploads were unprocessed until deleted! This should never happen")
	}

	deleted, err := j.uploads.DeleteOlderThan(ctx, reference)
	if err != nil {
		return fmt.Errorf("failed to delete old uploads: %w", err)
	}
	log.Info("Uploads deletion completed", zap.Int64("n_deleted", deleted))

	deleted, err = j.batches.DeleteOlderThan(ctx, reference)
	if err != nil {
		return fmt.Errorf("failed to delete old batch files: %w", err)
	}
	log.Info("Batch files deletion completed", zap.Int64("n_deleted", deleted))

	if pending, err := j.uploadsEu.UnprocessedBefore(ctx, reference); err != nil {
		return fmt.Errorf("failed to check unprocessed EU uploads: %w", err)
	} else if pending {
		log.Error("Some EU uploads were unprocessed until deleted! This should never happen")
	}

	deleted, err = j.uploadsEu.DeleteOlderThan(ctx, reference)
	if err != nil {
		return fmt.Errorf("failed to delete old EU uploads: %w", err)
	}
	log.Info("EU uploads deletion completed", zap.Int64("n_deleted", deleted))

	deleted, err = j.batchesEu.DeleteOlderThan(ctx, reference)
	if err != nil {
		return fmt.Errorf("failed to delete old EU batch files: %w", err)
	}
	log.Info("EU batch files deletion completed", zap.Int64("n_deleted", deleted))

	return nil
}

func (j *Jobs) release(ctx context.Context, held *lock.Lock) {
	if err := held.Release(ctx); err != nil {
		j.logger.Error("Failed to release lock", zap.Error(err))
	}
}
