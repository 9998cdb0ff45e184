// Package service assembles the exposure ingestion worker: the periodic
// jobs, their schedules, and the shared infrastructure they run on.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/aggregator"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/config"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/database"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/export"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/ingestion"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/lock"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/redisx"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/repository"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/schedule"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/signature"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/validator"
)

// Service is the exposure ingestion worker: three periodic jobs sharing
// one Postgres pool and one Redis client.
type Service struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	jobs        *Jobs
	intake      *ingestion.Service
}

// NewService connects to the backing stores and wires the worker.
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := redisx.NewClient(&cfg.Redis)
	if err := redisx.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	signer, err := signature.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build signature client: %w", err)
	}

	uploads := repository.NewPostgresUploadRepository(db)
	uploadsEu := repository.NewPostgresUploadEuRepository(db)
	batches := repository.NewPostgresBatchRepository(db)
	batchesEu := repository.NewPostgresBatchEuRepository(db)

	serializer := export.NewSerializer(cfg, signer)
	builder := aggregator.NewBuilder(cfg, uploads, uploadsEu, batches, batchesEu, serializer, logger)
	guard := lock.NewGuard(redisClient, cfg.Lock.Expiry)
	jobs := NewJobs(cfg, builder, guard, uploads, uploadsEu, batches, batchesEu, logger)

	tekValidator := validator.NewTekListValidator(
		cfg.Validation.MaxKeysPerUpload,
		cfg.Validation.AllowNonConsecutiveTeks,
		cfg.Validation.ExcludeCurrentDayTek,
		logger,
	)
	analytics := redisx.NewQueuePublisher(redisClient, cfg.Analytics.QueueKey)
	intake := ingestion.NewService(tekValidator, uploads, uploadsEu, analytics, logger)

	return &Service{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		jobs:        jobs,
		intake:      intake,
	}, nil
}

// Intake returns the upload intake boundary backed by this service's
// stores. The transport layer that calls it lives outside this module.
func (s *Service) Intake() *ingestion.Service {
	return s.intake
}

// Start runs the three job schedules until ctx is canceled. It blocks;
// the returned error is nil on clean shutdown.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting exposure ingestion worker",
		zap.String("batch_crontab", s.cfg.Batch.PeriodicityCrontab),
		zap.String("batch_eu_crontab", s.cfg.Batch.EuPeriodicityCrontab),
		zap.String("retention_crontab", s.cfg.Retention.Crontab))

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	run := func(name, crontab string, job func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runCronLoop(ctx, name, crontab, job, s.logger); err != nil {
				errs <- err
			}
		}()
	}

	run("process-uploads", s.cfg.Batch.PeriodicityCrontab, s.jobs.ProcessUploads)
	run("process-uploads-eu", s.cfg.Batch.EuPeriodicityCrontab, s.jobs.ProcessUploadsEu)
	run("delete-old-data", s.cfg.Retention.Crontab, s.jobs.DeleteOldData)

	wg.Wait()
	close(errs)
	return <-errs
}

// runCronLoop runs job at every tick of the crontab until ctx is
// canceled. Job failures are logged and the loop keeps going; only an
// unusable schedule stops it.
func runCronLoop(ctx context.Context, name, crontab string, job func(context.Context) error, logger *zap.Logger) error {
	for {
		next, err := schedule.NextAfter(crontab, time.Now())
		if err != nil {
			return fmt.Errorf("failed to compute next run of %s: %w", name, err)
		}
		logger.Info("Scheduled next run",
			zap.String("job", name),
			zap.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Stopping job schedule", zap.String("job", name))
			return nil
		case <-timer.C:
		}

		if err := job(ctx); err != nil {
			logger.Error("Job run failed",
				zap.String("job", name),
				zap.Error(err))
		}
	}
}

// Stop closes the shared connections.
func (s *Service) Stop() {
	s.logger.Info("Stopping exposure ingestion worker")

	if s.redisClient != nil {
		if err := redisx.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Exposure ingestion worker stopped")
}
