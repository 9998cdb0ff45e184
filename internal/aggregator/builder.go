// Package aggregator turns pending uploads into immutable batch files.
// Each run drains one stream of uploads into at most one new batch: the
// domestic stream, the federation uploads destined to the home country
// (which share the domestic index sequence), and one stream per foreign
// country of interest.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/config"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/repository"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/schedule"
)

// ContentSerializer produces the signed client archive for a batch.
type ContentSerializer interface {
	ClientContent(
		ctx context.Context,
		keys []models.TemporaryExposureKey,
		periodStart, periodEnd time.Time,
		subBatchIndex, subBatchCount int32,
	) ([]byte, error)
}

// Builder aggregates pending uploads into batch files. Uploads are
// consumed in creation order until the batch capacity would overflow;
// consumed uploads are flagged as published in the same run, whether or
// not they contributed keys.
type Builder struct {
	cfg        *config.Config
	uploads    repository.UploadRepository
	uploadsEu  repository.UploadEuRepository
	batches    repository.BatchRepository
	batchesEu  repository.BatchEuRepository
	serializer ContentSerializer
	logger     *zap.Logger

	now func() time.Time
}

// NewBuilder wires the builder to its stores and serializer.
func NewBuilder(
	cfg *config.Config,
	uploads repository.UploadRepository,
	uploadsEu repository.UploadEuRepository,
	batches repository.BatchRepository,
	batchesEu repository.BatchEuRepository,
	serializer ContentSerializer,
	logger *zap.Logger,
) *Builder {
	return &Builder{
		cfg:        cfg,
		uploads:    uploads,
		uploadsEu:  uploadsEu,
		batches:    batches,
		batchesEu:  batchesEu,
		serializer: serializer,
		logger:     logger,
		now:        time.Now,
	}
}

// pendingUpload is one upload as the accumulation loop sees it: the raw
// key count drives the capacity check, annotate produces the keys that
// actually enter the batch.
type pendingUpload struct {
	id       int64
	rawKeys  int
	annotate func(now time.Time) []models.TemporaryExposureKey
}

// stream wires one aggregation sequence (upload source, batch sink,
// stamping) into the shared build loop.
type stream struct {
	name          string
	origin        string
	batchTag      string
	latestInfo    func(ctx context.Context) (*models.BatchInfo, error)
	pending       func(ctx context.Context) ([]pendingUpload, error)
	createBatch   func(ctx context.Context, batch *models.BatchFile) error
	markPublished func(ctx context.Context, ids []int64) error
	pendingCount  func(ctx context.Context) (int64, error)
}

// CreateDomesticBatch aggregates pending domestic uploads into the next
// batch of the domestic sequence. Each upload's keys are filtered and
// annotated by the at-risk window around its reported symptoms onset.
func (b *Builder) CreateDomesticBatch(ctx context.Context) error {
	lookback := b.cfg.Validation.DaysBeforeSymptomsToConsiderKeyAtRisk
	excludeCurrentDay := b.cfg.Validation.ExcludeCurrentDayTek

	return b.run(ctx, stream{
		name:       "domestic",
		origin:     models.OriginDomestic,
		latestInfo: b.batches.LatestInfo,
		pending: func(ctx context.Context) ([]pendingUpload, error) {
			uploads, err := b.uploads.ListPending(ctx)
			if err != nil {
				return nil, err
			}
			pending := make([]pendingUpload, 0, len(uploads))
			for _, upload := range uploads {
				upload := upload
				pending = append(pending, pendingUpload{
					id:      upload.ID,
					rawKeys: len(upload.Keys),
					annotate: func(now time.Time) []models.TemporaryExposureKey {
						return ExtractKeysAtRisk(upload, lookback, excludeCurrentDay, now)
					},
				})
			}
			return pending, nil
		},
		createBatch:   b.batches.Create,
		markPublished: b.uploads.MarkPublished,
		pendingCount:  b.uploads.CountPending,
	})
}

// CreateEuMarkedBatch aggregates federation uploads destined to the home
// country. The resulting batch lands in the domestic sequence, marked
// with the EU origin and batch tag so clients can tell it apart.
func (b *Builder) CreateEuMarkedBatch(ctx context.Context) error {
	return b.run(ctx, stream{
		name:          "eu-marked",
		origin:        models.OriginEu,
		batchTag:      models.BatchTagEu,
		latestInfo:    b.batches.LatestInfo,
		pending:       b.euPending(models.OriginDomestic),
		createBatch:   b.batches.Create,
		markPublished: b.uploadsEu.MarkPublished,
		pendingCount: func(ctx context.Context) (int64, error) {
			return b.uploadsEu.CountPendingByCountry(ctx, models.OriginDomestic)
		},
	})
}

// CreateCountryBatch aggregates federation uploads destined to one foreign
// country into that country's own batch sequence.
func (b *Builder) CreateCountryBatch(ctx context.Context, country string) error {
	return b.run(ctx, stream{
		name:   country,
		origin: country,
		latestInfo: func(ctx context.Context) (*models.BatchInfo, error) {
			return b.batchesEu.LatestInfoByCountry(ctx, country)
		},
		pending:       b.euPending(country),
		createBatch:   b.batchesEu.Create,
		markPublished: b.uploadsEu.MarkPublished,
		pendingCount: func(ctx context.Context) (int64, error) {
			return b.uploadsEu.CountPendingByCountry(ctx, country)
		},
	})
}

// euPending adapts the federation uploads of one country to the build
// loop. Federation keys carry no usable onset data, so every key is
// exported at the highest risk level.
func (b *Builder) euPending(country string) func(ctx context.Context) ([]pendingUpload, error) {
	return func(ctx context.Context) ([]pendingUpload, error) {
		uploads, err := b.uploadsEu.ListPendingByCountry(ctx, country)
		if err != nil {
			return nil, err
		}
		pending := make([]pendingUpload, 0, len(uploads))
		for _, upload := range uploads {
			upload := upload
			pending = append(pending, pendingUpload{
				id:      upload.ID,
				rawKeys: len(upload.Keys),
				annotate: func(time.Time) []models.TemporaryExposureKey {
					return SetHighestRiskLevel(upload.Keys)
				},
			})
		}
		return pending, nil
	}
}

func (b *Builder) run(ctx context.Context, st stream) error {
	log := b.logger.With(
		zap.String("stream", st.name),
		zap.String("run_id", uuid.NewString()),
	)

	now := b.now().UTC()
	info, err := st.latestInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to load latest batch info: %w", err)
	}

	// The window continues where the last batch of the sequence ended;
	// the very first batch anchors to the previous domestic schedule
	// tick instead, in every stream.
	var periodStart time.Time
	var lastIndex int32
	if info != nil {
		periodStart = info.PeriodEnd
		lastIndex = info.Index
	} else {
		periodStart, err = schedule.PrevBefore(b.cfg.Batch.PeriodicityCrontab, now)
		if err != nil {
			return fmt.Errorf("failed to compute first period start: %w", err)
		}
	}
	periodEnd := now

	log.Info("Start processing uploads",
		zap.Time("period_start", periodStart),
		zap.Time("period_end", periodEnd))

	uploads, err := st.pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch pending uploads: %w", err)
	}
	log.Info("Uploads have been fetched", zap.Int("n_uploads", len(uploads)))

	processed := make([]int64, 0, len(uploads))
	var keys []models.TemporaryExposureKey
	for _, upload := range uploads {
		if reached := len(keys) + upload.rawKeys; reached > b.cfg.Batch.MaxKeysPerBatch {
			log.Warn("Early stop: maximum number of keys per batch reached",
				zap.Int("n_keys", len(keys)),
				zap.Int("n_keys_with_upload", reached),
				zap.Int("max_keys_per_batch", b.cfg.Batch.MaxKeysPerBatch))
			break
		}
		keys = append(keys, upload.annotate(now)...)
		processed = append(processed, upload.id)
	}

	if len(keys) > 0 {
		sort.Slice(keys, func(i, j int) bool { return keys[i].KeyData < keys[j].KeyData })

		batch := &models.BatchFile{
			Index:         lastIndex + 1,
			Keys:          keys,
			PeriodStart:   periodStart,
			PeriodEnd:     periodEnd,
			SubBatchIndex: 1,
			SubBatchCount: 1,
			Origin:        st.origin,
			BatchTag:      st.batchTag,
		}
		batch.ClientContent, err = b.serializer.ClientContent(
			ctx, keys, periodStart, periodEnd, batch.SubBatchIndex, batch.SubBatchCount)
		if err != nil {
			return fmt.Errorf("failed to serialize client content: %w", err)
		}
		if err := st.createBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to create batch file: %w", err)
		}
		log.Info("Created new batch file",
			zap.Int32("batch_index", batch.Index),
			zap.Int("n_keys", len(keys)))
	}

	// Even zero-key uploads are consumed; an upload left pending would be
	// picked up again by every subsequent run.
	if err := st.markPublished(ctx, processed); err != nil {
		return fmt.Errorf("failed to flag uploads as published: %w", err)
	}
	log.Info("Uploads have been processed", zap.Int("n_processed_uploads", len(processed)))

	if remaining, err := st.pendingCount(ctx); err != nil {
		log.Warn("Failed to count still-pending uploads", zap.Error(err))
	} else {
		log.Info("Uploads still enqueued", zap.Int64("n_enqueued_uploads", remaining))
	}
	return nil
}
