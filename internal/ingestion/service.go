// Package ingestion is the service-level intake boundary. It sits behind
// the transport and authorization layers: by the time a submission gets
// here, the caller has been authenticated and the symptoms onset date has
// been resolved from the authorization record.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/repository"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/validator"
)

// SubmittedTek is one key as the client sent it. The activation and
// expiry instants are derived here at intake time, never trusted from
// the client.
type SubmittedTek struct {
	KeyData            string `json:"key_data"`
	RollingStartNumber int32  `json:"rolling_start_number"`
	RollingPeriod      int32  `json:"rolling_period"`
}

// Submission is one authenticated client upload.
type Submission struct {
	Province                   string
	CountriesOfInterest        []string
	SymptomsStartedOn          time.Time
	Teks                       []SubmittedTek
	ExposureDetectionSummaries []models.ExposureDetectionSummary
}

// FederationUpload is one key set imported from the EU federation
// gateway, destined to the given country of interest.
type FederationUpload struct {
	Country  string
	Origin   string
	BatchTag string
	Teks     []SubmittedTek
}

// AnalyticsPublisher appends one payload to the analytics queue.
type AnalyticsPublisher interface {
	Push(ctx context.Context, payload interface{}) error
}

// Service validates and persists uploads. Consistency failures are
// handled fail-closed: the upload is stored with no keys, so the
// submission is consumed without ever exporting a suspect key.
type Service struct {
	validator *validator.TekListValidator
	uploads   repository.UploadRepository
	uploadsEu repository.UploadEuRepository
	analytics AnalyticsPublisher
	logger    *zap.Logger
}

// NewService wires the intake boundary to its stores and queues.
func NewService(
	v *validator.TekListValidator,
	uploads repository.UploadRepository,
	uploadsEu repository.UploadEuRepository,
	analytics AnalyticsPublisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		validator: v,
		uploads:   uploads,
		uploadsEu: uploadsEu,
		analytics: analytics,
		logger:    logger,
	}
}

// analyticsEnvelope is the versioned message pushed to the analytics
// queue; its shape is shared with the analytics pipeline.
type analyticsEnvelope struct {
	Version int              `json:"version"`
	Payload analyticsPayload `json:"payload"`
}

type analyticsPayload struct {
	Province                   string                            `json:"province"`
	SymptomsStartedOn          string                            `json:"symptoms_started_on"`
	ExposureDetectionSummaries []models.ExposureDetectionSummary `json:"exposure_detection_summaries"`
}

// IngestUpload persists one client submission and forwards its exposure
// detection summaries to the analytics queue. An inconsistent key list
// is not an error to the caller: the keys are discarded, the upload is
// stored empty, and the diagnostics end up in the log.
func (s *Service) IngestUpload(ctx context.Context, sub Submission) (*models.Upload, error) {
	keys := deriveKeys(sub.Teks)

	if err := s.validator.Validate(keys); err != nil {
		s.logger.Error("Inconsistency detected in the uploaded TEKs",
			zap.Int("n_teks", len(keys)),
			zap.Error(err))
		// Suspect keys must never reach a batch.
		keys = nil
	}

	for i := range keys {
		keys[i].CountriesOfInterest = sub.CountriesOfInterest
	}

	upload := &models.Upload{
		ToPublish:         true,
		SymptomsStartedOn: sub.SymptomsStartedOn,
		Keys:              keys,
	}
	if err := s.uploads.Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	s.logger.Info("Created new upload",
		zap.Int64("upload_id", upload.ID),
		zap.Int("n_teks", len(keys)))

	s.forwardSummaries(ctx, sub)

	return upload, nil
}

// IngestFederationUpload persists one key set fetched from the EU
// federation gateway. Federation keys bypass the consistency checks:
// the gateway already vetted them, and their semantics (chunked batch
// tags, multi-day sets) would not fit the domestic rules.
func (s *Service) IngestFederationUpload(ctx context.Context, fed FederationUpload) (*models.UploadEu, error) {
	upload := &models.UploadEu{
		ToPublish: true,
		Country:   fed.Country,
		Origin:    fed.Origin,
		BatchTag:  fed.BatchTag,
		Keys:      deriveKeys(fed.Teks),
	}
	if err := s.uploadsEu.Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("failed to store federation upload: %w", err)
	}
	s.logger.Info("Created new federation upload",
		zap.Int64("upload_id", upload.ID),
		zap.String("country", fed.Country),
		zap.String("origin", fed.Origin),
		zap.String("batch_tag", fed.BatchTag),
		zap.Int("n_teks", len(upload.Keys)))
	return upload, nil
}

// forwardSummaries pushes the epidemiological payload to the analytics
// queue. A push failure never fails the upload: the keys are already
// stored, and losing one analytics sample is the cheaper outcome.
func (s *Service) forwardSummaries(ctx context.Context, sub Submission) {
	summaries := sub.ExposureDetectionSummaries
	if summaries == nil {
		summaries = []models.ExposureDetectionSummary{}
	}
	envelope := analyticsEnvelope{
		Version: 2,
		Payload: analyticsPayload{
			Province:                   sub.Province,
			SymptomsStartedOn:          sub.SymptomsStartedOn.Format("2006-01-02"),
			ExposureDetectionSummaries: summaries,
		},
	}
	if err := s.analytics.Push(ctx, envelope); err != nil {
		s.logger.Error("Failed to push exposure data to the analytics queue", zap.Error(err))
		return
	}
	s.logger.Info("Stored exposure detection summaries",
		zap.Int("n_summaries", len(summaries)))
}

func deriveKeys(teks []SubmittedTek) []models.TemporaryExposureKey {
	keys := make([]models.TemporaryExposureKey, 0, len(teks))
	for _, tek := range teks {
		keys = append(keys, models.NewTemporaryExposureKey(tek.KeyData, tek.RollingStartNumber, tek.RollingPeriod))
	}
	return keys
}
