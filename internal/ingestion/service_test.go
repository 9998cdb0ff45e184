package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/repository"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/validator"
)

type fakeUploadStore struct {
	created   []*models.Upload
	createErr error
}

var _ repository.UploadRepository = (*fakeUploadStore)(nil)

func (f *fakeUploadStore) Create(_ context.Context, upload *models.Upload) error {
	if f.createErr != nil {
		return f.createErr
	}
	upload.ID = int64(len(f.created) + 1)
	upload.CreatedAt = time.Date(2020, 6, 9, 18, 0, 0, 0, time.UTC)
	f.created = append(f.created, upload)
	return nil
}

func (f *fakeUploadStore) ListPending(context.Context) ([]models.Upload, error) { return nil, nil }
func (f *fakeUploadStore) CountPending(context.Context) (int64, error)         { return 0, nil }
func (f *fakeUploadStore) MarkPublished(context.Context, []int64) error        { return nil }
func (f *fakeUploadStore) UnprocessedBefore(context.Context, time.Time) (bool, error) {
	return false, nil
}
func (f *fakeUploadStore) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeEuStore struct {
	created   []*models.UploadEu
	createErr error
}

var _ repository.UploadEuRepository = (*fakeEuStore)(nil)

func (f *fakeEuStore) Create(_ context.Context, upload *models.UploadEu) error {
	if f.createErr != nil {
		return f.createErr
	}
	upload.ID = int64(len(f.created) + 1)
	upload.CreatedAt = time.Date(2020, 6, 9, 18, 0, 0, 0, time.UTC)
	f.created = append(f.created, upload)
	return nil
}

func (f *fakeEuStore) CountriesToProcess(context.Context) ([]string, error) { return nil, nil }
func (f *fakeEuStore) ListPendingByCountry(context.Context, string) ([]models.UploadEu, error) {
	return nil, nil
}
func (f *fakeEuStore) CountPendingByCountry(context.Context, string) (int64, error) {
	return 0, nil
}
func (f *fakeEuStore) MarkPublished(context.Context, []int64) error { return nil }
func (f *fakeEuStore) UnprocessedBefore(context.Context, time.Time) (bool, error) {
	return false, nil
}
func (f *fakeEuStore) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeAnalytics struct {
	pushed []interface{}
	err    error
}

func (f *fakeAnalytics) Push(_ context.Context, payload interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, payload)
	return nil
}

type serviceFixture struct {
	service   *Service
	uploads   *fakeUploadStore
	uploadsEu *fakeEuStore
	analytics *fakeAnalytics
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		uploads:   &fakeUploadStore{},
		uploadsEu: &fakeEuStore{},
		analytics: &fakeAnalytics{},
	}
	v := validator.NewTekListValidator(30, true, true, zap.NewNop())
	f.service = NewService(v, f.uploads, f.uploadsEu, f.analytics, zap.NewNop())
	return f
}

// Two day-aligned keys from June 2020; always in the past, so the
// future-key check never interferes.
func sampleTeks() []SubmittedTek {
	return []SubmittedTek{
		{
			KeyData:            "Bdf2+vTl0M9L7cMIPnbiMQ==",
			RollingStartNumber: models.MidnightRollingStartNumberAt(time.Date(2020, 6, 8, 0, 0, 0, 0, time.UTC)),
			RollingPeriod:      models.MaxRollingPeriod,
		},
		{
			KeyData:            "r6SdcMFlX0rFvb6OL6EfBw==",
			RollingStartNumber: models.MidnightRollingStartNumberAt(time.Date(2020, 6, 9, 0, 0, 0, 0, time.UTC)),
			RollingPeriod:      models.MaxRollingPeriod,
		},
	}
}

func TestIngestUpload_StoresValidKeys(t *testing.T) {
	f := newServiceFixture()
	teks := sampleTeks()
	sub := Submission{
		Province:            "RM",
		CountriesOfInterest: []string{"DK", "DE"},
		SymptomsStartedOn:   time.Date(2020, 6, 8, 0, 0, 0, 0, time.UTC),
		Teks:                teks,
		ExposureDetectionSummaries: []models.ExposureDetectionSummary{
			{Date: "2020-06-07", MatchedKeyCount: 1},
		},
	}

	upload, err := f.service.IngestUpload(context.Background(), sub)

	require.NoError(t, err)
	require.NotNil(t, upload)
	assert.Equal(t, int64(1), upload.ID)
	assert.True(t, upload.ToPublish)
	assert.Equal(t, sub.SymptomsStartedOn, upload.SymptomsStartedOn)

	require.Len(t, upload.Keys, 2)
	for i, key := range upload.Keys {
		assert.Equal(t, teks[i].KeyData, key.KeyData)
		assert.Equal(t, models.IntervalStart(teks[i].RollingStartNumber), key.CreatedAt)
		assert.Equal(t, models.IntervalStart(teks[i].RollingStartNumber+teks[i].RollingPeriod), key.ExpiresAt)
		assert.Equal(t, []string{"DK", "DE"}, key.CountriesOfInterest)
	}

	require.Len(t, f.analytics.pushed, 1)
	envelope, ok := f.analytics.pushed[0].(analyticsEnvelope)
	require.True(t, ok)
	assert.Equal(t, 2, envelope.Version)
	assert.Len(t, envelope.Payload.ExposureDetectionSummaries, 1)
}

func TestIngestUpload_InconsistentKeysStoredEmpty(t *testing.T) {
	f := newServiceFixture()
	teks := sampleTeks()
	teks[1].KeyData = teks[0].KeyData

	upload, err := f.service.IngestUpload(context.Background(), Submission{
		SymptomsStartedOn: time.Date(2020, 6, 8, 0, 0, 0, 0, time.UTC),
		Teks:              teks,
	})

	require.NoError(t, err)
	require.Len(t, f.uploads.created, 1)
	assert.Empty(t, upload.Keys)
	assert.True(t, upload.ToPublish)
	// The analytics payload is independent of the key consistency.
	assert.Len(t, f.analytics.pushed, 1)
}

func TestIngestUpload_AnalyticsEnvelopeShape(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.IngestUpload(context.Background(), Submission{
		Province:          "TO",
		SymptomsStartedOn: time.Date(2020, 6, 8, 0, 0, 0, 0, time.UTC),
	})

	require.NoError(t, err)
	require.Len(t, f.analytics.pushed, 1)
	data, err := json.Marshal(f.analytics.pushed[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"version": 2,
		"payload": {
			"province": "TO",
			"symptoms_started_on": "2020-06-08",
			"exposure_detection_summaries": []
		}
	}`, string(data))
}

func TestIngestUpload_StoreFailure(t *testing.T) {
	f := newServiceFixture()
	f.uploads.createErr = errors.New("insert failed")

	_, err := f.service.IngestUpload(context.Background(), Submission{
		SymptomsStartedOn: time.Date(2020, 6, 8, 0, 0, 0, 0, time.UTC),
		Teks:              sampleTeks(),
	})

	require.Error(t, err)
	assert.Empty(t, f.analytics.pushed)
}

func TestIngestUpload_AnalyticsFailureDoesNotFailUpload(t *testing.T) {
	f := newServiceFixture()
	f.analytics.err = errors.New("redis gone")

	upload, err := f.service.IngestUpload(context.Background(), Submission{
		SymptomsStartedOn: time.Date(2020, 6, 8, 0, 0, 0, 0, time.UTC),
		Teks:              sampleTeks(),
	})

	require.NoError(t, err)
	assert.Len(t, upload.Keys, 2)
	assert.Len(t, f.uploads.created, 1)
}

func TestIngestFederationUpload(t *testing.T) {
	f := newServiceFixture()
	teks := sampleTeks()

	upload, err := f.service.IngestFederationUpload(context.Background(), FederationUpload{
		Country:  "IT",
		Origin:   "DE",
		BatchTag: "2020-06-09-1",
		Teks:     teks,
	})

	require.NoError(t, err)
	require.Len(t, f.uploadsEu.created, 1)
	assert.Equal(t, int64(1), upload.ID)
	assert.True(t, upload.ToPublish)
	assert.Equal(t, "IT", upload.Country)
	assert.Equal(t, "DE", upload.Origin)
	assert.Equal(t, "2020-06-09-1", upload.BatchTag)
	require.Len(t, upload.Keys, 2)
	assert.Equal(t, models.IntervalStart(teks[0].RollingStartNumber), upload.Keys[0].CreatedAt)
}

func TestIngestFederationUpload_StoreFailure(t *testing.T) {
	f := newServiceFixture()
	f.uploadsEu.createErr = errors.New("insert failed")

	_, err := f.service.IngestFederationUpload(context.Background(), FederationUpload{Country: "IT"})

	require.Error(t, err)
}
