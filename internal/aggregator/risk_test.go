package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

var riskNow = time.Date(2020, 6, 10, 12, 0, 0, 0, time.UTC)

// dailyKey returns a full-day key active on the UTC day containing t.
func dailyKey(t time.Time) models.TemporaryExposureKey {
	return models.NewTemporaryExposureKey("a2V5", models.MidnightRollingStartNumberAt(t), models.MaxRollingPeriod)
}

func TestExtractKeysAtRisk_LookbackWindow(t *testing.T) {
	upload := models.Upload{
		ID:                1,
		SymptomsStartedOn: time.Date(2020, 6, 8, 0, 0, 0, 0, time.UTC),
		Keys: []models.TemporaryExposureKey{
			dailyKey(time.Date(2020, 6, 4, 0, 0, 0, 0, time.UTC)),
			dailyKey(time.Date(2020, 6, 5, 0, 0, 0, 0, time.UTC)),
			dailyKey(time.Date(2020, 6, 6, 0, 0, 0, 0, time.UTC)),
			dailyKey(time.Date(2020, 6, 7, 0, 0, 0, 0, time.UTC)),
		},
	}

	// Lookback of 2 days before the onset on June 8th keeps keys created
	// on June 6th or later.
	atRisk := ExtractKeysAtRisk(upload, 2, false, riskNow)

	require.Len(t, atRisk, 2)
	assert.Equal(t, upload.Keys[2].KeyData, atRisk[0].KeyData)
	assert.Equal(t, upload.Keys[2].RollingStartNumber, atRisk[0].RollingStartNumber)
	assert.Equal(t, upload.Keys[3].RollingStartNumber, atRisk[1].RollingStartNumber)
	for _, key := range atRisk {
		assert.Equal(t, models.RiskLevelHighest, key.TransmissionRiskLevel)
	}
}

func TestExtractKeysAtRisk_OnsetTimeOfDayIsIgnored(t *testing.T) {
	// The lookback compares calendar days, not instants: an onset late in
	// the day must not push the window forward.
	upload := models.Upload{
		SymptomsStartedOn: time.Date(2020, 6, 8, 23, 30, 0, 0, time.UTC),
		Keys: []models.TemporaryExposureKey{
			dailyKey(time.Date(2020, 6, 6, 0, 0, 0, 0, time.UTC)),
		},
	}

	atRisk := ExtractKeysAtRisk(upload, 2, false, riskNow)

	require.Len(t, atRisk, 1)
}

func TestExtractKeysAtRisk_ExcludesCurrentDayKey(t *testing.T) {
	yesterday := dailyKey(time.Date(2020, 6, 9, 0, 0, 0, 0, time.UTC))
	today := dailyKey(riskNow)
	upload := models.Upload{
		SymptomsStartedOn: time.Date(2020, 6, 9, 0, 0, 0, 0, time.UTC),
		Keys:              []models.TemporaryExposureKey{yesterday, today},
	}

	atRisk := ExtractKeysAtRisk(upload, 2, true, riskNow)

	// The key still active at processing time is withheld; it would leak
	// a window that can still be matched live.
	require.Len(t, atRisk, 1)
	assert.Equal(t, yesterday.RollingStartNumber, atRisk[0].RollingStartNumber)

	atRisk = ExtractKeysAtRisk(upload, 2, false, riskNow)
	require.Len(t, atRisk, 2)
}

func TestExtractKeysAtRisk_DoesNotMutateUpload(t *testing.T) {
	upload := models.Upload{
		SymptomsStartedOn: time.Date(2020, 6, 9, 0, 0, 0, 0, time.UTC),
		Keys: []models.TemporaryExposureKey{
			dailyKey(time.Date(2020, 6, 8, 0, 0, 0, 0, time.UTC)),
		},
	}

	atRisk := ExtractKeysAtRisk(upload, 2, false, riskNow)

	require.Len(t, atRisk, 1)
	assert.Equal(t, models.RiskLevelHighest, atRisk[0].TransmissionRiskLevel)
	assert.Equal(t, models.RiskLevelNone, upload.Keys[0].TransmissionRiskLevel)
}

func TestExtractKeysAtRisk_EmptyUpload(t *testing.T) {
	upload := models.Upload{SymptomsStartedOn: time.Date(2020, 6, 9, 0, 0, 0, 0, time.UTC)}

	assert.Empty(t, ExtractKeysAtRisk(upload, 2, true, riskNow))
}

func TestSetHighestRiskLevel(t *testing.T) {
	keys := []models.TemporaryExposureKey{
		dailyKey(time.Date(2020, 6, 8, 0, 0, 0, 0, time.UTC)),
		dailyKey(time.Date(2020, 6, 9, 0, 0, 0, 0, time.UTC)),
	}

	annotated := SetHighestRiskLevel(keys)

	require.Len(t, annotated, 2)
	for i, key := range annotated {
		assert.Equal(t, models.RiskLevelHighest, key.TransmissionRiskLevel)
		assert.Equal(t, keys[i].KeyData, key.KeyData)
		assert.Equal(t, models.RiskLevelNone, keys[i].TransmissionRiskLevel)
	}
}

func TestSetHighestRiskLevel_Empty(t *testing.T) {
	assert.Empty(t, SetHighestRiskLevel(nil))
}
