package aggregator

import (
	"time"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

// ExtractKeysAtRisk returns annotated copies of the upload's keys that
// are considered at risk of transmission: every key created on or after
// the lookback window preceding the symptoms onset gets the highest risk
// level. With excludeCurrentDay set, keys whose rolling window has not
// expired yet are dropped rather than exported early.
//
// The upload is never mutated.
func ExtractKeysAtRisk(upload models.Upload, lookbackDays int, excludeCurrentDay bool, now time.Time) []models.TemporaryExposureKey {
	firstRiskyDay := dayOf(upload.SymptomsStartedOn).AddDate(0, 0, -lookbackDays)

	atRisk := make([]models.TemporaryExposureKey, 0, len(upload.Keys))
	for _, key := range upload.Keys {
		if dayOf(key.CreatedAt).Before(firstRiskyDay) {
			continue
		}
		key.TransmissionRiskLevel = models.RiskLevelHighest
		if excludeCurrentDay && !key.ExpiresAt.Before(now) {
			continue
		}
		atRisk = append(atRisk, key)
	}
	return atRisk
}

// SetHighestRiskLevel returns copies of the keys with the highest risk
// level applied. Keys arriving through the federation gateway carry no
// usable onset data, so they are all exported at maximum risk.
func SetHighestRiskLevel(keys []models.TemporaryExposureKey) []models.TemporaryExposureKey {
	annotated := make([]models.TemporaryExposureKey, len(keys))
	for i, key := range keys {
		key.TransmissionRiskLevel = models.RiskLevelHighest
		annotated[i] = key
	}
	return annotated
}

// dayOf truncates an instant to its UTC calendar day.
func dayOf(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
