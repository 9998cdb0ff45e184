// Package validator checks uploaded temporary exposure keys for
// consistency before they are persisted. The checks run in a fixed order
// and stop at the first violation, so callers always see the most
// structural problem first.
package validator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

// ValidationError reports an uploaded key list that violated a
// consistency rule. The message carries the offending values; callers
// that need to tell a rejected upload from an infrastructure failure can
// match on the type.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func violationf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// TekListValidator validates a list of TEKs as a whole and each TEK in
// isolation. A nil error means every key passed.
type TekListValidator struct {
	maxKeysPerUpload    int
	allowNonConsecutive bool
	excludeCurrentDay   bool
	logger              *zap.Logger
	now                 func() time.Time
}

// NewTekListValidator builds a validator with explicit limits. The
// current-day flag only affects logging here; the exclusion itself happens
// during risk annotation.
func NewTekListValidator(maxKeysPerUpload int, allowNonConsecutive, excludeCurrentDay bool, logger *zap.Logger) *TekListValidator {
	return &TekListValidator{
		maxKeysPerUpload:    maxKeysPerUpload,
		allowNonConsecutive: allowNonConsecutive,
		excludeCurrentDay:   excludeCurrentDay,
		logger:              logger,
		now:                 time.Now,
	}
}

// Validate checks the whole list. Empty lists are valid: clients upload
// them to hide the timing of real uploads from network observers.
func (v *TekListValidator) Validate(teks []models.TemporaryExposureKey) error {
	v.logger.Info("Validating TEKs", zap.Int("n_teks", len(teks)))

	if len(teks) == 0 {
		return nil
	}
	if err := v.validateAggregateValues(teks); err != nil {
		return err
	}
	return v.validateSingleValues(teks)
}

// validateAggregateValues checks properties of the list as a whole:
// size, uniqueness and the day alignment of the rolling start numbers.
func (v *TekListValidator) validateAggregateValues(teks []models.TemporaryExposureKey) error {
	if len(teks) > v.maxKeysPerUpload {
		return violationf("too many TEKs (actual: %d, max allowed: %d)", len(teks), v.maxKeysPerUpload)
	}

	keyData := make(map[string]struct{}, len(teks))
	for _, tek := range teks {
		keyData[tek.KeyData] = struct{}{}
	}
	if len(keyData) != len(teks) {
		return violationf("TEKs do not have unique key data")
	}

	type window struct {
		start, period int32
	}
	windows := make(map[window]struct{}, len(teks))
	for _, tek := range teks {
		windows[window{tek.RollingStartNumber, tek.RollingPeriod}] = struct{}{}
	}
	if len(windows) != len(teks) {
		return violationf("TEKs do not have unique (rolling_start_number, rolling_period)")
	}

	initial := teks[0].RollingStartNumber
	uniqueStarts := make(map[int32]struct{}, len(teks))
	for _, tek := range teks {
		uniqueStarts[tek.RollingStartNumber] = struct{}{}
		if tek.RollingStartNumber < initial {
			initial = tek.RollingStartNumber
		}
	}

	var misaligned []int32
	for _, tek := range teks {
		if (tek.RollingStartNumber-initial)%models.MaxRollingPeriod != 0 {
			misaligned = append(misaligned, tek.RollingStartNumber)
		}
	}
	if len(misaligned) > 0 {
		return violationf("invalid rolling_start_number values (i.e., %s)", joinInt32(misaligned))
	}

	if !v.allowNonConsecutive {
		var missing []int32
		for i := 0; i < len(uniqueStarts); i++ {
			expected := initial + models.MaxRollingPeriod*int32(i)
			if _, ok := uniqueStarts[expected]; !ok {
				missing = append(missing, expected)
			}
		}
		if len(missing) > 0 {
			return violationf("some rolling_start_numbers are missing (i.e., %s)", joinInt32(missing))
		}
	}
	return nil
}

// validateSingleValues checks each TEK on its own: the rolling period
// bounds and that the key does not start in the future. Keys started today
// are accepted but flagged, since risk annotation may drop them later.
func (v *TekListValidator) validateSingleValues(teks []models.TemporaryExposureKey) error {
	now := v.now().UTC()
	nowRSN := models.RollingStartNumberAt(now)
	midnightRSN := models.MidnightRollingStartNumberAt(now)

	var todayPeriods []int32
	for _, tek := range teks {
		if tek.RollingPeriod < models.MinRollingPeriod || tek.RollingPeriod > models.MaxRollingPeriod {
			return violationf("some rolling_period values are not in [%d,%d] (e.g., %d)",
				models.MinRollingPeriod, models.MaxRollingPeriod, tek.RollingPeriod)
		}

		if tek.RollingStartNumber >= nowRSN {
			return violationf("some rolling_start_number values are in the future (e.g., %d)",
				tek.RollingStartNumber)
		}
		if tek.RollingStartNumber >= midnightRSN {
			todayPeriods = append(todayPeriods, tek.RollingPeriod)
		}
	}

	if len(todayPeriods) > 0 {
		v.logger.Info("Upload contains current-day TEKs",
			zap.Int("n_teks", len(teks)),
			zap.Int("n_today_teks", len(todayPeriods)),
			zap.Int32s("today_rolling_periods", todayPeriods),
			zap.Bool("exclude_current_day_tek", v.excludeCurrentDay))
	}
	return nil
}

func joinInt32(values []int32) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatInt(int64(v), 10)
	}
	return strings.Join(parts, ",")
}
