package models

import "time"

// A rolling interval is the 10-minute tick the exposure notification
// framework slices time into; a rolling period of 144 intervals is one day.
const (
	IntervalLength   = 10 * time.Minute
	MaxRollingPeriod = 144
	MinRollingPeriod = 1
)

// RiskLevel is the transmission risk classification embedded in exported
// keys, on the 0-8 scale understood by the mobile frameworks.
type RiskLevel int32

const (
	RiskLevelNone    RiskLevel = 0
	RiskLevelLow     RiskLevel = 3
	RiskLevelMid     RiskLevel = 5
	RiskLevelHigh    RiskLevel = 7
	RiskLevelHighest RiskLevel = 8
)

// TemporaryExposureKey is one 10-minute-resolution rolling key uploaded by
// a client. KeyData is base64-encoded; it stays encoded until export time.
type TemporaryExposureKey struct {
	KeyData               string    `json:"key_data"`
	RollingStartNumber    int32     `json:"rolling_start_number"`
	RollingPeriod         int32     `json:"rolling_period"`
	TransmissionRiskLevel RiskLevel `json:"transmission_risk_level"`
	CreatedAt             time.Time `json:"created_at"`
	ExpiresAt             time.Time `json:"expires_at"`
	CountriesOfInterest   []string  `json:"countries_of_interest,omitempty"`
}

// NewTemporaryExposureKey builds a key with the active window derived from
// its rolling fields: CreatedAt is the activation instant, ExpiresAt the
// end of the rolling window. Both are fixed at intake time.
func NewTemporaryExposureKey(keyData string, rollingStartNumber, rollingPeriod int32) TemporaryExposureKey {
	return TemporaryExposureKey{
		KeyData:            keyData,
		RollingStartNumber: rollingStartNumber,
		RollingPeriod:      rollingPeriod,
		CreatedAt:          IntervalStart(rollingStartNumber),
		ExpiresAt:          IntervalStart(rollingStartNumber + rollingPeriod),
	}
}

// RollingStartNumberAt returns the rolling interval number containing t.
func RollingStartNumberAt(t time.Time) int32 {
	return int32(t.Unix() / int64(IntervalLength/time.Second))
}

// MidnightRollingStartNumberAt returns the rolling interval number of UTC
// midnight of the day containing t.
func MidnightRollingStartNumberAt(t time.Time) int32 {
	year, month, day := t.UTC().Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return RollingStartNumberAt(midnight)
}

// IntervalStart returns the UTC instant a rolling interval number maps to.
func IntervalStart(n int32) time.Time {
	return time.Unix(int64(n)*int64(IntervalLength/time.Second), 0).UTC()
}
