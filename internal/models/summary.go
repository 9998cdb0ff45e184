package models

// ExposureInfo is the per-exposure detail attached to a detection summary.
type ExposureInfo struct {
	Date                  string `json:"date"`
	Duration              int    `json:"duration"`
	AttenuationValue      int    `json:"attenuation_value"`
	RiskScore             int    `json:"risk_score"`
	TotalRiskScore        int    `json:"total_risk_score"`
	TransmissionRiskLevel int    `json:"transmission_risk_level"`
	AttenuationDurations  []int  `json:"attenuation_durations"`
}

// ExposureDetectionSummary is the epidemiological info a client uploads
// alongside its keys. The ingestion service forwards it untouched to the
// analytics queue; it never influences batching.
type ExposureDetectionSummary struct {
	Date                  string         `json:"date"`
	MatchedKeyCount       int            `json:"matched_key_count"`
	DaysSinceLastExposure int            `json:"days_since_last_exposure"`
	AttenuationDurations  []int          `json:"attenuation_durations"`
	MaximumRiskScore      int            `json:"maximum_risk_score"`
	ExposureInfo          []ExposureInfo `json:"exposure_info"`
}
