package models

import "time"

// Batch origins. Domestic batches carry OriginDomestic; batches built from
// federation uploads destined to this jurisdiction carry OriginEu and the
// BatchTagEu marker. Per-country federation batches use the country code
// itself as origin.
const (
	OriginDomestic = "IT"
	OriginEu       = "EU"
	BatchTagEu     = "KEYS_EU"
)

// BatchFile is one immutable publishable unit: the annotated keys of one
// aggregation window, plus the signed client archive. Index is strictly
// increasing within its stream; nothing is ever mutated after creation.
type BatchFile struct {
	ID            int64
	CreatedAt     time.Time
	Index         int32
	Keys          []TemporaryExposureKey
	PeriodStart   time.Time
	PeriodEnd     time.Time
	SubBatchIndex int32
	SubBatchCount int32
	Origin        string
	BatchTag      string
	ClientContent []byte
}

// BatchInfo is the tail state of a batch stream: where the last window
// ended and which index it used. The next batch continues from here.
type BatchInfo struct {
	PeriodEnd time.Time
	Index     int32
}
