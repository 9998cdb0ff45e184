package models

import "time"

// Upload is one client submission of keys, created at upload time and
// consumed exactly once by the batch aggregation job. Creation order (the
// serial ID) doubles as the FIFO processing order.
type Upload struct {
	ID                int64
	CreatedAt         time.Time
	ToPublish         bool
	SymptomsStartedOn time.Time
	Keys              []TemporaryExposureKey
}

// UploadEu is an upload imported from the European federation gateway.
// Country partitions which per-country aggregation stream it belongs to;
// Origin is the uploading country reported by the gateway.
type UploadEu struct {
	ID        int64
	CreatedAt time.Time
	ToPublish bool
	Country   string
	Origin    string
	BatchTag  string
	Keys      []TemporaryExposureKey
}
