// Package export builds the signed zip archive served to mobile clients.
// Each archive holds exactly two entries: export.bin (header + key export
// message) and export.sig (detached signature list). The structure is
// dictated by the Apple/Google exposure notification SDKs.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/config"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/export/exportpb"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/models"
)

// signatureAlgorithm is the OID for ECDSA with SHA-256, the algorithm the
// verification key published to clients uses.
const signatureAlgorithm = "1.2.840.10045.4.3.2"

// Signer produces the detached signature embedded in export.sig.
type Signer interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// Serializer turns an ordered key list into client content.
type Serializer struct {
	region                 string
	binHeader              []byte
	appBundleID            string
	verificationKeyID      string
	verificationKeyVersion string
	signer                 Signer
}

// NewSerializer builds a Serializer; the configured header is space-padded
// to its fixed 16-byte size once, here.
func NewSerializer(cfg *config.Config, signer Signer) *Serializer {
	return &Serializer{
		region:                 cfg.Export.Region,
		binHeader:              []byte(fmt.Sprintf("%-*s", config.ExportBinHeaderLength, cfg.Export.BinHeader)),
		appBundleID:            cfg.Export.AppBundleID,
		verificationKeyID:      cfg.Export.VerificationKeyID,
		verificationKeyVersion: cfg.Export.VerificationKeyVersion,
		signer:                 signer,
	}
}

// ClientContent serializes the keys for the given window into the final
// zip archive, requesting the signature from the external signer.
func (s *Serializer) ClientContent(
	ctx context.Context,
	keys []models.TemporaryExposureKey,
	periodStart, periodEnd time.Time,
	subBatchIndex, subBatchCount int32,
) ([]byte, error) {
	binContent, err := s.binContent(keys, periodStart, periodEnd, subBatchIndex, subBatchCount)
	if err != nil {
		return nil, err
	}

	sigContent, err := s.signatureContent(ctx, binContent, subBatchIndex, subBatchCount)
	if err != nil {
		return nil, err
	}

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for _, entry := range []struct {
		name    string
		content []byte
	}{
		{"export.bin", binContent},
		{"export.sig", sigContent},
	} {
		w, err := zw.Create(entry.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive entry %s: %w", entry.name, err)
		}
		if _, err := w.Write(entry.content); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %s: %w", entry.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return archive.Bytes(), nil
}

// binContent builds the export.bin payload: the fixed header followed by
// the marshalled key export message.
func (s *Serializer) binContent(
	keys []models.TemporaryExposureKey,
	periodStart, periodEnd time.Time,
	subBatchIndex, subBatchCount int32,
) ([]byte, error) {
	export := &exportpb.TemporaryExposureKeyExport{
		StartTimestamp: uint64(periodStart.Unix()),
		EndTimestamp:   uint64(periodEnd.Unix()),
		Region:         s.region,
		BatchNum:       subBatchIndex,
		BatchSize:      subBatchCount,
		SignatureInfos: []*exportpb.SignatureInfo{s.signatureInfo()},
		Keys:           make([]*exportpb.TemporaryExposureKey, 0, len(keys)),
	}

	for _, key := range keys {
		keyData, err := base64.StdEncoding.DecodeString(key.KeyData)
		if err != nil {
			return nil, fmt.Errorf("failed to decode key data: %w", err)
		}
		export.Keys = append(export.Keys, &exportpb.TemporaryExposureKey{
			KeyData:                    keyData,
			TransmissionRiskLevel:      int32(key.TransmissionRiskLevel),
			RollingStartIntervalNumber: key.RollingStartNumber,
			RollingPeriod:              key.RollingPeriod,
		})
	}

	return append(append([]byte(nil), s.binHeader...), export.Marshal()...), nil
}

// signatureContent signs the export.bin payload and wraps the result in
// the signature list message.
func (s *Serializer) signatureContent(ctx context.Context, binContent []byte, subBatchIndex, subBatchCount int32) ([]byte, error) {
	sig, err := s.signer.Sign(ctx, binContent)
	if err != nil {
		return nil, fmt.Errorf("failed to sign export content: %w", err)
	}

	list := &exportpb.TEKSignatureList{
		Signatures: []*exportpb.TEKSignature{{
			SignatureInfo: s.signatureInfo(),
			BatchNum:      subBatchIndex,
			BatchSize:     subBatchCount,
			Signature:     sig,
		}},
	}
	return list.Marshal(), nil
}

func (s *Serializer) signatureInfo() *exportpb.SignatureInfo {
	return &exportpb.SignatureInfo{
		AppBundleID:            s.appBundleID,
		VerificationKeyVersion: s.verificationKeyVersion,
		VerificationKeyID:      s.verificationKeyID,
		SignatureAlgorithm:     signatureAlgorithm,
	}
}
