// Package exportpb implements the exposure notification export file
// format: the TemporaryExposureKeyExport message carried by export.bin
// and the TEKSignatureList message carried by export.sig.
//
// The messages are encoded directly with protowire against the published
// field numbers. The consuming mobile frameworks use proto2 semantics
// with every field explicitly populated by the producer, so Marshal
// writes scalar fields unconditionally (a zero risk level and the
// default rolling period of 144 are both real values on the wire) and
// string/bytes fields only when non-empty.
package exportpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultRollingPeriod is the proto2 default for a key's rolling period:
// one full day of 10-minute intervals.
const DefaultRollingPeriod = 144

// SignatureInfo describes the verification key clients use to check a
// batch signature.
type SignatureInfo struct {
	AppBundleID            string
	AndroidPackage         string
	VerificationKeyVersion string
	VerificationKeyID      string
	SignatureAlgorithm     string
}

// TemporaryExposureKey is one exported key. KeyData holds the raw 16-byte
// key, not its base64 form.
type TemporaryExposureKey struct {
	KeyData                    []byte
	TransmissionRiskLevel      int32
	RollingStartIntervalNumber int32
	RollingPeriod              int32
}

// TemporaryExposureKeyExport is the payload of export.bin, after the
// fixed 16-byte header.
type TemporaryExposureKeyExport struct {
	StartTimestamp uint64
	EndTimestamp   uint64
	Region         string
	BatchNum       int32
	BatchSize      int32
	SignatureInfos []*SignatureInfo
	Keys           []*TemporaryExposureKey
}

// TEKSignature carries the signature of one export.bin payload.
type TEKSignature struct {
	SignatureInfo *SignatureInfo
	BatchNum      int32
	BatchSize     int32
	Signature     []byte
}

// TEKSignatureList is the payload of export.sig.
type TEKSignatureList struct {
	Signatures []*TEKSignature
}

// Marshal encodes the export message.
func (e *TemporaryExposureKeyExport) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, e.StartTimestamp)
	b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, e.EndTimestamp)
	if e.Region != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, e.Region)
	}
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.BatchNum))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.BatchSize))
	for _, info := range e.SignatureInfos {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, info.marshal())
	}
	for _, key := range e.Keys {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, key.marshal())
	}
	return b
}

func (s *SignatureInfo) marshal() []byte {
	var b []byte
	if s.AppBundleID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, s.AppBundleID)
	}
	if s.AndroidPackage != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, s.AndroidPackage)
	}
	if s.VerificationKeyVersion != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, s.VerificationKeyVersion)
	}
	if s.VerificationKeyID != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, s.VerificationKeyID)
	}
	if s.SignatureAlgorithm != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, s.SignatureAlgorithm)
	}
	return b
}

func (k *TemporaryExposureKey) marshal() []byte {
	var b []byte
	if len(k.KeyData) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, k.KeyData)
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k.TransmissionRiskLevel))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k.RollingStartIntervalNumber))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k.RollingPeriod))
	return b
}

// Marshal encodes the signature list message.
func (l *TEKSignatureList) Marshal() []byte {
	var b []byte
	for _, sig := range l.Signatures {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, sig.marshal())
	}
	return b
}

func (s *TEKSignature) marshal() []byte {
	var b []byte
	if s.SignatureInfo != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, s.SignatureInfo.marshal())
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.BatchNum))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.BatchSize))
	if len(s.Signature) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Signature)
	}
	return b
}

// UnmarshalExport decodes a TemporaryExposureKeyExport message.
func UnmarshalExport(data []byte) (*TemporaryExposureKeyExport, error) {
	e := &TemporaryExposureKeyExport{}
	err := scanFields(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch {
		case num == 1 && typ == protowire.Fixed64Type:
			e.StartTimestamp = fixed64(field)
		case num == 2 && typ == protowire.Fixed64Type:
			e.EndTimestamp = fixed64(field)
		case num == 3 && typ == protowire.BytesType:
			e.Region = string(field)
		case num == 4 && typ == protowire.VarintType:
			e.BatchNum = int32(varint(field))
		case num == 5 && typ == protowire.VarintType:
			e.BatchSize = int32(varint(field))
		case num == 6 && typ == protowire.BytesType:
			info, err := unmarshalSignatureInfo(field)
			if err != nil {
				return err
			}
			e.SignatureInfos = append(e.SignatureInfos, info)
		case num == 7 && typ == protowire.BytesType:
			key, err := unmarshalKey(field)
			if err != nil {
				return err
			}
			e.Keys = append(e.Keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode key export: %w", err)
	}
	return e, nil
}

// UnmarshalSignatureList decodes a TEKSignatureList message.
func UnmarshalSignatureList(data []byte) (*TEKSignatureList, error) {
	l := &TEKSignatureList{}
	err := scanFields(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		if num == 1 && typ == protowire.BytesType {
			sig, err := unmarshalTEKSignature(field)
			if err != nil {
				return err
			}
			l.Signatures = append(l.Signatures, sig)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature list: %w", err)
	}
	return l, nil
}

func unmarshalSignatureInfo(data []byte) (*SignatureInfo, error) {
	s := &SignatureInfo{}
	err := scanFields(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			s.AppBundleID = string(field)
		case 2:
			s.AndroidPackage = string(field)
		case 3:
			s.VerificationKeyVersion = string(field)
		case 4:
			s.VerificationKeyID = string(field)
		case 5:
			s.SignatureAlgorithm = string(field)
		}
		return nil
	})
	return s, err
}

func unmarshalKey(data []byte) (*TemporaryExposureKey, error) {
	k := &TemporaryExposureKey{RollingPeriod: DefaultRollingPeriod}
	err := scanFields(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			k.KeyData = append([]byte(nil), field...)
		case num == 2 && typ == protowire.VarintType:
			k.TransmissionRiskLevel = int32(varint(field))
		case num == 3 && typ == protowire.VarintType:
			k.RollingStartIntervalNumber = int32(varint(field))
		case num == 4 && typ == protowire.VarintType:
			k.RollingPeriod = int32(varint(field))
		}
		return nil
	})
	return k, err
}

func unmarshalTEKSignature(data []byte) (*TEKSignature, error) {
	s := &TEKSignature{}
	err := scanFields(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			info, err := unmarshalSignatureInfo(field)
			if err != nil {
				return err
			}
			s.SignatureInfo = info
		case num == 2 && typ == protowire.VarintType:
			s.BatchNum = int32(varint(field))
		case num == 3 && typ == protowire.VarintType:
			s.BatchSize = int32(varint(field))
		case num == 4 && typ == protowire.BytesType:
			s.Signature = append([]byte(nil), field...)
		}
		return nil
	})
	return s, err
}

// scanFields walks every field of a message, handing the field payload
// to fn: the raw encoded value for scalar types, the length-delimited
// content for bytes. Unknown fields are skipped, matching proto semantics.
func scanFields(data []byte, fn func(num protowire.Number, typ protowire.Type, field []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var field []byte
		switch typ {
		case protowire.VarintType:
			_, n = protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			field = data[:n]
		case protowire.Fixed64Type:
			_, n = protowire.ConsumeFixed64(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			field = data[:n]
		case protowire.Fixed32Type:
			_, n = protowire.ConsumeFixed32(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			field = data[:n]
		case protowire.BytesType:
			field, n = protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
		default:
			return fmt.Errorf("unsupported wire type %d for field %d", typ, num)
		}
		if err := fn(num, typ, field); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func varint(field []byte) uint64 {
	v, _ := protowire.ConsumeVarint(field)
	return v
}

func fixed64(field []byte) uint64 {
	v, _ := protowire.ConsumeFixed64(field)
	return v
}
