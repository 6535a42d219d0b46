package remote

import (
	"bytes"
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

// codecName is the gRPC content-subtype both ends negotiate.
const codecName = "hsmwire"

// message is implemented by every request and response of the Module
// service. Field numbers are stable; unknown fields are skipped.
type message interface {
	marshal() []byte
	unmarshal(b []byte) error
}

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("%s: cannot marshal %T", codecName, v)
	}
	return m.marshal(), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("%s: cannot unmarshal into %T", codecName, v)
	}
	return m.unmarshal(data)
}

func (codec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(codec{})
}

// Sign modes.
const (
	signModeEdDSA uint64 = 1
	signModeECDSA uint64 = 2
)

type createSessionRequest struct {
	AuthKeyID uint64
	Password  string
}

type createSessionResponse struct {
	SessionID string
}

type getPublicKeyRequest struct {
	KeyID uint64
}

type getPublicKeyResponse struct {
	Algorithm uint64
	PublicKey []byte
}

type signRequest struct {
	KeyID   uint64
	Mode    uint64
	Payload []byte
}

type signResponse struct {
	Signature []byte
}

type closeSessionRequest struct{}

type closeSessionResponse struct{}

func (m *createSessionRequest) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, m.AuthKeyID)
	b = appendString(b, 2, m.Password)
	return b
}

func (m *createSessionRequest) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.AuthKeyID = v
			return n
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.Password = v
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *createSessionResponse) marshal() []byte {
	return appendString(nil, 1, m.SessionID)
}

func (m *createSessionResponse) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			m.SessionID = v
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *getPublicKeyRequest) marshal() []byte {
	return appendVarint(nil, 1, m.KeyID)
}

func (m *getPublicKeyRequest) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			m.KeyID = v
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *getPublicKeyResponse) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, m.Algorithm)
	b = appendBytes(b, 2, m.PublicKey)
	return b
}

func (m *getPublicKeyResponse) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Algorithm = v
			return n
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.PublicKey = bytes.Clone(v)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *signRequest) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, m.KeyID)
	b = appendVarint(b, 2, m.Mode)
	b = appendBytes(b, 3, m.Payload)
	return b
}

func (m *signRequest) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.KeyID = v
			return n
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Mode = v
			return n
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.Payload = bytes.Clone(v)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *signResponse) marshal() []byte {
	return appendBytes(nil, 1, m.Signature)
}

func (m *signResponse) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			m.Signature = bytes.Clone(v)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (*closeSessionRequest) marshal() []byte { return nil }

func (*closeSessionRequest) unmarshal(b []byte) error { return skipAll(b) }

func (*closeSessionResponse) marshal() []byte { return nil }

func (*closeSessionResponse) unmarshal(b []byte) error { return skipAll(b) }

// walk calls field for every field in b. field returns the number of bytes
// it consumed from the value, or a negative protowire error code.
func walk(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n = field(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func skipAll(b []byte) error {
	return walk(b, protowire.ConsumeFieldValue)
}

// Zero values are omitted, as in proto3.

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
