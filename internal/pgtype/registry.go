/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

// Package pgtype converts between PostgreSQL on-wire value representations
// and Go values. Codecs are selected by type OID and wire format code.
//
// Types without a registered codec stay usable: their values pass through as
// strings in the text format rather than failing hard.
package pgtype

import (
	"fmt"
	"strconv"

	"github.com/lib/pq/oid"
)

// PostgreSQL format codes.
const (
	TextFormatCode   int16 = 0
	BinaryFormatCode int16 = 1
)

// DecodeError reports on-wire bytes that could not be interpreted for their
// declared type. It carries the OID and the raw bytes so the caller can
// inspect or re-decode them; it is never coerced into a zero value.
type DecodeError struct {
	OID    uint32
	Format int16
	Src    []byte
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %d bytes for oid %d (format %d): %s", len(e.Src), e.OID, e.Format, e.Reason)
}

// EncodeError reports a Go value that has no wire representation for its
// target type.
type EncodeError struct {
	OID    uint32
	Format int16
	Value  interface{}
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cannot encode %T into oid %d (format %d): %s", e.Value, e.OID, e.Format, e.Reason)
}

// Codec transforms values of one PostgreSQL type.
type Codec interface {
	// PreferredFormat is the format requested for both parameters and
	// results of this type.
	PreferredFormat() int16
	Decode(src []byte, format int16) (interface{}, error)
	Encode(buf []byte, value interface{}, format int16) ([]byte, error)
}

// Registry maps type OIDs to codecs. Construct with NewRegistry; the zero
// value has no codecs and treats every type as text.
type Registry struct {
	codecs map[uint32]Codec
}

// NewRegistry returns a Registry with the built-in codec set.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[uint32]Codec, 32)}

	r.Register(uint32(oid.T_bool), BoolCodec{})
	r.Register(uint32(oid.T_int2), IntCodec{Size: 2})
	r.Register(uint32(oid.T_int4), IntCodec{Size: 4})
	r.Register(uint32(oid.T_int8), IntCodec{Size: 8})
	r.Register(uint32(oid.T_float4), Float4Codec{})
	r.Register(uint32(oid.T_float8), Float8Codec{})
	r.Register(uint32(oid.T_oid), OIDCodec{})
	r.Register(uint32(oid.T_bytea), ByteaCodec{})

	text := TextCodec{}
	r.Register(uint32(oid.T_text), text)
	r.Register(uint32(oid.T_varchar), text)
	r.Register(uint32(oid.T_bpchar), text)
	r.Register(uint32(oid.T_name), text)
	r.Register(uint32(oid.T_unknown), text)

	r.Register(uint32(oid.T_timestamp), TimestampCodec{})
	r.Register(uint32(oid.T_timestamptz), TimestampCodec{WithTimeZone: true})
	r.Register(uint32(oid.T_date), DateCodec{})

	r.Register(uint32(oid.T_uuid), UUIDCodec{})
	r.Register(uint32(oid.T_numeric), NumericCodec{})
	r.Register(uint32(oid.T_json), JSONCodec{})
	r.Register(uint32(oid.T_jsonb), JSONCodec{Binary: true})

	r.Register(uint32(oid.T__int4), ArrayCodec{ElementOID: uint32(oid.T_int4), Element: IntCodec{Size: 4}})
	r.Register(uint32(oid.T__text), ArrayCodec{ElementOID: uint32(oid.T_text), Element: text})

	return r
}

// Register sets the codec for an OID, replacing any previous one.
func (r *Registry) Register(o uint32, c Codec) {
	if r.codecs == nil {
		r.codecs = make(map[uint32]Codec)
	}
	r.codecs[o] = c
}

// CodecForOID returns the registered codec, if any.
func (r *Registry) CodecForOID(o uint32) (Codec, bool) {
	c, ok := r.codecs[o]
	return c, ok
}

// ParamFormatForOID returns the format code to bind a parameter of the given
// type with. Types without a codec fall back to text.
func (r *Registry) ParamFormatForOID(o uint32) int16 {
	if c, ok := r.codecs[o]; ok {
		return c.PreferredFormat()
	}
	return TextFormatCode
}

// ResultFormatForOID returns the format code to request result values of the
// given type in.
func (r *Registry) ResultFormatForOID(o uint32) int16 {
	if c, ok := r.codecs[o]; ok {
		return c.PreferredFormat()
	}
	return TextFormatCode
}

// DecodeField converts one field's raw bytes into a Go value. A nil src is
// SQL NULL and decodes to nil.
func (r *Registry) DecodeField(src []byte, o uint32, format int16) (interface{}, error) {
	if src == nil {
		return nil, nil
	}

	c, ok := r.codecs[o]
	if !ok {
		if format == BinaryFormatCode {
			return nil, &DecodeError{OID: o, Format: format, Src: src, Reason: "no binary codec registered"}
		}
		return string(src), nil
	}

	v, err := c.Decode(src, format)
	if err != nil {
		if de, isDecodeErr := err.(*DecodeError); isDecodeErr {
			de.OID = o
			return nil, de
		}
		return nil, &DecodeError{OID: o, Format: format, Src: src, Reason: err.Error()}
	}
	return v, nil
}

// EncodeParam appends the wire representation of value for the target type
// to buf. A nil value encodes to nil, which the Bind frame sends as NULL.
// An unspecified target type (OID zero) is rendered as text and left for the
// server to coerce.
func (r *Registry) EncodeParam(buf []byte, value interface{}, o uint32, format int16) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	c, ok := r.codecs[o]
	if !ok || o == 0 {
		if format == BinaryFormatCode {
			return nil, &EncodeError{OID: o, Format: format, Value: value, Reason: "no binary codec registered"}
		}
		return appendTextValue(buf, value)
	}

	out, err := c.Encode(buf, value, format)
	if err != nil {
		if ee, isEncodeErr := err.(*EncodeError); isEncodeErr {
			ee.OID = o
			return nil, ee
		}
		return nil, &EncodeError{OID: o, Format: format, Value: value, Reason: err.Error()}
	}
	return out, nil
}

// appendTextValue renders a Go value the way the server's input functions
// expect text, used for parameters of unspecified or unregistered types.
func appendTextValue(buf []byte, value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return append(buf, v...), nil
	case []byte:
		return append(buf, v...), nil
	case bool:
		if v {
			return append(buf, 't'), nil
		}
		return append(buf, 'f'), nil
	case int:
		return strconv.AppendInt(buf, int64(v), 10), nil
	case int8:
		return strconv.AppendInt(buf, int64(v), 10), nil
	case int16:
		return strconv.AppendInt(buf, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(buf, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(buf, v, 10), nil
	case uint:
		return strconv.AppendUint(buf, uint64(v), 10), nil
	case uint16:
		return strconv.AppendUint(buf, uint64(v), 10), nil
	case uint32:
		return strconv.AppendUint(buf, uint64(v), 10), nil
	case uint64:
		return strconv.AppendUint(buf, v, 10), nil
	case float32:
		return strconv.AppendFloat(buf, float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.AppendFloat(buf, v, 'f', -1, 64), nil
	case fmt.Stringer:
		return append(buf, v.String()...), nil
	default:
		return nil, fmt.Errorf("%T has no text representation", value)
	}
}
