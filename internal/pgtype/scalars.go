package pgtype

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/jackc/pgio"
)

// BoolCodec transcodes the bool type: one byte binary, 't'/'f' text.
type BoolCodec struct{}

func (BoolCodec) PreferredFormat() int16 { return BinaryFormatCode }

func (BoolCodec) Decode(src []byte, format int16) (interface{}, error) {
	if format == BinaryFormatCode {
		if len(src) != 1 {
			return nil, fmt.Errorf("bool binary length must be 1, got %d", len(src))
		}
		return src[0] == 1, nil
	}

	switch string(src) {
	case "t", "true":
		return true, nil
	case "f", "false":
		return false, nil
	}
	return nil, fmt.Errorf("invalid bool text %q", src)
}

func (BoolCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, errors.New("value is not a bool")
	}

	if format == BinaryFormatCode {
		if b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	}
	if b {
		return append(buf, 't'), nil
	}
	return append(buf, 'f'), nil
}

// IntCodec transcodes int2, int4 and int8, distinguished by Size in bytes.
// Binary decode returns int16, int32 or int64 respectively.
type IntCodec struct {
	Size int
}

func (IntCodec) PreferredFormat() int16 { return BinaryFormatCode }

func (c IntCodec) Decode(src []byte, format int16) (interface{}, error) {
	if format == TextFormatCode {
		n, err := strconv.ParseInt(string(src), 10, c.Size*8)
		if err != nil {
			return nil, err
		}
		switch c.Size {
		case 2:
			return int16(n), nil
		case 4:
			return int32(n), nil
		default:
			return n, nil
		}
	}

	if len(src) != c.Size {
		return nil, fmt.Errorf("int%d binary length must be %d, got %d", c.Size*8, c.Size, len(src))
	}
	switch c.Size {
	case 2:
		return int16(binary.BigEndian.Uint16(src)), nil
	case 4:
		return int32(binary.BigEndian.Uint32(src)), nil
	default:
		return int64(binary.BigEndian.Uint64(src)), nil
	}
}

func (c IntCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}

	bits := c.Size * 8
	if bits < 64 {
		min := int64(-1) << (bits - 1)
		max := int64(1)<<(bits-1) - 1
		if n < min || n > max {
			return nil, fmt.Errorf("%d out of range for int%d", n, bits)
		}
	}

	if format == TextFormatCode {
		return strconv.AppendInt(buf, n, 10), nil
	}

	switch c.Size {
	case 2:
		return pgio.AppendInt16(buf, int16(n)), nil
	case 4:
		return pgio.AppendInt32(buf, int32(n)), nil
	default:
		return pgio.AppendInt64(buf, n), nil
	}
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", v)
		}
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("value %T is not an integer", value)
	}
}

// Float4Codec transcodes float4.
type Float4Codec struct{}

func (Float4Codec) PreferredFormat() int16 { return BinaryFormatCode }

func (Float4Codec) Decode(src []byte, format int16) (interface{}, error) {
	if format == TextFormatCode {
		f, err := strconv.ParseFloat(string(src), 32)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	}

	if len(src) != 4 {
		return nil, fmt.Errorf("float4 binary length must be 4, got %d", len(src))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(src)), nil
}

func (Float4Codec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	f, err := toFloat64(value)
	if err != nil {
		return nil, err
	}

	if format == TextFormatCode {
		return strconv.AppendFloat(buf, f, 'f', -1, 32), nil
	}
	return pgio.AppendUint32(buf, math.Float32bits(float32(f))), nil
}

// Float8Codec transcodes float8.
type Float8Codec struct{}

func (Float8Codec) PreferredFormat() int16 { return BinaryFormatCode }

func (Float8Codec) Decode(src []byte, format int16) (interface{}, error) {
	if format == TextFormatCode {
		return strconv.ParseFloat(string(src), 64)
	}

	if len(src) != 8 {
		return nil, fmt.Errorf("float8 binary length must be 8, got %d", len(src))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(src)), nil
}

func (Float8Codec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	f, err := toFloat64(value)
	if err != nil {
		return nil, err
	}

	if format == TextFormatCode {
		return strconv.AppendFloat(buf, f, 'f', -1, 64), nil
	}
	return pgio.AppendUint64(buf, math.Float64bits(f)), nil
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		n, err := toInt64(value)
		if err != nil {
			return 0, fmt.Errorf("value %T is not a float", value)
		}
		return float64(n), nil
	}
}

// OIDCodec transcodes the oid type as uint32.
type OIDCodec struct{}

func (OIDCodec) PreferredFormat() int16 { return BinaryFormatCode }

func (OIDCodec) Decode(src []byte, format int16) (interface{}, error) {
	if format == TextFormatCode {
		n, err := strconv.ParseUint(string(src), 10, 32)
		if err != nil {
			return nil, err
		}
		return uint32(n), nil
	}

	if len(src) != 4 {
		return nil, fmt.Errorf("oid binary length must be 4, got %d", len(src))
	}
	return binary.BigEndian.Uint32(src), nil
}

func (OIDCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	n, err := toInt64(value)
	if err != nil || n < 0 || n > math.MaxUint32 {
		return nil, fmt.Errorf("value %v is not an oid", value)
	}

	if format == TextFormatCode {
		return strconv.AppendUint(buf, uint64(n), 10), nil
	}
	return pgio.AppendUint32(buf, uint32(n)), nil
}

// TextCodec transcodes the character types. Text and binary formats are the
// same bytes.
type TextCodec struct{}

func (TextCodec) PreferredFormat() int16 { return TextFormatCode }

func (TextCodec) Decode(src []byte, format int16) (interface{}, error) {
	return string(src), nil
}

func (TextCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return append(buf, v...), nil
	case []byte:
		return append(buf, v...), nil
	case fmt.Stringer:
		return append(buf, v.String()...), nil
	default:
		return nil, errors.New("value is not textual")
	}
}

// ByteaCodec transcodes bytea. The text format is the hex form introduced in
// PostgreSQL 9.0.
type ByteaCodec struct{}

func (ByteaCodec) PreferredFormat() int16 { return BinaryFormatCode }

func (ByteaCodec) Decode(src []byte, format int16) (interface{}, error) {
	if format == BinaryFormatCode {
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	}

	if len(src) < 2 || src[0] != '\\' || src[1] != 'x' {
		return nil, errors.New("bytea text format must begin with \\x")
	}
	out := make([]byte, hex.DecodedLen(len(src)-2))
	_, err := hex.Decode(out, src[2:])
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (ByteaCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil, errors.New("value is not a byte slice")
	}

	if format == BinaryFormatCode {
		return append(buf, b...), nil
	}

	buf = append(buf, '\\', 'x')
	dst := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(dst, b)
	return append(buf, dst...), nil
}
