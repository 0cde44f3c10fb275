package pgtype

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// UUIDCodec transcodes uuid. The binary format is the raw 16 bytes.
type UUIDCodec struct{}

func (UUIDCodec) PreferredFormat() int16 { return BinaryFormatCode }

func (UUIDCodec) Decode(src []byte, format int16) (interface{}, error) {
	if format == BinaryFormatCode {
		u, err := uuid.FromBytes(src)
		if err != nil {
			return nil, err
		}
		return u, nil
	}

	u, err := uuid.FromString(string(src))
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (UUIDCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	var u uuid.UUID
	switch v := value.(type) {
	case uuid.UUID:
		u = v
	case [16]byte:
		u = uuid.UUID(v)
	case []byte:
		var err error
		if u, err = uuid.FromBytes(v); err != nil {
			return nil, err
		}
	case string:
		var err error
		if u, err = uuid.FromString(v); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("value is not a uuid")
	}

	if format == BinaryFormatCode {
		return append(buf, u.Bytes()...), nil
	}
	return append(buf, u.String()...), nil
}

// NumericCodec transcodes numeric through its text representation into
// arbitrary-precision decimals. The text form is exact for every scale, so
// the binary digit-group layout is not needed.
type NumericCodec struct{}

func (NumericCodec) PreferredFormat() int16 { return TextFormatCode }

func (NumericCodec) Decode(src []byte, format int16) (interface{}, error) {
	if format == BinaryFormatCode {
		return nil, errors.New("numeric binary format is not supported, bind it as text")
	}

	s := string(src)
	switch s {
	case "NaN":
		return s, nil
	case Infinity, NegativeInfinity:
		return s, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (NumericCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	if format == BinaryFormatCode {
		return nil, errors.New("numeric binary format is not supported, bind it as text")
	}

	switch v := value.(type) {
	case decimal.Decimal:
		return append(buf, v.String()...), nil
	case *decimal.Decimal:
		return append(buf, v.String()...), nil
	case string:
		if _, err := decimal.NewFromString(v); err != nil && v != "NaN" {
			return nil, err
		}
		return append(buf, v...), nil
	case int, int8, int16, int32, int64, uint, uint16, uint32, uint64:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return append(buf, decimal.NewFromInt(n).String()...), nil
	case float32:
		return append(buf, decimal.NewFromFloat32(v).String()...), nil
	case float64:
		return append(buf, decimal.NewFromFloat(v).String()...), nil
	default:
		return nil, errors.New("value is not a decimal")
	}
}

// JSONCodec transcodes json and jsonb. Binary jsonb carries a one-byte
// version header before the text.
type JSONCodec struct {
	Binary bool // jsonb
}

func (c JSONCodec) PreferredFormat() int16 {
	if c.Binary {
		return BinaryFormatCode
	}
	return TextFormatCode
}

func (c JSONCodec) Decode(src []byte, format int16) (interface{}, error) {
	if c.Binary && format == BinaryFormatCode {
		if len(src) == 0 || src[0] != 1 {
			return nil, errors.New("unknown jsonb binary version")
		}
		src = src[1:]
	}

	var v interface{}
	if err := json.Unmarshal(src, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c JSONCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	if c.Binary && format == BinaryFormatCode {
		buf = append(buf, 1)
	}

	switch v := value.(type) {
	case string:
		return append(buf, v...), nil
	case []byte:
		return append(buf, v...), nil
	case json.RawMessage:
		return append(buf, v...), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal %T to json: %w", value, err)
		}
		return append(buf, b...), nil
	}
}
