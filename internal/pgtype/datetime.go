package pgtype

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgio"
)

// PostgreSQL epoch (2000-01-01) relative to the Unix epoch.
const (
	microsecFromUnixEpochToY2K = 946684800 * 1000000
	secFromUnixEpochToY2K      = 946684800
)

const (
	infinityMicrosecondOffset         = 9223372036854775807
	negativeInfinityMicrosecondOffset = -9223372036854775808
)

// Infinity and NegativeInfinity are the decoded values of the special
// timestamp inputs "infinity" and "-infinity".
const (
	Infinity         = "infinity"
	NegativeInfinity = "-infinity"
)

// TimestampCodec transcodes timestamp and timestamptz. The binary format is
// microseconds since 2000-01-01.
type TimestampCodec struct {
	WithTimeZone bool
}

func (TimestampCodec) PreferredFormat() int16 { return BinaryFormatCode }

func (c TimestampCodec) Decode(src []byte, format int16) (interface{}, error) {
	if format == BinaryFormatCode {
		if len(src) != 8 {
			return nil, fmt.Errorf("timestamp binary length must be 8, got %d", len(src))
		}

		micros := int64(binary.BigEndian.Uint64(src))
		switch micros {
		case infinityMicrosecondOffset:
			return Infinity, nil
		case negativeInfinityMicrosecondOffset:
			return NegativeInfinity, nil
		}

		return time.Unix(
			micros/1000000+secFromUnixEpochToY2K,
			(micros%1000000)*1000,
		).UTC(), nil
	}

	s := string(src)
	switch s {
	case Infinity, NegativeInfinity:
		return s, nil
	}

	layouts := []string{
		"2006-01-02 15:04:05.999999999Z07:00:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07",
		"2006-01-02 15:04:05.999999999",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return nil, fmt.Errorf("cannot parse timestamp %q", s)
}

func (c TimestampCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	switch v := value.(type) {
	case time.Time:
		if format == BinaryFormatCode {
			micros := v.Unix()*1000000 + int64(v.Nanosecond())/1000 - microsecFromUnixEpochToY2K
			return pgio.AppendInt64(buf, micros), nil
		}
		if c.WithTimeZone {
			return v.AppendFormat(buf, "2006-01-02 15:04:05.999999Z07:00"), nil
		}
		return v.UTC().AppendFormat(buf, "2006-01-02 15:04:05.999999"), nil
	case string:
		if v != Infinity && v != NegativeInfinity {
			return nil, fmt.Errorf("string timestamp must be %q or %q", Infinity, NegativeInfinity)
		}
		if format == BinaryFormatCode {
			if v == Infinity {
				return pgio.AppendInt64(buf, infinityMicrosecondOffset), nil
			}
			return pgio.AppendInt64(buf, negativeInfinityMicrosecondOffset), nil
		}
		return append(buf, v...), nil
	default:
		return nil, errors.New("value is not a time.Time")
	}
}

// DateCodec transcodes date. The binary format is days since 2000-01-01.
type DateCodec struct{}

func (DateCodec) PreferredFormat() int16 { return BinaryFormatCode }

func (DateCodec) Decode(src []byte, format int16) (interface{}, error) {
	if format == BinaryFormatCode {
		if len(src) != 4 {
			return nil, fmt.Errorf("date binary length must be 4, got %d", len(src))
		}

		days := int32(binary.BigEndian.Uint32(src))
		switch days {
		case 2147483647:
			return Infinity, nil
		case -2147483648:
			return NegativeInfinity, nil
		}
		return time.Date(2000, 1, int(1+days), 0, 0, 0, 0, time.UTC), nil
	}

	s := string(src)
	switch s {
	case Infinity, NegativeInfinity:
		return s, nil
	}
	return time.Parse("2006-01-02", s)
}

func (DateCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, errors.New("value is not a time.Time")
	}

	if format == TextFormatCode {
		return t.AppendFormat(buf, "2006-01-02"), nil
	}

	daysSinceY2K := (t.Unix() - secFromUnixEpochToY2K) / 86400
	return pgio.AppendInt32(buf, int32(daysSinceY2K)), nil
}
