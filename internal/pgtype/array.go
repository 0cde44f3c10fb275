package pgtype

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgio"
)

// ArrayCodec transcodes one-dimensional arrays of a single element type.
// Binary decode accepts multi-dimensional input but flattens it; parameters
// are always encoded as one-dimensional.
type ArrayCodec struct {
	ElementOID uint32
	Element    Codec
}

func (ArrayCodec) PreferredFormat() int16 { return BinaryFormatCode }

func (c ArrayCodec) Decode(src []byte, format int16) (interface{}, error) {
	if format == BinaryFormatCode {
		return c.decodeBinary(src)
	}
	return c.decodeText(string(src))
}

func (c ArrayCodec) decodeBinary(src []byte) (interface{}, error) {
	if len(src) < 12 {
		return nil, errors.New("array binary header too short")
	}

	rp := 0
	numDims := int(int32(binary.BigEndian.Uint32(src[rp:])))
	rp += 4
	rp += 4 // contains-nulls flag, redundant with per-element lengths
	elemOID := binary.BigEndian.Uint32(src[rp:])
	rp += 4

	if elemOID != c.ElementOID {
		return nil, fmt.Errorf("array element oid %d does not match codec oid %d", elemOID, c.ElementOID)
	}
	if numDims < 0 || numDims > 16 {
		return nil, fmt.Errorf("invalid array dimension count %d", numDims)
	}

	elemCount := 1
	if numDims == 0 {
		elemCount = 0
	}
	for i := 0; i < numDims; i++ {
		if len(src[rp:]) < 8 {
			return nil, errors.New("array binary dimensions truncated")
		}
		dimLen := int(int32(binary.BigEndian.Uint32(src[rp:])))
		if dimLen < 0 {
			return nil, fmt.Errorf("invalid array dimension length %d", dimLen)
		}
		rp += 8 // dimension length + lower bound
		elemCount *= dimLen
	}

	// Each element carries at least its 4-byte length. A count beyond that
	// bound cannot be satisfied by the frame.
	if elemCount > (len(src)-rp)/4 {
		return nil, errors.New("array binary elements truncated")
	}

	out := make([]interface{}, 0, elemCount)
	for i := 0; i < elemCount; i++ {
		if len(src[rp:]) < 4 {
			return nil, errors.New("array binary elements truncated")
		}
		elemLen := int(int32(binary.BigEndian.Uint32(src[rp:])))
		rp += 4

		if elemLen == -1 {
			out = append(out, nil)
			continue
		}
		if elemLen < 0 || len(src[rp:]) < elemLen {
			return nil, errors.New("array binary elements truncated")
		}

		v, err := c.Element.Decode(src[rp:rp+elemLen], BinaryFormatCode)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		rp += elemLen
	}

	return out, nil
}

func (c ArrayCodec) decodeText(src string) (interface{}, error) {
	if len(src) < 2 || src[0] != '{' || src[len(src)-1] != '}' {
		return nil, fmt.Errorf("invalid array text %q", src)
	}

	body := src[1 : len(src)-1]
	out := []interface{}{}
	if body == "" {
		return out, nil
	}

	var sb strings.Builder
	inQuotes := false
	quoted := false

	flush := func() error {
		s := sb.String()
		sb.Reset()
		defer func() { quoted = false }()
		if !quoted && s == "NULL" {
			out = append(out, nil)
			return nil
		}
		v, err := c.Element.Decode([]byte(s), TextFormatCode)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	}

	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case ch == '\\' && i+1 < len(body):
			i++
			sb.WriteByte(body[i])
		case ch == '"':
			inQuotes = !inQuotes
			quoted = true
		case ch == ',' && !inQuotes:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			sb.WriteByte(ch)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return out, nil
}

func (c ArrayCodec) Encode(buf []byte, value interface{}, format int16) ([]byte, error) {
	elems, err := toElementSlice(value)
	if err != nil {
		return nil, err
	}

	if format == BinaryFormatCode {
		return c.encodeBinary(buf, elems)
	}
	return c.encodeText(buf, elems)
}

func (c ArrayCodec) encodeBinary(buf []byte, elems []interface{}) ([]byte, error) {
	hasNulls := int32(0)
	for _, e := range elems {
		if e == nil {
			hasNulls = 1
		}
	}

	buf = pgio.AppendInt32(buf, 1) // one dimension
	buf = pgio.AppendInt32(buf, hasNulls)
	buf = pgio.AppendUint32(buf, c.ElementOID)
	buf = pgio.AppendInt32(buf, int32(len(elems)))
	buf = pgio.AppendInt32(buf, 1) // lower bound

	for _, e := range elems {
		if e == nil {
			buf = pgio.AppendInt32(buf, -1)
			continue
		}

		sp := len(buf)
		buf = pgio.AppendInt32(buf, -1)
		var err error
		buf, err = c.Element.Encode(buf, e, BinaryFormatCode)
		if err != nil {
			return nil, err
		}
		pgio.SetInt32(buf[sp:], int32(len(buf[sp+4:])))
	}

	return buf, nil
}

func (c ArrayCodec) encodeText(buf []byte, elems []interface{}) ([]byte, error) {
	buf = append(buf, '{')
	for i, e := range elems {
		if i > 0 {
			buf = append(buf, ',')
		}
		if e == nil {
			buf = append(buf, "NULL"...)
			continue
		}

		elemBuf, err := c.Element.Encode(nil, e, TextFormatCode)
		if err != nil {
			return nil, err
		}
		buf = appendQuotedArrayElement(buf, string(elemBuf))
	}
	return append(buf, '}'), nil
}

func appendQuotedArrayElement(buf []byte, s string) []byte {
	if s != "NULL" && s != "" && !strings.ContainsAny(s, `{},"\ `) {
		return append(buf, s...)
	}

	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			buf = append(buf, '\\')
		}
		buf = append(buf, s[i])
	}
	return append(buf, '"')
}

func toElementSlice(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		return v, nil
	case []int:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	case []int32:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	case []int64:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	case []string:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value %T is not an array", value)
	}
}
