/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgproto

import (
	"strconv"

	"github.com/jackc/pgio"
)

// FieldDescription describes one column of a result: wire name, origin,
// type OID and the format the values will arrive in.
type FieldDescription struct {
	Name                 []byte
	TableOID             uint32
	TableAttributeNumber uint16
	DataTypeOID          uint32
	DataTypeSize         int16
	TypeModifier         int32
	Format               int16
}

// RowDescription announces the shape of the rows that follow.
type RowDescription struct {
	Fields []FieldDescription
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*RowDescription) Backend() {}

func (dst *RowDescription) Decode(src []byte) error {
	buf := readBuf(src)

	fieldCount, err := buf.int16()
	if err != nil || fieldCount < 0 {
		return &invalidMessageFormatErr{messageType: "RowDescription"}
	}

	if cap(dst.Fields) >= int(fieldCount) {
		dst.Fields = dst.Fields[:fieldCount]
	} else {
		dst.Fields = make([]FieldDescription, fieldCount)
	}

	for i := 0; i < int(fieldCount); i++ {
		var fd FieldDescription

		name, err := buf.cstring()
		if err != nil {
			return &invalidMessageFormatErr{messageType: "RowDescription"}
		}
		fd.Name = []byte(name)

		if fd.TableOID, err = buf.uint32(); err != nil {
			return &invalidMessageFormatErr{messageType: "RowDescription"}
		}
		attnum, err := buf.int16()
		if err != nil {
			return &invalidMessageFormatErr{messageType: "RowDescription"}
		}
		fd.TableAttributeNumber = uint16(attnum)
		if fd.DataTypeOID, err = buf.uint32(); err != nil {
			return &invalidMessageFormatErr{messageType: "RowDescription"}
		}
		if fd.DataTypeSize, err = buf.int16(); err != nil {
			return &invalidMessageFormatErr{messageType: "RowDescription"}
		}
		if fd.TypeModifier, err = buf.int32(); err != nil {
			return &invalidMessageFormatErr{messageType: "RowDescription"}
		}
		if fd.Format, err = buf.int16(); err != nil {
			return &invalidMessageFormatErr{messageType: "RowDescription"}
		}

		dst.Fields[i] = fd
	}

	return nil
}

func (src *RowDescription) Encode(dst []byte) []byte {
	dst = append(dst, 'T')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = pgio.AppendInt16(dst, int16(len(src.Fields)))
	for _, fd := range src.Fields {
		dst = append(dst, fd.Name...)
		dst = append(dst, 0)

		dst = pgio.AppendUint32(dst, fd.TableOID)
		dst = pgio.AppendUint16(dst, fd.TableAttributeNumber)
		dst = pgio.AppendUint32(dst, fd.DataTypeOID)
		dst = pgio.AppendInt16(dst, fd.DataTypeSize)
		dst = pgio.AppendInt32(dst, fd.TypeModifier)
		dst = pgio.AppendInt16(dst, fd.Format)
	}

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}

// DataRow carries one row. A nil value is SQL NULL; values reference the
// receive buffer and are only valid until the next Receive.
type DataRow struct {
	Values [][]byte
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*DataRow) Backend() {}

func (dst *DataRow) Decode(src []byte) error {
	buf := readBuf(src)

	fieldCount, err := buf.int16()
	if err != nil || fieldCount < 0 {
		return &invalidMessageFormatErr{messageType: "DataRow"}
	}

	if cap(dst.Values) >= int(fieldCount) {
		dst.Values = dst.Values[:fieldCount]
	} else {
		dst.Values = make([][]byte, fieldCount)
	}

	for i := 0; i < int(fieldCount); i++ {
		valueLen, err := buf.int32()
		if err != nil {
			return &invalidMessageFormatErr{messageType: "DataRow"}
		}

		if valueLen == -1 {
			dst.Values[i] = nil
			continue
		}
		if valueLen < 0 {
			return &invalidMessageFormatErr{messageType: "DataRow"}
		}

		if dst.Values[i], err = buf.bytes(int(valueLen)); err != nil {
			return &invalidMessageFormatErr{messageType: "DataRow"}
		}
	}

	return nil
}

func (src *DataRow) Encode(dst []byte) []byte {
	dst = append(dst, 'D')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = pgio.AppendInt16(dst, int16(len(src.Values)))
	for _, v := range src.Values {
		if v == nil {
			dst = pgio.AppendInt32(dst, -1)
			continue
		}

		dst = pgio.AppendInt32(dst, int32(len(v)))
		dst = append(dst, v...)
	}

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}

// CommandComplete closes one command with its tag, e.g. "SELECT 2".
type CommandComplete struct {
	CommandTag []byte
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*CommandComplete) Backend() {}

func (dst *CommandComplete) Decode(src []byte) error {
	idx := len(src) - 1
	if idx < 0 || src[idx] != 0 {
		return &invalidMessageFormatErr{messageType: "CommandComplete"}
	}
	dst.CommandTag = src[:idx]
	return nil
}

func (src *CommandComplete) Encode(dst []byte) []byte {
	dst = append(dst, 'C')
	dst = pgio.AppendInt32(dst, int32(4+len(src.CommandTag)+1))
	dst = append(dst, src.CommandTag...)
	dst = append(dst, 0)
	return dst
}

// ReadyForQuery carries the transaction status byte: 'I' idle, 'T' in
// transaction, 'E' in failed transaction.
type ReadyForQuery struct {
	TxStatus byte
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*ReadyForQuery) Backend() {}

func (dst *ReadyForQuery) Decode(src []byte) error {
	if len(src) != 1 {
		return &invalidMessageLenErr{messageType: "ReadyForQuery", expectedLen: 1, actualLen: len(src)}
	}
	dst.TxStatus = src[0]
	return nil
}

func (src *ReadyForQuery) Encode(dst []byte) []byte {
	dst = append(dst, 'Z')
	dst = pgio.AppendInt32(dst, 5)
	dst = append(dst, src.TxStatus)
	return dst
}

// BackendKeyData is the session's cancellation key material.
type BackendKeyData struct {
	ProcessID uint32
	SecretKey uint32
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*BackendKeyData) Backend() {}

func (dst *BackendKeyData) Decode(src []byte) error {
	if len(src) != 8 {
		return &invalidMessageLenErr{messageType: "BackendKeyData", expectedLen: 8, actualLen: len(src)}
	}
	buf := readBuf(src)
	dst.ProcessID, _ = buf.uint32()
	dst.SecretKey, _ = buf.uint32()
	return nil
}

func (src *BackendKeyData) Encode(dst []byte) []byte {
	dst = append(dst, 'K')
	dst = pgio.AppendInt32(dst, 12)
	dst = pgio.AppendUint32(dst, src.ProcessID)
	dst = pgio.AppendUint32(dst, src.SecretKey)
	return dst
}

// ParameterStatus reports a server run-time parameter value.
type ParameterStatus struct {
	Name  string
	Value string
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*ParameterStatus) Backend() {}

func (dst *ParameterStatus) Decode(src []byte) error {
	buf := readBuf(src)

	var err error
	if dst.Name, err = buf.cstring(); err != nil {
		return &invalidMessageFormatErr{messageType: "ParameterStatus"}
	}
	if dst.Value, err = buf.cstring(); err != nil {
		return &invalidMessageFormatErr{messageType: "ParameterStatus"}
	}
	return nil
}

func (src *ParameterStatus) Encode(dst []byte) []byte {
	dst = append(dst, 'S')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	dst = append(dst, src.Value...)
	dst = append(dst, 0)
	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))
	return dst
}

// ParameterDescription lists the parameter type OIDs of a described
// statement.
type ParameterDescription struct {
	ParameterOIDs []uint32
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*ParameterDescription) Backend() {}

func (dst *ParameterDescription) Decode(src []byte) error {
	buf := readBuf(src)

	n, err := buf.int16()
	if err != nil || n < 0 {
		return &invalidMessageFormatErr{messageType: "ParameterDescription"}
	}

	dst.ParameterOIDs = make([]uint32, n)
	for i := range dst.ParameterOIDs {
		if dst.ParameterOIDs[i], err = buf.uint32(); err != nil {
			return &invalidMessageFormatErr{messageType: "ParameterDescription"}
		}
	}

	return nil
}

func (src *ParameterDescription) Encode(dst []byte) []byte {
	dst = append(dst, 't')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)
	dst = pgio.AppendInt16(dst, int16(len(src.ParameterOIDs)))
	for _, oid := range src.ParameterOIDs {
		dst = pgio.AppendUint32(dst, oid)
	}
	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))
	return dst
}

// NotificationResponse delivers a LISTEN/NOTIFY notification.
type NotificationResponse struct {
	PID     uint32
	Channel string
	Payload string
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*NotificationResponse) Backend() {}

func (dst *NotificationResponse) Decode(src []byte) error {
	buf := readBuf(src)

	var err error
	if dst.PID, err = buf.uint32(); err != nil {
		return &invalidMessageFormatErr{messageType: "NotificationResponse"}
	}
	if dst.Channel, err = buf.cstring(); err != nil {
		return &invalidMessageFormatErr{messageType: "NotificationResponse"}
	}
	if dst.Payload, err = buf.cstring(); err != nil {
		return &invalidMessageFormatErr{messageType: "NotificationResponse"}
	}
	return nil
}

func (src *NotificationResponse) Encode(dst []byte) []byte {
	dst = append(dst, 'A')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)
	dst = pgio.AppendUint32(dst, src.PID)
	dst = append(dst, src.Channel...)
	dst = append(dst, 0)
	dst = append(dst, src.Payload...)
	dst = append(dst, 0)
	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))
	return dst
}

// ParseComplete acknowledges a Parse.
type ParseComplete struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*ParseComplete) Backend() {}

func (dst *ParseComplete) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "ParseComplete", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *ParseComplete) Encode(dst []byte) []byte {
	dst = append(dst, '1')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// BindComplete acknowledges a Bind.
type BindComplete struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*BindComplete) Backend() {}

func (dst *BindComplete) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "BindComplete", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *BindComplete) Encode(dst []byte) []byte {
	dst = append(dst, '2')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// CloseComplete acknowledges a Close.
type CloseComplete struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*CloseComplete) Backend() {}

func (dst *CloseComplete) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "CloseComplete", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *CloseComplete) Encode(dst []byte) []byte {
	dst = append(dst, '3')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// NoData replaces RowDescription for statements that return no rows.
type NoData struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*NoData) Backend() {}

func (dst *NoData) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "NoData", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *NoData) Encode(dst []byte) []byte {
	dst = append(dst, 'n')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// EmptyQueryResponse replaces CommandComplete for an empty query string.
type EmptyQueryResponse struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*EmptyQueryResponse) Backend() {}

func (dst *EmptyQueryResponse) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "EmptyQueryResponse", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *EmptyQueryResponse) Encode(dst []byte) []byte {
	dst = append(dst, 'I')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// PortalSuspended reports that Execute hit its row limit before the portal
// was exhausted.
type PortalSuspended struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*PortalSuspended) Backend() {}

func (dst *PortalSuspended) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "PortalSuspended", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *PortalSuspended) Encode(dst []byte) []byte {
	dst = append(dst, 's')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// ErrorResponse is the server-reported error, a sequence of single-byte
// field codes each followed by a C string.
type ErrorResponse struct {
	Severity         string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string

	UnknownFields map[byte]string
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*ErrorResponse) Backend() {}

func (dst *ErrorResponse) Decode(src []byte) error {
	*dst = ErrorResponse{}
	return dst.decodeFields(src)
}

func (dst *ErrorResponse) decodeFields(src []byte) error {
	buf := readBuf(src)

	for {
		k, err := buf.byte()
		if err != nil {
			return &invalidMessageFormatErr{messageType: "ErrorResponse"}
		}
		if k == 0 {
			return nil
		}

		v, err := buf.cstring()
		if err != nil {
			return &invalidMessageFormatErr{messageType: "ErrorResponse"}
		}

		switch k {
		case 'S':
			dst.Severity = v
		case 'C':
			dst.Code = v
		case 'M':
			dst.Message = v
		case 'D':
			dst.Detail = v
		case 'H':
			dst.Hint = v
		case 'P':
			n, _ := strconv.ParseInt(v, 10, 32)
			dst.Position = int32(n)
		case 'p':
			n, _ := strconv.ParseInt(v, 10, 32)
			dst.InternalPosition = int32(n)
		case 'q':
			dst.InternalQuery = v
		case 'W':
			dst.Where = v
		case 's':
			dst.SchemaName = v
		case 't':
			dst.TableName = v
		case 'c':
			dst.ColumnName = v
		case 'd':
			dst.DataTypeName = v
		case 'n':
			dst.ConstraintName = v
		case 'F':
			dst.File = v
		case 'L':
			n, _ := strconv.ParseInt(v, 10, 32)
			dst.Line = int32(n)
		case 'R':
			dst.Routine = v
		default:
			if dst.UnknownFields == nil {
				dst.UnknownFields = make(map[byte]string)
			}
			dst.UnknownFields[k] = v
		}
	}
}

func (src *ErrorResponse) Encode(dst []byte) []byte {
	return src.encodeTagged(dst, 'E')
}

func (src *ErrorResponse) encodeTagged(dst []byte, tag byte) []byte {
	dst = append(dst, tag)
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	appendField := func(k byte, v string) {
		if v == "" {
			return
		}
		dst = append(dst, k)
		dst = append(dst, v...)
		dst = append(dst, 0)
	}

	appendField('S', src.Severity)
	appendField('C', src.Code)
	appendField('M', src.Message)
	appendField('D', src.Detail)
	appendField('H', src.Hint)
	if src.Position != 0 {
		appendField('P', strconv.Itoa(int(src.Position)))
	}
	if src.InternalPosition != 0 {
		appendField('p', strconv.Itoa(int(src.InternalPosition)))
	}
	appendField('q', src.InternalQuery)
	appendField('W', src.Where)
	appendField('s', src.SchemaName)
	appendField('t', src.TableName)
	appendField('c', src.ColumnName)
	appendField('d', src.DataTypeName)
	appendField('n', src.ConstraintName)
	appendField('F', src.File)
	if src.Line != 0 {
		appendField('L', strconv.Itoa(int(src.Line)))
	}
	appendField('R', src.Routine)
	for k, v := range src.UnknownFields {
		appendField(k, v)
	}

	dst = append(dst, 0)

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}

// NoticeResponse has the same layout as ErrorResponse but is informational.
type NoticeResponse ErrorResponse

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*NoticeResponse) Backend() {}

func (dst *NoticeResponse) Decode(src []byte) error {
	*dst = NoticeResponse{}
	return (*ErrorResponse)(dst).decodeFields(src)
}

func (src *NoticeResponse) Encode(dst []byte) []byte {
	return (*ErrorResponse)(src).encodeTagged(dst, 'N')
}
