/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgproto

import (
	"github.com/jackc/pgio"
)

// Parse creates a prepared statement from SQL text. Zero parameter OIDs
// leave the types for the server to infer.
type Parse struct {
	Name          string
	Query         string
	ParameterOIDs []uint32
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Parse) Frontend() {}

func (dst *Parse) Decode(src []byte) error {
	buf := readBuf(src)

	var err error
	if dst.Name, err = buf.cstring(); err != nil {
		return &invalidMessageFormatErr{messageType: "Parse"}
	}
	if dst.Query, err = buf.cstring(); err != nil {
		return &invalidMessageFormatErr{messageType: "Parse"}
	}

	n, err := buf.int16()
	if err != nil {
		return &invalidMessageFormatErr{messageType: "Parse"}
	}
	dst.ParameterOIDs = make([]uint32, n)
	for i := range dst.ParameterOIDs {
		if dst.ParameterOIDs[i], err = buf.uint32(); err != nil {
			return &invalidMessageFormatErr{messageType: "Parse"}
		}
	}

	return nil
}

func (src *Parse) Encode(dst []byte) []byte {
	dst = append(dst, 'P')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	dst = append(dst, src.Query...)
	dst = append(dst, 0)

	dst = pgio.AppendInt16(dst, int16(len(src.ParameterOIDs)))
	for _, oid := range src.ParameterOIDs {
		dst = pgio.AppendUint32(dst, oid)
	}

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}

// Bind binds concrete parameter values to a prepared statement, producing a
// portal. Parameter and result format codes follow the protocol shorthand:
// zero codes mean all-text, one code applies to every column.
type Bind struct {
	DestinationPortal    string
	PreparedStatement    string
	ParameterFormatCodes []int16
	Parameters           [][]byte
	ResultFormatCodes    []int16
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Bind) Frontend() {}

func (dst *Bind) Decode(src []byte) error {
	buf := readBuf(src)

	var err error
	if dst.DestinationPortal, err = buf.cstring(); err != nil {
		return &invalidMessageFormatErr{messageType: "Bind"}
	}
	if dst.PreparedStatement, err = buf.cstring(); err != nil {
		return &invalidMessageFormatErr{messageType: "Bind"}
	}

	n, err := buf.int16()
	if err != nil {
		return &invalidMessageFormatErr{messageType: "Bind"}
	}
	dst.ParameterFormatCodes = make([]int16, n)
	for i := range dst.ParameterFormatCodes {
		if dst.ParameterFormatCodes[i], err = buf.int16(); err != nil {
			return &invalidMessageFormatErr{messageType: "Bind"}
		}
	}

	n, err = buf.int16()
	if err != nil {
		return &invalidMessageFormatErr{messageType: "Bind"}
	}
	dst.Parameters = make([][]byte, n)
	for i := range dst.Parameters {
		valueLen, err := buf.int32()
		if err != nil {
			return &invalidMessageFormatErr{messageType: "Bind"}
		}
		if valueLen == -1 {
			continue
		}
		if dst.Parameters[i], err = buf.bytes(int(valueLen)); err != nil {
			return &invalidMessageFormatErr{messageType: "Bind"}
		}
	}

	n, err = buf.int16()
	if err != nil {
		return &invalidMessageFormatErr{messageType: "Bind"}
	}
	dst.ResultFormatCodes = make([]int16, n)
	for i := range dst.ResultFormatCodes {
		if dst.ResultFormatCodes[i], err = buf.int16(); err != nil {
			return &invalidMessageFormatErr{messageType: "Bind"}
		}
	}

	return nil
}

func (src *Bind) Encode(dst []byte) []byte {
	dst = append(dst, 'B')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = append(dst, src.DestinationPortal...)
	dst = append(dst, 0)
	dst = append(dst, src.PreparedStatement...)
	dst = append(dst, 0)

	dst = pgio.AppendInt16(dst, int16(len(src.ParameterFormatCodes)))
	for _, fc := range src.ParameterFormatCodes {
		dst = pgio.AppendInt16(dst, fc)
	}

	dst = pgio.AppendInt16(dst, int16(len(src.Parameters)))
	for _, p := range src.Parameters {
		if p == nil {
			dst = pgio.AppendInt32(dst, -1)
			continue
		}

		dst = pgio.AppendInt32(dst, int32(len(p)))
		dst = append(dst, p...)
	}

	dst = pgio.AppendInt16(dst, int16(len(src.ResultFormatCodes)))
	for _, fc := range src.ResultFormatCodes {
		dst = pgio.AppendInt16(dst, fc)
	}

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}

// Describe requests the description of a prepared statement ('S') or portal
// ('P').
type Describe struct {
	ObjectType byte // 'S' = prepared statement, 'P' = portal
	Name       string
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Describe) Frontend() {}

func (dst *Describe) Decode(src []byte) error {
	buf := readBuf(src)

	var err error
	if dst.ObjectType, err = buf.byte(); err != nil {
		return &invalidMessageFormatErr{messageType: "Describe"}
	}
	if dst.Name, err = buf.cstring(); err != nil {
		return &invalidMessageFormatErr{messageType: "Describe"}
	}
	return nil
}

func (src *Describe) Encode(dst []byte) []byte {
	dst = append(dst, 'D')
	dst = pgio.AppendInt32(dst, int32(4+1+len(src.Name)+1))
	dst = append(dst, src.ObjectType)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	return dst
}

// Execute runs a bound portal. MaxRows of zero requests all rows.
type Execute struct {
	Portal  string
	MaxRows uint32
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Execute) Frontend() {}

func (dst *Execute) Decode(src []byte) error {
	buf := readBuf(src)

	var err error
	if dst.Portal, err = buf.cstring(); err != nil {
		return &invalidMessageFormatErr{messageType: "Execute"}
	}
	if dst.MaxRows, err = buf.uint32(); err != nil {
		return &invalidMessageFormatErr{messageType: "Execute"}
	}
	return nil
}

func (src *Execute) Encode(dst []byte) []byte {
	dst = append(dst, 'E')
	dst = pgio.AppendInt32(dst, int32(4+len(src.Portal)+1+4))
	dst = append(dst, src.Portal...)
	dst = append(dst, 0)
	dst = pgio.AppendUint32(dst, src.MaxRows)
	return dst
}

// Sync closes the current implicit transaction of the extended protocol and
// solicits ReadyForQuery.
type Sync struct{}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Sync) Frontend() {}

func (dst *Sync) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "Sync", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *Sync) Encode(dst []byte) []byte {
	dst = append(dst, 'S')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// Flush asks the server to deliver any pending responses without ending the
// extended-protocol transaction.
type Flush struct{}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Flush) Frontend() {}

func (dst *Flush) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "Flush", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *Flush) Encode(dst []byte) []byte {
	dst = append(dst, 'H')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// Query is the simple-protocol request: one SQL string, text-format results,
// no parameters.
type Query struct {
	String string
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Query) Frontend() {}

func (dst *Query) Decode(src []byte) error {
	buf := readBuf(src)
	s, err := buf.cstring()
	if err != nil {
		return &invalidMessageFormatErr{messageType: "Query"}
	}
	dst.String = s
	return nil
}

func (src *Query) Encode(dst []byte) []byte {
	dst = append(dst, 'Q')
	dst = pgio.AppendInt32(dst, int32(4+len(src.String)+1))
	dst = append(dst, src.String...)
	dst = append(dst, 0)
	return dst
}

// Terminate announces an orderly shutdown of the session.
type Terminate struct{}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Terminate) Frontend() {}

func (dst *Terminate) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "Terminate", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

func (src *Terminate) Encode(dst []byte) []byte {
	dst = append(dst, 'X')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}
