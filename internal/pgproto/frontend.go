/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgproto

import (
	"encoding/binary"
	"io"

	"github.com/jackc/chunkreader/v2"
)

// Frontend acts as a client for the PostgreSQL wire protocol version 3.
type Frontend struct {
	cr *chunkreader.ChunkReader
	w  io.Writer

	// Backend message flyweights. Decode reuses them between calls; callers
	// that retain a message across Receive calls must copy what they need.
	authenticationOk                AuthenticationOk
	authenticationCleartextPassword AuthenticationCleartextPassword
	authenticationMD5Password       AuthenticationMD5Password
	authenticationSASL              AuthenticationSASL
	authenticationSASLContinue      AuthenticationSASLContinue
	authenticationSASLFinal         AuthenticationSASLFinal
	backendKeyData                  BackendKeyData
	bindComplete                    BindComplete
	closeComplete                   CloseComplete
	commandComplete                 CommandComplete
	dataRow                         DataRow
	emptyQueryResponse              EmptyQueryResponse
	errorResponse                   ErrorResponse
	noData                          NoData
	noticeResponse                  NoticeResponse
	notificationResponse            NotificationResponse
	parameterDescription            ParameterDescription
	parameterStatus                 ParameterStatus
	parseComplete                   ParseComplete
	portalSuspended                 PortalSuspended
	readyForQuery                   ReadyForQuery
	rowDescription                  RowDescription

	bodyLen    int
	msgType    byte
	partialMsg bool
}

// NewFrontend creates a new Frontend.
func NewFrontend(cr *chunkreader.ChunkReader, w io.Writer) *Frontend {
	return &Frontend{cr: cr, w: w}
}

// Send sends a message to the backend.
func (f *Frontend) Send(msg FrontendMessage) error {
	_, err := f.w.Write(msg.Encode(nil))
	return err
}

// Receive receives a message from the backend. The returned message is only
// valid until the next call to Receive.
func (f *Frontend) Receive() (BackendMessage, error) {
	if !f.partialMsg {
		header, err := f.cr.Next(5)
		if err != nil {
			return nil, err
		}

		f.msgType = header[0]
		f.bodyLen = int(binary.BigEndian.Uint32(header[1:])) - 4
		if f.bodyLen < 0 || f.bodyLen > maxMessageBodyLen {
			return nil, &ProtocolViolationError{MsgType: f.msgType, Reason: "invalid body length"}
		}
		f.partialMsg = true
	}

	msgBody, err := f.cr.Next(f.bodyLen)
	if err != nil {
		return nil, err
	}
	f.partialMsg = false

	var msg BackendMessage
	switch f.msgType {
	case 'R':
		msg, err = f.findAuthenticationMessageType(msgBody)
		if err != nil {
			return nil, err
		}
	case 'K':
		msg = &f.backendKeyData
	case 'S':
		msg = &f.parameterStatus
	case 'Z':
		msg = &f.readyForQuery
	case 'T':
		msg = &f.rowDescription
	case 'D':
		msg = &f.dataRow
	case 'C':
		msg = &f.commandComplete
	case 'I':
		msg = &f.emptyQueryResponse
	case '1':
		msg = &f.parseComplete
	case '2':
		msg = &f.bindComplete
	case '3':
		msg = &f.closeComplete
	case 'n':
		msg = &f.noData
	case 't':
		msg = &f.parameterDescription
	case 's':
		msg = &f.portalSuspended
	case 'E':
		msg = &f.errorResponse
	case 'N':
		msg = &f.noticeResponse
	case 'A':
		msg = &f.notificationResponse
	default:
		return nil, &ProtocolViolationError{MsgType: f.msgType, Reason: "unknown message type"}
	}

	err = msg.Decode(msgBody)
	return msg, err
}

// Authentication message type constants; the kind of an 'R' message is the
// first int32 of its body.
const (
	AuthTypeOk                = 0
	AuthTypeCleartextPassword = 3
	AuthTypeMD5Password       = 5
	AuthTypeSCMCreds          = 6
	AuthTypeGSS               = 7
	AuthTypeGSSCont           = 8
	AuthTypeSSPI              = 9
	AuthTypeSASL              = 10
	AuthTypeSASLContinue      = 11
	AuthTypeSASLFinal         = 12
)

func (f *Frontend) findAuthenticationMessageType(src []byte) (BackendMessage, error) {
	if len(src) < 4 {
		return nil, &ProtocolViolationError{MsgType: 'R', Reason: "authentication message too short"}
	}
	authType := int32(binary.BigEndian.Uint32(src[:4]))

	switch authType {
	case AuthTypeOk:
		return &f.authenticationOk, nil
	case AuthTypeCleartextPassword:
		return &f.authenticationCleartextPassword, nil
	case AuthTypeMD5Password:
		return &f.authenticationMD5Password, nil
	case AuthTypeSASL:
		return &f.authenticationSASL, nil
	case AuthTypeSASLContinue:
		return &f.authenticationSASLContinue, nil
	case AuthTypeSASLFinal:
		return &f.authenticationSASLFinal, nil
	case AuthTypeSCMCreds, AuthTypeGSS, AuthTypeGSSCont, AuthTypeSSPI:
		return &UnknownAuthentication{TypeCode: authType}, nil
	default:
		return nil, &ProtocolViolationError{MsgType: 'R', Reason: "unknown authentication type"}
	}
}
