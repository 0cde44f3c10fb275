package pgproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// maxMessageBodyLen caps the declared body length of a single frame. A length
// above it (or below zero) means the stream is corrupt and the connection
// must be abandoned.
const maxMessageBodyLen = 1 << 28

// ProtocolVersionNumber is protocol 3.0.
const ProtocolVersionNumber = 196608

// sslRequestNumber and cancelRequestCode are the magic codes of the two
// startup-phase requests that carry no message type byte.
const (
	sslRequestNumber  = 80877103
	cancelRequestCode = 80877102
)

// Message is the interface implemented by an object that can decode and
// encode a particular PostgreSQL message.
type Message interface {
	Decode(data []byte) error
	Encode(dst []byte) []byte
}

// FrontendMessage is a message sent by the frontend (i.e. the client).
type FrontendMessage interface {
	Message
	Frontend() // no-op method to distinguish frontend from backend methods
}

// BackendMessage is a message sent by the backend (i.e. the server).
type BackendMessage interface {
	Message
	Backend() // no-op method to distinguish frontend from backend methods
}

// ProtocolViolationError reports a frame that cannot belong to a well-formed
// protocol stream. It is fatal to the connection that received it.
type ProtocolViolationError struct {
	MsgType byte
	Reason  string
}

func (e *ProtocolViolationError) Error() string {
	if e.MsgType == 0 {
		return "pgproto: protocol violation: " + e.Reason
	}
	return fmt.Sprintf("pgproto: protocol violation in message %q: %s", e.MsgType, e.Reason)
}

type invalidMessageLenErr struct {
	messageType string
	expectedLen int
	actualLen   int
}

func (e *invalidMessageLenErr) Error() string {
	return fmt.Sprintf("%s body must have length of %d, but it is %d", e.messageType, e.expectedLen, e.actualLen)
}

type invalidMessageFormatErr struct {
	messageType string
}

func (e *invalidMessageFormatErr) Error() string {
	return e.messageType + " body is invalid"
}

// readBuf is a cursor over one message body. Getters consume from the front
// and fail instead of panicking when the body is short.
type readBuf []byte

func (b *readBuf) int32() (int32, error) {
	if len(*b) < 4 {
		return 0, fmt.Errorf("insufficient data: %d", len(*b))
	}
	v := int32(binary.BigEndian.Uint32((*b)[:4]))
	*b = (*b)[4:]
	return v, nil
}

func (b *readBuf) uint32() (uint32, error) {
	v, err := b.int32()
	return uint32(v), err
}

func (b *readBuf) int16() (int16, error) {
	if len(*b) < 2 {
		return 0, fmt.Errorf("insufficient data: %d", len(*b))
	}
	v := int16(binary.BigEndian.Uint16((*b)[:2]))
	*b = (*b)[2:]
	return v, nil
}

func (b *readBuf) byte() (byte, error) {
	if len(*b) < 1 {
		return 0, fmt.Errorf("insufficient data: %d", len(*b))
	}
	v := (*b)[0]
	*b = (*b)[1:]
	return v, nil
}

func (b *readBuf) bytes(n int) ([]byte, error) {
	if n < 0 || len(*b) < n {
		return nil, fmt.Errorf("insufficient data: %d", len(*b))
	}
	v := (*b)[:n]
	*b = (*b)[n:]
	return v, nil
}

// cstring reads a null-terminated string.
func (b *readBuf) cstring() (string, error) {
	pos := bytes.IndexByte(*b, 0)
	if pos == -1 {
		return "", fmt.Errorf("NUL terminator not found")
	}
	s := string((*b)[:pos])
	*b = (*b)[pos+1:]
	return s, nil
}
