package pgproto

import (
	"github.com/jackc/pgio"
)

// StartupMessage is the first message of a session. It carries no leading
// type byte; the protocol version number stands in its place.
type StartupMessage struct {
	ProtocolVersion uint32
	Parameters      map[string]string
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*StartupMessage) Frontend() {}

func (dst *StartupMessage) Decode(src []byte) error {
	buf := readBuf(src)

	version, err := buf.uint32()
	if err != nil {
		return &invalidMessageFormatErr{messageType: "StartupMessage"}
	}
	dst.ProtocolVersion = version
	dst.Parameters = make(map[string]string)

	for len(buf) > 1 {
		key, err := buf.cstring()
		if err != nil {
			return &invalidMessageFormatErr{messageType: "StartupMessage"}
		}
		value, err := buf.cstring()
		if err != nil {
			return &invalidMessageFormatErr{messageType: "StartupMessage"}
		}
		dst.Parameters[key] = value
	}

	return nil
}

func (src *StartupMessage) Encode(dst []byte) []byte {
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = pgio.AppendUint32(dst, src.ProtocolVersion)
	for k, v := range src.Parameters {
		dst = append(dst, k...)
		dst = append(dst, 0)
		dst = append(dst, v...)
		dst = append(dst, 0)
	}
	dst = append(dst, 0)

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}

// SSLRequest asks the server to upgrade the stream to TLS. The reply is a
// single raw byte, 'S' or 'N', not a regular frame.
type SSLRequest struct{}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*SSLRequest) Frontend() {}

func (dst *SSLRequest) Decode(src []byte) error {
	buf := readBuf(src)
	code, err := buf.uint32()
	if err != nil || code != sslRequestNumber {
		return &invalidMessageFormatErr{messageType: "SSLRequest"}
	}
	return nil
}

func (src *SSLRequest) Encode(dst []byte) []byte {
	dst = pgio.AppendInt32(dst, 8)
	dst = pgio.AppendUint32(dst, sslRequestNumber)
	return dst
}

// CancelRequest asks the server to abort the in-flight request of another
// session, identified by that session's key data. It is only valid as the
// first and only message of a fresh connection.
type CancelRequest struct {
	ProcessID uint32
	SecretKey uint32
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*CancelRequest) Frontend() {}

func (dst *CancelRequest) Decode(src []byte) error {
	buf := readBuf(src)
	code, err := buf.uint32()
	if err != nil || code != cancelRequestCode {
		return &invalidMessageFormatErr{messageType: "CancelRequest"}
	}
	if dst.ProcessID, err = buf.uint32(); err != nil {
		return &invalidMessageFormatErr{messageType: "CancelRequest"}
	}
	if dst.SecretKey, err = buf.uint32(); err != nil {
		return &invalidMessageFormatErr{messageType: "CancelRequest"}
	}
	return nil
}

func (src *CancelRequest) Encode(dst []byte) []byte {
	dst = pgio.AppendInt32(dst, 16)
	dst = pgio.AppendUint32(dst, cancelRequestCode)
	dst = pgio.AppendUint32(dst, src.ProcessID)
	dst = pgio.AppendUint32(dst, src.SecretKey)
	return dst
}
