package pgproto

import (
	"github.com/jackc/pgio"
)

// AuthenticationOk reports that no further authentication exchange is needed.
type AuthenticationOk struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*AuthenticationOk) Backend() {}

func (dst *AuthenticationOk) Decode(src []byte) error {
	if len(src) != 4 {
		return &invalidMessageLenErr{messageType: "AuthenticationOk", expectedLen: 4, actualLen: len(src)}
	}
	return nil
}

func (src *AuthenticationOk) Encode(dst []byte) []byte {
	dst = append(dst, 'R')
	dst = pgio.AppendInt32(dst, 8)
	dst = pgio.AppendUint32(dst, AuthTypeOk)
	return dst
}

// AuthenticationCleartextPassword requests the password in the clear.
type AuthenticationCleartextPassword struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*AuthenticationCleartextPassword) Backend() {}

func (dst *AuthenticationCleartextPassword) Decode(src []byte) error {
	if len(src) != 4 {
		return &invalidMessageLenErr{messageType: "AuthenticationCleartextPassword", expectedLen: 4, actualLen: len(src)}
	}
	return nil
}

func (src *AuthenticationCleartextPassword) Encode(dst []byte) []byte {
	dst = append(dst, 'R')
	dst = pgio.AppendInt32(dst, 8)
	dst = pgio.AppendUint32(dst, AuthTypeCleartextPassword)
	return dst
}

// AuthenticationMD5Password requests an MD5 digest of the password salted
// with the 4 bytes the server supplies.
type AuthenticationMD5Password struct {
	Salt [4]byte
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*AuthenticationMD5Password) Backend() {}

func (dst *AuthenticationMD5Password) Decode(src []byte) error {
	if len(src) != 8 {
		return &invalidMessageLenErr{messageType: "AuthenticationMD5Password", expectedLen: 8, actualLen: len(src)}
	}
	copy(dst.Salt[:], src[4:8])
	return nil
}

func (src *AuthenticationMD5Password) Encode(dst []byte) []byte {
	dst = append(dst, 'R')
	dst = pgio.AppendInt32(dst, 12)
	dst = pgio.AppendUint32(dst, AuthTypeMD5Password)
	dst = append(dst, src.Salt[:]...)
	return dst
}

// AuthenticationSASL begins a SASL exchange and advertises the mechanisms
// the server accepts, in order of preference.
type AuthenticationSASL struct {
	AuthMechanisms []string
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*AuthenticationSASL) Backend() {}

func (dst *AuthenticationSASL) Decode(src []byte) error {
	if len(src) < 4 {
		return &invalidMessageFormatErr{messageType: "AuthenticationSASL"}
	}
	buf := readBuf(src[4:])

	dst.AuthMechanisms = dst.AuthMechanisms[:0]
	for len(buf) > 1 {
		mech, err := buf.cstring()
		if err != nil {
			return &invalidMessageFormatErr{messageType: "AuthenticationSASL"}
		}
		dst.AuthMechanisms = append(dst.AuthMechanisms, mech)
	}

	return nil
}

func (src *AuthenticationSASL) Encode(dst []byte) []byte {
	dst = append(dst, 'R')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)
	dst = pgio.AppendUint32(dst, AuthTypeSASL)
	for _, mech := range src.AuthMechanisms {
		dst = append(dst, mech...)
		dst = append(dst, 0)
	}
	dst = append(dst, 0)
	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))
	return dst
}

// AuthenticationSASLContinue carries the server-first-message of the SASL
// exchange.
type AuthenticationSASLContinue struct {
	Data []byte
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*AuthenticationSASLContinue) Backend() {}

func (dst *AuthenticationSASLContinue) Decode(src []byte) error {
	if len(src) < 4 {
		return &invalidMessageFormatErr{messageType: "AuthenticationSASLContinue"}
	}
	dst.Data = src[4:]
	return nil
}

func (src *AuthenticationSASLContinue) Encode(dst []byte) []byte {
	dst = append(dst, 'R')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)
	dst = pgio.AppendUint32(dst, AuthTypeSASLContinue)
	dst = append(dst, src.Data...)
	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))
	return dst
}

// AuthenticationSASLFinal carries the server-final-message of the SASL
// exchange.
type AuthenticationSASLFinal struct {
	Data []byte
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*AuthenticationSASLFinal) Backend() {}

func (dst *AuthenticationSASLFinal) Decode(src []byte) error {
	if len(src) < 4 {
		return &invalidMessageFormatErr{messageType: "AuthenticationSASLFinal"}
	}
	dst.Data = src[4:]
	return nil
}

func (src *AuthenticationSASLFinal) Encode(dst []byte) []byte {
	dst = append(dst, 'R')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)
	dst = pgio.AppendUint32(dst, AuthTypeSASLFinal)
	dst = append(dst, src.Data...)
	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))
	return dst
}

// UnknownAuthentication is a structurally valid authentication request of a
// kind this client does not implement (GSS, SSPI, SCM credentials). It is
// decodable so the connection layer can fail with a precise error instead of
// a protocol violation.
type UnknownAuthentication struct {
	TypeCode int32
	Data     []byte
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*UnknownAuthentication) Backend() {}

func (dst *UnknownAuthentication) Decode(src []byte) error {
	if len(src) < 4 {
		return &invalidMessageFormatErr{messageType: "Authentication"}
	}
	dst.Data = src[4:]
	return nil
}

func (src *UnknownAuthentication) Encode(dst []byte) []byte {
	dst = append(dst, 'R')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)
	dst = pgio.AppendInt32(dst, src.TypeCode)
	dst = append(dst, src.Data...)
	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))
	return dst
}

// PasswordMessage is the cleartext or MD5-digested password response.
type PasswordMessage struct {
	Password string
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*PasswordMessage) Frontend() {}

func (dst *PasswordMessage) Decode(src []byte) error {
	buf := readBuf(src)
	password, err := buf.cstring()
	if err != nil {
		return &invalidMessageFormatErr{messageType: "PasswordMessage"}
	}
	dst.Password = password
	return nil
}

func (src *PasswordMessage) Encode(dst []byte) []byte {
	dst = append(dst, 'p')
	dst = pgio.AppendInt32(dst, int32(4+len(src.Password)+1))
	dst = append(dst, src.Password...)
	dst = append(dst, 0)
	return dst
}

// SASLInitialResponse names the selected mechanism and carries the
// client-first-message.
type SASLInitialResponse struct {
	AuthMechanism string
	Data          []byte
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*SASLInitialResponse) Frontend() {}

func (dst *SASLInitialResponse) Decode(src []byte) error {
	buf := readBuf(src)

	mech, err := buf.cstring()
	if err != nil {
		return &invalidMessageFormatErr{messageType: "SASLInitialResponse"}
	}
	dst.AuthMechanism = mech

	n, err := buf.int32()
	if err != nil {
		return &invalidMessageFormatErr{messageType: "SASLInitialResponse"}
	}
	if n >= 0 {
		dst.Data, err = buf.bytes(int(n))
		if err != nil {
			return &invalidMessageFormatErr{messageType: "SASLInitialResponse"}
		}
	} else {
		dst.Data = nil
	}

	return nil
}

func (src *SASLInitialResponse) Encode(dst []byte) []byte {
	dst = append(dst, 'p')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)
	dst = append(dst, src.AuthMechanism...)
	dst = append(dst, 0)
	dst = pgio.AppendInt32(dst, int32(len(src.Data)))
	dst = append(dst, src.Data...)
	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))
	return dst
}

// SASLResponse carries a subsequent client message of the SASL exchange.
type SASLResponse struct {
	Data []byte
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*SASLResponse) Frontend() {}

func (dst *SASLResponse) Decode(src []byte) error {
	dst.Data = src
	return nil
}

func (src *SASLResponse) Encode(dst []byte) []byte {
	dst = append(dst, 'p')
	dst = pgio.AppendInt32(dst, int32(4+len(src.Data)))
	dst = append(dst, src.Data...)
	return dst
}
