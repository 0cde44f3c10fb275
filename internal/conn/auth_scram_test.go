package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exchange from RFC 7677 section 3, password "pencil".
func TestScramClientExchange(t *testing.T) {
	sc := &scramClient{
		password:    []byte("pencil"),
		clientNonce: []byte("rOprNGfwEbeRWgbNEkqO"),
	}
	sc.clientFirstMessageBare = []byte("n=user,r=rOprNGfwEbeRWgbNEkqO")

	err := sc.recvServerFirstMessage([]byte("r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"))
	require.NoError(t, err)
	assert.Equal(t, 4096, sc.iterations)

	final := sc.clientFinalMessage()
	assert.Equal(t,
		"c=biws,r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ=",
		final)

	require.NoError(t, sc.recvServerFinalMessage([]byte("v=6rriTRBi23WpRR/wtup+mMhUZUn/dB5nLTJRsjl95G4=")))
}

func TestScramClientRejectsForgedServerSignature(t *testing.T) {
	sc := &scramClient{
		password:    []byte("pencil"),
		clientNonce: []byte("rOprNGfwEbeRWgbNEkqO"),
	}
	sc.clientFirstMessageBare = []byte("n=user,r=rOprNGfwEbeRWgbNEkqO")

	require.NoError(t, sc.recvServerFirstMessage([]byte("r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096")))
	sc.clientFinalMessage()

	err := sc.recvServerFinalMessage([]byte("v=AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="))
	require.Error(t, err)
}

func TestScramClientNonceMustExtendClientNonce(t *testing.T) {
	sc := &scramClient{
		password:    []byte("pencil"),
		clientNonce: []byte("clientnonce"),
	}
	sc.clientFirstMessageBare = []byte("n=,r=clientnonce")

	err := sc.recvServerFirstMessage([]byte("r=forgednonce,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"))
	require.Error(t, err)
}

func TestNewScramClientRequiresSHA256(t *testing.T) {
	_, err := newScramClient([]string{"SCRAM-SHA-1"}, "pw")
	var unsupErr *UnsupportedAuthError
	require.ErrorAs(t, err, &unsupErr)

	sc, err := newScramClient([]string{"SCRAM-SHA-256-PLUS", "SCRAM-SHA-256"}, "pw")
	require.NoError(t, err)
	assert.NotEmpty(t, sc.clientNonce)
}
