package conn

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jackc/chunkreader/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgq/internal/cfg"
	"pgq/internal/pgproto"
)

// pipeConfig wires a Config to one end of a net.Pipe. The script goroutine
// plays the server on the other end.
func pipeConfig(t *testing.T, script func(s net.Conn)) (*cfg.Config, chan struct{}) {
	t.Helper()

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		script(server)
	}()

	config := &cfg.Config{
		Host:     "localhost",
		Port:     5432,
		User:     "carlos",
		Database: "store",
		Password: "secret",
		DialFunc: func(network, addr string) (net.Conn, error) {
			return client, nil
		},
		BuildFrontend: func(r io.Reader, w io.Writer) *pgproto.Frontend {
			cr, err := chunkreader.NewConfig(r, chunkreader.Config{MinBufLen: 1024})
			require.NoError(t, err)
			return pgproto.NewFrontend(cr, w)
		},
		RuntimeParams: map[string]string{},
	}
	return config, done
}

// readRequest consumes one client write. Each request batch is a single
// Write on the pipe, so a single Read captures it whole.
func readRequest(t *testing.T, s net.Conn) []byte {
	t.Helper()
	buf := make([]byte, 16384)
	s.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := s.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func writeFrames(t *testing.T, s net.Conn, buf []byte) {
	t.Helper()
	s.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := s.Write(buf)
	require.NoError(t, err)
}

// serveTrustHandshake consumes the startup message and replies as a server
// with trust auth configured.
func serveTrustHandshake(t *testing.T, s net.Conn) {
	t.Helper()
	readRequest(t, s) // startup message

	var buf []byte
	buf = (&pgproto.AuthenticationOk{}).Encode(buf)
	buf = (&pgproto.ParameterStatus{Name: "server_version", Value: "14.1"}).Encode(buf)
	buf = (&pgproto.BackendKeyData{ProcessID: 42, SecretKey: 12345}).Encode(buf)
	buf = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
	writeFrames(t, s, buf)
}

// drain absorbs the Terminate message so Close does not stall on the pipe.
func drain(s net.Conn) {
	buf := make([]byte, 1024)
	s.SetReadDeadline(time.Now().Add(5 * time.Second))
	s.Read(buf)
}

func selectOneResponses(t *testing.T, s net.Conn) {
	t.Helper()

	// Parse + Describe('S') + Sync
	readRequest(t, s)
	var buf []byte
	buf = (&pgproto.ParseComplete{}).Encode(buf)
	buf = (&pgproto.ParameterDescription{ParameterOIDs: []uint32{}}).Encode(buf)
	buf = (&pgproto.RowDescription{Fields: []pgproto.FieldDescription{
		{Name: []byte("n"), DataTypeOID: 23, DataTypeSize: 4},
	}}).Encode(buf)
	buf = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
	writeFrames(t, s, buf)

	// Bind + Describe('P') + Execute + Sync
	readRequest(t, s)
	buf = buf[:0]
	buf = (&pgproto.BindComplete{}).Encode(buf)
	buf = (&pgproto.RowDescription{Fields: []pgproto.FieldDescription{
		{Name: []byte("n"), DataTypeOID: 23, DataTypeSize: 4, Format: 1},
	}}).Encode(buf)
	buf = (&pgproto.DataRow{Values: [][]byte{{0, 0, 0, 1}}}).Encode(buf)
	buf = (&pgproto.CommandComplete{CommandTag: []byte("SELECT 1")}).Encode(buf)
	buf = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
	writeFrames(t, s, buf)
}

func TestConnectTrust(t *testing.T) {
	config, done := pipeConfig(t, func(s net.Conn) {
		serveTrustHandshake(t, s)
		drain(s)
	})

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)

	assert.Equal(t, uint32(42), c.PID())
	assert.Equal(t, uint32(12345), c.SecretKey())
	assert.Equal(t, txStatusIdle, c.TxStatus())
	assert.Equal(t, "14.1", c.ParameterStatus("server_version"))
	assert.False(t, c.IsClosed())
	assert.True(t, c.IsReady())

	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())
	<-done
}

func TestConnectCleartextPassword(t *testing.T) {
	var passwordFrame []byte
	config, done := pipeConfig(t, func(s net.Conn) {
		readRequest(t, s) // startup

		writeFrames(t, s, (&pgproto.AuthenticationCleartextPassword{}).Encode(nil))

		passwordFrame = readRequest(t, s)

		var buf []byte
		buf = (&pgproto.AuthenticationOk{}).Encode(buf)
		buf = (&pgproto.BackendKeyData{ProcessID: 1, SecretKey: 2}).Encode(buf)
		buf = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
		writeFrames(t, s, buf)
		drain(s)
	})

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)
	defer c.Close()
	<-done

	require.NotEmpty(t, passwordFrame)
	assert.Equal(t, byte('p'), passwordFrame[0])
	assert.Contains(t, string(passwordFrame), "secret")
}

func TestConnectMD5Password(t *testing.T) {
	var passwordFrame []byte
	config, done := pipeConfig(t, func(s net.Conn) {
		readRequest(t, s) // startup

		writeFrames(t, s, (&pgproto.AuthenticationMD5Password{Salt: [4]byte{1, 2, 3, 4}}).Encode(nil))

		passwordFrame = readRequest(t, s)

		var buf []byte
		buf = (&pgproto.AuthenticationOk{}).Encode(buf)
		buf = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
		writeFrames(t, s, buf)
		drain(s)
	})

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)
	defer c.Close()
	<-done

	expected := "md5" + hexMD5(hexMD5("secret"+"carlos")+string([]byte{1, 2, 3, 4}))
	assert.Contains(t, string(passwordFrame), expected)
}

func TestConnectAuthenticationFailure(t *testing.T) {
	config, _ := pipeConfig(t, func(s net.Conn) {
		readRequest(t, s) // startup

		writeFrames(t, s, (&pgproto.ErrorResponse{
			Severity: "FATAL",
			Code:     "28P01",
			Message:  "password authentication failed",
		}).Encode(nil))
	})

	_, err := Connect(context.Background(), config)
	require.Error(t, err)

	var authErr *AuthenticationFailedError
	require.ErrorAs(t, err, &authErr)
}

func TestConnectUnsupportedAuth(t *testing.T) {
	config, _ := pipeConfig(t, func(s net.Conn) {
		readRequest(t, s)                                                            // startup
		writeFrames(t, s, (&pgproto.UnknownAuthentication{TypeCode: 8}).Encode(nil)) // crypt(), long gone
	})

	_, err := Connect(context.Background(), config)
	require.Error(t, err)

	var unsupErr *UnsupportedAuthError
	require.ErrorAs(t, err, &unsupErr)
	assert.Equal(t, int32(8), unsupErr.TypeCode)
}

func TestTLSDeclinedFallsBackWithWarning(t *testing.T) {
	var warning string
	config, done := pipeConfig(t, func(s net.Conn) {
		sslRequest := readRequest(t, s)
		require.Len(t, sslRequest, 8)
		writeFrames(t, s, []byte{'N'})

		serveTrustHandshake(t, s)
		drain(s)
	})
	config.TLS = cfg.TLSPolicy{Negotiate: true}
	config.OnWarning = func(msg string) { warning = msg }

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)
	defer c.Close()
	<-done

	assert.Contains(t, warning, "plaintext")
}

func TestTLSUpgradeFailureFallsBackWithWarning(t *testing.T) {
	tlsClient, tlsServer := net.Pipe()
	plainClient, plainServer := net.Pipe()
	done := make(chan struct{})

	go func() {
		sslRequest := readRequest(t, tlsServer)
		require.Len(t, sslRequest, 8)
		writeFrames(t, tlsServer, []byte{'S'})
		tlsServer.Close()
	}()
	go func() {
		defer close(done)
		defer plainServer.Close()
		serveTrustHandshake(t, plainServer)
		drain(plainServer)
	}()

	dials := 0
	var warning string
	config := &cfg.Config{
		Host:     "localhost",
		Port:     5432,
		User:     "carlos",
		Database: "store",
		DialFunc: func(network, addr string) (net.Conn, error) {
			dials++
			if dials == 1 {
				return tlsClient, nil
			}
			return plainClient, nil
		},
		BuildFrontend: func(r io.Reader, w io.Writer) *pgproto.Frontend {
			cr, err := chunkreader.NewConfig(r, chunkreader.Config{MinBufLen: 1024})
			require.NoError(t, err)
			return pgproto.NewFrontend(cr, w)
		},
		TLS: cfg.TLSPolicy{Negotiate: true},
		UpgradeTLS: func(conn net.Conn) (net.Conn, error) {
			return nil, errors.New("certificate expired")
		},
		OnWarning:     func(msg string) { warning = msg },
		RuntimeParams: map[string]string{},
	}

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)
	defer c.Close()
	<-done

	assert.Equal(t, 2, dials, "the half-upgraded stream must be replaced by a fresh dial")
	assert.Contains(t, warning, "plaintext")
	assert.True(t, c.IsReady())
}

func TestTLSUpgradeFailureFailsWhenEnforced(t *testing.T) {
	config, _ := pipeConfig(t, func(s net.Conn) {
		readRequest(t, s) // SSLRequest
		writeFrames(t, s, []byte{'S'})
	})
	config.TLS = cfg.TLSPolicy{Negotiate: true, Enforce: true}
	config.UpgradeTLS = func(conn net.Conn) (net.Conn, error) {
		return nil, errors.New("certificate expired")
	}

	_, err := Connect(context.Background(), config)
	require.Error(t, err)

	var tlsErr *TLSRequiredError
	require.ErrorAs(t, err, &tlsErr)
}

func TestTLSDeclinedFailsWhenEnforced(t *testing.T) {
	config, _ := pipeConfig(t, func(s net.Conn) {
		readRequest(t, s) // SSLRequest
		writeFrames(t, s, []byte{'N'})
	})
	config.TLS = cfg.TLSPolicy{Negotiate: true, Enforce: true}

	_, err := Connect(context.Background(), config)
	require.Error(t, err)

	var tlsErr *TLSRequiredError
	require.ErrorAs(t, err, &tlsErr)
}

func TestQueryExtendedProtocol(t *testing.T) {
	config, done := pipeConfig(t, func(s net.Conn) {
		serveTrustHandshake(t, s)
		selectOneResponses(t, s)
		drain(s)
	})

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)

	result, err := c.Query(context.Background(), "select 1")
	require.NoError(t, err)

	require.Len(t, result.FieldDescriptions, 1)
	assert.Equal(t, []byte("n"), result.FieldDescriptions[0].Name)
	assert.Equal(t, int16(1), result.FieldDescriptions[0].Format)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, []byte{0, 0, 0, 1}, result.Rows[0][0])
	assert.Equal(t, "SELECT 1", result.CommandTag().String())
	assert.Equal(t, int64(1), result.RowsAffected())

	// The statement is now cached under its text.
	_, cached := c.statements["select 1"]
	assert.True(t, cached)

	c.Close()
	<-done
}

func TestQueryServerErrorKeepsConnUsable(t *testing.T) {
	config, done := pipeConfig(t, func(s net.Conn) {
		serveTrustHandshake(t, s)

		// Parse + Describe + Sync fails
		readRequest(t, s)
		var buf []byte
		buf = (&pgproto.ErrorResponse{Severity: "ERROR", Code: "42P01", Message: `relation "missing" does not exist`}).Encode(buf)
		buf = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
		writeFrames(t, s, buf)

		selectOneResponses(t, s)
		drain(s)
	})

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "select * from missing")
	var pgErr *PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "42P01", pgErr.SQLState())

	assert.False(t, c.IsClosed())

	result, err := c.Query(context.Background(), "select 1")
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)

	c.Close()
	<-done
}

func TestTimeoutMidCommandClosesConn(t *testing.T) {
	config, done := pipeConfig(t, func(s net.Conn) {
		serveTrustHandshake(t, s)
		readRequest(t, s) // the Parse batch arrives, the response never does
		drain(s)          // hold the pipe open until the client gives up
	})

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = c.Query(ctx, "select 1")
	require.Error(t, err)
	assert.True(t, Timeout(err))

	// The response stream is in an unknown state. Reusing the conn would
	// feed the late reply to the next command.
	assert.True(t, c.IsClosed())
	assert.False(t, c.IsReady())
	<-done
}

func TestFailedTransactionRejectsLocally(t *testing.T) {
	config, done := pipeConfig(t, func(s net.Conn) {
		serveTrustHandshake(t, s)

		// simple query whose response leaves the session in a failed transaction
		readRequest(t, s)
		var buf []byte
		buf = (&pgproto.ErrorResponse{Severity: "ERROR", Code: "22012", Message: "division by zero"}).Encode(buf)
		buf = (&pgproto.ReadyForQuery{TxStatus: 'E'}).Encode(buf)
		writeFrames(t, s, buf)

		// only the ROLLBACK reaches the server after that
		readRequest(t, s)
		buf = buf[:0]
		buf = (&pgproto.CommandComplete{CommandTag: []byte("ROLLBACK")}).Encode(buf)
		buf = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
		writeFrames(t, s, buf)
		drain(s)
	})

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)

	_, err = c.Exec(context.Background(), "select 1/0")
	require.Error(t, err)
	assert.Equal(t, txStatusFailedTransaction, c.TxStatus())

	// Rejected before any bytes are written; the script would block otherwise.
	_, err = c.Query(context.Background(), "select 1")
	var pgErr *PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "25P02", pgErr.SQLState())

	_, err = c.Exec(context.Background(), "rollback")
	require.NoError(t, err)
	assert.Equal(t, txStatusIdle, c.TxStatus())

	c.Close()
	<-done
}

func TestStatementCacheInvalidatedOnPlanChange(t *testing.T) {
	config, done := pipeConfig(t, func(s net.Conn) {
		serveTrustHandshake(t, s)
		selectOneResponses(t, s)

		// second execution: cache hit, only Bind arrives, plan is stale
		readRequest(t, s)
		var buf []byte
		buf = (&pgproto.ErrorResponse{Severity: "ERROR", Code: "0A000", Message: "cached plan must not change result type"}).Encode(buf)
		buf = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
		writeFrames(t, s, buf)
		drain(s)
	})

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "select 1")
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "select 1")
	var pgErr *PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "0A000", pgErr.SQLState())

	_, cached := c.statements["select 1"]
	assert.False(t, cached, "stale statement must leave the cache")

	c.Close()
	<-done
}

func TestExecSimpleQuery(t *testing.T) {
	config, done := pipeConfig(t, func(s net.Conn) {
		serveTrustHandshake(t, s)

		req := readRequest(t, s)
		require.Equal(t, byte('Q'), req[0])

		var buf []byte
		buf = (&pgproto.RowDescription{Fields: []pgproto.FieldDescription{
			{Name: []byte("greeting"), DataTypeOID: 25},
		}}).Encode(buf)
		buf = (&pgproto.DataRow{Values: [][]byte{[]byte("hello")}}).Encode(buf)
		buf = (&pgproto.CommandComplete{CommandTag: []byte("SELECT 1")}).Encode(buf)
		buf = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
		writeFrames(t, s, buf)
		drain(s)
	})

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)

	result, err := c.Exec(context.Background(), "select 'hello' as greeting")
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, []byte("hello"), result.Rows[0][0])

	c.Close()
	<-done
}

func TestCancelRequestWireFormat(t *testing.T) {
	handshakeDone := make(chan struct{})
	var cancelFrame []byte

	client, server := net.Pipe()
	cancelClient, cancelServer := net.Pipe()
	dials := 0

	config := &cfg.Config{
		Host: "localhost", Port: 5432, User: "u",
		DialFunc: func(network, addr string) (net.Conn, error) {
			dials++
			if dials == 1 {
				return client, nil
			}
			return cancelClient, nil
		},
		BuildFrontend: func(r io.Reader, w io.Writer) *pgproto.Frontend {
			cr, err := chunkreader.NewConfig(r, chunkreader.Config{MinBufLen: 1024})
			require.NoError(t, err)
			return pgproto.NewFrontend(cr, w)
		},
		RuntimeParams: map[string]string{},
	}

	go func() {
		defer close(handshakeDone)
		serveTrustHandshake(t, server)
	}()
	go func() {
		cancelFrame = readRequest(t, cancelServer)
		cancelServer.Close()
	}()

	c, err := Connect(context.Background(), config)
	require.NoError(t, err)
	<-handshakeDone

	require.NoError(t, c.CancelRequest(context.Background()))

	expected := (&pgproto.CancelRequest{ProcessID: 42, SecretKey: 12345}).Encode(nil)
	assert.Equal(t, expected, cancelFrame)
}
