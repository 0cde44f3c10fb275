package pgq

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jackc/chunkreader/v2"
	"github.com/stretchr/testify/require"

	"pgq/internal/cfg"
	"pgq/internal/pgproto"
)

// fakeServer plays a PostgreSQL backend over net.Pipe. Every dial gets a
// trust handshake; after that, each client request batch consumes the next
// canned response. Terminate ends the session.
type fakeServer struct {
	t *testing.T

	mu        sync.Mutex
	responses [][]byte
	requests  [][]byte
	dials     int
}

func newFakeServer(t *testing.T, responses ...[]byte) *fakeServer {
	return &fakeServer{t: t, responses: responses}
}

func (fs *fakeServer) push(responses ...[]byte) {
	fs.mu.Lock()
	fs.responses = append(fs.responses, responses...)
	fs.mu.Unlock()
}

func (fs *fakeServer) dialCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.dials
}

// requestLog returns the request batches seen after the handshake, in order.
func (fs *fakeServer) requestLog() [][]byte {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([][]byte(nil), fs.requests...)
}

func (fs *fakeServer) dial(network, addr string) (net.Conn, error) {
	fs.mu.Lock()
	fs.dials++
	fs.mu.Unlock()

	client, server := net.Pipe()
	go fs.serve(server)
	return client, nil
}

func (fs *fakeServer) serve(s net.Conn) {
	defer s.Close()

	buf := make([]byte, 16384)

	// startup message
	s.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := s.Read(buf); err != nil {
		return
	}

	var out []byte
	out = (&pgproto.AuthenticationOk{}).Encode(out)
	out = (&pgproto.ParameterStatus{Name: "server_version", Value: "14.1"}).Encode(out)
	out = (&pgproto.BackendKeyData{ProcessID: 7, SecretKey: 11}).Encode(out)
	out = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(out)
	s.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := s.Write(out); err != nil {
		return
	}

	for {
		s.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, err := s.Read(buf)
		if err != nil || (n > 0 && buf[0] == 'X') {
			return
		}

		fs.mu.Lock()
		fs.requests = append(fs.requests, append([]byte(nil), buf[:n]...))
		var resp []byte
		if len(fs.responses) > 0 {
			resp = fs.responses[0]
			fs.responses = fs.responses[1:]
		}
		fs.mu.Unlock()

		if resp == nil {
			var out []byte
			out = (&pgproto.ErrorResponse{Severity: "ERROR", Code: "XX000", Message: "no scripted response"}).Encode(out)
			out = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(out)
			resp = out
		}

		s.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := s.Write(resp); err != nil {
			return
		}
	}
}

func (fs *fakeServer) config() *cfg.Config {
	return &cfg.Config{
		Host:     "localhost",
		Port:     5432,
		User:     "u",
		Database: "d",
		DialFunc: fs.dial,
		BuildFrontend: func(r io.Reader, w io.Writer) *pgproto.Frontend {
			cr, err := chunkreader.NewConfig(r, chunkreader.Config{MinBufLen: 1024})
			require.NoError(fs.t, err)
			return pgproto.NewFrontend(cr, w)
		},
		RuntimeParams: map[string]string{},
	}
}

// prepareResponse is the backend's answer to Parse + Describe('S') + Sync.
func prepareResponse(paramOIDs []uint32, fields []pgproto.FieldDescription) []byte {
	var out []byte
	out = (&pgproto.ParseComplete{}).Encode(out)
	out = (&pgproto.ParameterDescription{ParameterOIDs: paramOIDs}).Encode(out)
	out = (&pgproto.RowDescription{Fields: fields}).Encode(out)
	out = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(out)
	return out
}

// executeResponse is the backend's answer to Bind + Describe('P') + Execute + Sync.
func executeResponse(fields []pgproto.FieldDescription, rows [][][]byte, tag string) []byte {
	var out []byte
	out = (&pgproto.BindComplete{}).Encode(out)
	out = (&pgproto.RowDescription{Fields: fields}).Encode(out)
	for _, row := range rows {
		out = (&pgproto.DataRow{Values: row}).Encode(out)
	}
	out = (&pgproto.CommandComplete{CommandTag: []byte(tag)}).Encode(out)
	out = (&pgproto.ReadyForQuery{TxStatus: 'I'}).Encode(out)
	return out
}
