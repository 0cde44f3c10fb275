/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package conn

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"time"

	"pgq/internal/cfg"
	"pgq/internal/pgproto"
	"pgq/internal/pgtype"
)

// Connect establishes a session: dial, optional TLS negotiation, startup,
// authentication, and the parameter/key exchange that ends with ReadyForQuery.
// The config must not be mutated afterwards.
func Connect(ctx context.Context, config *cfg.Config) (*Conn, error) {
	c := &Conn{
		config:            config,
		parameterStatuses: make(map[string]string),
		statements:        make(map[string]*StatementDescription),
		registry:          pgtype.NewRegistry(),
		cleanupDone:       make(chan struct{}),
		wBuf:              make([]byte, 0, wbufLen),
	}

	// Reusable tail for the extended protocol: describe portal, execute,
	// sync. Every query write appends this suffix.
	c.sufBuf = (&pgproto.Describe{ObjectType: 'P'}).Encode(nil)
	c.sufBuf = (&pgproto.Execute{}).Encode(c.sufBuf)
	c.sufBuf = (&pgproto.Sync{}).Encode(c.sufBuf)

	if err := ctx.Err(); err != nil {
		return nil, &connectError{config: config, msg: "context already done", err: &errTimeout{err: err}}
	}

	network, address := cfg.NetworkAddress(config.Host, config.Port)
	netConn, err := config.DialFunc(network, address)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			err = &errTimeout{err: err}
		}
		return nil, &connectError{config: config, msg: "dial error", err: err}
	}
	c.conn = netConn
	c.status = statusConnecting

	if deadline, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(deadline)
		defer netConn.SetDeadline(time.Time{})
	}

	if network != "unix" && config.TLS.Negotiate {
		if err := c.negotiateTLS(config); err != nil {
			c.conn.Close()

			var tlsErr *TLSRequiredError
			if config.TLS.Enforce || !errors.As(err, &tlsErr) {
				return nil, &connectError{config: config, msg: "TLS negotiation failed", err: err}
			}

			// The server accepted TLS but the upgrade itself failed, and
			// the policy is opportunistic. The half-upgraded stream is
			// unusable, so reconnect and continue in plaintext.
			netConn, dialErr := config.DialFunc(network, address)
			if dialErr != nil {
				return nil, &connectError{config: config, msg: "dial error", err: dialErr}
			}
			c.conn = netConn
			if deadline, ok := ctx.Deadline(); ok {
				netConn.SetDeadline(deadline)
				defer netConn.SetDeadline(time.Time{})
			}
			if config.OnWarning != nil {
				config.OnWarning("TLS unavailable, continuing in plaintext: " + err.Error())
			}
		}
	}

	c.frontend = config.BuildFrontend(c.conn, c.conn)

	startupMsg := pgproto.StartupMessage{
		ProtocolVersion: pgproto.ProtocolVersionNumber,
		Parameters:      make(map[string]string),
	}

	// Copy default run-time params
	for k, v := range config.RuntimeParams {
		startupMsg.Parameters[k] = v
	}

	startupMsg.Parameters["user"] = config.User
	if config.Database != "" {
		startupMsg.Parameters["database"] = config.Database
	}
	if config.ApplicationName != "" {
		startupMsg.Parameters["application_name"] = config.ApplicationName
	}

	if _, err := c.conn.Write(startupMsg.Encode(c.wBuf)); err != nil {
		c.conn.Close()
		return nil, &connectError{config: config, msg: "failed to write startup message", err: err}
	}

	c.status = statusAuthenticating

	for {
		msg, err := c.receiveMessage()
		if err != nil {
			c.conn.Close()
			if pgErr, ok := err.(*PgError); ok {
				if isAuthenticationFailure(pgErr) {
					return nil, &connectError{config: config, msg: "authentication failed", err: &AuthenticationFailedError{err: pgErr}}
				}
				return nil, &connectError{config: config, msg: "server error", err: pgErr}
			}
			return nil, &connectError{config: config, msg: "failed to receive message", err: err}
		}

		switch msg := msg.(type) {
		case *pgproto.BackendKeyData:
			c.pid = msg.ProcessID
			c.secretKey = msg.SecretKey

		case *pgproto.AuthenticationOk:
		case *pgproto.AuthenticationCleartextPassword:
			err = c.txPasswordMessage(config.Password)
			if err != nil {
				c.conn.Close()
				return nil, &connectError{config: config, msg: "failed to write password message", err: err}
			}
		case *pgproto.AuthenticationMD5Password:
			digestedPassword := "md5" + hexMD5(hexMD5(config.Password+config.User)+string(msg.Salt[:]))
			err = c.txPasswordMessage(digestedPassword)
			if err != nil {
				c.conn.Close()
				return nil, &connectError{config: config, msg: "failed to write password message", err: err}
			}
		case *pgproto.AuthenticationSASL:
			err = c.scramAuth(msg.AuthMechanisms, config)
			if err != nil {
				c.conn.Close()
				return nil, &connectError{config: config, msg: "failed SASL auth", err: err}
			}
		case *pgproto.UnknownAuthentication:
			c.conn.Close()
			return nil, &connectError{config: config, msg: "authentication failed", err: &UnsupportedAuthError{TypeCode: msg.TypeCode}}

		case *pgproto.ReadyForQuery:
			c.status = statusReady
			return c, nil

		case *pgproto.ParameterStatus, *pgproto.NoticeResponse:
			// handled by receiveMessage

		case *pgproto.ErrorResponse:
			c.conn.Close()
			pgErr := ErrorResponseToPgError(msg)
			if isAuthenticationFailure(pgErr) {
				return nil, &connectError{config: config, msg: "authentication failed", err: &AuthenticationFailedError{err: pgErr}}
			}
			return nil, pgErr

		default:
			c.conn.Close()
			return nil, &connectError{config: config, msg: "received unexpected message", err: &HandshakeError{msg: "unexpected message during startup"}}
		}
	}
}

// negotiateTLS asks the server whether it speaks TLS and upgrades the stream
// when it does. A declined request is a warning under an opportunistic policy
// and an error under an enforcing one. A failed upgrade is reported as
// TLSRequiredError; Connect decides whether that ends the attempt or falls
// back to plaintext.
func (c *Conn) negotiateTLS(config *cfg.Config) error {
	if _, err := c.conn.Write((&pgproto.SSLRequest{}).Encode(nil)); err != nil {
		return err
	}

	response := make([]byte, 1)
	if _, err := io.ReadFull(c.conn, response); err != nil {
		return err
	}

	switch response[0] {
	case 'S':
	case 'N':
		if config.TLS.Enforce {
			return &TLSRequiredError{}
		}
		if config.OnWarning != nil {
			config.OnWarning("server declined TLS, continuing in plaintext")
		}
		return nil
	default:
		return &HandshakeError{msg: "invalid response to TLS negotiation"}
	}

	upgrade := config.UpgradeTLS
	if upgrade == nil {
		if config.TLSConfig == nil {
			return &TLSRequiredError{err: errors.New("no TLS capability configured")}
		}
		upgrade = func(conn net.Conn) (net.Conn, error) {
			return tls.Client(conn, config.TLSConfig), nil
		}
	}

	upgraded, err := upgrade(c.conn)
	if err != nil {
		return &TLSRequiredError{err: err}
	}
	c.conn = upgraded

	return nil
}

func (c *Conn) txPasswordMessage(password string) (err error) {
	msg := &pgproto.PasswordMessage{Password: password}
	_, err = c.conn.Write(msg.Encode(c.wBuf[:0]))
	return err
}

func hexMD5(s string) string {
	hash := md5.New()
	io.WriteString(hash, s)
	return hex.EncodeToString(hash.Sum(nil))
}
