/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package cfg

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/chunkreader/v2"
	"github.com/jackc/pgpassfile"
	"github.com/jackc/pgservicefile"

	"pgq/internal/pgproto"
)

// DialFunc is a function that can be used to connect to a PostgreSQL server.
type DialFunc func(network, addr string) (net.Conn, error)

// BuildFrontendFunc is a function that can be used to create a Frontend implementation for a connection.
type BuildFrontendFunc func(r io.Reader, w io.Writer) *pgproto.Frontend

// GetenvFunc is a read-only key/value lookup consulted for libpq-compatible
// variable names when a setting is absent from the connection string. It is
// read once at parse time. A nil GetenvFunc means no environment at all.
type GetenvFunc func(key string) (string, bool)

// UpgradeTLSFunc upgrades an established duplex byte stream to an encrypted
// one, or reports failure. The connection layer depends only on this
// capability and on the TLSPolicy, never on a TLS implementation directly.
type UpgradeTLSFunc func(conn net.Conn) (net.Conn, error)

// WarningFunc receives human-readable non-fatal conditions, such as a
// plaintext fallback after the server declined TLS.
type WarningFunc func(msg string)

// TLSPolicy is what the connection layer needs to know about encryption:
// whether to ask for it at all, and whether plaintext fallback is forbidden.
type TLSPolicy struct {
	// Negotiate controls whether an SSLRequest is sent before the startup
	// message.
	Negotiate bool
	// Enforce fails the connection attempt when the upgrade is declined or
	// fails, instead of falling back to plaintext with a warning.
	Enforce bool
}

// Config is the settings used to establish a connection to a PostgreSQL
// server. It is treated as immutable once a connection has been constructed
// from it.
type Config struct {
	Host            string // host (e.g. localhost) or absolute path to unix domain socket directory (e.g. /private/tmp)
	Port            uint16
	Database        string
	User            string
	Password        string
	ApplicationName string

	TLS        TLSPolicy
	TLSConfig  *tls.Config    // nil disables TLS
	UpgradeTLS UpgradeTLSFunc // nil means tls.Client with TLSConfig

	ConnectTimeout time.Duration
	DialFunc       DialFunc // e.g. net.Dialer.Dial
	BuildFrontend  BuildFrontendFunc
	OnWarning      WarningFunc

	RuntimeParams map[string]string // Run-time parameters to set on connection as session default values (e.g. search_path)
}

// Copy returns a deep copy of the config that is safe to use and modify.
// The only exception is the TLSConfig field:
// according to the tls.Config docs it must not be modified after creation.
func (c *Config) Copy() *Config {
	newConf := new(Config)
	*newConf = *c
	if newConf.TLSConfig != nil {
		newConf.TLSConfig = c.TLSConfig.Clone()
	}
	if newConf.RuntimeParams != nil {
		newConf.RuntimeParams = make(map[string]string, len(c.RuntimeParams))
		for k, v := range c.RuntimeParams {
			newConf.RuntimeParams[k] = v
		}
	}
	return newConf
}

// NetworkAddress converts a PostgreSQL host and port into network and address suitable for use with
// net.Dial.
func NetworkAddress(host string, port uint16) (network, address string) {
	if strings.HasPrefix(host, "/") {
		network = "unix"
		address = filepath.Join(host, ".s.PGSQL.") + strconv.FormatInt(int64(port), 10)
	} else {
		network = "tcp"
		address = net.JoinHostPort(host, strconv.Itoa(int(port)))
	}
	return network, address
}

// ParseConfig builds a Config from a connection string, either a URL
// (postgres:// or postgresql://) or a key=value DSN, using the process
// environment for libpq-compatible fallbacks.
func (c *Config) ParseConfig(connString string) error {
	return c.ParseConfigWithEnv(connString, os.LookupEnv)
}

// ParseConfigWithEnv is ParseConfig with an explicit environment capability.
// Pass nil to resolve without any environment.
func (c *Config) ParseConfigWithEnv(connString string, getenv GetenvFunc) error {
	defaultSettings := defaultSettings()
	envSettings := parseEnvSettings(getenv)

	connStringSettings := make(map[string]string)
	if connString != "" {
		var err error
		// connString may be a database URL or a DSN
		if strings.HasPrefix(connString, "postgres://") || strings.HasPrefix(connString, "postgresql://") {
			connStringSettings, err = parseURLSettings(connString)
			if err != nil {
				return &parseConfigError{connString: connString, msg: "failed to parse as URL", err: err}
			}
		} else {
			connStringSettings, err = parseDSNSettings(connString)
			if err != nil {
				return &parseConfigError{connString: connString, msg: "failed to parse as DSN", err: err}
			}
		}
	}

	settings := mergeSettings(defaultSettings, envSettings, connStringSettings)
	if service, present := settings["service"]; present {
		serviceSettings, err := parseServiceSettings(settings["servicefile"], service)
		if err != nil {
			return &parseConfigError{connString: connString, msg: "failed to read service", err: err}
		}

		settings = mergeSettings(defaultSettings, envSettings, serviceSettings, connStringSettings)
	}

	minReadBufferSize, err := strconv.ParseInt(settings["min_read_buffer_size"], 10, 32)
	if err != nil {
		return &parseConfigError{connString: connString, msg: "cannot parse min_read_buffer_size", err: err}
	}

	c.Database = settings["database"]
	c.User = settings["user"]
	c.Password = settings["password"]
	c.ApplicationName = settings["application_name"]
	c.RuntimeParams = make(map[string]string)
	c.BuildFrontend = makeDefaultBuildFrontendFunc(int(minReadBufferSize))

	if connectTimeoutSetting, present := settings["connect_timeout"]; present {
		connectTimeout, err := parseConnectTimeoutSetting(connectTimeoutSetting)
		if err != nil {
			return &parseConfigError{connString: connString, msg: "invalid connect_timeout", err: err}
		}
		c.ConnectTimeout = connectTimeout
		c.DialFunc = makeConnectTimeoutDialFunc(connectTimeout)
	} else {
		defaultDialer := makeDefaultDialer()
		c.DialFunc = defaultDialer.Dial
	}

	notRuntimeParams := map[string]struct{}{
		"host":                 {},
		"port":                 {},
		"database":             {},
		"user":                 {},
		"password":             {},
		"passfile":             {},
		"application_name":     {},
		"connect_timeout":      {},
		"sslmode":              {},
		"sslkey":               {},
		"sslcert":              {},
		"sslrootcert":          {},
		"min_read_buffer_size": {},
		"service":              {},
		"servicefile":          {},
	}

	for k, v := range settings {
		if _, present := notRuntimeParams[k]; present {
			continue
		}
		c.RuntimeParams[k] = v
	}

	c.Host = settings["host"]
	port, err := parsePort(settings["port"])
	if err != nil {
		return &parseConfigError{connString: connString, msg: "invalid port", err: err}
	}
	c.Port = port

	// Ignore TLS settings if Unix domain socket like libpq
	if network, _ := NetworkAddress(c.Host, c.Port); network == "unix" {
		c.TLS = TLSPolicy{}
		c.TLSConfig = nil
	} else {
		tlsConfig, policy, err := configTLS(settings, c.Host)
		if err != nil {
			return &parseConfigError{connString: connString, msg: "failed to configure TLS", err: err}
		}
		c.TLS = policy
		c.TLSConfig = tlsConfig
	}
	if c.TLSConfig != nil {
		c.UpgradeTLS = makeDefaultUpgradeTLSFunc(c.TLSConfig)
	}

	passfile, err := pgpassfile.ReadPassfile(settings["passfile"])
	if err == nil {
		if c.Password == "" {
			host := c.Host
			if network, _ := NetworkAddress(c.Host, c.Port); network == "unix" {
				host = "localhost"
			}

			c.Password = passfile.FindPassword(host, strconv.Itoa(int(c.Port)), c.Database, c.User)
		}
	}

	return nil
}

func mergeSettings(settingSets ...map[string]string) map[string]string {
	settings := make(map[string]string)

	for _, s2 := range settingSets {
		for k, v := range s2 {
			settings[k] = v
		}
	}

	return settings
}

func defaultSettings() map[string]string {
	settings := make(map[string]string)

	settings["host"] = "localhost"
	settings["port"] = "5432"
	settings["application_name"] = "pgq"
	settings["min_read_buffer_size"] = "8192"

	return settings
}

func parseEnvSettings(getenv GetenvFunc) map[string]string {
	settings := make(map[string]string)
	if getenv == nil {
		return settings
	}

	nameMap := map[string]string{
		"PGHOST":            "host",
		"PGPORT":            "port",
		"PGDATABASE":        "database",
		"PGUSER":            "user",
		"PGPASSWORD":        "password",
		"PGPASSFILE":        "passfile",
		"PGAPPNAME":         "application_name",
		"PGCONNECT_TIMEOUT": "connect_timeout",
		"PGSSLMODE":         "sslmode",
		"PGSSLKEY":          "sslkey",
		"PGSSLCERT":         "sslcert",
		"PGSSLROOTCERT":     "sslrootcert",
		"PGSERVICE":         "service",
		"PGSERVICEFILE":     "servicefile",
	}

	for envname, realname := range nameMap {
		value, ok := getenv(envname)
		if ok && value != "" {
			settings[realname] = value
		}
	}

	return settings
}

func parseURLSettings(connString string) (map[string]string, error) {
	settings := make(map[string]string)

	url, err := url.Parse(connString)
	if err != nil {
		return nil, err
	}

	if url.User != nil {
		settings["user"] = url.User.Username()
		if password, present := url.User.Password(); present {
			settings["password"] = password
		}
	}

	if host := url.Hostname(); host != "" {
		settings["host"] = host
	}
	if port := url.Port(); port != "" {
		settings["port"] = port
	}

	database := strings.TrimLeft(url.Path, "/")
	if database != "" {
		settings["database"] = database
	}

	nameMap := map[string]string{
		"dbname": "database",
	}

	for k, v := range url.Query() {
		if k2, present := nameMap[k]; present {
			k = k2
		}

		settings[k] = v[0]
	}

	return settings, nil
}

var asciiSpace = [256]uint8{'\t': 1, '\n': 1, '\v': 1, '\f': 1, '\r': 1, ' ': 1}

func parseDSNSettings(s string) (map[string]string, error) {
	settings := make(map[string]string)

	nameMap := map[string]string{
		"dbname": "database",
	}

	for len(s) > 0 {
		var key, val string
		eqIdx := strings.IndexRune(s, '=')
		if eqIdx < 0 {
			return nil, errors.New("invalid dsn")
		}

		key = strings.Trim(s[:eqIdx], " \t\n\r\v\f")
		s = strings.TrimLeft(s[eqIdx+1:], " \t\n\r\v\f")
		if len(s) == 0 {
		} else if s[0] != '\'' {
			end := 0
			for ; end < len(s); end++ {
				if asciiSpace[s[end]] == 1 {
					break
				}
				if s[end] == '\\' {
					end++
					if end == len(s) {
						return nil, errors.New("invalid backslash")
					}
				}
			}
			val = strings.Replace(strings.Replace(s[:end], "\\\\", "\\", -1), "\\'", "'", -1)
			if end == len(s) {
				s = ""
			} else {
				s = s[end+1:]
			}
		} else { // quoted string
			s = s[1:]
			end := 0
			for ; end < len(s); end++ {
				if s[end] == '\'' {
					break
				}
				if s[end] == '\\' {
					end++
				}
			}
			if end == len(s) {
				return nil, errors.New("unterminated quoted string in connection info string")
			}
			val = strings.Replace(strings.Replace(s[:end], "\\\\", "\\", -1), "\\'", "'", -1)
			if end == len(s) {
				s = ""
			} else {
				s = s[end+1:]
			}
		}

		if k, ok := nameMap[key]; ok {
			key = k
		}

		if key == "" {
			return nil, errors.New("invalid dsn")
		}

		settings[key] = val
	}

	return settings, nil
}

func parseServiceSettings(servicefilePath, serviceName string) (map[string]string, error) {
	servicefile, err := pgservicefile.ReadServicefile(servicefilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read service file: %v", servicefilePath)
	}

	service, err := servicefile.GetService(serviceName)
	if err != nil {
		return nil, fmt.Errorf("unable to find service: %v", serviceName)
	}

	nameMap := map[string]string{
		"dbname": "database",
	}

	settings := make(map[string]string, len(service.Settings))
	for k, v := range service.Settings {
		if k2, present := nameMap[k]; present {
			k = k2
		}
		settings[k] = v
	}

	return settings, nil
}

// configTLS uses libpq's TLS parameters to construct a *tls.Config and the
// negotiate/enforce policy the connection layer acts on.
func configTLS(settings map[string]string, thisHost string) (*tls.Config, TLSPolicy, error) {
	host := thisHost
	sslmode := settings["sslmode"]
	sslrootcert := settings["sslrootcert"]
	sslcert := settings["sslcert"]
	sslkey := settings["sslkey"]

	// Match libpq default behavior
	if sslmode == "" {
		sslmode = "prefer"
	}

	tlsConfig := &tls.Config{}
	policy := TLSPolicy{Negotiate: true}

	switch sslmode {
	case "disable":
		return nil, TLSPolicy{}, nil
	case "allow", "prefer":
		tlsConfig.InsecureSkipVerify = true
	case "require":
		// According to PostgreSQL documentation, if a root CA file exists,
		// the behavior of sslmode=require should be the same as that of verify-ca
		//
		// See https://www.postgresql.org/docs/12/libpq-ssl.html
		policy.Enforce = true
		if sslrootcert != "" {
			goto nextCase
		}
		tlsConfig.InsecureSkipVerify = true
		break
	nextCase:
		fallthrough
	case "verify-ca":
		// Don't perform the default certificate verification because it
		// will verify the hostname. Instead, verify the server's
		// certificate chain ourselves in VerifyPeerCertificate and
		// ignore the server name. This emulates libpq's verify-ca
		// behavior.
		//
		// See https://github.com/golang/go/issues/21971#issuecomment-332693931
		// and https://pkg.go.dev/crypto/tls?tab=doc#example-Config-VerifyPeerCertificate
		// for more info.
		policy.Enforce = true
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyPeerCertificate = func(certificates [][]byte, _ [][]*x509.Certificate) error {
			certs := make([]*x509.Certificate, len(certificates))
			for i, asn1Data := range certificates {
				cert, err := x509.ParseCertificate(asn1Data)
				if err != nil {
					return errors.New("failed to parse certificate from server: " + err.Error())
				}
				certs[i] = cert
			}

			// Leave DNSName empty to skip hostname verification.
			opts := x509.VerifyOptions{
				Roots:         tlsConfig.RootCAs,
				Intermediates: x509.NewCertPool(),
			}
			// Skip the first cert because it's the leaf. All others
			// are intermediates.
			for _, cert := range certs[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := certs[0].Verify(opts)
			return err
		}
	case "verify-full":
		policy.Enforce = true
		tlsConfig.ServerName = host
	default:
		return nil, TLSPolicy{}, errors.New("sslmode is invalid")
	}

	if sslrootcert != "" {
		caCertPool := x509.NewCertPool()

		caPath := sslrootcert
		caCert, err := ioutil.ReadFile(caPath)
		if err != nil {
			return nil, TLSPolicy{}, fmt.Errorf("unable to read CA file: %w", err)
		}

		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, TLSPolicy{}, errors.New("unable to add CA to cert pool")
		}

		tlsConfig.RootCAs = caCertPool
		tlsConfig.ClientCAs = caCertPool
	}

	if (sslcert != "" && sslkey == "") || (sslcert == "" && sslkey != "") {
		return nil, TLSPolicy{}, errors.New(`both "sslcert" and "sslkey" are required`)
	}

	if sslcert != "" && sslkey != "" {
		cert, err := tls.LoadX509KeyPair(sslcert, sslkey)
		if err != nil {
			return nil, TLSPolicy{}, fmt.Errorf("unable to read cert: %w", err)
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, policy, nil
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	if port < 1 {
		return 0, errors.New("outside range")
	}
	return uint16(port), nil
}

func makeDefaultDialer() *net.Dialer {
	return &net.Dialer{KeepAlive: 5 * time.Minute}
}

func makeDefaultBuildFrontendFunc(minBufferLen int) BuildFrontendFunc {
	return func(r io.Reader, w io.Writer) *pgproto.Frontend {
		cr, err := chunkreader.NewConfig(r, chunkreader.Config{MinBufLen: minBufferLen})
		if err != nil {
			panic(fmt.Sprintf("BUG: chunkreader.NewConfig failed: %v", err))
		}
		frontend := pgproto.NewFrontend(cr, w)

		return frontend
	}
}

func makeDefaultUpgradeTLSFunc(tlsConfig *tls.Config) UpgradeTLSFunc {
	return func(conn net.Conn) (net.Conn, error) {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			return nil, err
		}
		return tlsConn, nil
	}
}

func parseConnectTimeoutSetting(s string) (time.Duration, error) {
	timeout, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if timeout < 0 {
		return 0, errors.New("negative timeout")
	}
	return time.Duration(timeout) * time.Second, nil
}

func makeConnectTimeoutDialFunc(timeout time.Duration) DialFunc {
	d := makeDefaultDialer()
	d.Timeout = timeout
	return d.Dial
}
