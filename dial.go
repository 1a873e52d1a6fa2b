//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/tlsdialer.go
//

package xhrproxy

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// Dialer abstracts the [*net.Dialer] behavior.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TLSConn abstracts over [*tls.Conn].
type TLSConn interface {
	ConnectionState() tls.ConnectionState
	HandshakeContext(ctx context.Context) error
	net.Conn
}

// DialConnTransport connects to address and returns a [*ConnTransport]
// owning the new connection.
//
// When tlsConfig is not nil, the connection is secured with TLS and the
// transport speaks HTTP/2 if the server selects "h2" through ALPN. The
// address must be in host:port form.
//
// The caller must Close the returned transport.
func DialConnTransport(ctx context.Context, cfg *Config,
	address string, tlsConfig *tls.Config, logger SLogger) (*ConnTransport, error) {
	var dial Func[string, net.Conn] = NewTCPConnectFunc(cfg, logger)
	if tlsConfig != nil {
		dial = Compose2(dial, Func[net.Conn, net.Conn](NewTLSClientFunc(cfg, tlsConfig, logger)))
	}
	pipeline := Compose2(dial, Func[net.Conn, *ConnTransport](FuncAdapter[net.Conn, *ConnTransport](
		func(ctx context.Context, conn net.Conn) (*ConnTransport, error) {
			return NewConnTransport(cfg, conn, logger), nil
		})))
	return pipeline.Call(ctx, address)
}

// NewTCPConnectFunc returns a new [*TCPConnectFunc].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewTCPConnectFunc(cfg *Config, logger SLogger) *TCPConnectFunc {
	return &TCPConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// TCPConnectFunc dials a host:port endpoint over TCP.
//
// Returns either a valid [net.Conn] or an error, never both.
type TCPConnectFunc struct {
	// Dialer is the [Dialer] to use.
	//
	// Set by [NewTCPConnectFunc] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTCPConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewTCPConnectFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time.
	//
	// Set by [NewTCPConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[string, net.Conn] = &TCPConnectFunc{}

// Call implements [Func].
func (op *TCPConnectFunc) Call(ctx context.Context, address string) (net.Conn, error) {
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.Logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", address),
		slog.Time("t", t0),
	)

	conn, err := op.Dialer.DialContext(ctx, "tcp", address)

	op.Logger.Info(
		"connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", address),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// NewTLSClientFunc returns a new [*TLSClientFunc].
//
// The tlsConfig argument must not be nil. When it does not set NextProtos
// the handshake offers "h2" and "http/1.1".
func NewTLSClientFunc(cfg *Config, tlsConfig *tls.Config, logger SLogger) *TLSClientFunc {
	runtimex.Assert(tlsConfig != nil)
	return &TLSClientFunc{
		Config:        tlsConfig,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		NewClient: func(conn net.Conn, config *tls.Config) TLSConn {
			return tls.Client(conn, config)
		},
		TimeNow: cfg.TimeNow,
	}
}

// TLSClientFunc performs a client TLS handshake over a [net.Conn].
//
// On failure, it closes the connection.
type TLSClientFunc struct {
	// Config is cloned before each handshake.
	//
	// Set by [NewTLSClientFunc] to the user-provided [*tls.Config].
	Config *tls.Config

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTLSClientFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewTLSClientFunc] to the user-provided logger.
	Logger SLogger

	// NewClient wraps a connection into a client [TLSConn].
	//
	// Set by [NewTLSClientFunc] to a function calling [tls.Client].
	NewClient func(conn net.Conn, config *tls.Config) TLSConn

	// TimeNow is the function to get the current time.
	//
	// Set by [NewTLSClientFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &TLSClientFunc{}

// Call implements [Func]. The returned [net.Conn] is a [TLSConn].
func (op *TLSClientFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	config := op.Config.Clone()
	config.Time = op.TimeNow
	if len(config.NextProtos) <= 0 {
		config.NextProtos = []string{"h2", "http/1.1"}
	}

	tconn := op.NewClient(conn, config)
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.Logger.Info(
		"tlsHandshakeStart",
		slog.Time("deadline", deadline),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t", t0),
		slog.Any("tlsOfferedProtocols", config.NextProtos),
		slog.String("tlsServerName", config.ServerName),
	)

	err := tconn.HandshakeContext(ctx)
	state := tconn.ConnectionState()

	op.Logger.Info(
		"tlsHandshakeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
		slog.String("tlsNegotiatedProtocol", state.NegotiatedProtocol),
		slog.String("tlsServerName", config.ServerName),
		slog.String("tlsVersion", tls.VersionName(state.Version)),
	)
	if err != nil {
		tconn.Close()
		return nil, err
	}
	return tconn, nil
}
