package pgproto

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/config"
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// State is the connection's position in its state graph:
// Closed -> Startup -> [auth...] -> BackendKeyData -> Ready,
// Ready <-> InQuery, Ready -> Terminated. Any transition outside this
// graph is a protocol error that poisons the connection.
type State int

const (
	StateClosed State = iota
	StateStartup
	StateReady
	StateInQuery
	StateTerminated
)

// NoticeSink receives NoticeResponse messages off the read loop. The
// loop never blocks on it; a sink that wants to do I/O must hand off
// to its own goroutine.
type NoticeSink func(PGError)

// Conn is one PostgreSQL v3 protocol connection: the state machine, the
// statement cache, and the buffered codec it reads and writes through.
// It is the full connection object the pool acquires, the cursor layer
// drives, and the extended-query path calls repeatedly.
type Conn struct {
	netConn net.Conn
	r       *wire.Reader
	w       *wire.Writer
	opts    config.ConnectOptions

	state    State
	txStatus TransactionStatus
	params   map[string]string
	pid      uint32
	secret   uint32

	stmts *stmtCache

	noticeSink NoticeSink
	poisoned   error
}

// Connect dials, optionally upgrades to TLS, and runs the startup and
// authentication sequence through this package's buffered Conn.
func Connect(ctx context.Context, opts config.ConnectOptions) (*Conn, error) {
	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	addr := opts.Socket
	network := "unix"
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", opts.Host, opts.Port)
		network = "tcp"
	}
	nc, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: dialing %s", addr)
	}

	c := &Conn{
		netConn: nc,
		opts:    opts,
		state:   StateStartup,
		params:  make(map[string]string),
		stmts:   newStmtCache(opts.StatementCacheCapacity),
	}

	if opts.TLSMode != config.TLSDisabled {
		if err := c.upgradeTLS(); err != nil {
			nc.Close()
			return nil, err
		}
	}
	c.r = wire.NewReader(c.netConn)
	c.w = wire.NewWriter(c.netConn)

	if err := c.startup(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// upgradeTLS sends SSLRequest and, on an 'S' reply, performs the TLS
// handshake in place over netConn.
func (c *Conn) upgradeTLS() error {
	var req [8]byte
	wire.PutUint32BE(req[0:4], 8)
	wire.PutUint32BE(req[4:8], sslRequestCode)
	if _, err := c.netConn.Write(req[:]); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: sending SSLRequest")
	}

	var reply [1]byte
	if _, err := c.netConn.Read(reply[:]); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: reading SSLRequest reply")
	}

	switch reply[0] {
	case 'N':
		if c.opts.TLSMode == config.TLSPreferred {
			return nil
		}
		return sqlcore.Wrap(sqlcore.KindTLS, nil, "pgproto: server refused TLS and mode requires it")
	case 'S':
		cfg := &tls.Config{ServerName: c.opts.Host}
		switch c.opts.TLSMode {
		case config.TLSPreferred, config.TLSRequired:
			cfg.InsecureSkipVerify = true
		case config.TLSVerifyCA:
			cfg.InsecureSkipVerify = true
			if pool, err := loadCAPool(c.opts.TLSRootCert); err == nil {
				cfg.RootCAs = pool
				cfg.InsecureSkipVerify = false
				cfg.VerifyPeerCertificate = verifyCAOnly(pool)
			}
		case config.TLSVerifyFull:
			if c.opts.TLSRootCert != "" {
				pool, err := loadCAPool(c.opts.TLSRootCert)
				if err != nil {
					return sqlcore.Wrap(sqlcore.KindTLS, err, "pgproto: loading root CA")
				}
				cfg.RootCAs = pool
			}
		}
		if c.opts.TLSCert != "" && c.opts.TLSKey != "" {
			cert, err := tls.LoadX509KeyPair(c.opts.TLSCert, c.opts.TLSKey)
			if err != nil {
				return sqlcore.Wrap(sqlcore.KindTLS, err, "pgproto: loading client certificate")
			}
			cfg.Certificates = []tls.Certificate{cert}
		}
		tlsConn := tls.Client(c.netConn, cfg)
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			return sqlcore.Wrap(sqlcore.KindTLS, err, "pgproto: TLS handshake")
		}
		c.netConn = tlsConn
		return nil
	default:
		return wire.NewProtocolError("pgproto: unexpected SSLRequest reply byte %q", reply[0])
	}
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("pgproto: no certificates parsed from %s", path)
	}
	return pool, nil
}

func verifyCAOnly(pool *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("pgproto: no server certificate presented")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return err
		}
		_, err = cert.Verify(x509.VerifyOptions{Roots: pool})
		return err
	}
}

// startup writes StartupMessage and drives the authentication and
// parameter-exchange loop through to the first ReadyForQuery.
func (c *Conn) startup() error {
	var body []byte
	var ver [4]byte
	wire.PutUint32BE(ver[:], protocolVersion3)
	body = append(body, ver[:]...)
	body = appendParam(body, "user", c.opts.Username)
	body = appendParam(body, "database", c.opts.Database)
	body = appendParam(body, "client_encoding", "UTF8")
	if c.opts.ApplicationName != "" {
		body = appendParam(body, "application_name", c.opts.ApplicationName)
	}
	for k, v := range c.opts.ConnectAttributes {
		body = appendParam(body, k, v)
	}
	body = append(body, 0)

	if err := writeUntypedMessage(c.w, body); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: sending startup message")
	}
	if err := c.w.Flush(); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: flushing startup message")
	}

	for {
		m, err := readMessage(c.r)
		if err != nil {
			return sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: reading startup response")
		}
		switch m.Type {
		case msgAuthentication:
			if err := c.handleAuth(m.Payload); err != nil {
				return err
			}
			if err := c.w.Flush(); err != nil {
				return sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: flushing auth response")
			}
		case msgParameterStatus:
			key, val, ok := parseCStringPair(m.Payload)
			if ok {
				c.params[key] = val
			}
		case msgBackendKeyData:
			if len(m.Payload) >= 8 {
				c.pid = wire.Uint32BE(m.Payload[:4])
				c.secret = wire.Uint32BE(m.Payload[4:8])
			}
		case msgReadyForQuery:
			if len(m.Payload) < 1 {
				return wire.NewProtocolError("pgproto: empty ReadyForQuery payload")
			}
			c.txStatus = TransactionStatus(m.Payload[0])
			c.state = StateReady
			return nil
		case msgErrorResponse:
			return parseFields(m.Payload).asSqlcoreError()
		case msgNoticeResponse:
			c.dispatchNotice(m.Payload)
		default:
			// Unknown message types during startup are skipped.
		}
	}
}

func appendParam(body []byte, key, val string) []byte {
	body = wire.CString(body, key)
	return wire.CString(body, val)
}

func parseCStringPair(data []byte) (string, string, bool) {
	key, pos, ok := wire.ReadCString(data, 0)
	if !ok {
		return "", "", false
	}
	val, _, ok := wire.ReadCString(data, pos)
	if !ok {
		return "", "", false
	}
	return key, val, true
}

func (c *Conn) dispatchNotice(payload []byte) {
	if c.noticeSink == nil {
		return
	}
	c.noticeSink(parseFields(payload))
}

// SetNoticeSink installs the sink NoticeResponse messages are routed to.
func (c *Conn) SetNoticeSink(sink NoticeSink) { c.noticeSink = sink }

// TransactionStatus reports the backend's last-reported transaction state.
func (c *Conn) TransactionStatus() TransactionStatus { return c.txStatus }

// Parameter looks up a value reported via ParameterStatus (e.g. "server_version").
func (c *Conn) Parameter(key string) string { return c.params[key] }

// BackendPID returns the backend process id from BackendKeyData.
func (c *Conn) BackendPID() uint32 { return c.pid }

// Poisoned reports whether this connection must be dropped rather than
// reused.
func (c *Conn) Poisoned() error {
	if c.poisoned != nil {
		return c.poisoned
	}
	return c.r.Poisoned()
}

func (c *Conn) poison(err error) error {
	if err != nil {
		c.poisoned = err
		c.state = StateTerminated
	}
	return err
}

// Close sends Terminate (best-effort) and closes the socket.
func (c *Conn) Close() error {
	if c.state != StateTerminated && c.state != StateClosed {
		_ = writeMessage(c.w, msgTerminate, nil)
		_ = c.w.Flush()
	}
	c.state = StateClosed
	return c.netConn.Close()
}

// Ping validates liveness with a trivial SELECT round trip rather than
// a raw deadline-bounded socket read, avoiding corruption of protocol
// framing state.
func (c *Conn) Ping(ctx context.Context) error {
	if c.Poisoned() != nil {
		return c.Poisoned()
	}
	if dl, ok := ctx.Deadline(); ok {
		c.netConn.SetDeadline(dl)
		defer c.netConn.SetDeadline(time.Time{})
	}
	_, err := c.SimpleQuery("SELECT 1")
	return err
}
