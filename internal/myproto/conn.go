package myproto

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/config"
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// State is this connection's position in the command-queue state
// machine: Closed -> Handshake -> Ready, Ready <-> InCommand (draining
// a queued Simple/Query/Prepare/Close entry), Ready -> Terminated.
type State int

const (
	StateClosed State = iota
	StateHandshake
	StateReady
	StateInCommand
	StateTerminated
)

// Conn is one MySQL/MariaDB protocol connection: the full connection
// object the pool acquires and the cursor layer drives repeatedly.
type Conn struct {
	netConn net.Conn
	r       *wire.Reader
	w       *wire.Writer
	opts    config.ConnectOptions

	seq          byte
	capabilities uint32
	state        State
	serverStatus uint16

	stmts *stmtCache

	poisoned error
}

// Connect dials, runs the HandshakeV10/HandshakeResponse41 exchange
// (including TLS upgrade and auth-plugin negotiation), and returns a
// ready connection. Supports mysql_native_password,
// caching_sha2_password, sha256_password, and mysql_clear_password.
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
		return nil, sqlcore.Wrap(sqlcore.KindIO, err, "myproto: dialing %s", addr)
	}

	c := &Conn{
		netConn: nc,
		opts:    opts,
		state:   StateHandshake,
		stmts:   newStmtCache(opts.StatementCacheCapacity),
	}
	c.r = wire.NewReader(c.netConn)
	c.w = wire.NewWriter(c.netConn)

	if err := c.handshake(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) handshake() error {
	pkt, err := readPacket(c.r)
	if err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading initial handshake packet")
	}
	if len(pkt.Payload) > 0 && pkt.Payload[0] == respErr {
		e := parseErrPacket(pkt.Payload, true)
		return e.asSqlcoreError()
	}
	hs, err := parseHandshakeV10(pkt.Payload)
	if err != nil {
		return err
	}
	c.seq = pkt.Seq + 1

	caps := clientCapabilities & hs.Capabilities
	if c.opts.Compress && hs.Capabilities&capCompress != 0 {
		caps |= capCompress
	}
	c.capabilities = caps

	wantTLS := c.opts.TLSMode != config.TLSDisabled && hs.Capabilities&capSSL != 0
	if wantTLS {
		if err := c.sendSSLRequest(caps | capSSL); err != nil {
			return err
		}
		tlsConn := tls.Client(c.netConn, &tls.Config{ServerName: c.opts.Host, InsecureSkipVerify: c.opts.TLSMode < config.TLSVerifyCA})
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			return sqlcore.Wrap(sqlcore.KindTLS, err, "myproto: TLS handshake")
		}
		c.netConn = tlsConn
		c.r = wire.NewReader(c.netConn)
		c.w = wire.NewWriter(c.netConn)
		caps |= capSSL
		c.capabilities = caps
	}

	authResp, err := computeAuthResponse(hs.AuthPluginName, c.opts.Password, hs.AuthPluginData)
	if err != nil {
		return err
	}
	if err := c.sendHandshakeResponse(caps, hs.AuthPluginName, authResp); err != nil {
		return err
	}

	if err := c.finishAuth(hs.AuthPluginName, hs.AuthPluginData); err != nil {
		return err
	}

	if caps&capCompress != 0 {
		c.r = wire.NewReader(newCompressedReader(c.netConn))
		c.w = wire.NewWriter(newCompressedWriter(c.netConn))
	}
	return nil
}

func (c *Conn) sendSSLRequest(caps uint32) error {
	var buf [32]byte
	wire.PutUint32LE(buf[0:4], caps)
	wire.PutUint32LE(buf[4:8], 1<<24-1)
	buf[8] = 0x2d // utf8mb4_general_ci
	if err := writePacket(c.w, buf[:], &c.seq); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "myproto: sending SSLRequest")
	}
	return c.w.Flush()
}

func (c *Conn) sendHandshakeResponse(caps uint32, plugin string, authResp []byte) error {
	var resp []byte
	var capBuf [4]byte
	wire.PutUint32LE(capBuf[:], caps)
	resp = append(resp, capBuf[:]...)
	resp = append(resp, 0xff, 0xff, 0xff, 0x00) // max_packet_size
	resp = append(resp, 0x2d)                   // utf8mb4_general_ci
	resp = append(resp, make([]byte, 23)...)
	resp = append(resp, []byte(c.opts.Username)...)
	resp = append(resp, 0)

	if caps&capPluginAuthLenencData != 0 {
		resp = wire.PutLenencString(resp, string(authResp))
	} else {
		resp = append(resp, byte(len(authResp)))
		resp = append(resp, authResp...)
	}

	if caps&capConnectWithDB != 0 {
		resp = append(resp, []byte(c.opts.Database)...)
		resp = append(resp, 0)
	}
	if caps&capPluginAuth != 0 {
		resp = append(resp, []byte(plugin)...)
		resp = append(resp, 0)
	}
	if caps&capConnectAttrs != 0 && len(c.opts.ConnectAttributes) > 0 {
		var attrs []byte
		for k, v := range c.opts.ConnectAttributes {
			attrs = wire.PutLenencString(attrs, k)
			attrs = wire.PutLenencString(attrs, v)
		}
		resp = wire.PutLenencInt(resp, uint64(len(attrs)))
		resp = append(resp, attrs...)
	}

	if err := writePacket(c.w, resp, &c.seq); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "myproto: sending HandshakeResponse41")
	}
	return c.w.Flush()
}

// finishAuth reads the post-HandshakeResponse reply and follows
// AuthSwitchRequest / caching_sha2 fast-auth-then-full-auth chains
// through to OK.
func (c *Conn) finishAuth(plugin string, challenge []byte) error {
	for {
		pkt, err := readPacket(c.r)
		if err != nil {
			return sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading auth result")
		}
		if len(pkt.Payload) == 0 {
			return wire.NewProtocolError("myproto: empty auth response")
		}
		c.seq = pkt.Seq + 1

		switch pkt.Payload[0] {
		case respOK:
			c.state = StateReady
			return nil
		case respErr:
			return parseErrPacket(pkt.Payload, true).asSqlcoreError()
		case respAuthSwitch:
			if len(pkt.Payload) == 2 && plugin == "caching_sha2_password" {
				// caching_sha2 fast-auth status byte, not a true
				// AuthSwitchRequest: 0x03 success, 0x04 request full auth.
				switch pkt.Payload[1] {
				case cachingSHA2FastAuthSuccess:
					continue
				case cachingSHA2FullAuthStart:
					if err := c.cachingSHA2FullAuth(challenge); err != nil {
						return err
					}
					continue
				}
			}
			newPlugin, newData, err := parseAuthSwitch(pkt.Payload)
			if err != nil {
				return err
			}
			resp, err := computeAuthResponse(newPlugin, c.opts.Password, newData)
			if err != nil {
				return err
			}
			if err := writePacket(c.w, resp, &c.seq); err != nil {
				return sqlcore.Wrap(sqlcore.KindIO, err, "myproto: sending auth switch response")
			}
			if err := c.w.Flush(); err != nil {
				return sqlcore.Wrap(sqlcore.KindIO, err, "myproto: flushing auth switch response")
			}
			plugin = newPlugin
			challenge = newData
		default:
			return wire.NewProtocolError("myproto: unexpected auth response byte 0x%02x", pkt.Payload[0])
		}
	}
}

func parseAuthSwitch(pkt []byte) (plugin string, data []byte, err error) {
	name, pos, ok := wire.ReadCString(pkt, 1)
	if !ok {
		return "", nil, wire.NewProtocolError("myproto: malformed AuthSwitchRequest")
	}
	rest := pkt[pos:]
	if len(rest) > 0 && rest[len(rest)-1] == 0 {
		rest = rest[:len(rest)-1]
	}
	return name, rest, nil
}

// cachingSHA2FullAuth completes the full-auth exchange: over TLS it sends
// the cleartext password; otherwise it requests the server's RSA public
// key and sends the password encrypted with it.
func (c *Conn) cachingSHA2FullAuth(challenge []byte) error {
	if _, ok := c.netConn.(*tls.Conn); ok {
		// Over TLS the clear password may be sent directly.
		if err := writePacket(c.w, append([]byte(c.opts.Password), 0), &c.seq); err != nil {
			return sqlcore.Wrap(sqlcore.KindIO, err, "myproto: sending full-auth cleartext password")
		}
		return c.w.Flush()
	}

	if err := writePacket(c.w, []byte{0x02}, &c.seq); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "myproto: requesting RSA public key")
	}
	if err := c.w.Flush(); err != nil {
		return err
	}
	pkt, err := readPacket(c.r)
	if err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading RSA public key")
	}
	c.seq = pkt.Seq + 1
	if len(pkt.Payload) > 0 && pkt.Payload[0] == respErr {
		return parseErrPacket(pkt.Payload, true).asSqlcoreError()
	}
	// Payload is the PEM key, prefixed by a status byte (0x01) on some
	// servers; strip it if present.
	pem := pkt.Payload
	if len(pem) > 0 && pem[0] == 0x01 {
		pem = pem[1:]
	}
	encrypted, err := encryptPasswordRSA(c.opts.Password, challenge, pem)
	if err != nil {
		return err
	}
	if err := writePacket(c.w, encrypted, &c.seq); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "myproto: sending RSA-encrypted password")
	}
	return c.w.Flush()
}

// Poisoned reports whether this connection must be dropped.
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

// Close sends COM_QUIT (best-effort) and closes the socket.
func (c *Conn) Close() error {
	if c.state != StateTerminated && c.state != StateClosed {
		c.seq = 0
		_ = writePacket(c.w, []byte{comQuit}, &c.seq)
		_ = c.w.Flush()
	}
	c.state = StateClosed
	return c.netConn.Close()
}

// Ping issues COM_PING, the MySQL command the protocol defines for a
// liveness check, rather than a raw timing-based byte read.
func (c *Conn) Ping(ctx context.Context) error {
	if c.Poisoned() != nil {
		return c.Poisoned()
	}
	c.seq = 0
	if err := writePacket(c.w, []byte{comPing}, &c.seq); err != nil {
		return c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: sending COM_PING"))
	}
	if err := c.w.Flush(); err != nil {
		return c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: flushing COM_PING"))
	}
	pkt, err := readPacket(c.r)
	if err != nil {
		return c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading COM_PING reply"))
	}
	if len(pkt.Payload) > 0 && pkt.Payload[0] == respErr {
		return parseErrPacket(pkt.Payload, true).asSqlcoreError()
	}
	return nil
}
