package pgproto

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dbbouncer/sqlcore/config"
)

// fakeServer is a minimal in-process Postgres backend: enough of the
// startup sequence to drive Conn.Connect through AuthenticationOK,
// ParameterStatus, BackendKeyData, and ReadyForQuery, without a real
// postgres instance.
type fakeServer struct {
	ln   net.Listener
	addr string
	port int
}

func startFakeServer(t *testing.T, handle func(net.Conn)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	fs := &fakeServer{ln: ln, addr: ln.Addr().String(), port: port}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
	t.Cleanup(func() { ln.Close() })
	return fs
}

func writeBackendMessage(conn net.Conn, typ byte, payload []byte) {
	var hdr [5]byte
	hdr[0] = typ
	n := uint32(4 + len(payload))
	hdr[1], hdr[2], hdr[3], hdr[4] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
	conn.Write(hdr[:])
	if len(payload) > 0 {
		conn.Write(payload)
	}
}

func cstr(s string) []byte { return append([]byte(s), 0) }

func readBackendHeader(conn net.Conn) (byte, int) {
	var hdr [5]byte
	if _, err := readFull(conn, hdr[:]); err != nil {
		return 0, 0
	}
	n := int(uint32(hdr[1])<<24|uint32(hdr[2])<<16|uint32(hdr[3])<<8|uint32(hdr[4])) - 4
	return hdr[0], n
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// acceptStartupTrivialAuth reads a StartupMessage (ignoring its body) and
// replies AuthenticationOK, a couple of ParameterStatus messages,
// BackendKeyData, then ReadyForQuery(idle) - the no-password happy path.
func acceptStartupTrivialAuth(conn net.Conn) {
	defer conn.Close()
	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		return
	}
	n := int(uint32(lenBuf[0])<<24 | uint32(lenBuf[1])<<16 | uint32(lenBuf[2])<<8 | uint32(lenBuf[3]))
	body := make([]byte, n-4)
	readFull(conn, body)

	writeBackendMessage(conn, 'R', []byte{0, 0, 0, 0})
	writeBackendMessage(conn, 'S', append(cstr("server_version"), cstr("16.0")...))
	writeBackendMessage(conn, 'K', []byte{0, 0, 0, 42, 0, 0, 0, 7})
	writeBackendMessage(conn, 'Z', []byte{'I'})
}

func TestConnectHandshakeReachesReadyState(t *testing.T) {
	fs := startFakeServer(t, acceptStartupTrivialAuth)

	opts := config.ConnectOptions{
		Host:           "127.0.0.1",
		Port:           fs.port,
		Username:       "tester",
		Database:       "testdb",
		ConnectTimeout: 2 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if c.state != StateReady {
		t.Errorf("state = %v, want StateReady", c.state)
	}
	if c.TransactionStatus() != TxIdle {
		t.Errorf("TransactionStatus() = %v, want TxIdle", c.TransactionStatus())
	}
	if c.BackendPID() != 42 {
		t.Errorf("BackendPID() = %d, want 42", c.BackendPID())
	}
	if v := c.Parameter("server_version"); v != "16.0" {
		t.Errorf("Parameter(server_version) = %q, want 16.0", v)
	}
}

// acceptStartupCleartext demands a cleartext password and rejects
// anything but "correct-password", exercising handleAuth's
// authCleartextPassword branch end to end.
func acceptStartupCleartext(conn net.Conn) {
	defer conn.Close()
	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		return
	}
	n := int(uint32(lenBuf[0])<<24 | uint32(lenBuf[1])<<16 | uint32(lenBuf[2])<<8 | uint32(lenBuf[3]))
	body := make([]byte, n-4)
	readFull(conn, body)

	writeBackendMessage(conn, 'R', []byte{0, 0, 0, 3}) // authCleartextPassword

	typ, plen := readBackendHeader(conn)
	if typ != 'p' {
		writeBackendMessage(conn, 'E', severityFieldedError("unexpected message"))
		return
	}
	pw := make([]byte, plen)
	readFull(conn, pw)
	pw = pw[:len(pw)-1] // trim trailing NUL

	if string(pw) != "correct-password" {
		writeBackendMessage(conn, 'E', severityFieldedError("password authentication failed"))
		return
	}
	writeBackendMessage(conn, 'R', []byte{0, 0, 0, 0})
	writeBackendMessage(conn, 'Z', []byte{'I'})
}

func severityFieldedError(msg string) []byte {
	var out []byte
	out = append(out, 'S')
	out = append(out, cstr("FATAL")...)
	out = append(out, 'M')
	out = append(out, cstr(msg)...)
	out = append(out, 0)
	return out
}

func TestConnectCleartextAuthRejectsWrongPassword(t *testing.T) {
	fs := startFakeServer(t, acceptStartupCleartext)

	opts := config.ConnectOptions{
		Host:           "127.0.0.1",
		Port:           fs.port,
		Username:       "tester",
		Password:       "wrong-password",
		Database:       "testdb",
		ConnectTimeout: 2 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, opts)
	if err == nil {
		t.Fatal("expected authentication failure")
	}
	if !strings.Contains(err.Error(), "password authentication failed") {
		t.Errorf("err = %v, want it to mention password authentication failure", err)
	}
}

func TestConnectCleartextAuthAcceptsCorrectPassword(t *testing.T) {
	fs := startFakeServer(t, acceptStartupCleartext)

	opts := config.ConnectOptions{
		Host:           "127.0.0.1",
		Port:           fs.port,
		Username:       "tester",
		Password:       "correct-password",
		Database:       "testdb",
		ConnectTimeout: 2 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	if c.state != StateReady {
		t.Errorf("state = %v, want StateReady", c.state)
	}
}
