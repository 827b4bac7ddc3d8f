package myproto

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/dbbouncer/sqlcore/config"
)

// fakeServer is a minimal in-process MySQL server: enough of
// HandshakeV10/HandshakeResponse41 to drive Conn.Connect through
// mysql_native_password authentication, without a real mysqld.
type fakeServer struct {
	ln   net.Listener
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
	fs := &fakeServer{ln: ln, port: port}
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

func writeRawPacket(conn net.Conn, seq byte, payload []byte) {
	var hdr [4]byte
	n := uint32(len(payload))
	hdr[0], hdr[1], hdr[2] = byte(n), byte(n>>8), byte(n>>16)
	hdr[3] = seq
	conn.Write(hdr[:])
	conn.Write(payload)
}

func readRawPacket(conn net.Conn) (byte, []byte) {
	var hdr [4]byte
	if _, err := readFullConn(conn, hdr[:]); err != nil {
		return 0, nil
	}
	n := uint32(hdr[0]) | uint32(hdr[1])<<8 | uint32(hdr[2])<<16
	payload := make([]byte, n)
	readFullConn(conn, payload)
	return hdr[3], payload
}

func readFullConn(conn net.Conn, buf []byte) (int, error) {
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

func cstr(s string) []byte { return append([]byte(s), 0) }

const testScramble = "01234567890123456789"

// buildHandshakeV10 constructs a HandshakeV10 payload offering
// mysql_native_password with a fixed 20-byte scramble, matching the
// split (8 bytes + 12 bytes) parseHandshakeV10 expects.
func buildHandshakeV10(caps uint32) []byte {
	var p []byte
	p = append(p, 10) // protocol version
	p = append(p, cstr("8.0.0-fake")...)
	p = append(p, 1, 0, 0, 0) // connection id

	scramble := []byte(testScramble)
	p = append(p, scramble[:8]...)
	p = append(p, 0) // filler

	p = append(p, byte(caps), byte(caps>>8))
	p = append(p, 0x2d)    // charset
	p = append(p, 2, 0)    // status flags
	p = append(p, byte(caps>>16), byte(caps>>24))
	p = append(p, byte(len(scramble)+1)) // auth_plugin_data_len
	p = append(p, make([]byte, 10)...)   // reserved
	p = append(p, scramble[8:]...)
	p = append(p, 0) // trailing NUL of part 2
	p = append(p, cstr("mysql_native_password")...)
	return p
}

func acceptHandshakeNativePassword(conn net.Conn) {
	defer conn.Close()
	caps := uint32(clientCapabilities)
	writeRawPacket(conn, 0, buildHandshakeV10(caps))

	seq, resp := readRawPacket(conn)
	if len(resp) == 0 {
		return
	}
	want := nativePasswordHash([]byte("secret"), []byte(testScramble))
	got := extractAuthResponseFromHandshakeResponse(resp)
	if string(got) != string(want) {
		writeRawPacket(conn, seq+1, []byte{respErr, 0x16, 0x04, '#', '2', '8', '0', '0', '0', 'A', 'c', 'c', 'e', 's', 's', ' ', 'd', 'e', 'n', 'i', 'e', 'd'})
		return
	}
	writeRawPacket(conn, seq+1, []byte{respOK, 0, 0, 0x02, 0, 0, 0})
}

// extractAuthResponseFromHandshakeResponse walks a HandshakeResponse41
// payload far enough to pull out the length-prefixed auth-response
// field, skipping capabilities/max-packet/charset/reserved/username.
func extractAuthResponseFromHandshakeResponse(pkt []byte) []byte {
	pos := 4 + 4 + 1 + 23
	for pos < len(pkt) && pkt[pos] != 0 {
		pos++
	}
	pos++ // NUL after username
	if pos >= len(pkt) {
		return nil
	}
	n := int(pkt[pos])
	pos++
	if pos+n > len(pkt) {
		return nil
	}
	return pkt[pos : pos+n]
}

func TestConnectHandshakeNativePasswordSucceeds(t *testing.T) {
	fs := startFakeServer(t, acceptHandshakeNativePassword)

	opts := config.ConnectOptions{
		Host:           "127.0.0.1",
		Port:           fs.port,
		Username:       "tester",
		Password:       "secret",
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

func TestConnectHandshakeNativePasswordWrongPasswordFails(t *testing.T) {
	fs := startFakeServer(t, acceptHandshakeNativePassword)

	opts := config.ConnectOptions{
		Host:           "127.0.0.1",
		Port:           fs.port,
		Username:       "tester",
		Password:       "wrong",
		Database:       "testdb",
		ConnectTimeout: 2 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, opts)
	if err == nil {
		t.Fatal("expected authentication failure")
	}
}
