package myproto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/dbbouncer/sqlcore/internal/wire"
)

// handshakeV10 is the parsed Protocol::HandshakeV10 packet.
type handshakeV10 struct {
	ProtocolVersion byte
	ServerVersion   string
	ConnectionID    uint32
	AuthPluginData  []byte
	Capabilities    uint32
	CharacterSet    byte
	StatusFlags     uint16
	AuthPluginName  string
}

func parseHandshakeV10(pkt []byte) (handshakeV10, error) {
	var h handshakeV10
	if len(pkt) < 1 {
		return h, wire.NewProtocolError("myproto: empty handshake packet")
	}
	if pkt[0] == respErr {
		return h, wire.NewProtocolError("myproto: server sent ERR on connect")
	}
	h.ProtocolVersion = pkt[0]
	pos := 1

	ver, next, ok := wire.ReadCString(pkt, pos)
	if !ok {
		return h, wire.NewProtocolError("myproto: handshake packet too short (server version)")
	}
	h.ServerVersion = ver
	pos = next

	if pos+4 > len(pkt) {
		return h, wire.NewProtocolError("myproto: handshake packet too short (connection id)")
	}
	h.ConnectionID = wire.Uint32LE(pkt[pos : pos+4])
	pos += 4

	if pos+8 > len(pkt) {
		return h, wire.NewProtocolError("myproto: handshake packet too short (auth data 1)")
	}
	authData := append([]byte(nil), pkt[pos:pos+8]...)
	pos += 8
	pos++ // filler

	if pos+2 > len(pkt) {
		return h, wire.NewProtocolError("myproto: handshake packet too short (capabilities low)")
	}
	capLow := uint32(wire.Uint16LE(pkt[pos : pos+2]))
	pos += 2

	if pos+3 > len(pkt) {
		return h, wire.NewProtocolError("myproto: handshake packet too short (charset/status)")
	}
	h.CharacterSet = pkt[pos]
	h.StatusFlags = wire.Uint16LE(pkt[pos+1 : pos+3])
	pos += 3

	if pos+2 > len(pkt) {
		return h, wire.NewProtocolError("myproto: handshake packet too short (capabilities high)")
	}
	capHigh := uint32(wire.Uint16LE(pkt[pos:pos+2])) << 16
	h.Capabilities = capLow | capHigh
	pos += 2

	var authPluginDataLen int
	if pos < len(pkt) {
		authPluginDataLen = int(pkt[pos])
		pos++
	}
	pos += 10 // reserved

	part2Len := authPluginDataLen - 8
	if part2Len < 13 {
		part2Len = 13
	}
	if pos+part2Len > len(pkt) {
		part2Len = len(pkt) - pos
	}
	if part2Len > 0 {
		part2 := pkt[pos : pos+part2Len]
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
	}
	pos += part2Len

	h.AuthPluginData = authData
	h.AuthPluginName = "mysql_native_password"
	if h.Capabilities&capPluginAuth != 0 && pos < len(pkt) {
		name, _, ok := wire.ReadCString(pkt, pos)
		if ok {
			h.AuthPluginName = name
		}
	}
	return h, nil
}

// computeAuthResponse hashes password for the named auth plugin against
// the server-provided challenge data. caching_sha2_password and
// mysql_native_password share the XOR-of-two-SHA-digests shape (SHA-1
// vs SHA-256); sha256_password and mysql_clear_password need no
// challenge at all on the first round trip.
func computeAuthResponse(plugin string, password string, challenge []byte) ([]byte, error) {
	switch plugin {
	case "mysql_native_password":
		return nativePasswordHash([]byte(password), challenge), nil
	case "caching_sha2_password":
		return cachingSHA2Hash([]byte(password), challenge), nil
	case "mysql_clear_password":
		return append([]byte(password), 0), nil
	case "sha256_password":
		// First round trip sends nothing; the server will request the
		// RSA public key or switch to a full exchange.
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("myproto: unsupported auth plugin %q", plugin)
	}
}

// nativePasswordHash computes SHA1(password) XOR SHA1(challenge ||
// SHA1(SHA1(password))), the mysql_native_password scramble.
func nativePasswordHash(password, challenge []byte) []byte {
	if len(password) == 0 {
		return []byte{}
	}
	h1 := sha1.Sum(password)
	h2 := sha1.Sum(h1[:])
	h := sha1.New()
	h.Write(challenge)
	h.Write(h2[:])
	h3 := h.Sum(nil)
	out := make([]byte, 20)
	for i := range out {
		out[i] = h1[i] ^ h3[i]
	}
	return out
}

// cachingSHA2Hash computes the SHA-256 analogue of nativePasswordHash:
// SHA256(password) XOR SHA256(challenge || SHA256(SHA256(password))),
// the fast-auth response caching_sha2_password expects.
func cachingSHA2Hash(password, challenge []byte) []byte {
	if len(password) == 0 {
		return []byte{}
	}
	h1 := sha256.Sum256(password)
	h2 := sha256.Sum256(h1[:])
	h := sha256.New()
	h.Write(challenge)
	h.Write(h2[:])
	h3 := h.Sum(nil)
	out := make([]byte, 32)
	for i := range out {
		out[i] = h1[i] ^ h3[i]
	}
	return out
}

// cachingSHA2FastAuthResult is the single status byte the server sends
// after the fast-auth comparison.
const (
	cachingSHA2FastAuthSuccess = 0x03
	cachingSHA2FullAuthStart   = 0x04
)

// encryptPasswordRSA XORs password with the challenge nonce and
// encrypts it with the server's RSA public key, for caching_sha2's full
// auth path and sha256_password.
func encryptPasswordRSA(password string, challenge []byte, pemKey []byte) ([]byte, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, fmt.Errorf("myproto: decoding RSA public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("myproto: parsing RSA public key: %w", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("myproto: server public key is not RSA")
	}

	plain := append([]byte(password), 0)
	xored := make([]byte, len(plain))
	for i := range plain {
		xored[i] = plain[i] ^ challenge[i%len(challenge)]
	}
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, rsaKey, xored, nil)
}
