package pgproto

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dbbouncer/sqlcore/internal/wire"
)

// Authentication subtype codes carried in the first four bytes of an
// 'R' message.
const (
	authOK                = 0
	authCleartextPassword = 3
	authMD5Password       = 5
	authSASL              = 10
	authSASLContinue      = 11
	authSASLFinal         = 12
)

// sendPassword writes a PasswordMessage.
func (c *Conn) sendPassword(password string) error {
	payload := wire.CString(nil, password)
	return writeMessage(c.w, msgPassword, payload)
}

// computeMD5Password computes "md5" + md5(md5(password+user)+salt).
func computeMD5Password(user, password string, salt []byte) string {
	h1 := md5.Sum([]byte(password + user))
	hex1 := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(hex1), salt...))
	return "md5" + hex.EncodeToString(h2[:])
}

// handleAuth dispatches on the Authentication subtype read during
// startup, returning control to the caller's message loop instead of
// looping inline, since startup also needs to interleave
// ParameterStatus/BackendKeyData.
func (c *Conn) handleAuth(payload []byte) error {
	if len(payload) < 4 {
		return wire.NewProtocolError("pgproto: authentication message too short")
	}
	authType := wire.Uint32BE(payload[:4])
	switch authType {
	case authOK:
		return nil
	case authCleartextPassword:
		return c.sendPassword(c.opts.Password)
	case authMD5Password:
		if len(payload) < 8 {
			return wire.NewProtocolError("pgproto: MD5 authentication message too short")
		}
		salt := payload[4:8]
		return c.sendPassword(computeMD5Password(c.opts.Username, c.opts.Password, salt))
	case authSASL:
		return c.scramSHA256(payload[4:])
	default:
		return wire.NewProtocolError("pgproto: unsupported authentication method %d", authType)
	}
}

// scramSHA256 runs the full SASL SCRAM-SHA-256 exchange, reading and
// writing through this Conn's message loop (readMessage/writeMessage).
func (c *Conn) scramSHA256(mechanismList []byte) error {
	mechanisms := splitMechanisms(mechanismList)
	if !containsMechanism(mechanisms, "SCRAM-SHA-256") {
		return fmt.Errorf("pgproto: server does not offer SCRAM-SHA-256, offered: %v", mechanisms)
	}

	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return fmt.Errorf("pgproto: generating SCRAM nonce: %w", err)
	}
	clientNonce := base64.StdEncoding.EncodeToString(nonceBytes)

	gs2Header := "n,,"
	clientFirstBare := fmt.Sprintf("n=%s,r=%s", saslEscapeUsername(c.opts.Username), clientNonce)
	clientFirstMsg := gs2Header + clientFirstBare

	if err := c.sendSASLInitial("SCRAM-SHA-256", []byte(clientFirstMsg)); err != nil {
		return err
	}

	serverFirstMsg, err := c.readAuthContinuation(authSASLContinue)
	if err != nil {
		return fmt.Errorf("pgproto: reading server-first-message: %w", err)
	}

	serverNonce, salt, iterations, err := parseServerFirst(string(serverFirstMsg))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(serverNonce, clientNonce) {
		return fmt.Errorf("pgproto: SCRAM server nonce does not extend client nonce")
	}

	saltedPassword := pbkdf2.Key([]byte(c.opts.Password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte(gs2Header))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)

	authMessage := clientFirstBare + "," + string(serverFirstMsg) + "," + clientFinalWithoutProof
	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	clientFinalMsg := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	if err := c.sendSASLResponse([]byte(clientFinalMsg)); err != nil {
		return err
	}

	serverFinalMsg, err := c.readAuthContinuation(authSASLFinal)
	if err != nil {
		return fmt.Errorf("pgproto: reading server-final-message: %w", err)
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	expectedSig := hmacSHA256(serverKey, []byte(authMessage))
	expectedFinal := "v=" + base64.StdEncoding.EncodeToString(expectedSig)
	if string(serverFinalMsg) != expectedFinal {
		return fmt.Errorf("pgproto: SCRAM server signature mismatch")
	}
	return nil
}

func (c *Conn) sendSASLInitial(mechanism string, clientFirstMsg []byte) error {
	var payload []byte
	payload = wire.CString(payload, mechanism)
	var lenBuf [4]byte
	wire.PutUint32BE(lenBuf[:], uint32(len(clientFirstMsg)))
	payload = append(payload, lenBuf[:]...)
	payload = append(payload, clientFirstMsg...)
	return writeMessage(c.w, msgPassword, payload)
}

func (c *Conn) sendSASLResponse(data []byte) error {
	return writeMessage(c.w, msgPassword, data)
}

// readAuthContinuation reads one Authentication message and verifies its
// subtype, returning the payload past the 4-byte subtype field. An
// ErrorResponse here is parsed and returned as a *sqlcore.Error.
func (c *Conn) readAuthContinuation(want uint32) ([]byte, error) {
	m, err := readMessage(c.r)
	if err != nil {
		return nil, err
	}
	if m.Type == msgErrorResponse {
		return nil, parseFields(m.Payload).asSqlcoreError()
	}
	if m.Type != msgAuthentication {
		return nil, wire.NewProtocolError("pgproto: expected Authentication message, got %q", m.Type)
	}
	if len(m.Payload) < 4 {
		return nil, wire.NewProtocolError("pgproto: authentication message too short")
	}
	got := wire.Uint32BE(m.Payload[:4])
	if got != want {
		return nil, wire.NewProtocolError("pgproto: expected auth subtype %d, got %d", want, got)
	}
	return m.Payload[4:], nil
}

func splitMechanisms(data []byte) []string {
	var mechs []string
	for len(data) > 0 {
		idx := 0
		for idx < len(data) && data[idx] != 0 {
			idx++
		}
		if idx > 0 {
			mechs = append(mechs, string(data[:idx]))
		}
		if idx >= len(data) {
			break
		}
		data = data[idx+1:]
	}
	return mechs
}

func containsMechanism(mechs []string, target string) bool {
	for _, m := range mechs {
		if m == target {
			return true
		}
	}
	return false
}

func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("pgproto: decoding SCRAM salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			for _, d := range part[2:] {
				if d < '0' || d > '9' {
					break
				}
				iterations = iterations*10 + int(d-'0')
			}
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("pgproto: incomplete SCRAM server-first-message %q", msg)
	}
	return nonce, salt, iterations, nil
}

func saslEscapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
