// Package pgproto implements the PostgreSQL v3 frontend/backend protocol
// over the shared internal/wire codec: startup and authentication,
// simple and extended query, error/notice parsing, and the statement
// cache. Every message is one type byte, a big-endian int32 length
// (including itself), and a payload.
package pgproto

import (
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// Backend message type bytes (server -> client).
const (
	msgAuthentication     = 'R'
	msgParameterStatus    = 'S'
	msgBackendKeyData     = 'K'
	msgReadyForQuery      = 'Z'
	msgErrorResponse      = 'E'
	msgNoticeResponse     = 'N'
	msgNotificationResp   = 'A'
	msgRowDescription     = 'T'
	msgDataRow            = 'D'
	msgCommandComplete    = 'C'
	msgEmptyQueryResponse = 'I'
	msgParseComplete      = '1'
	msgBindComplete       = '2'
	msgCloseComplete      = '3'
	msgNoData             = 'n'
	msgParameterDesc      = 't'
	msgPortalSuspended    = 's'
	msgCopyInResponse     = 'G'
	msgCopyOutResponse    = 'H'
	msgNegotiateProtocol  = 'v'
)

// Frontend message type bytes (client -> server). StartupMessage,
// SSLRequest, and CancelRequest carry no type byte.
const (
	msgQuery       = 'Q'
	msgParse       = 'P'
	msgBind        = 'B'
	msgDescribe    = 'D'
	msgExecute     = 'E'
	msgClose       = 'C'
	msgSync        = 'S'
	msgPassword    = 'p'
	msgTerminate   = 'X'
	msgFlush       = 'H'
	descStatement  = 'S'
	descPortal     = 'P'
	closeStatement = 'S'
	closePortal    = 'P'
)

// sslRequestCode and the startup protocol version, per the documented
// wire format.
const (
	protocolVersion3 = 3<<16 | 0
	sslRequestCode   = 80877103
)

// message is a decoded backend message: a type byte plus its payload
// (length field already consumed and validated).
type message struct {
	Type    byte
	Payload []byte
}

// readMessage reads one backend message. A short read poisons r per the
// codec's failure semantics; the caller must treat any returned error as
// fatal to the connection.
func readMessage(r *wire.Reader) (message, error) {
	typ, err := r.ReadByte()
	if err != nil {
		return message{}, err
	}
	var lenBuf [4]byte
	if err := r.ReadFull(lenBuf[:]); err != nil {
		return message{}, err
	}
	n := int(wire.Uint32BE(lenBuf[:])) - 4
	if n < 0 || n > 1<<24 {
		return message{}, wire.NewProtocolError("pgproto: implausible message length %d for type %q", n, typ)
	}
	var payload []byte
	if n > 0 {
		payload = make([]byte, n)
		if err := r.ReadFull(payload); err != nil {
			return message{}, err
		}
	}
	return message{Type: typ, Payload: payload}, nil
}

// writeMessage writes a type-prefixed frontend message and leaves it
// buffered; the caller flushes once a full request (e.g. Bind+Execute+
// Sync) has been queued, matching the codec's deferred-flush contract.
func writeMessage(w *wire.Writer, typ byte, payload []byte) error {
	if err := w.WriteByte(typ); err != nil {
		return err
	}
	var lenBuf [4]byte
	wire.PutUint32BE(lenBuf[:], uint32(4+len(payload)))
	if err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// writeUntypedMessage writes a length-prefixed message with no leading
// type byte (StartupMessage, SSLRequest, CancelRequest).
func writeUntypedMessage(w *wire.Writer, payload []byte) error {
	var lenBuf [4]byte
	wire.PutUint32BE(lenBuf[:], uint32(4+len(payload)))
	if err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// TransactionStatus is the backend's per-ReadyForQuery transaction state.
type TransactionStatus byte

const (
	TxIdle    TransactionStatus = 'I'
	TxInBlock TransactionStatus = 'T'
	TxFailed  TransactionStatus = 'E'
)
