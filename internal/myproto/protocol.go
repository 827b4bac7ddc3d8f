// Package myproto implements the MySQL/MariaDB client protocol over the
// shared internal/wire codec: handshake and capability negotiation, the
// native/caching_sha2/sha256/cleartext auth plugins, the text and binary
// query protocols, the statement cache, and error decoding. Packet
// framing is a 3-byte little-endian length plus a one-byte sequence id
// that resets to zero at the start of each command.
package myproto

import (
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// Client capability flags this driver negotiates.
const (
	capLongPassword          = 1 << 0
	capFoundRows             = 1 << 1
	capLongFlag              = 1 << 2
	capConnectWithDB         = 1 << 3
	capNoSchema              = 1 << 4
	capCompress              = 1 << 5
	capODBC                  = 1 << 6
	capLocalFiles            = 1 << 7
	capIgnoreSpace           = 1 << 8
	capProtocol41            = 1 << 9
	capInteractive           = 1 << 10
	capSSL                   = 1 << 11
	capIgnoreSigpipe         = 1 << 12
	capTransactions          = 1 << 13
	capReserved              = 1 << 14
	capSecureConnection      = 1 << 15
	capMultiStatements       = 1 << 16
	capMultiResults          = 1 << 17
	capPSMultiResults        = 1 << 18
	capPluginAuth            = 1 << 19
	capConnectAttrs          = 1 << 20
	capPluginAuthLenencData  = 1 << 21
	capCanHandleExpiredPass  = 1 << 22
	capSessionTrack          = 1 << 23
	capDeprecateEOF          = 1 << 24
)

// clientCapabilities are the flags this driver always requests when the
// server offers them.
const clientCapabilities = capLongPassword | capProtocol41 | capSecureConnection |
	capPluginAuth | capConnectWithDB | capTransactions | capMultiResults |
	capMultiStatements | capSessionTrack | capDeprecateEOF

// Server status flags, the subset the driver inspects.
const (
	serverMoreResultsExists = 1 << 3
)

// Command bytes (COM_*).
const (
	comQuery       = 0x03
	comStmtPrepare = 0x16
	comStmtExecute = 0x17
	comStmtClose   = 0x19
	comPing        = 0x0e
	comQuit        = 0x01
)

// Response leading-byte sentinels.
const (
	respOK       = 0x00
	respEOF      = 0xfe
	respErr      = 0xff
	respInfile   = 0xfb
	respAuthSwitch = 0xfe
)

// packet is one decoded MySQL packet: its sequence id and payload.
type packet struct {
	Seq     byte
	Payload []byte
}

// readPacket reads one length-prefixed MySQL packet, handling the
// 2^24-1 continuation convention. The returned sequence id is the id
// of the last physical packet read (needed by the caller to continue
// the sequence).
func readPacket(r *wire.Reader) (packet, error) {
	var payload []byte
	var seq byte
	for {
		var hdr [4]byte
		if err := r.ReadFull(hdr[:]); err != nil {
			return packet{}, err
		}
		length := wire.Uint24LE(hdr[:3])
		seq = hdr[3]
		if length > 0 {
			chunk := make([]byte, length)
			if err := r.ReadFull(chunk); err != nil {
				return packet{}, err
			}
			payload = append(payload, chunk...)
		}
		if length < 0xffffff {
			break
		}
	}
	return packet{Seq: seq, Payload: payload}, nil
}

// writePacket writes payload as one or more physical packets (splitting
// at 2^24-1 bytes with a continuation), using and advancing seq.
func writePacket(w *wire.Writer, payload []byte, seq *byte) error {
	for {
		n := len(payload)
		if n > 0xffffff {
			n = 0xffffff
		}
		var hdr [4]byte
		wire.PutUint24LE(hdr[:3], uint32(n))
		hdr[3] = *seq
		*seq++
		if err := w.Write(hdr[:]); err != nil {
			return err
		}
		if n > 0 {
			if err := w.Write(payload[:n]); err != nil {
				return err
			}
		}
		payload = payload[n:]
		if n < 0xffffff {
			return nil
		}
	}
}
