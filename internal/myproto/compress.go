package myproto

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/dbbouncer/sqlcore/internal/wire"
)

// compressedReader/compressedWriter wrap a net.Conn's raw stream with
// MySQL's compression framing: a 7-byte header (3-byte LE compressed
// length, 1 sequence byte, 3-byte LE uncompressed length)
// precedes each compressed frame; uncompressed length 0 means the
// payload is carried as-is. Installed only when CLIENT_COMPRESS was
// negotiated during the handshake.
type compressedReader struct {
	src     io.Reader
	pending *bytes.Reader
}

func newCompressedReader(src io.Reader) *compressedReader {
	return &compressedReader{src: src}
}

func (cr *compressedReader) Read(p []byte) (int, error) {
	if cr.pending == nil || cr.pending.Len() == 0 {
		if err := cr.fillFrame(); err != nil {
			return 0, err
		}
	}
	return cr.pending.Read(p)
}

func (cr *compressedReader) fillFrame() error {
	var hdr [7]byte
	if _, err := io.ReadFull(cr.src, hdr[:]); err != nil {
		return err
	}
	compressedLen := wire.Uint24LE(hdr[0:3])
	uncompressedLen := wire.Uint24LE(hdr[4:7])

	body := make([]byte, compressedLen)
	if _, err := io.ReadFull(cr.src, body); err != nil {
		return err
	}

	if uncompressedLen == 0 {
		cr.pending = bytes.NewReader(body)
		return nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer zr.Close()
	out := make([]byte, uncompressedLen)
	if _, err := io.ReadFull(zr, out); err != nil {
		return err
	}
	cr.pending = bytes.NewReader(out)
	return nil
}

type compressedWriter struct {
	dst io.Writer
	seq byte
}

func newCompressedWriter(dst io.Writer) *compressedWriter {
	return &compressedWriter{dst: dst}
}

// Write implements io.Writer by wrapping p as a single compressed frame,
// so a compressedWriter can back a wire.Writer directly: bufio.Writer's
// Flush delivers its whole buffered chunk in one Write call, which maps
// naturally onto one compression frame.
func (cw *compressedWriter) Write(p []byte) (int, error) {
	if err := cw.WriteFrame(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteFrame compresses payload (skipping compression for tiny frames,
// as real clients do, by writing them with uncompressed length 0) and
// writes the 7-byte header plus body.
func (cw *compressedWriter) WriteFrame(payload []byte) error {
	const minCompressSize = 50
	var hdr [7]byte
	if len(payload) < minCompressSize {
		wire.PutUint24LE(hdr[0:3], uint32(len(payload)))
		hdr[3] = cw.seq
		cw.seq++
		wire.PutUint24LE(hdr[4:7], 0)
		if _, err := cw.dst.Write(hdr[:]); err != nil {
			return err
		}
		_, err := cw.dst.Write(payload)
		return err
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	wire.PutUint24LE(hdr[0:3], uint32(buf.Len()))
	hdr[3] = cw.seq
	cw.seq++
	wire.PutUint24LE(hdr[4:7], uint32(len(payload)))
	if _, err := cw.dst.Write(hdr[:]); err != nil {
		return err
	}
	_, err := cw.dst.Write(buf.Bytes())
	return err
}
