package message

import (
	"encoding/binary"
	"errors"
	"io"
)

// StreamWriter writes messages to a byte stream, each preceded by a 4-byte
// little-endian length.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter creates a new stream writer.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// Write writes one length-prefixed message. The prefix and message are
// written with a single call so concurrent writers on a locked conn do not
// interleave.
func (sw *StreamWriter) Write(msg []byte) (int, error) {
	if len(msg) == 0 {
		return 0, ErrInvalidLengthPrefix
	}
	if len(msg) > MaxStreamMessageSize {
		return 0, ErrMessageTooLong
	}
	return sw.w.Write(EncodeWithLengthPrefix(msg))
}

// StreamReader reads length-prefixed messages from a byte stream.
type StreamReader struct {
	r     io.Reader
	limit uint32
}

// NewStreamReader creates a stream reader that accepts messages of up to
// MaxStreamMessageSize bytes.
func NewStreamReader(r io.Reader) *StreamReader {
	return NewStreamReaderSize(r, MaxStreamMessageSize)
}

// NewStreamReaderSize creates a stream reader that accepts messages of up to
// limit bytes. Limits outside (0, MaxStreamMessageSize] use the maximum.
func NewStreamReaderSize(r io.Reader, limit int) *StreamReader {
	if limit <= 0 || limit > MaxStreamMessageSize {
		limit = MaxStreamMessageSize
	}
	return &StreamReader{r: r, limit: uint32(limit)}
}

// Read returns the next message without its length prefix. A clean end of
// stream is reported as io.EOF. An oversized message is read past and
// reported as ErrMessageTooLong, leaving the stream at the next prefix.
func (sr *StreamReader) Read() ([]byte, error) {
	var lenBuf [TCPLengthPrefixSize]byte
	if _, err := io.ReadFull(sr.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrStreamReadFailed
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, ErrInvalidLengthPrefix
	}
	if n > sr.limit {
		if _, err := io.CopyN(io.Discard, sr.r, int64(n)); err != nil {
			return nil, ErrStreamReadFailed
		}
		return nil, ErrMessageTooLong
	}

	msg := make([]byte, n)
	if _, err := io.ReadFull(sr.r, msg); err != nil {
		return nil, ErrStreamReadFailed
	}
	return msg, nil
}

// EncodeWithLengthPrefix prepends the 4-byte length to msg.
func EncodeWithLengthPrefix(msg []byte) []byte {
	buf := make([]byte, TCPLengthPrefixSize+len(msg))
	binary.LittleEndian.PutUint32(buf[:TCPLengthPrefixSize], uint32(len(msg)))
	copy(buf[TCPLengthPrefixSize:], msg)
	return buf
}
