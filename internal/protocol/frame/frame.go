package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// MaxHeaderDigits bounds the decimal length header.
	MaxHeaderDigits = 9
	// Separator ends the length header.
	Separator byte = ':'
	// MaxPayloadLen is the largest length a 9-digit header can carry.
	MaxPayloadLen uint64 = 999_999_999
	// DefaultMaxPayloadBytes is the decode limit used when none is configured.
	DefaultMaxPayloadBytes uint64 = 8 << 20

	// initialChunk caps the buffer reserved before payload bytes arrive.
	initialChunk = 64 << 10
)

var (
	ErrFraming          = errors.New("frame: malformed length header")
	ErrConnectionClosed = errors.New("frame: connection closed")
	ErrPayloadTooLarge  = errors.New("frame: payload too large")
)

// Reader is the read side a frame decoder needs. Callers keep one buffered
// reader per connection so bytes read past a frame stay with the next one.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: DefaultMaxPayloadBytes}
}

// WithDefaults fills unset limits and clamps to what a header can express.
func (l Limits) WithDefaults() Limits {
	if l.MaxPayloadBytes == 0 {
		l.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if l.MaxPayloadBytes > MaxPayloadLen {
		l.MaxPayloadBytes = MaxPayloadLen
	}
	return l
}

// Encode returns "<len>:" followed by payload. The encoder does not enforce
// an upper bound; decoders reject headers longer than MaxHeaderDigits.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+MaxHeaderDigits+1)
	out = strconv.AppendInt(out, int64(len(payload)), 10)
	out = append(out, Separator)
	return append(out, payload...)
}

// WriteFrame writes one encoded frame with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(Encode(payload))
	return err
}

// ReadFrame reads one frame and returns its payload.
//
// The header is consumed one byte at a time. Ten header bytes without a
// separator, a non-digit byte, or an empty header fail with ErrFraming. A
// peer close before the frame is complete fails with ErrConnectionClosed,
// which also matches io.EOF when the close fell on a frame boundary.
//
// The payload buffer grows with the bytes actually received, so a large
// declared length with a short body costs at most one chunk.
func ReadFrame(r Reader, limits Limits) ([]byte, error) {
	limits = limits.WithDefaults()

	var digits [MaxHeaderDigits]byte
	n := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			if n > 0 && errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, closedError(err)
		}
		if b == Separator {
			break
		}
		if n == MaxHeaderDigits {
			return nil, fmt.Errorf("%w: no separator within %d bytes (%q)", ErrFraming, MaxHeaderDigits+1, digits[:n])
		}
		if b < '0' || b > '9' {
			return nil, fmt.Errorf("%w: invalid header byte 0x%02x", ErrFraming, b)
		}
		digits[n] = b
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: empty length header", ErrFraming)
	}

	size, err := strconv.ParseUint(string(digits[:n]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFraming, err)
	}
	if size > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, size, limits.MaxPayloadBytes)
	}

	if size == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	buf.Grow(int(min(size, initialChunk)))
	if _, err := io.CopyN(&buf, r, int64(size)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, closedError(err)
	}
	return buf.Bytes(), nil
}

// IsCleanClose reports whether err is a peer close between frames.
func IsCleanClose(err error) bool {
	return errors.Is(err, ErrConnectionClosed) && errors.Is(err, io.EOF)
}

func closedError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return err
}
