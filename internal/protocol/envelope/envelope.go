// Package envelope owns the application value carried inside a frame.
//
// Wire schema (after zlib decompression):
//
//	0x00                      none (queue had nothing to return)
//	0x01 <google.protobuf.Value>  structured value
//	0x02 <raw bytes>          opaque bytes
//
// The compressed form always starts with a zlib header byte, which keeps
// push payloads apart from the one-byte 'c'/'p' pull commands.
package envelope

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type Kind byte

const (
	KindNone  Kind = 0x00
	KindValue Kind = 0x01
	KindBytes Kind = 0x02
)

// Compression levels used by the hub and its clients.
const (
	LevelNetwork = zlib.BestSpeed
	LevelLocal   = zlib.BestCompression
)

var (
	ErrSerialization = errors.New("envelope: serialization failed")
	ErrUnknownKind   = errors.New("envelope: unknown kind")
	// ErrSentinel rejects queueing None, which pulls could not tell apart
	// from an empty queue.
	ErrSentinel = errors.New("envelope: none sentinel cannot be queued")
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValue:
		return "value"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(0x%02x)", byte(k))
	}
}

// Envelope is one queued application value. The zero value is the none
// sentinel.
type Envelope struct {
	kind  Kind
	value *structpb.Value
	raw   []byte
}

// None returns the empty-queue sentinel.
func None() Envelope {
	return Envelope{kind: KindNone}
}

func FromBytes(b []byte) Envelope {
	out := make([]byte, len(b))
	copy(out, b)
	return Envelope{kind: KindBytes, raw: out}
}

// FromValue wraps any value structpb can represent: nil, bools, numbers,
// strings, []any and map[string]any.
func FromValue(v any) (Envelope, error) {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return Envelope{kind: KindValue, value: pv}, nil
}

func FromString(s string) Envelope {
	return Envelope{kind: KindValue, value: structpb.NewStringValue(s)}
}

func FromProto(v *structpb.Value) Envelope {
	if v == nil {
		v = structpb.NewNullValue()
	}
	return Envelope{kind: KindValue, value: v}
}

func (e Envelope) Kind() Kind {
	return e.kind
}

func (e Envelope) IsNone() bool {
	return e.kind == KindNone
}

// Bytes returns the raw payload of a bytes envelope and nil otherwise.
func (e Envelope) Bytes() []byte {
	if e.kind != KindBytes {
		return nil
	}
	return e.raw
}

// Value returns the structured payload of a value envelope and nil otherwise.
func (e Envelope) Value() *structpb.Value {
	if e.kind != KindValue {
		return nil
	}
	return e.value
}

// Interface converts the envelope to a plain Go value: nil for none, []byte
// for bytes, and the structpb conversion for values.
func (e Envelope) Interface() any {
	switch e.kind {
	case KindValue:
		return e.value.AsInterface()
	case KindBytes:
		return e.raw
	default:
		return nil
	}
}

func (e Envelope) String() string {
	switch e.kind {
	case KindNone:
		return "<none>"
	case KindBytes:
		return string(e.raw)
	case KindValue:
		if s, ok := e.value.GetKind().(*structpb.Value_StringValue); ok {
			return s.StringValue
		}
		b, err := e.value.MarshalJSON()
		if err != nil {
			return e.value.String()
		}
		return string(b)
	default:
		return e.kind.String()
	}
}

// Equal reports whether two envelopes carry the same kind and content.
func (e Envelope) Equal(o Envelope) bool {
	if e.kind != o.kind {
		return false
	}
	switch e.kind {
	case KindValue:
		return proto.Equal(e.value, o.value)
	case KindBytes:
		return bytes.Equal(e.raw, o.raw)
	default:
		return true
	}
}

// Marshal serializes and zlib-compresses env at the given level.
func Marshal(env Envelope, level int) ([]byte, error) {
	body := []byte{byte(env.kind)}
	switch env.kind {
	case KindNone:
	case KindBytes:
		body = append(body, env.raw...)
	case KindValue:
		b, err := proto.Marshal(env.value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		body = append(body, b...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, env.kind)
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal is the strict decoder. Every failure wraps ErrSerialization.
func Unmarshal(payload []byte) (Envelope, error) {
	body, err := decompress(payload)
	if err != nil {
		return Envelope{}, err
	}
	return parseBody(body)
}

// Decode is the lenient decoder used by clients: it tries the structured
// schema first and otherwise returns the decompressed bytes, or the
// payload itself when it is not zlib data, as a bytes envelope.
func Decode(payload []byte) Envelope {
	body, err := decompress(payload)
	if err != nil {
		return FromBytes(payload)
	}
	env, err := parseBody(body)
	if err != nil {
		return FromBytes(body)
	}
	return env
}

func parseBody(body []byte) (Envelope, error) {
	if len(body) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty body", ErrSerialization)
	}
	kind, rest := Kind(body[0]), body[1:]
	switch kind {
	case KindNone:
		if len(rest) != 0 {
			return Envelope{}, fmt.Errorf("%w: none sentinel carries %d bytes", ErrSerialization, len(rest))
		}
		return None(), nil
	case KindBytes:
		return FromBytes(rest), nil
	case KindValue:
		v := &structpb.Value{}
		if err := proto.Unmarshal(rest, v); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		if v.GetKind() == nil {
			return Envelope{}, fmt.Errorf("%w: value without kind", ErrSerialization)
		}
		return Envelope{kind: KindValue, value: v}, nil
	default:
		return Envelope{}, fmt.Errorf("%w: %w: %s", ErrSerialization, ErrUnknownKind, kind)
	}
}

func decompress(payload []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	defer zr.Close()
	body, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return body, nil
}
