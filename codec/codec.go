// Package codec implements the Value Codec (C2): canonical, deterministic
// [type-tag | format-version | body] framing for the primitive value
// universe operators may return (spec §4.3).
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// MinRuntimeVersion is the lowest runtime_version string under which this
// codec's framing is valid. Adding a new Tag or changing an existing body
// layout requires bumping the caller's runtime_version past this floor
// (spec §9 open question on codec extensibility — resolved in DESIGN.md as
// compile-time coordination, not a runtime plugin mechanism).
const MinRuntimeVersion = "2"

// Tag identifies the logical type framed in a payload's first byte.
type Tag byte

const (
	TagInt Tag = iota + 1
	TagFloat
	TagBool
	TagString
	TagBytes
	TagArray
	TagImage2D
	TagVolume3D
	TagSequence
	TagMapping
	TagNull
	TagOpaque
)

// FormatVersion is the per-tag body layout version, the second framing
// byte. Bumped independently of MinRuntimeVersion when only one type's body
// layout changes.
const FormatVersion byte = 1

// ErrCodecVersionUnsupported is returned when decoding a payload whose
// format-version byte is not one this build understands (spec §4.3).
var ErrCodecVersionUnsupported = errors.New("CODEC_VERSION_UNSUPPORTED")

// Value is the decoded, in-memory form of anything the codec can carry.
// Operators exchange Values; only the engine and store ever see encoded
// bytes.
type Value struct {
	Tag     Tag
	Int     int64
	Float   float64
	Bool    bool
	Str     string
	Bytes   []byte
	Array   *NDArray
	Seq     []Value
	Mapping map[string]Value
	Opaque  []byte // fallback: caller-defined bytes, round-tripped verbatim
}

// NDArray is the shape+element-type+data carrier for n-dimensional arrays
// and the 2D/3D specializations (spec §4.3, §4.7 "dtype, shape").
type NDArray struct {
	DType string // e.g. "float64", "uint8"
	Shape []int
	Data  []byte // row-major, DType-encoded elements
}

// Encode frames v as [tag | format-version | body]. Encoding the same
// logical Value twice yields byte-identical output (spec §4.3 determinism
// requirement, §8 "round-trip value codec").
func Encode(v Value) ([]byte, error) {
	var body bytes.Buffer
	switch v.Tag {
	case TagInt:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Int))
		body.Write(b[:])
	case TagFloat:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Float))
		body.Write(b[:])
	case TagBool:
		if v.Bool {
			body.WriteByte(1)
		} else {
			body.WriteByte(0)
		}
	case TagString:
		writeLenPrefixed(&body, []byte(v.Str))
	case TagBytes:
		writeLenPrefixed(&body, v.Bytes)
	case TagArray, TagImage2D, TagVolume3D:
		if v.Array == nil {
			return nil, fmt.Errorf("codec: %s value missing array payload", tagName(v.Tag))
		}
		writeLenPrefixed(&body, []byte(v.Array.DType))
		var shapeLen [4]byte
		binary.BigEndian.PutUint32(shapeLen[:], uint32(len(v.Array.Shape)))
		body.Write(shapeLen[:])
		for _, dim := range v.Array.Shape {
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(dim))
			body.Write(b[:])
		}
		writeLenPrefixed(&body, v.Array.Data)
	case TagSequence:
		encoded := make([][]byte, len(v.Seq))
		for i, elem := range v.Seq {
			eb, err := Encode(elem)
			if err != nil {
				return nil, err
			}
			encoded[i] = eb
		}
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(encoded)))
		body.Write(n[:])
		for _, eb := range encoded {
			writeLenPrefixed(&body, eb)
		}
	case TagMapping:
		keys := make([]string, 0, len(v.Mapping))
		for k := range v.Mapping {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(keys)))
		body.Write(n[:])
		for _, k := range keys {
			vb, err := Encode(v.Mapping[k])
			if err != nil {
				return nil, err
			}
			writeLenPrefixed(&body, []byte(k))
			writeLenPrefixed(&body, vb)
		}
	case TagNull:
		// zero-length body
	case TagOpaque:
		writeLenPrefixed(&body, v.Opaque)
	default:
		return nil, fmt.Errorf("codec: unknown tag %d", v.Tag)
	}

	out := make([]byte, 0, body.Len()+2)
	out = append(out, byte(v.Tag), FormatVersion)
	out = append(out, body.Bytes()...)
	return out, nil
}

// Decode reverses Encode. Decode(Encode(V)) == V for every supported V
// (spec §8 "round-trip value codec").
func Decode(payload []byte) (Value, error) {
	if len(payload) < 2 {
		return Value{}, fmt.Errorf("codec: payload too short to carry a frame header")
	}
	tag := Tag(payload[0])
	version := payload[1]
	if version != FormatVersion {
		return Value{}, fmt.Errorf("%w: got format version %d, want %d", ErrCodecVersionUnsupported, version, FormatVersion)
	}
	r := bytes.NewReader(payload[2:])

	switch tag {
	case TagInt:
		var b [8]byte
		if _, err := r.Read(b[:]); err != nil {
			return Value{}, err
		}
		return Value{Tag: TagInt, Int: int64(binary.BigEndian.Uint64(b[:]))}, nil
	case TagFloat:
		var b [8]byte
		if _, err := r.Read(b[:]); err != nil {
			return Value{}, err
		}
		return Value{Tag: TagFloat, Float: math.Float64frombits(binary.BigEndian.Uint64(b[:]))}, nil
	case TagBool:
		bb, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: TagBool, Bool: bb != 0}, nil
	case TagString:
		s, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: TagString, Str: string(s)}, nil
	case TagBytes:
		b, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: TagBytes, Bytes: b}, nil
	case TagArray, TagImage2D, TagVolume3D:
		dtype, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, err
		}
		var nDims [4]byte
		if _, err := r.Read(nDims[:]); err != nil {
			return Value{}, err
		}
		shape := make([]int, binary.BigEndian.Uint32(nDims[:]))
		for i := range shape {
			var b [8]byte
			if _, err := r.Read(b[:]); err != nil {
				return Value{}, err
			}
			shape[i] = int(binary.BigEndian.Uint64(b[:]))
		}
		data, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: tag, Array: &NDArray{DType: string(dtype), Shape: shape, Data: data}}, nil
	case TagSequence:
		var n [4]byte
		if _, err := r.Read(n[:]); err != nil {
			return Value{}, err
		}
		count := binary.BigEndian.Uint32(n[:])
		seq := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			eb, err := readLenPrefixed(r)
			if err != nil {
				return Value{}, err
			}
			ev, err := Decode(eb)
			if err != nil {
				return Value{}, err
			}
			seq = append(seq, ev)
		}
		return Value{Tag: TagSequence, Seq: seq}, nil
	case TagMapping:
		var n [4]byte
		if _, err := r.Read(n[:]); err != nil {
			return Value{}, err
		}
		count := binary.BigEndian.Uint32(n[:])
		m := make(map[string]Value, count)
		for i := uint32(0); i < count; i++ {
			k, err := readLenPrefixed(r)
			if err != nil {
				return Value{}, err
			}
			vb, err := readLenPrefixed(r)
			if err != nil {
				return Value{}, err
			}
			dv, err := Decode(vb)
			if err != nil {
				return Value{}, err
			}
			m[string(k)] = dv
		}
		return Value{Tag: TagMapping, Mapping: m}, nil
	case TagNull:
		return Value{Tag: TagNull}, nil
	case TagOpaque:
		b, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: TagOpaque, Opaque: b}, nil
	default:
		return Value{}, fmt.Errorf("codec: unknown tag %d", tag)
	}
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func tagName(t Tag) string {
	switch t {
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagBool:
		return "bool"
	case TagString:
		return "string"
	case TagBytes:
		return "bytes"
	case TagArray:
		return "array"
	case TagImage2D:
		return "image2d"
	case TagVolume3D:
		return "volume3d"
	case TagSequence:
		return "sequence"
	case TagMapping:
		return "mapping"
	case TagNull:
		return "null"
	case TagOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// MarshalJSONBody is a convenience the mapping/sequence cases could use for
// debugging/inspection tooling (e.g. descriptor rendering) without going
// through the binary frame; mirrors the teacher's own use of encoding/json
// for whole-state blobs where field order does not matter.
func MarshalJSONBody(v any) ([]byte, error) { return json.Marshal(v) }
