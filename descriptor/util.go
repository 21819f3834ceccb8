package descriptor

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/voxlogica-project/voxlogica2/codec"
)

func sortStrings(s []string) { sort.Strings(s) }

func bytesToFloat64(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// dtypeSize returns the per-element byte width for the dtype strings an
// NDArray may carry (spec §4.7 "dtype, shape"); unrecognized dtypes return
// ok=false so callers can refuse to slice data they can't interpret.
func dtypeSize(dtype string) (int, bool) {
	switch dtype {
	case "float64", "int64", "uint64":
		return 8, true
	case "float32", "int32", "uint32":
		return 4, true
	case "int16", "uint16":
		return 2, true
	case "int8", "uint8", "bool":
		return 1, true
	default:
		return 0, false
	}
}

// navigateArraySegment implements the `[i]` / `[i:j]` path form for
// n-dimensional arrays (spec §4.6): `[i]` indexes the outermost dimension,
// dropping it (down to a scalar once the array is 1-D); `[i:j]` slices the
// outermost dimension, keeping the array shape.
func navigateArraySegment(value codec.Value, seg string) (codec.Value, error) {
	if !strings.HasPrefix(seg, "[") || !strings.HasSuffix(seg, "]") {
		return codec.Value{}, fmt.Errorf("%w: array segment %q must be of the form [i] or [i:j]", errInvalidPath, seg)
	}
	inner := seg[1 : len(seg)-1]

	arr := value.Array
	if arr == nil || len(arr.Shape) == 0 {
		return codec.Value{}, fmt.Errorf("%w: array has no dimensions to index", errInvalidPath)
	}
	elemSize, ok := dtypeSize(arr.DType)
	if !ok {
		return codec.Value{}, fmt.Errorf("%w: unrecognized dtype %q", errInvalidPath, arr.DType)
	}

	outer := arr.Shape[0]
	stride := elemSize
	for _, dim := range arr.Shape[1:] {
		stride *= dim
	}

	if idx := strings.IndexByte(inner, ':'); idx >= 0 {
		start, end, err := parseSliceBounds(inner, idx, outer)
		if err != nil {
			return codec.Value{}, err
		}
		sliced := &codec.NDArray{
			DType: arr.DType,
			Shape: append([]int{end - start}, arr.Shape[1:]...),
			Data:  arr.Data[start*stride : end*stride],
		}
		return codec.Value{Tag: retagForShape(value.Tag, sliced.Shape), Array: sliced}, nil
	}

	i, err := strconv.Atoi(inner)
	if err != nil || i < 0 || i >= outer {
		return codec.Value{}, fmt.Errorf("%w: index %q out of range", errInvalidPath, inner)
	}

	if len(arr.Shape) == 1 {
		return decodeScalarElement(arr.DType, arr.Data[i*stride:i*stride+stride])
	}

	sliced := &codec.NDArray{
		DType: arr.DType,
		Shape: append([]int{}, arr.Shape[1:]...),
		Data:  arr.Data[i*stride : i*stride+stride],
	}
	return codec.Value{Tag: retagForShape(value.Tag, sliced.Shape), Array: sliced}, nil
}

func parseSliceBounds(inner string, colon, outer int) (int, int, error) {
	startStr, endStr := inner[:colon], inner[colon+1:]
	start, end := 0, outer
	var err error
	if startStr != "" {
		if start, err = strconv.Atoi(startStr); err != nil {
			return 0, 0, fmt.Errorf("%w: invalid slice start %q", errInvalidPath, startStr)
		}
	}
	if endStr != "" {
		if end, err = strconv.Atoi(endStr); err != nil {
			return 0, 0, fmt.Errorf("%w: invalid slice end %q", errInvalidPath, endStr)
		}
	}
	if start < 0 || end > outer || start > end {
		return 0, 0, fmt.Errorf("%w: slice [%d:%d] out of range for dimension of size %d", errInvalidPath, start, end, outer)
	}
	return start, end, nil
}

// retagForShape keeps Image2D/Volume3D tagging only while the remaining
// shape still has the matching dimensionality; indexing down below that
// degrades to a plain Array (or, at 0 dimensions, a scalar — handled by the
// caller before a Value is ever retagged).
func retagForShape(original codec.Tag, shape []int) codec.Tag {
	switch original {
	case codec.TagImage2D:
		if len(shape) == 2 {
			return codec.TagImage2D
		}
	case codec.TagVolume3D:
		if len(shape) == 3 {
			return codec.TagVolume3D
		}
	}
	return codec.TagArray
}

func decodeScalarElement(dtype string, data []byte) (codec.Value, error) {
	switch dtype {
	case "float64":
		return codec.Value{Tag: codec.TagFloat, Float: math.Float64frombits(binary.BigEndian.Uint64(data))}, nil
	case "float32":
		return codec.Value{Tag: codec.TagFloat, Float: float64(math.Float32frombits(binary.BigEndian.Uint32(data)))}, nil
	case "int64":
		return codec.Value{Tag: codec.TagInt, Int: int64(binary.BigEndian.Uint64(data))}, nil
	case "int32":
		return codec.Value{Tag: codec.TagInt, Int: int64(int32(binary.BigEndian.Uint32(data)))}, nil
	case "int16":
		return codec.Value{Tag: codec.TagInt, Int: int64(int16(binary.BigEndian.Uint16(data)))}, nil
	case "int8":
		return codec.Value{Tag: codec.TagInt, Int: int64(int8(data[0]))}, nil
	case "uint64":
		return codec.Value{Tag: codec.TagInt, Int: int64(binary.BigEndian.Uint64(data))}, nil
	case "uint32":
		return codec.Value{Tag: codec.TagInt, Int: int64(binary.BigEndian.Uint32(data))}, nil
	case "uint16":
		return codec.Value{Tag: codec.TagInt, Int: int64(binary.BigEndian.Uint16(data))}, nil
	case "uint8":
		return codec.Value{Tag: codec.TagInt, Int: int64(data[0])}, nil
	case "bool":
		return codec.Value{Tag: codec.TagBool, Bool: data[0] != 0}, nil
	default:
		return codec.Value{}, fmt.Errorf("%w: unrecognized dtype %q", errInvalidPath, dtype)
	}
}
