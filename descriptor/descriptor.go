// Package descriptor implements the Descriptor Builder (C9): bounded,
// pageable summaries of a StoreRecord's decoded value, navigated by a
// slash-separated path (spec §4.7).
package descriptor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/voxlogica-project/voxlogica2/codec"
	"github.com/voxlogica-project/voxlogica2/store"
)

const (
	// DefaultPageSize is used when a caller requests a page without
	// specifying a size.
	DefaultPageSize = 20
	// MaxPageSize bounds how many sequence/mapping items a single page may
	// return; requests asking for more are clipped (spec §4.7 "requests
	// exceeding max are clipped").
	MaxPageSize = 200
	// StringPreviewBytes is how many bytes of a string value are carried
	// in full before truncation.
	StringPreviewBytes = 256
)

// VoxType names the descriptor's logical value kind, independent of the
// codec.Tag framing byte (spec §4.7's vocabulary: int, float, bool, null,
// string, sequence, mapping, array, image2d, volume3d, error).
type VoxType string

const (
	VoxInt      VoxType = "int"
	VoxFloat    VoxType = "float"
	VoxBool     VoxType = "bool"
	VoxNull     VoxType = "null"
	VoxString   VoxType = "string"
	VoxSequence VoxType = "sequence"
	VoxMapping  VoxType = "mapping"
	VoxArray    VoxType = "array"
	VoxImage2D  VoxType = "image2d"
	VoxVolume3D VoxType = "volume3d"
	VoxOpaque   VoxType = "opaque"
	VoxError    VoxType = "error"
)

// Page describes one window into a sequence's or mapping's items.
type Page struct {
	Offset          int      `json:"offset"`
	Size            int      `json:"size"`
	Total           int      `json:"total"`
	DefaultPageSize int      `json:"default_page_size"`
	MaxPageSize     int      `json:"max_page_size"`
	Keys            []string `json:"keys,omitempty"` // mapping-only: the keys in this page, parallel to Items
}

// ArraySummary carries the n-dimensional-array-specific fields (spec §4.7
// "dtype, shape, optional min/max/mean, optional sample values").
type ArraySummary struct {
	DType     string    `json:"dtype"`
	Shape     []int     `json:"shape"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	Mean      *float64  `json:"mean,omitempty"`
	Sparkline []float64 `json:"sparkline,omitempty"`
	RenderURL string    `json:"render_url,omitempty"`
}

// Summary is the scalar/bounded payload a Descriptor carries for its
// VoxType: exactly the fields relevant to that type are populated.
type Summary struct {
	Value     any           `json:"value,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Length    int           `json:"length,omitempty"`
	Message   string        `json:"message,omitempty"`
	Array     *ArraySummary `json:"array,omitempty"`
}

// Descriptor is the bounded, path-rooted summary the Value Resolver and
// inspection API return for a single node (spec §4.7).
type Descriptor struct {
	VoxType VoxType  `json:"vox_type"`
	Path    string   `json:"path"`
	Summary Summary  `json:"summary"`
	Page    *Page    `json:"page,omitempty"`
	Items   []*Descriptor `json:"items,omitempty"`
}

// errInvalidPath is wrapped by Navigate's errors, never returned by Build — an invalid path
// yields an error-typed Descriptor rather than failing the caller (spec
// §4.7 "Invalid paths return an error-typed descriptor without failing the
// request").
var errInvalidPath = fmt.Errorf("invalid path segment")

// Build constructs a Descriptor for rec, navigated to path, windowed to
// offset/size (used only when the navigated value is a sequence or
// mapping). A failed/killed record always yields a VoxError descriptor
// regardless of path (spec §4.7 "Failed records").
func Build(rec store.Record, path string, offset, size int) *Descriptor {
	if rec.Status != store.StatusMaterialized {
		msg := rec.Error
		if msg == "" {
			msg = string(rec.Status)
		}
		return &Descriptor{VoxType: VoxError, Path: path, Summary: Summary{Message: msg}}
	}

	value, err := codec.Decode(rec.Payload)
	if err != nil {
		return &Descriptor{VoxType: VoxError, Path: path, Summary: Summary{Message: err.Error()}}
	}

	navigated, err := Navigate(value, path)
	if err != nil {
		return &Descriptor{VoxType: VoxError, Path: path, Summary: Summary{Message: err.Error()}}
	}

	return describe(navigated, path, offset, size)
}

// Navigate walks value through path's slash-separated segments (mapping
// key, sequence base-10 index, or array `[i]`/`[i:j]`), per spec §4.7
// "Path semantics".
func Navigate(value codec.Value, path string) (codec.Value, error) {
	if path == "" {
		return value, nil
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	cur := value
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		next, err := navigateSegment(cur, seg)
		if err != nil {
			return codec.Value{}, err
		}
		cur = next
	}
	return cur, nil
}

func navigateSegment(value codec.Value, seg string) (codec.Value, error) {
	switch value.Tag {
	case codec.TagMapping:
		v, ok := value.Mapping[seg]
		if !ok {
			return codec.Value{}, fmt.Errorf("%w: no key %q in mapping", errInvalidPath, seg)
		}
		return v, nil

	case codec.TagSequence:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(value.Seq) {
			return codec.Value{}, fmt.Errorf("%w: index %q out of range", errInvalidPath, seg)
		}
		return value.Seq[idx], nil

	case codec.TagArray, codec.TagImage2D, codec.TagVolume3D:
		return navigateArraySegment(value, seg)

	default:
		return codec.Value{}, fmt.Errorf("%w: %q cannot navigate into a scalar", errInvalidPath, seg)
	}
}

func describe(value codec.Value, path string, offset, size int) *Descriptor {
	switch value.Tag {
	case codec.TagInt:
		return &Descriptor{VoxType: VoxInt, Path: path, Summary: Summary{Value: value.Int}}
	case codec.TagFloat:
		return &Descriptor{VoxType: VoxFloat, Path: path, Summary: Summary{Value: value.Float}}
	case codec.TagBool:
		return &Descriptor{VoxType: VoxBool, Path: path, Summary: Summary{Value: value.Bool}}
	case codec.TagNull:
		return &Descriptor{VoxType: VoxNull, Path: path}

	case codec.TagString:
		s := value.Str
		truncated := false
		if len(s) > StringPreviewBytes {
			s = s[:StringPreviewBytes]
			truncated = true
		}
		return &Descriptor{VoxType: VoxString, Path: path, Summary: Summary{
			Value: s, Truncated: truncated, Length: len(value.Str),
		}}

	case codec.TagSequence:
		return describeSequence(value, path, offset, size)
	case codec.TagMapping:
		return describeMapping(value, path, offset, size)
	case codec.TagArray, codec.TagImage2D, codec.TagVolume3D:
		return describeArray(value, path)
	case codec.TagBytes, codec.TagOpaque:
		return &Descriptor{VoxType: VoxOpaque, Path: path, Summary: Summary{Length: len(value.Bytes) + len(value.Opaque)}}
	default:
		return &Descriptor{VoxType: VoxError, Path: path, Summary: Summary{Message: "unrecognized value tag"}}
	}
}

func clampPage(offset, size, total int) (int, int) {
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + size
	if end > total {
		end = total
	}
	return offset, end
}

func describeSequence(value codec.Value, path string, offset, size int) *Descriptor {
	total := len(value.Seq)
	start, end := clampPage(offset, size, total)

	items := make([]*Descriptor, 0, end-start)
	for i := start; i < end; i++ {
		items = append(items, describe(value.Seq[i], fmt.Sprintf("%s/%d", path, i), 0, 0))
	}

	return &Descriptor{
		VoxType: VoxSequence,
		Path:    path,
		Summary: Summary{Length: total},
		Page: &Page{
			Offset: start, Size: end - start, Total: total,
			DefaultPageSize: DefaultPageSize, MaxPageSize: MaxPageSize,
		},
		Items: items,
	}
}

func describeMapping(value codec.Value, path string, offset, size int) *Descriptor {
	keys := make([]string, 0, len(value.Mapping))
	for k := range value.Mapping {
		keys = append(keys, k)
	}
	sortStrings(keys)
	total := len(keys)
	start, end := clampPage(offset, size, total)

	pageKeys := keys[start:end]
	items := make([]*Descriptor, 0, len(pageKeys))
	for _, k := range pageKeys {
		items = append(items, describe(value.Mapping[k], fmt.Sprintf("%s/%s", path, k), 0, 0))
	}

	return &Descriptor{
		VoxType: VoxMapping,
		Path:    path,
		Summary: Summary{Length: total},
		Page: &Page{
			Offset: start, Size: end - start, Total: total,
			DefaultPageSize: DefaultPageSize, MaxPageSize: MaxPageSize, Keys: pageKeys,
		},
		Items: items,
	}
}

func describeArray(value codec.Value, path string) *Descriptor {
	voxType := VoxArray
	if value.Tag == codec.TagImage2D {
		voxType = VoxImage2D
	} else if value.Tag == codec.TagVolume3D {
		voxType = VoxVolume3D
	}

	summary := &ArraySummary{DType: value.Array.DType, Shape: value.Array.Shape}
	if min, max, mean, sample, ok := arrayStats(value.Array); ok {
		summary.Min, summary.Max, summary.Mean, summary.Sparkline = &min, &max, &mean, sample
	}
	if voxType == VoxImage2D {
		summary.RenderURL = fmt.Sprintf("/api/v1/render/image2d?path=%s", path)
	} else if voxType == VoxVolume3D {
		summary.RenderURL = fmt.Sprintf("/api/v1/render/volume3d?path=%s", path)
	}

	return &Descriptor{VoxType: voxType, Path: path, Summary: Summary{Array: summary}}
}

// arrayStats computes a cheap min/max/mean/sparkline over a float64-encoded
// NDArray; arrays with an unrecognized dtype return ok=false rather than
// misinterpreting their bytes.
func arrayStats(arr *codec.NDArray) (min, max, mean float64, sample []float64, ok bool) {
	if arr.DType != "float64" || len(arr.Data)%8 != 0 {
		return 0, 0, 0, nil, false
	}
	n := len(arr.Data) / 8
	if n == 0 {
		return 0, 0, 0, nil, false
	}
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		values[i] = bytesToFloat64(arr.Data[i*8 : i*8+8])
	}
	min, max = values[0], values[0]
	var sum float64
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	mean = sum / float64(n)

	const sparklinePoints = 32
	if n <= sparklinePoints {
		sample = values
	} else {
		sample = make([]float64, sparklinePoints)
		stride := n / sparklinePoints
		for i := range sample {
			sample[i] = values[i*stride]
		}
	}
	return min, max, mean, sample, true
}
