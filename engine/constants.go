package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/voxlogica-project/voxlogica2/codec"
	"github.com/voxlogica-project/voxlogica2/dag"
)

// constantPrefix is the Reducer's sentinel for literal nodes (see
// reducer.numberAttr/stringAttr/boolAttr/nullAttr): a node whose operator
// carries this prefix is not a registry callable at all, it is a literal
// whose value is recoverable directly from its Attributes. The engine
// short-circuits these nodes instead of routing them through a Lookup that
// would never succeed.
const constantPrefix = "const:"

func isConstantOperator(operator string) bool {
	return strings.HasPrefix(operator, constantPrefix)
}

// decodeConstantValue reconstructs the literal codec.Value a const:* node
// represents, the inverse of reducer's numberAttr/stringAttr/boolAttr/
// nullAttr encoding.
func decodeConstantValue(op dag.Operation) (codec.Value, error) {
	switch op.Operator {
	case "const:int":
		raw := []byte(op.Attributes["value"].Value)
		if len(raw) == 0 || len(raw) > 8 {
			return codec.Value{}, fmt.Errorf("const:int: malformed value attribute")
		}
		return codec.Value{Tag: codec.TagInt, Int: decodeMinimalTwosComplement(raw)}, nil

	case "const:float":
		raw := op.Attributes["value"].Value
		if len(raw) != 8 {
			return codec.Value{}, fmt.Errorf("const:float: malformed value attribute")
		}
		bits := binary.BigEndian.Uint64([]byte(raw))
		return codec.Value{Tag: codec.TagFloat, Float: math.Float64frombits(bits)}, nil

	case "const:string":
		return codec.Value{Tag: codec.TagString, Str: op.Attributes["value"].Value}, nil

	case "const:bool":
		return codec.Value{Tag: codec.TagBool, Bool: op.Attributes["value"].Value == "1"}, nil

	case "const:null":
		return codec.Value{Tag: codec.TagNull}, nil

	default:
		return codec.Value{}, fmt.Errorf("%q is not a recognized literal operator", op.Operator)
	}
}

// decodeMinimalTwosComplement reverses reducer.minimalTwosComplement:
// sign-extends a minimal two's-complement big-endian byte slice back to a
// full int64.
func decodeMinimalTwosComplement(b []byte) int64 {
	var buf [8]byte
	fill := byte(0x00)
	if b[0]&0x80 != 0 {
		fill = 0xff
	}
	for i := range buf {
		buf[i] = fill
	}
	copy(buf[8-len(b):], b)
	return int64(binary.BigEndian.Uint64(buf[:]))
}
