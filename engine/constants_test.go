package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlogica-project/voxlogica2/codec"
	"github.com/voxlogica-project/voxlogica2/dag"
)

func TestDecodeConstantValueInt(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		bytes []byte
		want  int64
	}{
		{"zero", []byte{0x00}, 0},
		{"small positive", []byte{0x03}, 3},
		{"small negative", []byte{0xff}, -1},
		{"multi-byte positive", []byte{0x00, 0x80}, 128},
		{"multi-byte negative", []byte{0xff, 0x7f}, -129},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			op := dag.Operation{Operator: "const:int", Attributes: map[string]dag.AttrValue{
				"value": {Value: string(c.bytes), HashRelevant: true},
			}}
			v, err := decodeConstantValue(op)
			require.NoError(t, err)
			assert.Equal(t, codec.TagInt, v.Tag)
			assert.Equal(t, c.want, v.Int)
		})
	}
}

func TestDecodeConstantValueIntRejectsEmptyOrOversizedPayload(t *testing.T) {
	t.Parallel()
	_, err := decodeConstantValue(dag.Operation{Operator: "const:int", Attributes: map[string]dag.AttrValue{
		"value": {Value: ""},
	}})
	assert.Error(t, err)

	_, err = decodeConstantValue(dag.Operation{Operator: "const:int", Attributes: map[string]dag.AttrValue{
		"value": {Value: string(make([]byte, 9))},
	}})
	assert.Error(t, err)
}
