package reducer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinimalTwosComplement(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   int64
		want []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"small positive", 3, []byte{0x03}},
		{"small negative", -1, []byte{0xff}},
		{"byte boundary positive", 127, []byte{0x7f}},
		{"needs extra byte to stay positive", 128, []byte{0x00, 0x80}},
		{"byte boundary negative", -128, []byte{0x80}},
		{"needs extra byte to stay negative", -129, []byte{0xff, 0x7f}},
		{"max int64", 1<<63 - 1, []byte{0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{"min int64", -1 << 63, []byte{0x80, 0, 0, 0, 0, 0, 0, 0}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := minimalTwosComplement(c.in)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestIntAttrRoundTripsThroughMinimalTwosComplement(t *testing.T) {
	t.Parallel()
	for _, v := range []int64{0, 1, -1, 3, 1000, -1000, 1 << 40, -(1 << 40)} {
		attrs := intAttr(v)
		assert.Equal(t, "const:int", attrs["__operator"].Value)
		assert.True(t, attrs["value"].HashRelevant)
	}
}
