package emit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voxlogica-project/voxlogica2/emit"
)

func TestNullEmitterImplementsEmitter(t *testing.T) {
	t.Parallel()
	var e emit.Emitter = emit.NewNullEmitter()
	e.Emit(emit.Event{JobID: "job-1", Msg: "node_start"})
	assert.NoError(t, e.EmitBatch(t.Context(), []emit.Event{{JobID: "job-1"}}))
	assert.NoError(t, e.Flush(t.Context()))
}
