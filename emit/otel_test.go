package emit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/voxlogica-project/voxlogica2/emit"
)

func TestOTelEmitterCreatesSpanPerEvent(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("voxlogica-test")

	e := emit.NewOTelEmitter(tracer)
	e.Emit(emit.Event{JobID: "job-1", NodeID: "n1", Operator: "blur", Msg: "node_dispatch"})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "node_dispatch", spans[0].Name())
}

func TestOTelEmitterEmitBatch(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("voxlogica-test")

	e := emit.NewOTelEmitter(tracer)
	err := e.EmitBatch(context.Background(), []emit.Event{
		{JobID: "job-1", NodeID: "n1", Msg: "node_dispatch"},
		{JobID: "job-1", NodeID: "n1", Msg: "node_commit"},
	})
	require.NoError(t, err)
	assert.Len(t, recorder.Ended(), 2)
}

func TestOTelEmitterFlushWithNoopProvider(t *testing.T) {
	t.Parallel()
	e := emit.NewOTelEmitter(otel.Tracer("voxlogica-test"))
	assert.NoError(t, e.Flush(context.Background()))
}
