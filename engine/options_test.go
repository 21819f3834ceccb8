package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlogica-project/voxlogica2/engine"
	"github.com/voxlogica-project/voxlogica2/registry"
	"github.com/voxlogica-project/voxlogica2/store"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()
	eng, err := engine.New(store.NewMemStore(), registry.New())
	require.NoError(t, err)
	assert.NotNil(t, eng)
}

func TestWithMaxConcurrentRejectsNonPositive(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, -1} {
		_, err := engine.New(store.NewMemStore(), registry.New(), engine.WithMaxConcurrent(n))
		assert.ErrorIs(t, err, engine.ErrMaxConcurrentInvalid)
	}
}

func TestWithQueueDepthRejectsNonPositive(t *testing.T) {
	t.Parallel()
	_, err := engine.New(store.NewMemStore(), registry.New(), engine.WithQueueDepth(0))
	assert.ErrorIs(t, err, engine.ErrQueueDepthInvalid)
}

func TestWithRuntimeVersionRejectsEmpty(t *testing.T) {
	t.Parallel()
	_, err := engine.New(store.NewMemStore(), registry.New(), engine.WithRuntimeVersion(""))
	assert.Error(t, err)
}

func TestOptionsCompose(t *testing.T) {
	t.Parallel()
	_, err := engine.New(store.NewMemStore(), registry.New(),
		engine.WithMaxConcurrent(4),
		engine.WithQueueDepth(64),
		engine.WithDefaultNodeTimeout(time.Second),
		engine.WithRunWallClockBudget(time.Minute),
		engine.WithRuntimeVersion("2"),
		engine.WithAllowedRoots("/data"),
		engine.WithMetrics(engine.NewMetrics(nil)),
	)
	require.NoError(t, err)
}
