package engine_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlogica-project/voxlogica2/codec"
	"github.com/voxlogica-project/voxlogica2/dag/ast"
	"github.com/voxlogica-project/voxlogica2/emit"
	"github.com/voxlogica-project/voxlogica2/engine"
	"github.com/voxlogica-project/voxlogica2/reducer"
	"github.com/voxlogica-project/voxlogica2/registry"
	"github.com/voxlogica-project/voxlogica2/store"
)

func floatValue(n float64) codec.Value { return codec.Value{Tag: codec.TagFloat, Float: n} }

// addOperator sums its two numeric arguments; it also counts how many times
// it was actually invoked, for the at-most-once-per-process property.
// Integer literals reduce to const:int nodes (see reducer.intAttr), so
// operator arithmetic here works on the Int field.
type addOperator struct {
	calls int64
}

func (o *addOperator) Name() string                 { return "+" }
func (o *addOperator) Arity() registry.Arity        { return registry.Fixed(2) }
func (o *addOperator) Effect() registry.EffectClass { return registry.EffectPure }
func (o *addOperator) Call(_ registry.Context, args []codec.Value) (codec.Value, error) {
	atomic.AddInt64(&o.calls, 1)
	return codec.Value{Tag: codec.TagInt, Int: args[0].Int + args[1].Int}, nil
}

// explodeOperator raises a domain error whenever its argument is zero.
type explodeOperator struct{}

func (explodeOperator) Name() string                 { return "explode" }
func (explodeOperator) Arity() registry.Arity        { return registry.Fixed(1) }
func (explodeOperator) Effect() registry.EffectClass { return registry.EffectPure }
func (explodeOperator) Call(_ registry.Context, args []codec.Value) (codec.Value, error) {
	if args[0].Int == 0 {
		return codec.Value{}, fmt.Errorf("division by zero")
	}
	return args[0], nil
}

func num(v int64) *ast.Node { return &ast.Node{Kind: ast.KindNumber, IsInt: true, IntValue: v} }
func call(name string, args ...*ast.Node) *ast.Node {
	return &ast.Node{Kind: ast.KindCall, Name: name, Args: args}
}
func ident(name string) *ast.Node { return &ast.Node{Kind: ast.KindIdentifier, Name: name} }
func letFn(name string, body *ast.Node, rest *ast.Node) *ast.Node {
	return &ast.Node{Kind: ast.KindLetFunction, Name: name, Body: body, Rest: rest}
}
func printGoal(label string, target *ast.Node) *ast.Node {
	return &ast.Node{Kind: ast.KindGoal, GoalKind: "print", Label: label, Target: target}
}
func seq(stmts ...*ast.Node) *ast.Node { return &ast.Node{Kind: ast.KindSequence, Statements: stmts} }

func newRegistryWithAdd() (*registry.Registry, *addOperator) {
	reg := registry.New()
	add := &addOperator{}
	_ = reg.Register(add)
	return reg, add
}

func TestConstantArithmeticScenario(t *testing.T) {
	t.Parallel()
	reg, add := newRegistryWithAdd()
	r := reducer.New(reg)

	program := &ast.Program{Statements: []*ast.Node{
		letFn("a", num(1), letFn("b", num(2),
			letFn("c", call("+", ident("a"), ident("b")), printGoal("sum", ident("c"))))),
	}}
	plan, err := r.Reduce(program)
	require.NoError(t, err)

	st := store.NewMemStore()
	eng, err := engine.New(st, reg, engine.WithRuntimeVersion("1"))
	require.NoError(t, err)

	result, err := eng.Execute(t.Context(), plan, "job-1")
	require.NoError(t, err)
	require.Len(t, result.Goals, 1)
	assert.Equal(t, "sum", result.Goals[0].Goal.Label)
	assert.Empty(t, result.Goals[0].Error)
	assert.Equal(t, 3, result.Summary.Computed)
	assert.Equal(t, int64(1), add.calls)

	records, err := st.Iter(t.Context(), store.Filter{}, 100)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	sumRec, err := st.Get(t.Context(), string(result.Goals[0].Goal.Target), "1")
	require.NoError(t, err)
	sumValue, err := codec.Decode(sumRec.Payload)
	require.NoError(t, err)
	assert.Equal(t, codec.TagInt, sumValue.Tag)
	assert.Equal(t, int64(3), sumValue.Int)

	// second run: everything should be cached_store, add never invoked again.
	result2, err := eng.Execute(t.Context(), plan, "job-2")
	require.NoError(t, err)
	assert.Equal(t, 0, result2.Summary.Computed)
	assert.Equal(t, 3, result2.Summary.CachedStore)
	assert.Equal(t, int64(1), add.calls)
}

func TestSharedSubexpressionComputedOnce(t *testing.T) {
	t.Parallel()
	reg, add := newRegistryWithAdd()
	r := reducer.New(reg)

	onePlusOne := call("+", num(1), num(1))
	program := &ast.Program{Statements: []*ast.Node{
		letFn("x", onePlusOne, letFn("y", call("+", onePlusOne, onePlusOne),
			printGoal("y", ident("y")))),
	}}
	plan, err := r.Reduce(program)
	require.NoError(t, err)

	st := store.NewMemStore()
	eng, err := engine.New(st, reg, engine.WithRuntimeVersion("1"))
	require.NoError(t, err)

	result, err := eng.Execute(t.Context(), plan, "job-1")
	require.NoError(t, err)
	assert.Empty(t, result.Goals[0].Error)
	// literal "1", "1+1" and "y" are each computed once: 3 computes total.
	assert.Equal(t, 3, result.Summary.Computed)
	assert.Equal(t, int64(2), add.calls)
}

func TestFailureIsolation(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistryWithAdd()
	require.NoError(t, reg.Register(explodeOperator{}))
	r := reducer.New(reg)

	program := &ast.Program{Statements: []*ast.Node{
		letFn("a", call("explode", num(0)), letFn("b", call("+", num(1), num(2)),
			seq(printGoal("a", ident("a")), printGoal("b", ident("b"))))),
	}}
	plan, err := r.Reduce(program)
	require.NoError(t, err)

	st := store.NewMemStore()
	eng, err := engine.New(st, reg, engine.WithRuntimeVersion("1"))
	require.NoError(t, err)

	result, err := eng.Execute(t.Context(), plan, "job-1")
	require.NoError(t, err)
	require.Len(t, result.Goals, 2)

	var aGoal, bGoal *engine.GoalOutcome
	for i := range result.Goals {
		switch result.Goals[i].Goal.Label {
		case "a":
			aGoal = &result.Goals[i]
		case "b":
			bGoal = &result.Goals[i]
		}
	}
	require.NotNil(t, aGoal)
	require.NotNil(t, bGoal)
	assert.NotEmpty(t, aGoal.Error)
	assert.Empty(t, bGoal.Error)

	bRec, err := st.Get(t.Context(), string(bGoal.Goal.Target), "1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusMaterialized, bRec.Status)

	aRec, err := st.Get(t.Context(), string(aGoal.Goal.Target), "1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, aRec.Status)
}

// readPathOperator models a filesystem-reading primitive: it runs its
// string argument through ctx.ValidatePath before "reading" it, the one
// containment check spec §6 "Environment inputs" requires of every
// operator that touches the host filesystem.
type readPathOperator struct{}

func (readPathOperator) Name() string                 { return "read" }
func (readPathOperator) Arity() registry.Arity        { return registry.Fixed(1) }
func (readPathOperator) Effect() registry.EffectClass { return registry.EffectIO }
func (readPathOperator) Call(ctx registry.Context, args []codec.Value) (codec.Value, error) {
	path := args[0].Str
	if err := ctx.ValidatePath(path); err != nil {
		return codec.Value{}, err
	}
	return codec.Value{Tag: codec.TagString, Str: path}, nil
}

func pathLiteral(path string) *ast.Node {
	return &ast.Node{Kind: ast.KindString, StringValue: path}
}

func TestAllowedRootsRejectsPathOutsideConfiguredRoots(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	require.NoError(t, reg.Register(readPathOperator{}))
	r := reducer.New(reg)

	root := t.TempDir()
	program := &ast.Program{Statements: []*ast.Node{
		printGoal("out", call("read", pathLiteral("/etc/passwd"))),
	}}
	plan, err := r.Reduce(program)
	require.NoError(t, err)

	st := store.NewMemStore()
	eng, err := engine.New(st, reg, engine.WithRuntimeVersion("1"), engine.WithAllowedRoots(root))
	require.NoError(t, err)

	result, err := eng.Execute(t.Context(), plan, "job-1")
	require.NoError(t, err)
	require.Len(t, result.Goals, 1)
	assert.NotEmpty(t, result.Goals[0].Error)

	// A policy rejection is never persisted as a store record.
	rec, err := st.Get(t.Context(), string(result.Goals[0].Goal.Target), "1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, rec.Status)
}

func TestAllowedRootsAcceptsPathWithinConfiguredRoot(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	require.NoError(t, reg.Register(readPathOperator{}))
	r := reducer.New(reg)

	root := t.TempDir()
	inside := root + "/scan.nii"
	program := &ast.Program{Statements: []*ast.Node{
		printGoal("out", call("read", pathLiteral(inside))),
	}}
	plan, err := r.Reduce(program)
	require.NoError(t, err)

	st := store.NewMemStore()
	eng, err := engine.New(st, reg, engine.WithRuntimeVersion("1"), engine.WithAllowedRoots(root))
	require.NoError(t, err)

	result, err := eng.Execute(t.Context(), plan, "job-1")
	require.NoError(t, err)
	require.Len(t, result.Goals, 1)
	assert.Empty(t, result.Goals[0].Error)
}

// slowOperator blocks until its context is cancelled or a fixed delay
// elapses, used to exercise mid-run cancellation.
type slowOperator struct {
	name  string
	delay time.Duration
}

func (o slowOperator) Name() string                 { return o.name }
func (o slowOperator) Arity() registry.Arity        { return registry.Fixed(0) }
func (o slowOperator) Effect() registry.EffectClass { return registry.EffectPure }
func (o slowOperator) Call(ctx registry.Context, _ []codec.Value) (codec.Value, error) {
	select {
	case <-time.After(o.delay):
		return floatValue(1), nil
	case <-ctx.Done():
		return codec.Value{}, ctx.Err()
	}
}

func TestCancellationStopsUndispatchedNodes(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	require.NoError(t, reg.Register(slowOperator{name: "fast", delay: 10 * time.Millisecond}))
	require.NoError(t, reg.Register(slowOperator{name: "slow", delay: time.Hour}))

	program := &ast.Program{Statements: []*ast.Node{
		letFn("a", call("fast"), letFn("b", call("slow"),
			seq(printGoal("a", ident("a")), printGoal("b", ident("b"))))),
	}}
	r := reducer.New(reg)
	plan, err := r.Reduce(program)
	require.NoError(t, err)

	st := store.NewMemStore()
	eng, err := engine.New(st, reg, engine.WithRuntimeVersion("1"), engine.WithMaxConcurrent(2))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	result, err := eng.Execute(ctx, plan, "job-1")
	assert.Error(t, err)
	assert.True(t, result.Killed)
}

func TestEmitterReceivesEvents(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistryWithAdd()
	r := reducer.New(reg)
	program := &ast.Program{Statements: []*ast.Node{
		letFn("a", call("+", num(1), num(2)), printGoal("a", ident("a"))),
	}}
	plan, err := r.Reduce(program)
	require.NoError(t, err)

	st := store.NewMemStore()
	buffered := emit.NewBufferedEmitter()
	eng, err := engine.New(st, reg, engine.WithRuntimeVersion("1"), engine.WithEmitter(buffered))
	require.NoError(t, err)

	_, err = eng.Execute(t.Context(), plan, "job-1")
	require.NoError(t, err)

	history := buffered.GetHistory("job-1")
	assert.NotEmpty(t, history)
}
