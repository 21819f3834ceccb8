package resolver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlogica-project/voxlogica2/codec"
	"github.com/voxlogica-project/voxlogica2/dag"
	"github.com/voxlogica-project/voxlogica2/resolver"
	"github.com/voxlogica-project/voxlogica2/store"
)

const runtimeVersion = "1"

func encodeInt(t *testing.T, n int64) []byte {
	t.Helper()
	payload, err := codec.Encode(codec.Value{Tag: codec.TagInt, Int: n})
	require.NoError(t, err)
	return payload
}

func materialize(t *testing.T, st store.Store, nodeID dag.NodeId, n int64) {
	t.Helper()
	ctx := context.Background()
	res, lease, err := st.BeginCompute(ctx, string(nodeID), runtimeVersion, "owner")
	require.NoError(t, err)
	require.Equal(t, store.ResultLease, res)
	require.NoError(t, lease.Commit(ctx, store.StatusMaterialized, encodeInt(t, n), ""))
}

func fail(t *testing.T, st store.Store, nodeID dag.NodeId, msg string) {
	t.Helper()
	ctx := context.Background()
	res, lease, err := st.BeginCompute(ctx, string(nodeID), runtimeVersion, "owner")
	require.NoError(t, err)
	require.Equal(t, store.ResultLease, res)
	require.NoError(t, lease.Commit(ctx, store.StatusFailed, nil, msg))
}

func workplanWithGoal(t *testing.T, label string, target dag.NodeId) *dag.Workplan {
	t.Helper()
	b := dag.NewWorkplanBuilder()
	b.Intern(target, dag.Operation{Operator: "const:int"})
	require.NoError(t, b.AddGoal(dag.GoalPrint, label, target))
	wp, err := b.Freeze()
	require.NoError(t, err)
	return wp
}

type fakeJobSubmitter struct {
	submitted map[dag.NodeId]string
	status    map[dag.NodeId]resolver.JobStatus
	submitErr error
}

func newFakeJobSubmitter() *fakeJobSubmitter {
	return &fakeJobSubmitter{submitted: map[dag.NodeId]string{}, status: map[dag.NodeId]resolver.JobStatus{}}
}

func (f *fakeJobSubmitter) SubmitNode(_ context.Context, _ *dag.Workplan, nodeID dag.NodeId) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	jobID := "job-" + string(nodeID)
	f.submitted[nodeID] = jobID
	f.status[nodeID] = resolver.JobPending
	return jobID, nil
}

func (f *fakeJobSubmitter) NodeJobStatus(nodeID dag.NodeId) (resolver.JobStatus, string, bool) {
	jobID, ok := f.submitted[nodeID]
	if !ok {
		return "", "", false
	}
	return f.status[nodeID], jobID, true
}

func TestResolveCachedLookupReturnsMaterializedDescriptor(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	node := dag.NodeId("n1")
	materialize(t, st, node, 42)

	r := resolver.New(st, nil, runtimeVersion)
	resp, err := r.Resolve(context.Background(), resolver.Request{NodeID: node})
	require.NoError(t, err)
	assert.Equal(t, resolver.MaterializationCached, resp.Materialization)
	require.NotNil(t, resp.Descriptor)
	assert.Equal(t, int64(42), resp.Descriptor.Summary.Value)
}

func TestResolveCachedLookupMissing(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	r := resolver.New(st, nil, runtimeVersion)

	resp, err := r.Resolve(context.Background(), resolver.Request{NodeID: dag.NodeId("absent")})
	require.NoError(t, err)
	assert.Equal(t, resolver.MaterializationMissing, resp.Materialization)
	assert.Nil(t, resp.Descriptor)
}

func TestResolveCachedLookupFailed(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	node := dag.NodeId("n2")
	fail(t, st, node, "boom")

	r := resolver.New(st, nil, runtimeVersion)
	resp, err := r.Resolve(context.Background(), resolver.Request{NodeID: node})
	require.NoError(t, err)
	assert.Equal(t, resolver.MaterializationFailed, resp.Materialization)
	require.NotNil(t, resp.Descriptor)
	assert.Equal(t, "boom", resp.Descriptor.Summary.Message)
}

func TestResolveByVariableLooksUpGoalLabel(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	node := dag.NodeId("n3")
	materialize(t, st, node, 7)
	wp := workplanWithGoal(t, "sum", node)

	r := resolver.New(st, nil, runtimeVersion)
	resp, err := r.Resolve(context.Background(), resolver.Request{Workplan: wp, Variable: "sum"})
	require.NoError(t, err)
	assert.Equal(t, node, resp.NodeID)
	assert.Equal(t, resolver.MaterializationCached, resp.Materialization)
}

func TestResolveUnknownVariableErrors(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	wp := workplanWithGoal(t, "sum", dag.NodeId("n4"))

	r := resolver.New(st, nil, runtimeVersion)
	_, err := r.Resolve(context.Background(), resolver.Request{Workplan: wp, Variable: "nope"})
	assert.ErrorIs(t, err, resolver.ErrUnknownVariable)
}

func TestResolveNoTargetErrors(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	r := resolver.New(st, nil, runtimeVersion)
	_, err := r.Resolve(context.Background(), resolver.Request{})
	assert.ErrorIs(t, err, resolver.ErrNoTarget)
}

func TestResolveEnqueueMissingSubmitsJob(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	node := dag.NodeId("n5")
	wp := workplanWithGoal(t, "x", node)
	jobs := newFakeJobSubmitter()

	r := resolver.New(st, jobs, runtimeVersion)
	resp, err := r.Resolve(context.Background(), resolver.Request{Workplan: wp, NodeID: node, Enqueue: true})
	require.NoError(t, err)
	assert.Equal(t, resolver.MaterializationPending, resp.Materialization)
	assert.NotEmpty(t, resp.JobID)
}

func TestResolveEnqueueReusesInFlightJob(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	node := dag.NodeId("n6")
	wp := workplanWithGoal(t, "x", node)
	jobs := newFakeJobSubmitter()

	r := resolver.New(st, jobs, runtimeVersion)
	first, err := r.Resolve(context.Background(), resolver.Request{Workplan: wp, NodeID: node, Enqueue: true})
	require.NoError(t, err)

	jobs.status[node] = resolver.JobRunning
	second, err := r.Resolve(context.Background(), resolver.Request{Workplan: wp, NodeID: node, Enqueue: true})
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, resolver.MaterializationRunning, second.Materialization)
	assert.Len(t, jobs.submitted, 1)
}

func TestResolveEnqueueConvergesToComputed(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	node := dag.NodeId("n7")
	wp := workplanWithGoal(t, "x", node)
	jobs := newFakeJobSubmitter()

	r := resolver.New(st, jobs, runtimeVersion)
	_, err := r.Resolve(context.Background(), resolver.Request{Workplan: wp, NodeID: node, Enqueue: true})
	require.NoError(t, err)

	materialize(t, st, node, 99)
	resp, err := r.Resolve(context.Background(), resolver.Request{Workplan: wp, NodeID: node, Enqueue: true})
	require.NoError(t, err)
	assert.Equal(t, resolver.MaterializationComputed, resp.Materialization)
	assert.Equal(t, int64(99), resp.Descriptor.Summary.Value)
}

func TestResolveEnqueueWithoutJobSubmitterErrors(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	node := dag.NodeId("n8")
	wp := workplanWithGoal(t, "x", node)

	r := resolver.New(st, nil, runtimeVersion)
	_, err := r.Resolve(context.Background(), resolver.Request{Workplan: wp, NodeID: node, Enqueue: true})
	assert.Error(t, err)
}

func TestResolveEnqueueNoCacheOverridesStickyFailure(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	node := dag.NodeId("n10")
	wp := workplanWithGoal(t, "x", node)
	fail(t, st, node, "boom")
	jobs := newFakeJobSubmitter()

	r := resolver.New(st, jobs, runtimeVersion)
	resp, err := r.Resolve(context.Background(), resolver.Request{Workplan: wp, NodeID: node, Enqueue: true, NoCache: true})
	require.NoError(t, err)
	assert.Equal(t, resolver.MaterializationPending, resp.Materialization)
	assert.NotEmpty(t, resp.JobID)

	_, getErr := st.Get(context.Background(), string(node), runtimeVersion)
	assert.ErrorIs(t, getErr, store.ErrNotFound)
}

func TestResolveEnqueueWithoutNoCacheKeepsStickyFailure(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	node := dag.NodeId("n11")
	wp := workplanWithGoal(t, "x", node)
	fail(t, st, node, "boom")
	jobs := newFakeJobSubmitter()

	r := resolver.New(st, jobs, runtimeVersion)
	resp, err := r.Resolve(context.Background(), resolver.Request{Workplan: wp, NodeID: node, Enqueue: true})
	require.NoError(t, err)
	assert.Equal(t, resolver.MaterializationFailed, resp.Materialization)
	assert.Empty(t, jobs.submitted)
}

func TestResolvePathNavigatesIntoMapping(t *testing.T) {
	t.Parallel()
	st := store.NewMemStore()
	node := dag.NodeId("n9")
	ctx := context.Background()
	payload, err := codec.Encode(codec.Value{Tag: codec.TagMapping, Mapping: map[string]codec.Value{
		"a": {Tag: codec.TagInt, Int: 1},
	}})
	require.NoError(t, err)
	res, lease, err := st.BeginCompute(ctx, string(node), runtimeVersion, "owner")
	require.NoError(t, err)
	require.Equal(t, store.ResultLease, res)
	require.NoError(t, lease.Commit(ctx, store.StatusMaterialized, payload, ""))

	r := resolver.New(st, nil, runtimeVersion)
	resp, err := r.Resolve(ctx, resolver.Request{NodeID: node, Path: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Descriptor.Summary.Value)
}
