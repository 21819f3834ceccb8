package dag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlogica-project/voxlogica2/dag"
)

// TestOperationsPreservesInsertionOrder guards spec §4.5 "Ordering and
// tie-breaks": dispatch within a ready set, and the event log's tie break,
// both derive from Workplan.Operations() returning NodeIds in the order
// they were first interned, not map iteration order.
func TestOperationsPreservesInsertionOrder(t *testing.T) {
	t.Parallel()
	b := dag.NewWorkplanBuilder()

	var ids []dag.NodeId
	for i := 0; i < 20; i++ {
		id, op := dag.NewOperation("leaf", nil, map[string]dag.AttrValue{
			"value": {Value: string(rune('a' + i)), HashRelevant: true},
		})
		b.Intern(id, op)
		ids = append(ids, id)
	}

	plan, err := b.Freeze()
	require.NoError(t, err)
	assert.Equal(t, ids, plan.Operations())
	// Calling Operations() again returns the same order, not a fresh
	// random permutation of the underlying map.
	assert.Equal(t, ids, plan.Operations())
}

// TestInternIsIdempotentForOrdering ensures re-interning an already-seen
// NodeId does not duplicate or move its position in the order slice.
func TestInternIsIdempotentForOrdering(t *testing.T) {
	t.Parallel()
	b := dag.NewWorkplanBuilder()

	idA, opA := dag.NewOperation("const:int", nil, map[string]dag.AttrValue{"value": {Value: "a", HashRelevant: true}})
	idB, opB := dag.NewOperation("const:int", nil, map[string]dag.AttrValue{"value": {Value: "b", HashRelevant: true}})

	b.Intern(idA, opA)
	b.Intern(idB, opB)
	b.Intern(idA, opA) // re-intern: must not move idA to the end

	plan, err := b.Freeze()
	require.NoError(t, err)
	assert.Equal(t, []dag.NodeId{idA, idB}, plan.Operations())
	assert.Equal(t, 2, plan.Len())
}

// TestOperationsReturnsAnIndependentCopy guards against a caller mutating
// the slice Operations() returns from corrupting the Workplan's own order.
func TestOperationsReturnsAnIndependentCopy(t *testing.T) {
	t.Parallel()
	b := dag.NewWorkplanBuilder()
	id, op := dag.NewOperation("const:null", nil, nil)
	b.Intern(id, op)
	plan, err := b.Freeze()
	require.NoError(t, err)

	ids := plan.Operations()
	ids[0] = "corrupted"

	assert.NotEqual(t, dag.NodeId("corrupted"), plan.Operations()[0])
}

func TestFreezeRejectsUndefinedArgument(t *testing.T) {
	t.Parallel()
	b := dag.NewWorkplanBuilder()
	missing := dag.NodeId("deadbeef")
	id, op := dag.NewOperation("+", []dag.NodeId{missing}, nil)
	b.Intern(id, op)

	_, err := b.Freeze()
	assert.ErrorIs(t, err, dag.ErrNotClosed)
}

func TestAddGoalRejectsDuplicatePrintLabel(t *testing.T) {
	t.Parallel()
	b := dag.NewWorkplanBuilder()
	id, op := dag.NewOperation("const:null", nil, nil)
	b.Intern(id, op)

	require.NoError(t, b.AddGoal(dag.GoalPrint, "out", id))
	err := b.AddGoal(dag.GoalPrint, "out", id)
	assert.ErrorIs(t, err, dag.ErrDuplicatePrintLabel)
}
