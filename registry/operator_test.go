package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlogica-project/voxlogica2/codec"
)

func TestArityAccepts(t *testing.T) {
	t.Parallel()

	fixed := Fixed(2)
	assert.True(t, fixed.Accepts(2))
	assert.False(t, fixed.Accepts(1))
	assert.False(t, fixed.Accepts(3))

	variadic := Arity{Min: 1, Variadic: true}
	assert.True(t, variadic.Accepts(1))
	assert.True(t, variadic.Accepts(5))
	assert.False(t, variadic.Accepts(0))
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := New()
	add := &MockOperator{OpName: "add", OpArity: Fixed(2)}
	require.NoError(t, r.Register(add))

	got, err := r.Lookup("add")
	require.NoError(t, err)
	assert.Equal(t, add, got)

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownCallable)
}

func TestValidatePathUnrestrictedWhenNoRootsConfigured(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidatePath(nil, "/anything/at/all"))
}

func TestValidatePathAcceptsPathsWithinAnAllowedRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	inside := filepath.Join(root, "data", "volume.nii")
	assert.NoError(t, ValidatePath([]string{root}, inside))
	assert.NoError(t, ValidatePath([]string{root}, root))
}

func TestValidatePathRejectsPathsOutsideEveryAllowedRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "elsewhere", "secret.nii")
	err := ValidatePath([]string{root}, outside)
	assert.ErrorIs(t, err, ErrPathNotAllowed)
}

func TestValidatePathRejectsTraversalEscapingTheRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	escaping := filepath.Join(root, "..", "escaped.nii")
	err := ValidatePath([]string{root}, escaping)
	assert.ErrorIs(t, err, ErrPathNotAllowed)
}

func TestContextValidatePathDelegatesToAllowedRoots(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	ctx := Context{Context: context.Background(), AllowedRoots: []string{root}}
	assert.NoError(t, ctx.ValidatePath(filepath.Join(root, "ok.nii")))
	assert.True(t, errors.Is(ctx.ValidatePath(filepath.Join(filepath.Dir(root), "no.nii")), ErrPathNotAllowed))
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(&MockOperator{OpName: "add"}))
	err := r.Register(&MockOperator{OpName: "add"})
	assert.ErrorIs(t, err, ErrDuplicateOperator)
}

type stubNamespace struct {
	name string
	ops  []Operator
}

func (s stubNamespace) Name() string         { return s.name }
func (s stubNamespace) Operators() []Operator { return s.ops }

func TestRegistryRegisterNamespace(t *testing.T) {
	t.Parallel()

	r := New()
	ns := stubNamespace{name: "img", ops: []Operator{
		&MockOperator{OpName: "blur"},
		&MockOperator{OpName: "threshold"},
	}}
	require.NoError(t, r.RegisterNamespace(ns))

	names := r.Names()
	assert.ElementsMatch(t, []string{"blur", "threshold"}, names)
}

func TestMockOperatorCallSequenceAndError(t *testing.T) {
	t.Parallel()

	m := &MockOperator{
		OpName:    "const",
		Responses: []codec.Value{{Tag: codec.TagInt, Int: 1}, {Tag: codec.TagInt, Int: 2}},
	}
	ctx := Context{Context: context.Background()}

	v1, err := m.Call(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.Int)

	v2, err := m.Call(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.Int)

	// Exhausted: repeats the last response.
	v3, err := m.Call(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v3.Int)

	assert.Equal(t, 3, m.CallCount())

	m.Reset()
	assert.Equal(t, 0, m.CallCount())
}

func TestMockOperatorHonoursCancellation(t *testing.T) {
	t.Parallel()

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &MockOperator{OpName: "slow"}
	_, err := m.Call(Context{Context: cancelCtx}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
