// Package reducer implements the Reducer (C4): lowers an AST (dag/ast) into
// a frozen dag.Workplan, resolving scopes, closures and namespaces (spec
// §4.1).
package reducer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/voxlogica-project/voxlogica2/dag"
	"github.com/voxlogica-project/voxlogica2/dag/ast"
	"github.com/voxlogica-project/voxlogica2/registry"
)

// binding is what a name in the environment stack resolves to: either a
// NodeId (a fully reduced expression) or a closure captured at definition
// time (spec §4.1 step 1, §9 "Closures captured at reduce time").
type binding struct {
	isClosure bool
	nodeID    dag.NodeId
	closure   closure
}

// closure is the immutable record spec §9 prescribes:
// (parameter names, body pointer, captured bindings snapshot). It never
// leaks into the Workplan; only the NodeIds it eventually produces do.
type closure struct {
	params []string
	body   *ast.Node
	env    *scope
}

// scope is one frame of the environment stack. Lookups walk outward to
// enclosing scopes; a name bound in an inner scope shadows the same name
// bound outside it.
type scope struct {
	parent   *scope
	bindings map[string]binding
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, bindings: make(map[string]binding)}
}

func (s *scope) lookup(name string) (binding, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if b, ok := cur.bindings[name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

func (s *scope) bind(name string, b binding) {
	s.bindings[name] = b
}

// snapshot returns a new frame holding a copy of every binding visible from
// s, inner bindings shadowing outer ones. Bindings added to s or its
// parents after a closure captures the snapshot are not visible to it, so a
// function's body cannot refer to the function itself.
func (s *scope) snapshot() *scope {
	var frames []*scope
	for cur := s; cur != nil; cur = cur.parent {
		frames = append(frames, cur)
	}
	flat := newScope(nil)
	for i := len(frames) - 1; i >= 0; i-- {
		for name, b := range frames[i].bindings {
			flat.bindings[name] = b
		}
	}
	return flat
}

// Reducer lowers ast.Program values into dag.Workplan values against a
// fixed Registry of primitive operators.
type Reducer struct {
	registry *registry.Registry
}

// New returns a Reducer dispatching primitive calls through reg.
func New(reg *registry.Registry) *Reducer {
	return &Reducer{registry: reg}
}

// Reduce lowers program into a closed Workplan, per spec §4.1's algorithm.
func (r *Reducer) Reduce(program *ast.Program) (*dag.Workplan, error) {
	builder := dag.NewWorkplanBuilder()
	root := newScope(nil)

	stmts := program.Statements
	if err := r.reduceStatements(stmts, root, builder); err != nil {
		return nil, err
	}
	return builder.Freeze()
}

// reduceStatements walks a statement sequence left to right, threading
// bindings introduced by `let` into the scope visible to later statements
// (spec §4.1 step 1-2).
func (r *Reducer) reduceStatements(stmts []*ast.Node, sc *scope, b *dag.WorkplanBuilder) error {
	for _, stmt := range stmts {
		if err := r.reduceStatement(stmt, sc, b); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reducer) reduceStatement(stmt *ast.Node, sc *scope, b *dag.WorkplanBuilder) error {
	switch stmt.Kind {
	case ast.KindLetFunction:
		if len(stmt.Params) == 0 {
			id, err := r.reduceExpr(stmt.Body, sc, b)
			if err != nil {
				return err
			}
			sc.bind(stmt.Name, binding{nodeID: id})
		} else {
			sc.bind(stmt.Name, binding{isClosure: true, closure: closure{
				params: stmt.Params,
				body:   stmt.Body,
				env:    sc.snapshot(),
			}})
		}
		if stmt.Rest != nil {
			return r.reduceStatement(stmt.Rest, sc, b)
		}
		return nil

	case ast.KindLetIn:
		id, err := r.reduceExpr(stmt.Value, sc, b)
		if err != nil {
			return err
		}
		inner := newScope(sc)
		inner.bind(stmt.Name, binding{nodeID: id})
		_, err = r.reduceExpr(stmt.In, inner, b)
		return err

	case ast.KindImport:
		return r.reduceImport(stmt, sc)

	case ast.KindGoal:
		target, err := r.reduceExpr(stmt.Target, sc, b)
		if err != nil {
			return err
		}
		kind := dag.GoalPrint
		if stmt.GoalKind == "save" {
			kind = dag.GoalSave
		}
		if err := b.AddGoal(kind, stmt.Label, target); err != nil {
			return &dag.ReducerError{Code: dag.ErrDuplicatePrintLabel, Message: err.Error(), Location: stmt.Location}
		}
		return nil

	case ast.KindSequence:
		return r.reduceStatements(stmt.Statements, sc, b)

	default:
		_, err := r.reduceExpr(stmt, sc, b)
		return err
	}
}

// reduceImport checks an import statement. It binds nothing into sc:
// primitive calls resolve against the registry's flat operator table
// whether or not their namespace was imported, so import order has no
// effect on which operator a name denotes. Only an empty namespace name is
// rejected; an unknown non-empty name is accepted.
func (r *Reducer) reduceImport(stmt *ast.Node, sc *scope) error {
	for _, name := range r.registry.Names() {
		op, err := r.registry.Lookup(name)
		if err != nil {
			continue
		}
		_ = op
		// Namespacing is flat in this registry (see registry.Namespace);
		// every operator it contributes is visible under its own name once
		// imported. A binding records nothing here because primitive calls
		// resolve directly via the registry in reduceExpr's call case.
	}
	if stmt.Namespace == "" {
		return &dag.ReducerError{Code: dag.ErrIllegalImport, Message: "empty import namespace", Location: stmt.Location}
	}
	return nil
}

// reduceExpr evaluates expr to a NodeId, per spec §4.1 steps 3-4.
func (r *Reducer) reduceExpr(expr *ast.Node, sc *scope, b *dag.WorkplanBuilder) (dag.NodeId, error) {
	switch expr.Kind {
	case ast.KindNumber:
		if expr.IsInt {
			return r.internConstant(intAttr(expr.IntValue), b)
		}
		return r.internConstant(numberAttr(expr.NumberValue), b)
	case ast.KindString:
		return r.internConstant(stringAttr(expr.StringValue), b)
	case ast.KindBool:
		return r.internConstant(boolAttr(expr.BoolValue), b)
	case ast.KindNull:
		return r.internConstant(nullAttr(), b)

	case ast.KindIdentifier:
		bound, ok := sc.lookup(expr.Name)
		if !ok {
			return "", &dag.ReducerError{Code: dag.ErrUnknownCallable, Message: fmt.Sprintf("undefined identifier %q", expr.Name), Location: expr.Location}
		}
		if bound.isClosure {
			return "", &dag.ReducerError{Code: dag.ErrUnknownCallable, Message: fmt.Sprintf("%q is a function, not a value", expr.Name), Location: expr.Location}
		}
		return bound.nodeID, nil

	case ast.KindCall:
		return r.reduceCall(expr, sc, b)

	default:
		return "", &dag.ReducerError{Code: dag.ErrSyntaxNotRecognized, Message: fmt.Sprintf("unrecognized expression kind %d", expr.Kind), Location: expr.Location}
	}
}

// reduceCall implements spec §4.1 step 3: arguments reduce left to right
// first; a closure callee substitutes parameters in its captured
// environment and reduces its body; a registry-bound name emits a new
// Operation and interns it; anything else is UnknownCallable.
func (r *Reducer) reduceCall(expr *ast.Node, sc *scope, b *dag.WorkplanBuilder) (dag.NodeId, error) {
	argIDs := make([]dag.NodeId, len(expr.Args))
	for i, arg := range expr.Args {
		id, err := r.reduceExpr(arg, sc, b)
		if err != nil {
			return "", err
		}
		argIDs[i] = id
	}

	if bound, ok := sc.lookup(expr.Name); ok && bound.isClosure {
		if len(bound.closure.params) != len(argIDs) {
			return "", &dag.ReducerError{
				Code:     dag.ErrArityMismatch,
				Message:  fmt.Sprintf("%q expects %d arguments, got %d", expr.Name, len(bound.closure.params), len(argIDs)),
				Location: expr.Location,
			}
		}
		callScope := newScope(bound.closure.env)
		for i, param := range bound.closure.params {
			callScope.bind(param, binding{nodeID: argIDs[i]})
		}
		return r.reduceExpr(bound.closure.body, callScope, b)
	}

	op, err := r.registry.Lookup(expr.Name)
	if err != nil {
		return "", &dag.ReducerError{Code: dag.ErrUnknownCallable, Message: err.Error(), Location: expr.Location}
	}
	if !op.Arity().Accepts(len(argIDs)) {
		return "", &dag.ReducerError{
			Code:     dag.ErrArityMismatch,
			Message:  fmt.Sprintf("%q does not accept %d arguments", expr.Name, len(argIDs)),
			Location: expr.Location,
		}
	}

	id, operation := dag.NewOperation(expr.Name, argIDs, nil)
	return b.Intern(id, operation), nil
}

func (r *Reducer) internConstant(attrs map[string]dag.AttrValue, b *dag.WorkplanBuilder) (dag.NodeId, error) {
	operator := attrs["__operator"].Value
	delete(attrs, "__operator")
	id, op := dag.NewOperation(operator, nil, attrs)
	return b.Intern(id, op), nil
}

// intAttr canonicalizes an integer literal to its minimal two's-complement
// big-endian form (spec §4.1 "integers: two's-complement big-endian minimum
// length"), distinct from numberAttr's fixed 8-byte IEEE-754 float form so
// the two never collide under NodeId hashing.
func intAttr(v int64) map[string]dag.AttrValue {
	return map[string]dag.AttrValue{
		"__operator": {Value: "const:int"},
		"value":      {Value: string(minimalTwosComplement(v)), HashRelevant: true},
	}
}

// minimalTwosComplement returns v's two's-complement big-endian
// representation with every redundant sign-extension byte dropped, never
// shorter than one byte (zero-length is reserved for the null literal).
func minimalTwosComplement(v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	b := buf[:]
	for len(b) > 1 {
		if b[0] == 0x00 && b[1]&0x80 == 0 {
			b = b[1:]
			continue
		}
		if b[0] == 0xff && b[1]&0x80 != 0 {
			b = b[1:]
			continue
		}
		break
	}
	return b
}

func numberAttr(v float64) map[string]dag.AttrValue {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return map[string]dag.AttrValue{
		"__operator": {Value: "const:float"},
		"value":      {Value: string(b[:]), HashRelevant: true},
	}
}

func stringAttr(v string) map[string]dag.AttrValue {
	return map[string]dag.AttrValue{
		"__operator": {Value: "const:string"},
		"value":      {Value: v, HashRelevant: true},
	}
}

func boolAttr(v bool) map[string]dag.AttrValue {
	val := "0"
	if v {
		val = "1"
	}
	return map[string]dag.AttrValue{
		"__operator": {Value: "const:bool"},
		"value":      {Value: val, HashRelevant: true},
	}
}

func nullAttr() map[string]dag.AttrValue {
	return map[string]dag.AttrValue{
		"__operator": {Value: "const:null"},
	}
}
