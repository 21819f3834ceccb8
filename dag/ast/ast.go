// Package ast defines the minimal tree shape the external `.imgql` parser
// (out of scope per spec §1) delivers to the Reducer. It has no parsing
// logic of its own — it is the contract boundary described in spec §6.
package ast

import "github.com/voxlogica-project/voxlogica2/dag"

// Kind discriminates the node forms enumerated in spec §4.1.
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindBool
	KindNull
	KindIdentifier
	KindCall
	KindLetFunction // let name(params...) = expr
	KindLetIn       // let name = expr in expr
	KindImport
	KindGoal // print label expr | save path expr
	KindSequence
)

// Node is a tagged-union AST node. Only the fields relevant to Kind are
// populated; the Reducer switches on Kind before reading any other field.
type Node struct {
	Kind     Kind
	Location dag.SourceLocation

	// KindNumber: IsInt selects which of IntValue/NumberValue the literal
	// carries (spec §4.1 canonicalization distinguishes integer and
	// floating-point constants, each with their own binary form).
	// KindString / KindBool carry StringValue / BoolValue.
	IsInt       bool
	IntValue    int64
	NumberValue float64
	StringValue string
	BoolValue   bool

	// KindIdentifier
	Name string

	// KindCall: Name is the callee, Args the positional arguments.
	Args []*Node

	// KindLetFunction: Name is the function, Params its formal parameters,
	// Body the definition, Rest the statement sequence that follows it.
	Params []string
	Body   *Node
	Rest   *Node

	// KindLetIn: Name bound to Value, visible only within In.
	Value *Node
	In    *Node

	// KindImport: Namespace is the imported namespace name.
	Namespace string

	// KindGoal: GoalKind is "print" or "save", Label the declared label or
	// save path, Target the expression being observed.
	GoalKind string
	Label    string
	Target   *Node

	// KindSequence: top-level statement list (program root).
	Statements []*Node
}

// Program is the root the parser hands to the Reducer: a sequence of
// top-level statements (let-bindings and goals), in source order.
type Program struct {
	Statements []*Node
}
