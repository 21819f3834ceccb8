// Package dag defines the content-addressed data model shared by every
// component of the core: NodeId, Operation, Workplan and Goal.
package dag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
)

// NodeId is a lowercase hexadecimal digest derived from the canonical
// serialization of an Operation's operator name and the ordered NodeIds of
// its arguments. It is the sole identity of a node: two Operations with the
// identical operator and identical argument NodeIds are the same node.
type NodeId string

// String implements fmt.Stringer.
func (id NodeId) String() string { return string(id) }

// IsZero reports whether id is the empty NodeId (never a valid identity).
func (id NodeId) IsZero() bool { return id == "" }

// Operation is the tuple (operator, arguments, attributes) described in
// spec §3. Attributes carry static configuration that participates in the
// NodeId hash only when it is marked as hash-relevant (see AttrValue).
type Operation struct {
	Operator   string
	Arguments  []NodeId
	Attributes map[string]AttrValue
}

// AttrValue is a single static attribute. HashRelevant must be true for any
// attribute whose value changes the operator's observable output; telemetry
// or purely cosmetic attributes (e.g. a human label) must set it false so
// they never perturb cache identity.
type AttrValue struct {
	Value        string
	HashRelevant bool
}

// writeLenPrefixed writes b as a big-endian uint32 length prefix followed by
// b itself, matching the "length-prefixed" framing spec §4.1 requires for
// both operator names and argument NodeIds.
func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

// ComputeNodeId implements the canonicalization contract of spec §4.1:
//
//	H(serialize(operator) || concat(serialize(arg_i)) || concat(serialize(attr_j)))
//
// serialize writes the operator as length-prefixed UTF-8 bytes, each
// argument as a length-prefixed copy of its hex NodeId, and each
// hash-relevant attribute (sorted by key for determinism) as a
// length-prefixed "key=value" pair. H is SHA-256. This mirrors the
// structured-byte-concatenation-then-hash idiom used for order keys and
// idempotency keys in the teacher's scheduler and checkpoint code.
func ComputeNodeId(operator string, arguments []NodeId, attributes map[string]AttrValue) NodeId {
	h := sha256.New()
	writeLenPrefixed(h, []byte(operator))
	for _, arg := range arguments {
		writeLenPrefixed(h, []byte(arg))
	}

	keys := make([]string, 0, len(attributes))
	for k, v := range attributes {
		if v.HashRelevant {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeLenPrefixed(h, []byte(k+"="+attributes[k].Value))
	}

	return NodeId(hex.EncodeToString(h.Sum(nil)))
}

// NewOperation builds an Operation and computes its NodeId in one step,
// the primary constructor the Reducer uses while lowering an AST.
func NewOperation(operator string, arguments []NodeId, attributes map[string]AttrValue) (NodeId, Operation) {
	op := Operation{Operator: operator, Arguments: arguments, Attributes: attributes}
	return ComputeNodeId(operator, arguments, attributes), op
}

// GoalKind enumerates the two observation forms a Workplan can request.
type GoalKind string

const (
	GoalPrint GoalKind = "print"
	GoalSave  GoalKind = "save"
)

// Goal names a NodeId's value for external observation, per spec §3.
type Goal struct {
	Kind   GoalKind
	Label  string
	Target NodeId
}

// Workplan is the immutable DAG the Reducer emits: a closed set of
// Operations plus an ordered list of Goals. Once returned from the builder
// it must not be mutated; callers that need a derived plan build a new one.
type Workplan struct {
	operations map[NodeId]Operation
	order      []NodeId
	goals      []Goal
}

// Operation looks up a node's Operation by id.
func (w *Workplan) Operation(id NodeId) (Operation, bool) {
	op, ok := w.operations[id]
	return op, ok
}

// Operations returns every NodeId defined in the plan, in the order it was
// first interned during reduction — topological post-order, since an
// argument is always reduced (and therefore interned) before the call that
// references it. Spec §4.5 "Ordering and tie-breaks" and §5's event-log tie
// break both depend on this order being retained, not recomputed from a map.
// The returned slice is a fresh copy; callers may sort or mutate it freely.
func (w *Workplan) Operations() []NodeId {
	ids := make([]NodeId, len(w.order))
	copy(ids, w.order)
	return ids
}

// Goals returns the Workplan's goals in declaration order.
func (w *Workplan) Goals() []Goal {
	out := make([]Goal, len(w.goals))
	copy(out, w.goals)
	return out
}

// Len reports the number of distinct Operations in the plan.
func (w *Workplan) Len() int { return len(w.operations) }

// WorkplanBuilder accumulates Operations and Goals during reduction and
// freezes them into an immutable Workplan. It is the only mutable view of a
// Workplan-in-construction; the Reducer owns exactly one builder per
// top-level reduce call (spec §3 "Ownership").
type WorkplanBuilder struct {
	operations map[NodeId]Operation
	order      []NodeId
	goals      []Goal
	labels     map[string]bool
}

// NewWorkplanBuilder returns an empty builder.
func NewWorkplanBuilder() *WorkplanBuilder {
	return &WorkplanBuilder{
		operations: make(map[NodeId]Operation),
		labels:     make(map[string]bool),
	}
}

// Intern records op under id if not already present and returns id
// unchanged; this is the Workplan-in-construction deduplication step spec
// §4.1 step 3 describes ("deduplicate against the Workplan-in-construction").
func (b *WorkplanBuilder) Intern(id NodeId, op Operation) NodeId {
	if _, exists := b.operations[id]; !exists {
		b.operations[id] = op
		b.order = append(b.order, id)
	}
	return id
}

// Has reports whether id has already been interned.
func (b *WorkplanBuilder) Has(id NodeId) bool {
	_, ok := b.operations[id]
	return ok
}

// AddGoal appends a Goal, rejecting a duplicate print label per spec §4.1
// step 6. save goals are not uniqueness-checked: multiple saves to distinct
// paths for the same or different nodes are legal.
func (b *WorkplanBuilder) AddGoal(kind GoalKind, label string, target NodeId) error {
	if kind == GoalPrint {
		if b.labels[label] {
			return fmt.Errorf("%w: %q", ErrDuplicatePrintLabel, label)
		}
		b.labels[label] = true
	}
	b.goals = append(b.goals, Goal{Kind: kind, Label: label, Target: target})
	return nil
}

// Freeze closes the builder into an immutable Workplan. It verifies the
// closure invariant from spec §3: every NodeId referenced by an argument or
// a goal must be defined exactly once in the operations set.
func (b *WorkplanBuilder) Freeze() (*Workplan, error) {
	for id, op := range b.operations {
		for _, arg := range op.Arguments {
			if _, ok := b.operations[arg]; !ok {
				return nil, fmt.Errorf("%w: operation %s references undefined argument %s", ErrNotClosed, id, arg)
			}
		}
	}
	for _, g := range b.goals {
		if _, ok := b.operations[g.Target]; !ok {
			return nil, fmt.Errorf("%w: goal %q references undefined node %s", ErrNotClosed, g.Label, g.Target)
		}
	}

	ops := make(map[NodeId]Operation, len(b.operations))
	for id, op := range b.operations {
		ops[id] = op
	}
	order := make([]NodeId, len(b.order))
	copy(order, b.order)
	goals := make([]Goal, len(b.goals))
	copy(goals, b.goals)
	return &Workplan{operations: ops, order: order, goals: goals}, nil
}
