// Package registry implements the Operator Registry (C3): the mapping from
// an operator name to a pure callable with declared arity and effect class
// (spec §4.4... actually §2 C3, §6 "Operator interface"). The registry is
// immutable after startup and read-only thereafter (spec §5 "Shared
// resources").
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/voxlogica-project/voxlogica2/codec"
)

// EffectClass distinguishes primitives that only compute from their
// arguments (Pure) from those that perform observable I/O such as reading
// the filesystem (IO). The Reducer and Engine do not currently branch on
// this, but declaring it is part of the registration contract spec §2
// requires ("declared arity and effect class").
type EffectClass int

const (
	EffectPure EffectClass = iota
	EffectIO
)

// Context is what spec §6 calls the "context" a primitive receives: a
// cancellation source, a scratch directory, and a structured logger. It
// replaces ctx.Context+a bare map the teacher's Tool.Call used, since
// primitives additionally need scratch-space and logging, not just
// cancellation.
type Context struct {
	context.Context
	ScratchDir string
	Logger     Logger
	// AllowedRoots is the union of the configured data root and extra read
	// roots (spec §6 "Environment inputs"). Empty means unrestricted — no
	// engine was configured with WithAllowedRoots.
	AllowedRoots []string
}

// ErrPathNotAllowed is the Policy error kind spec §7 names for "read path
// outside allowed roots". Any primitive reading from the host filesystem
// must run the path through ValidatePath (or Context.ValidatePath) before
// opening it; this check is a core responsibility of the engine/registry
// layer, not something each primitive re-implements.
var ErrPathNotAllowed = errors.New("POLICY_PATH_NOT_ALLOWED")

// ValidatePath rejects path unless it is contained in one of roots. An
// empty roots list means unrestricted. Containment is checked against the
// absolute, cleaned form of both path and each root, so "../" escapes and
// relative roots resolve the same way regardless of the process's cwd at
// call time.
func ValidatePath(roots []string, path string) error {
	if len(roots) == 0 {
		return nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPathNotAllowed, path, err)
	}
	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPathNotAllowed, path)
}

// ValidatePath checks path against c.AllowedRoots.
func (c Context) ValidatePath(path string) error {
	return ValidatePath(c.AllowedRoots, path)
}

// Logger is the minimal structured logging surface a primitive may use; it
// is satisfied by *emit.LogEmitter via an adapter in cmd/voxlogicad.
type Logger interface {
	Log(msg string, fields map[string]any)
}

// Arity describes how many positional arguments an Operator accepts.
// Variadic operators set Variadic true and Min as the minimum argument
// count; non-variadic operators set Min == Max.
type Arity struct {
	Min      int
	Max      int
	Variadic bool
}

// Accepts reports whether n arguments satisfy this Arity.
func (a Arity) Accepts(n int) bool {
	if a.Variadic {
		return n >= a.Min
	}
	return n >= a.Min && n <= a.Max
}

// Fixed returns an Arity requiring exactly n arguments.
func Fixed(n int) Arity { return Arity{Min: n, Max: n} }

// Operator is a pure function (arguments..., context) -> value, the
// primitive interface spec §6 describes. Arguments arrive already decoded
// (§6 "arguments are already decoded values in declaration order"); Call
// returns the single produced value or a domain error (spec §7 "Operator
// domain" errors, persisted as a failed StoreRecord by the engine).
type Operator interface {
	// Name is the identifier the Reducer matches against call expressions.
	Name() string
	// Arity declares how many positional arguments this operator accepts;
	// the Reducer rejects mismatched call sites with ErrArityMismatch
	// before any execution.
	Arity() Arity
	// Effect declares whether this operator only computes from its inputs
	// or performs observable I/O.
	Effect() EffectClass
	// Call executes the operator. ctx carries cancellation, scratch space
	// and structured logging; args are positional, already-decoded values.
	Call(ctx Context, args []codec.Value) (codec.Value, error)
}

// Namespace is a mapping of names to callables a primitive library may
// install in one step via RegisterNamespace. The Reducer's `import`
// statement does not consult it: registered operators are callable whether
// or not their namespace is imported.
type Namespace interface {
	Name() string
	Operators() []Operator
}

// ErrUnknownCallable mirrors dag.ErrUnknownCallable for registry-local
// lookups that don't have access to an AST location to attach.
var ErrUnknownCallable = errors.New("UNKNOWN_CALLABLE")

// ErrDuplicateOperator is returned by Register when two operators claim the
// same name; the registry is built once at startup so this is a programmer
// error, not a runtime condition.
var ErrDuplicateOperator = errors.New("DUPLICATE_OPERATOR")

// Registry holds the process-wide operator table. It is built once during
// startup via Register/RegisterNamespace and is never mutated afterward;
// concurrent Lookup calls from many engine workers are always safe.
type Registry struct {
	operators map[string]Operator
}

// New returns an empty Registry ready for Register calls.
func New() *Registry {
	return &Registry{operators: make(map[string]Operator)}
}

// Register adds op under op.Name(). It returns ErrDuplicateOperator if the
// name is already claimed.
func (r *Registry) Register(op Operator) error {
	if _, exists := r.operators[op.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateOperator, op.Name())
	}
	r.operators[op.Name()] = op
	return nil
}

// RegisterNamespace registers every operator a Namespace declares, prefixed
// by nothing (names are installed as-is into the flat operator table). A
// name already registered, by this or another namespace, fails with
// ErrDuplicateOperator; no namespace shadows another.
func (r *Registry) RegisterNamespace(ns Namespace) error {
	for _, op := range ns.Operators() {
		if err := r.Register(op); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the Operator bound to name, or ErrUnknownCallable.
func (r *Registry) Lookup(name string) (Operator, error) {
	op, ok := r.operators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCallable, name)
	}
	return op, nil
}

// Names returns every registered operator name, for capability discovery
// (spec §6 "capability discovery").
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.operators))
	for name := range r.operators {
		names = append(names, name)
	}
	return names
}
