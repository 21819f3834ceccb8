package registry

import (
	"sync"

	"github.com/voxlogica-project/voxlogica2/codec"
)

// MockOperator is a test implementation of Operator. Use it to verify
// reducer/engine behavior without exercising real primitive logic: a
// configurable name, arity, response sequence, call history, and error
// injection, modeled on the teacher's MockTool.
type MockOperator struct {
	OpName   string
	OpArity  Arity
	OpEffect EffectClass

	// Responses is the sequence of values Call returns in order; once
	// exhausted the last response repeats.
	Responses []codec.Value

	// Err, if set, is returned by Call instead of a response.
	Err error

	// Calls records every invocation's arguments for assertions.
	Calls []MockCall

	mu        sync.Mutex
	callIndex int
}

// MockCall records a single Call invocation.
type MockCall struct {
	Args []codec.Value
}

func (m *MockOperator) Name() string        { return m.OpName }
func (m *MockOperator) Arity() Arity        { return m.OpArity }
func (m *MockOperator) Effect() EffectClass { return m.OpEffect }

// Call implements Operator.
func (m *MockOperator) Call(ctx Context, args []codec.Value) (codec.Value, error) {
	if err := ctx.Err(); err != nil {
		return codec.Value{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Args: args})

	if m.Err != nil {
		return codec.Value{}, m.Err
	}
	if len(m.Responses) == 0 {
		return codec.Value{Tag: codec.TagNull}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears call history and the response cursor.
func (m *MockOperator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of times Call has been invoked.
func (m *MockOperator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
