// Package builtins implements the predicate engine's host-extensible
// function registry: a stable integer id maps to a pure (args) -> Value
// handler, dispatched by the Call instruction.
package builtins

import (
	"fmt"

	"ipe/value"
)

// FuncID is the stable, compile-time-assigned identifier a Call instruction
// carries. Built-ins are dispatched by id, not by name lookup at runtime.
type FuncID uint16

const (
	InArray FuncID = iota
	Count
	CountWhere
	Any
	All
	Sum
	Avg
	Min
	Max
)

// names is the source-level spelling for each FuncID, used by the compiler
// to resolve a Call node's name to its id.
var names = map[string]FuncID{
	"in_array":    InArray,
	"count":       Count,
	"count_where": CountWhere,
	"any":         Any,
	"all":         All,
	"sum":         Sum,
	"avg":         Avg,
	"min":         Min,
	"max":         Max,
}

// UnknownFunctionError reports a Call naming a function absent from the
// registry at compile time.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("UnknownFunction: %q", e.Name)
}

// Lookup resolves a source-level function name to its FuncID.
func Lookup(name string) (FuncID, error) {
	id, ok := names[name]
	if !ok {
		return 0, &UnknownFunctionError{Name: name}
	}
	return id, nil
}

// Handler is a pure built-in: it must not read a clock, randomness, or I/O,
// and must not mutate args.
type Handler func(args []value.Value) (value.Value, error)

// UnknownBuiltinError reports a Call instruction naming a FuncID the active
// Registry has no handler for. Distinct from UnknownFunctionError, which is
// a compile-time fault; this one is raised by the interpreter.
type UnknownBuiltinError struct {
	ID FuncID
}

func (e *UnknownBuiltinError) Error() string {
	return fmt.Sprintf("UnknownBuiltin: id %d", e.ID)
}

// CallFailedError wraps an error a Handler itself returned.
type CallFailedError struct {
	ID  FuncID
	Err error
}

func (e *CallFailedError) Error() string {
	return fmt.Sprintf("CallFailed: builtin %d: %s", e.ID, e.Err)
}

func (e *CallFailedError) Unwrap() error { return e.Err }

// Registry is a process-wide, host-extensible map from FuncID to Handler.
// Registration happens once before any evaluation; the default registry
// wires every built-in named in spec §4.5.
type Registry struct {
	handlers map[FuncID]Handler
}

// NewDefaultRegistry constructs a Registry with every required built-in
// (in_array, count, count_where) plus the two collection filters spec §9
// leaves as host-provided and unexercised by the conformance suite (any,
// all) and the numeric aggregates (sum, avg, min, max), all wired to
// reasonable defaults.
func NewDefaultRegistry() *Registry {
	r := &Registry{handlers: make(map[FuncID]Handler)}
	r.Register(InArray, inArray)
	r.Register(Count, count)
	r.Register(CountWhere, countWhere)
	r.Register(Any, anyOf)
	r.Register(All, allOf)
	r.Register(Sum, sum)
	r.Register(Avg, avg)
	r.Register(Min, minOf)
	r.Register(Max, maxOf)
	return r
}

// Register installs handler for id, overwriting any previous registration.
// Registration is not safe to call concurrently with Call; the host must
// finish registering before the first evaluation.
func (r *Registry) Register(id FuncID, handler Handler) {
	r.handlers[id] = handler
}

// Call invokes the handler bound to id with args (top of stack last,
// already restored to left-to-right order by the caller).
func (r *Registry) Call(id FuncID, args []value.Value) (value.Value, error) {
	handler, ok := r.handlers[id]
	if !ok {
		return value.Value{}, &UnknownBuiltinError{ID: id}
	}
	v, err := handler(args)
	if err != nil {
		return value.Value{}, &CallFailedError{ID: id, Err: err}
	}
	return v, nil
}

func inArray(args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Value{}, fmt.Errorf("in_array: want 2 args, got %d", len(args))
	}
	needle, haystack := args[0], args[1]
	if haystack.Kind() != value.KindArray {
		return value.Value{}, fmt.Errorf("in_array: second argument must be an array")
	}
	for _, item := range haystack.AsArray() {
		if value.Equal(needle, item) {
			return value.Bool(true), nil
		}
	}
	return value.Bool(false), nil
}

func count(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, fmt.Errorf("count: want 1 arg, got %d", len(args))
	}
	if args[0].Kind() != value.KindArray {
		return value.Value{}, fmt.Errorf("count: argument must be an array")
	}
	return value.Int(int64(len(args[0].AsArray()))), nil
}

// countWhere counts the elements of args[0] equal to args[1]. The predicate
// DSL's grammar has no first-class lambda, so a two-argument equality
// filter is the host-provided default; a richer host can register its own
// handler for CountWhere to support arbitrary filters.
func countWhere(args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Value{}, fmt.Errorf("count_where: want 2 args, got %d", len(args))
	}
	if args[0].Kind() != value.KindArray {
		return value.Value{}, fmt.Errorf("count_where: first argument must be an array")
	}
	var n int64
	for _, item := range args[0].AsArray() {
		if value.Equal(item, args[1]) {
			n++
		}
	}
	return value.Int(n), nil
}

func anyOf(args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Value{}, fmt.Errorf("any: want 2 args, got %d", len(args))
	}
	if args[0].Kind() != value.KindArray {
		return value.Value{}, fmt.Errorf("any: first argument must be an array")
	}
	for _, item := range args[0].AsArray() {
		if value.Equal(item, args[1]) {
			return value.Bool(true), nil
		}
	}
	return value.Bool(false), nil
}

func allOf(args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Value{}, fmt.Errorf("all: want 2 args, got %d", len(args))
	}
	if args[0].Kind() != value.KindArray {
		return value.Value{}, fmt.Errorf("all: first argument must be an array")
	}
	for _, item := range args[0].AsArray() {
		if !value.Equal(item, args[1]) {
			return value.Bool(false), nil
		}
	}
	return value.Bool(true), nil
}

// numericElements extracts the float64 payload of every Int/Float element
// of arr, failing with TypeMismatch on a non-numeric element.
func numericElements(arr []value.Value) ([]float64, error) {
	out := make([]float64, len(arr))
	for i, item := range arr {
		switch item.Kind() {
		case value.KindInt:
			out[i] = float64(item.AsInt())
		case value.KindFloat:
			out[i] = item.AsFloat()
		default:
			return nil, fmt.Errorf("aggregate: element %d is not numeric (%s)", i, item.Kind())
		}
	}
	return out, nil
}

func sum(args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind() != value.KindArray {
		return value.Value{}, fmt.Errorf("sum: want 1 array argument")
	}
	nums, err := numericElements(args[0].AsArray())
	if err != nil {
		return value.Value{}, err
	}
	var total float64
	for _, n := range nums {
		total += n
	}
	return value.Float(total), nil
}

func avg(args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind() != value.KindArray {
		return value.Value{}, fmt.Errorf("avg: want 1 array argument")
	}
	nums, err := numericElements(args[0].AsArray())
	if err != nil {
		return value.Value{}, err
	}
	if len(nums) == 0 {
		return value.Value{}, fmt.Errorf("avg: empty array")
	}
	var total float64
	for _, n := range nums {
		total += n
	}
	return value.Float(total / float64(len(nums))), nil
}

func minOf(args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind() != value.KindArray {
		return value.Value{}, fmt.Errorf("min: want 1 array argument")
	}
	nums, err := numericElements(args[0].AsArray())
	if err != nil {
		return value.Value{}, err
	}
	if len(nums) == 0 {
		return value.Value{}, fmt.Errorf("min: empty array")
	}
	m := nums[0]
	for _, n := range nums[1:] {
		if n < m {
			m = n
		}
	}
	return value.Float(m), nil
}

func maxOf(args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind() != value.KindArray {
		return value.Value{}, fmt.Errorf("max: want 1 array argument")
	}
	nums, err := numericElements(args[0].AsArray())
	if err != nil {
		return value.Value{}, err
	}
	if len(nums) == 0 {
		return value.Value{}, fmt.Errorf("max: empty array")
	}
	m := nums[0]
	for _, n := range nums[1:] {
		if n > m {
			m = n
		}
	}
	return value.Float(m), nil
}
