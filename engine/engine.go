// Package engine implements the predicate engine's decision procedure:
// candidate lookup against a store.Snapshot, trigger dispatch,
// requirements dispatch, and deny-override / default-deny resolution
// (spec §4.8). Evaluate is synchronous, re-entrant, and allocates no
// shared state; callers may invoke it concurrently from any number of
// goroutines.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"ipe/builtins"
	"ipe/rar"
	"ipe/store"
	"ipe/tiering"
	"ipe/vm"
)

// DecisionKind is the outcome of an Evaluate call.
type DecisionKind int

const (
	Allow DecisionKind = iota
	Deny
)

func (k DecisionKind) String() string {
	if k == Allow {
		return "Allow"
	}
	return "Deny"
}

// Decision is the result of evaluating an EvaluationContext against the
// store's current predicate set (spec §4.8 "Decision record").
type Decision struct {
	Kind    DecisionKind
	Reason  string
	Matched []string
}

// Engine ties a predicate store to a built-in registry. The zero value is
// not usable; construct with New.
type Engine struct {
	store    *store.Store
	registry *builtins.Registry
	log      *slog.Logger
	// native is the optional code generator entries promote into (spec
	// §4.9); nil keeps every entry at tiering.Interpreter forever, which
	// is observably equivalent to not having a tiering layer at all.
	native tiering.NativeCompiler
}

// New returns an Engine reading from s and dispatching Call instructions
// through registry.
func New(s *store.Store, registry *builtins.Registry) *Engine {
	return &Engine{store: s, registry: registry, log: slog.Default().With("component", "engine")}
}

// WithStore returns a copy of e reading from a different store, matching
// spec §6's `engine.with_store(store) → Engine` library surface.
func (e *Engine) WithStore(s *store.Store) *Engine {
	return &Engine{store: s, registry: e.registry, log: e.log, native: e.native}
}

// WithNativeCompiler returns a copy of e that attempts promotion through c
// for every entry it evaluates, instead of staying at tiering.Interpreter.
func (e *Engine) WithNativeCompiler(c tiering.NativeCompiler) *Engine {
	return &Engine{store: e.store, registry: e.registry, log: e.log, native: c}
}

// Evaluate runs the full decision procedure (spec §4.8) against every
// candidate entry indexed under ctx.Resource.TypeID.
func (e *Engine) Evaluate(ctx *rar.EvaluationContext) Decision {
	snap := e.store.Current()
	candidates := snap.Candidates(ctx.Resource.TypeID)
	return e.evaluateCandidates(ctx, candidates)
}

// EvaluateSubset restricts evaluation to the named entries within the
// resource-type-matched candidate set, supporting staged rollouts
// (supplemented beyond spec.md's base signature; see spec §4.8's
// "predicate-set?" phrase).
func (e *Engine) EvaluateSubset(ctx *rar.EvaluationContext, names []string) Decision {
	snap := e.store.Current()
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	var candidates []store.Entry
	for _, c := range snap.Candidates(ctx.Resource.TypeID) {
		if allowed[c.Name] {
			candidates = append(candidates, c)
		}
	}
	return e.evaluateCandidates(ctx, candidates)
}

func (e *Engine) evaluateCandidates(ctx *rar.EvaluationContext, candidates []store.Entry) Decision {
	if len(candidates) == 0 {
		return Decision{Kind: Deny, Reason: "default-deny: no candidate predicates for resource type"}
	}

	var matched []string
	var errs []string
	for _, entry := range candidates {
		start := time.Now()
		record := func() {
			if entry.Counters != nil {
				entry.Counters.RecordEval(time.Since(start), entry.Compiled, e.native)
			}
		}

		triggered, err := vm.EvaluateTriggers(entry.Compiled, ctx, e.registry)
		if err != nil {
			e.log.Error("trigger evaluation failed", "predicate", entry.Name, "error", oops.
				Code("TRIGGER_EVAL_FAILED").
				With("predicate", entry.Name).
				Wrap(err))
			errs = append(errs, fmt.Sprintf("%s: %v", entry.Name, err))
			record()
			continue
		}
		if !triggered {
			record()
			continue
		}

		if len(entry.Compiled.Requires) == 0 {
			// A Denies-shaped predicate: no Requires program, the deny
			// reason is carried directly on the compiled predicate.
			record()
			return Decision{Kind: Deny, Reason: entry.Compiled.DenyReason, Matched: []string{entry.Name}}
		}

		verdict, err := vm.EvaluateRequires(entry.Compiled, ctx, e.registry)
		if err != nil {
			e.log.Error("requirements evaluation failed", "predicate", entry.Name, "error", oops.
				Code("REQUIRES_EVAL_FAILED").
				With("predicate", entry.Name).
				Wrap(err))
			errs = append(errs, fmt.Sprintf("%s: %v", entry.Name, err))
			record()
			continue
		}
		record()
		if !verdict {
			return Decision{Kind: Deny, Reason: "requirements not satisfied", Matched: []string{entry.Name}}
		}
		matched = append(matched, entry.Name)
	}

	if len(matched) > 0 {
		return Decision{Kind: Allow, Matched: matched}
	}
	if len(errs) > 0 {
		return Decision{Kind: Deny, Reason: "default-deny: aggregated errors: " + strings.Join(errs, "; ")}
	}
	return Decision{Kind: Deny, Reason: "default-deny: no predicate allowed"}
}
