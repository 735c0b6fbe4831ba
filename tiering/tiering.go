// Package tiering implements the engine's optional native fast path (spec
// §4.9): per-entry evaluation counters, an exponentially smoothed latency
// average, and the Interpreter -> BaselineNative -> OptimizedNative
// promotion policy. The actual code generator a promoted entry would run
// through is out of scope (spec §1); NativeCompiler is the seam such a
// backend plugs into. No implementation of it ships in this module: with a
// nil NativeCompiler no promotion is attempted and no error is recorded,
// which keeps evaluation correct with only the interpreter shipped (spec
// §4.9's "an implementer may ship only the interpreter").
package tiering

import (
	"sync"
	"sync/atomic"
	"time"

	"ipe/bytecode"
)

// Tier is the execution strategy backing a predicate entry.
type Tier int

const (
	Interpreter Tier = iota
	BaselineNative
	OptimizedNative
)

func (t Tier) String() string {
	switch t {
	case Interpreter:
		return "Interpreter"
	case BaselineNative:
		return "BaselineNative"
	case OptimizedNative:
		return "OptimizedNative"
	default:
		return "Unknown"
	}
}

// Promotion thresholds from spec §4.9.
const (
	baselinePromotionEvalCount   = 100
	optimizedPromotionEvalCount  = 10_000
	optimizedPromotionLatencyNS  = 20_000 // 20 microseconds
	defaultCooldown              = time.Second
	smoothingFactor       float64 = 0.2 // weight given to each new sample
)

// NativeArtifact is whatever a code generator produces for a tier; the
// generator itself is out of scope, so this module only stores and swaps
// the opaque result.
type NativeArtifact interface{}

// NativeCompiler is the seam an external code generator plugs into.
// CompileBaseline and CompileOptimized take a CompiledPredicate and return
// a host-specific artifact (machine code, a closure, a cached decision
// tree -- anything the runtime knows how to invoke instead of the
// interpreter). A nil NativeCompiler is valid: entries stay at
// Interpreter forever, which is observably equivalent (spec §4.9).
type NativeCompiler interface {
	CompileBaseline(cp *bytecode.CompiledPredicate) (NativeArtifact, error)
	CompileOptimized(cp *bytecode.CompiledPredicate) (NativeArtifact, error)
}

// Counters tracks one predicate entry's promotion-relevant statistics.
// The zero value is a fresh Interpreter-tier entry with no history.
// Counters is safe for concurrent use: RecordEval and Tier() may be
// called from any goroutine evaluating the entry concurrently.
type Counters struct {
	mu sync.Mutex

	tier           Tier
	evalCount      uint64
	avgLatencyNS   float64
	lastPromotion  time.Time
	artifact       NativeArtifact
	lastCompileErr error
}

// Tier reports the entry's current execution tier.
func (c *Counters) Tier() Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tier
}

// EvalCount reports the number of evaluations recorded so far.
func (c *Counters) EvalCount() uint64 {
	return atomic.LoadUint64(&c.evalCount)
}

// AvgLatency reports the exponentially smoothed average evaluation
// latency.
func (c *Counters) AvgLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.avgLatencyNS)
}

// Artifact returns the compiled native artifact for the entry's current
// tier, or nil if it is still Interpreter-tier or compilation last
// failed.
func (c *Counters) Artifact() NativeArtifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

// LastCompileError reports the error from the most recent failed
// promotion attempt, if any. A failed promotion leaves the entry at its
// current tier (spec §4.9: "the entry stays at its current tier and the
// error is recorded but does not fail evaluation").
func (c *Counters) LastCompileError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCompileErr
}

// RecordEval updates the counter and smoothed latency average after one
// evaluation, then attempts promotion if eligible. cp and compiler may be
// nil; a nil compiler (or one returning an error) simply leaves the entry
// at its current tier.
func (c *Counters) RecordEval(latency time.Duration, cp *bytecode.CompiledPredicate, compiler NativeCompiler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.AddUint64(&c.evalCount, 1)

	sample := float64(latency.Nanoseconds())
	if c.evalCount == 1 {
		c.avgLatencyNS = sample
	} else {
		c.avgLatencyNS = smoothingFactor*sample + (1-smoothingFactor)*c.avgLatencyNS
	}

	c.tryPromoteLocked(cp, compiler)
}

// tryPromoteLocked applies the promotion policy; caller holds c.mu.
func (c *Counters) tryPromoteLocked(cp *bytecode.CompiledPredicate, compiler NativeCompiler) {
	if compiler == nil {
		return
	}
	if !c.lastPromotion.IsZero() && time.Since(c.lastPromotion) < defaultCooldown {
		return
	}

	switch c.tier {
	case Interpreter:
		if c.evalCount < baselinePromotionEvalCount {
			return
		}
		artifact, err := compiler.CompileBaseline(cp)
		if err != nil {
			c.lastCompileErr = err
			return
		}
		c.tier = BaselineNative
		c.artifact = artifact
		c.lastCompileErr = nil
		c.lastPromotion = time.Now()

	case BaselineNative:
		if c.evalCount < optimizedPromotionEvalCount || c.avgLatencyNS <= optimizedPromotionLatencyNS {
			return
		}
		artifact, err := compiler.CompileOptimized(cp)
		if err != nil {
			c.lastCompileErr = err
			return
		}
		c.tier = OptimizedNative
		c.artifact = artifact
		c.lastCompileErr = nil
		c.lastPromotion = time.Now()

	case OptimizedNative:
		// terminal tier, spec §4.9.
	}
}
