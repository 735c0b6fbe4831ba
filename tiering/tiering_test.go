package tiering_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipe/bytecode"
	"ipe/tiering"
)

type stubCompiler struct {
	baselineCalls, optimizedCalls int
	failBaseline, failOptimized   bool
}

func (s *stubCompiler) CompileBaseline(cp *bytecode.CompiledPredicate) (tiering.NativeArtifact, error) {
	s.baselineCalls++
	if s.failBaseline {
		return nil, errors.New("baseline compile failed")
	}
	return "baseline-artifact", nil
}

func (s *stubCompiler) CompileOptimized(cp *bytecode.CompiledPredicate) (tiering.NativeArtifact, error) {
	s.optimizedCalls++
	if s.failOptimized {
		return nil, errors.New("optimized compile failed")
	}
	return "optimized-artifact", nil
}

func TestTiering_StartsAtInterpreter(t *testing.T) {
	c := &tiering.Counters{}
	assert.Equal(t, tiering.Interpreter, c.Tier())
	assert.Equal(t, uint64(0), c.EvalCount())
}

func TestTiering_NilCompilerNeverPromotes(t *testing.T) {
	c := &tiering.Counters{}
	for i := 0; i < 200; i++ {
		c.RecordEval(time.Microsecond, nil, nil)
	}
	assert.Equal(t, tiering.Interpreter, c.Tier())
	assert.Equal(t, uint64(200), c.EvalCount())
}

func TestTiering_PromotesToBaselineAfterThreshold(t *testing.T) {
	c := &tiering.Counters{}
	comp := &stubCompiler{}
	for i := 0; i < 100; i++ {
		c.RecordEval(time.Microsecond, nil, comp)
	}
	assert.Equal(t, tiering.BaselineNative, c.Tier())
	assert.Equal(t, 1, comp.baselineCalls)
	assert.Equal(t, "baseline-artifact", c.Artifact())
}

func TestTiering_FailedPromotionStaysAtCurrentTierAndRecordsError(t *testing.T) {
	c := &tiering.Counters{}
	comp := &stubCompiler{failBaseline: true}
	for i := 0; i < 100; i++ {
		c.RecordEval(time.Microsecond, nil, comp)
	}
	assert.Equal(t, tiering.Interpreter, c.Tier())
	require.Error(t, c.LastCompileError())
}

func TestTiering_AvgLatencyTracksRecordedSamples(t *testing.T) {
	c := &tiering.Counters{}
	c.RecordEval(10*time.Microsecond, nil, nil)
	assert.Equal(t, 10*time.Microsecond, c.AvgLatency())
	c.RecordEval(10*time.Microsecond, nil, nil)
	assert.Equal(t, 10*time.Microsecond, c.AvgLatency())
}
