package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestRecordPipelineOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		status     string
		durationMS int
	}{
		{"successful brief", "brief", "success", 1000},
		{"failed draft", "draft", "error", 500},
		{"rejected structure", "structure", "rejected", 0},
		{"long review", "review", "success", 90000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordPipelineOperation(tt.operation, tt.status, tt.durationMS)

			count := testutil.ToFloat64(pipelineOperationsTotal.WithLabelValues(tt.operation, tt.status))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestRecordAgentRunAndAttempts(t *testing.T) {
	before := testutil.ToFloat64(agentAttemptsTotal.WithLabelValues("metrics-agent", "payload_parse"))

	RecordAgentAttempt("metrics-agent", "payload_parse")
	RecordAgentAttempt("metrics-agent", "ok")
	RecordAgentRun("metrics-agent", "success", 2500)

	assert.Equal(t, before+1, testutil.ToFloat64(agentAttemptsTotal.WithLabelValues("metrics-agent", "payload_parse")))
	assert.Greater(t, testutil.ToFloat64(agentAttemptsTotal.WithLabelValues("metrics-agent", "ok")), 0.0)
	assert.Greater(t, testutil.ToFloat64(agentRunsTotal.WithLabelValues("metrics-agent", "success")), 0.0)
}

func TestRecordLLMCall(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		status   string
	}{
		{"gemini success", "gemini", "gemini-2.5-flash", "success"},
		{"qwen success", "qwen", "qwen-plus", "success"},
		{"gemini failure", "gemini", "gemini-2.5-flash", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordLLMCall(tt.provider, tt.model, tt.status, 1200)

			count := testutil.ToFloat64(llmCallsTotal.WithLabelValues(tt.provider, tt.model, tt.status))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestRecordSessionAndLockMetrics(t *testing.T) {
	before := testutil.ToFloat64(lockViolationsTotal.WithLabelValues("structure"))

	RecordSessionTransition("draft")
	RecordLockViolation("structure")
	RecordCircuitTransition("gemini", "open")

	assert.Greater(t, testutil.ToFloat64(sessionTransitionsTotal.WithLabelValues("draft")), 0.0)
	assert.Equal(t, before+1, testutil.ToFloat64(lockViolationsTotal.WithLabelValues("structure")))
	assert.Greater(t, testutil.ToFloat64(circuitTransitionsTotal.WithLabelValues("gemini", "open")), 0.0)
}

func TestRecordGRPCRequest(t *testing.T) {
	RecordGRPCRequest("/cowrite.v1.WritingService/RunStage", "OK", 100)
	RecordGRPCRequest("/cowrite.v1.WritingService/Lock", "FailedPrecondition", 2)

	assert.Greater(t, testutil.ToFloat64(grpcRequestsTotal.WithLabelValues("/cowrite.v1.WritingService/RunStage", "OK")), 0.0)
	assert.Greater(t, testutil.ToFloat64(grpcRequestsTotal.WithLabelValues("/cowrite.v1.WritingService/Lock", "FailedPrecondition")), 0.0)
}

func TestMetrics_Concurrent(t *testing.T) {
	const goroutines = 10
	const iterations = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				RecordPipelineOperation("concurrent-op", "success", 100)
				RecordAgentRun("concurrent-agent", "success", 50)
				RecordLLMCall("test-provider", "test-model", "success", 1000)
			}
		}()
	}
	wg.Wait()

	count := testutil.ToFloat64(pipelineOperationsTotal.WithLabelValues("concurrent-op", "success"))
	assert.Equal(t, float64(goroutines*iterations), count)
}
