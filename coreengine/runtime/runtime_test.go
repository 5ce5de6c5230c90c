package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/llm"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST HELPERS
// =============================================================================

type logRecorder struct {
	mu   sync.Mutex
	logs []AgentLog
}

func (l *logRecorder) RecordAgentLog(ctx context.Context, log AgentLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, log)
	return nil
}

func (l *logRecorder) all() []AgentLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AgentLog(nil), l.logs...)
}

func newTestRunner(client llm.Client) (*Runner, *logRecorder) {
	sink := &logRecorder{}
	r := NewRunner(client, nil)
	r.Sink = sink
	r.Backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return r, sink
}

func briefConfig() RunConfig {
	return RunConfig{
		Agent:     schema.NameBrief,
		ProjectID: "proj-1",
		Prompt:    "extract a brief",
		Input:     map[string]any{"topic": "AI 教育"},
	}
}

// =============================================================================
// RUN
// =============================================================================

func TestRun_FirstAttemptSucceeds(t *testing.T) {
	mock := testutil.NewMockLLMClient().WithScript(testutil.FencedEnvelope("brief", testutil.BriefPayload()))
	r, sink := newTestRunner(mock)

	res, err := Run(context.Background(), r, briefConfig(), schema.BriefContract)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "AI 教育", res.Value.Topic)
	assert.Equal(t, testutil.BriefPayload(), res.Payload)
	assert.Equal(t, 1, mock.CallCount())

	logs := sink.all()
	require.Len(t, logs, 1)
	assert.Equal(t, StatusSuccess, logs[0].Status)
	assert.Equal(t, "proj-1", logs[0].ProjectID)
	assert.Equal(t, schema.NameBrief, logs[0].Agent)
	assert.Equal(t, "AI 教育", logs[0].Input["topic"])
	assert.NotEmpty(t, logs[0].ID)
	assert.Equal(t, 1, logs[0].Attempts)
}

func TestRun_RetriesRecoverableFailures(t *testing.T) {
	bad := testutil.BriefPayload()
	bad["confirmed_insights"] = []any{"only one"}

	tests := []struct {
		name  string
		first string
	}{
		{"no json", "I cannot help with that."},
		{"payload inlined as object", `{"meta":{"agent":"brief"},"payload":{"topic":"x"}}`},
		{"payload malformed", `{"meta":{"agent":"brief"},"payload":"{\"topic\": "}`},
		{"schema violation", testutil.Envelope("brief", bad)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockLLMClient().WithScript(tt.first, testutil.Envelope("brief", testutil.BriefPayload()))
			r, sink := newTestRunner(mock)

			res, err := Run(context.Background(), r, briefConfig(), schema.BriefContract)
			require.NoError(t, err)
			assert.Equal(t, 2, res.Attempts)
			assert.Equal(t, 2, mock.CallCount())
			assert.Len(t, sink.all(), 1, "one log per run, not per attempt")
		})
	}
}

func TestRun_ExhaustionReturnsLastFailure(t *testing.T) {
	mock := testutil.NewMockLLMClient().WithScript("nothing", "still nothing", `{"meta":{},"payload":"[1,2]"}`)
	r, sink := newTestRunner(mock)

	_, err := Run(context.Background(), r, briefConfig(), schema.BriefContract)
	require.Error(t, err)

	var fe *failures.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, failures.KindPayloadParse, fe.Kind)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, schema.NameBrief, fe.Agent)
	assert.Equal(t, `{"meta":{},"payload":"[1,2]"}`, fe.Raw)
	assert.NotContains(t, err.Error(), "[1,2]", "raw text never renders")
	assert.Equal(t, failures.GenericUserMessage, failures.UserMessage(err))
	assert.Equal(t, 3, mock.CallCount())

	logs := sink.all()
	require.Len(t, logs, 1)
	assert.Equal(t, StatusFailed, logs[0].Status)
	assert.Equal(t, string(failures.KindPayloadParse), logs[0].ErrorKind)
	assert.Nil(t, logs[0].Output)
}

func TestRun_EmptyPayloadFailsContract(t *testing.T) {
	empty := `{"meta":{"agent":"brief"},"payload":"   "}`
	mock := testutil.NewMockLLMClient().WithScript(empty, empty, empty)
	r, _ := newTestRunner(mock)

	_, err := Run(context.Background(), r, briefConfig(), schema.BriefContract)
	assert.True(t, failures.IsKind(err, failures.KindSchemaValidation))
}

func TestRun_EmptyPayloadTakesDefaults(t *testing.T) {
	mock := testutil.NewMockLLMClient().WithScript(`{"meta":{"agent":"draft-analysis"},"payload":""}`)
	r, sink := newTestRunner(mock)
	cfg := briefConfig()
	cfg.Agent = schema.NameDraftAnalysis

	res, err := Run(context.Background(), r, cfg, schema.AnalysisContract)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, mock.CallCount())
	assert.NotNil(t, res.Value.Annotations)
	assert.Empty(t, res.Value.Annotations)
	assert.Equal(t, StatusSuccess, sink.all()[0].Status)
}

func TestRun_ModelErrorIsNotRetried(t *testing.T) {
	mock := testutil.NewMockLLMClient().
		WithReply(testutil.Reply{Err: errors.New("503 from provider")}).
		WithScript(testutil.Envelope("brief", testutil.BriefPayload()))
	r, sink := newTestRunner(mock)

	_, err := Run(context.Background(), r, briefConfig(), schema.BriefContract)
	require.Error(t, err)
	assert.True(t, failures.IsKind(err, failures.KindModelInvocation))
	assert.False(t, failures.IsRecoverable(err))
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, StatusFailed, sink.all()[0].Status)
}

func TestRun_AttemptBoundPrecedence(t *testing.T) {
	mock := testutil.NewMockLLMClient()
	mock.DefaultResponse = "no json here"
	r, _ := newTestRunner(mock)
	r.MaxAttempts = 2

	_, err := Run(context.Background(), r, briefConfig(), schema.BriefContract)
	require.Error(t, err)
	assert.Equal(t, 2, mock.CallCount())

	mock.Reset()
	cfg := briefConfig()
	cfg.MaxAttempts = 4
	_, err = Run(context.Background(), r, cfg, schema.BriefContract)
	require.Error(t, err)
	assert.Equal(t, 4, mock.CallCount())
}

func TestRun_SamplingParams(t *testing.T) {
	mock := testutil.NewMockLLMClient().WithScript(testutil.Envelope("brief", testutil.BriefPayload()))
	r, _ := newTestRunner(mock)
	r.Defaults = llm.SamplingParams{Model: "gemini-2.5-flash", MaxTokens: 4096, Temperature: llm.Temperature(0.3)}

	cfg := briefConfig()
	cfg.Temperature = llm.Temperature(0.4)
	_, err := Run(context.Background(), r, cfg, schema.BriefContract)
	require.NoError(t, err)

	call, ok := mock.LastCall()
	require.True(t, ok)
	assert.Equal(t, "extract a brief", call.Prompt)
	assert.Equal(t, "gemini-2.5-flash", call.Params.Model)
	assert.Equal(t, 4096, call.Params.MaxTokens)
	assert.Equal(t, 0.4, *call.Params.Temperature)
}

func TestRun_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := testutil.NewMockLLMClient()
	mock.InvokeFunc = func(ctx context.Context, prompt string, params llm.SamplingParams) (string, error) {
		cancel()
		return "no json", nil
	}
	r, _ := newTestRunner(mock)
	r.Backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) }

	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, r, briefConfig(), schema.BriefContract)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, mock.CallCount())

		var fe *failures.Error
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, failures.KindNoJSONFound, fe.Kind, "the last rejection survives cancellation")
		assert.Equal(t, "no json", fe.Raw)
		assert.Equal(t, 1, fe.Attempts)
		assert.Equal(t, schema.NameBrief, fe.Agent)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not honor cancellation during backoff")
	}
}

func TestRun_DeadlineDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	mock := testutil.NewMockLLMClient()
	mock.DefaultResponse = `{"meta":{},"payload":"[1]"}`
	r, _ := newTestRunner(mock)
	r.Backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) }

	_, err := Run(ctx, r, briefConfig(), schema.BriefContract)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, failures.IsKind(err, failures.KindPayloadParse))
	assert.Equal(t, `{"meta":{},"payload":"[1]"}`, failures.RawOf(err))
	assert.Equal(t, 1, mock.CallCount())
}

func TestRun_StoppedBackoffEndsWithLastFailure(t *testing.T) {
	mock := testutil.NewMockLLMClient()
	mock.DefaultResponse = "no json"
	r, _ := newTestRunner(mock)
	r.Backoff = func() backoff.BackOff { return &backoff.StopBackOff{} }

	_, err := Run(context.Background(), r, briefConfig(), schema.BriefContract)
	assert.True(t, failures.IsKind(err, failures.KindNoJSONFound))
	assert.Equal(t, 1, mock.CallCount())
}

func TestRun_DefaultBackoffWaits(t *testing.T) {
	mock := testutil.NewMockLLMClient().WithScript("no json", testutil.Envelope("brief", testutil.BriefPayload()))
	r := NewRunner(mock, nil)
	r.Backoff = ExponentialBackoff(20*time.Millisecond, 40*time.Millisecond)

	start := time.Now()
	res, err := Run(context.Background(), r, briefConfig(), schema.BriefContract)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	// Randomization factor 0.5 keeps the first interval at or above 10ms.
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestRun_RecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	mock := testutil.NewMockLLMClient().WithScript("no json", testutil.Envelope("brief", testutil.BriefPayload()))
	r, _ := newTestRunner(mock)
	_, err := Run(context.Background(), r, briefConfig(), schema.BriefContract)
	require.NoError(t, err)

	spans := rec.Ended()
	require.NotEmpty(t, spans)
	span := spans[len(spans)-1]
	assert.Equal(t, "agent.run", span.Name())
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "attempt_rejected", span.Events()[0].Name)
}

// =============================================================================
// RUN RAW
// =============================================================================

func TestRunRaw(t *testing.T) {
	t.Run("parses when it can", func(t *testing.T) {
		mock := testutil.NewMockLLMClient().WithScript(testutil.FencedEnvelope("review", testutil.ReviewPayload()))
		r, sink := newTestRunner(mock)

		res, err := r.RunRaw(context.Background(), RunConfig{Agent: "review", Prompt: "p"})
		require.NoError(t, err)
		assert.NoError(t, res.ParseErr)
		assert.Equal(t, testutil.ReviewPayload(), res.Parsed)
		assert.NotContains(t, res.Normalized, "```")
		assert.Len(t, sink.all(), 1)
	})

	t.Run("reports parse errors without failing", func(t *testing.T) {
		mock := testutil.NewMockLLMClient().WithScript("plain prose")
		r, _ := newTestRunner(mock)

		res, err := r.RunRaw(context.Background(), RunConfig{Agent: "review", Prompt: "p"})
		require.NoError(t, err)
		assert.True(t, failures.IsKind(res.ParseErr, failures.KindNoJSONFound))
		assert.Equal(t, "plain prose", res.Raw)
		assert.Nil(t, res.Parsed)
	})

	t.Run("fails on model error", func(t *testing.T) {
		mock := testutil.NewMockLLMClient().WithError(errors.New("down"))
		r, sink := newTestRunner(mock)

		_, err := r.RunRaw(context.Background(), RunConfig{Agent: "review", Prompt: "p"})
		assert.True(t, failures.IsKind(err, failures.KindModelInvocation))
		assert.Equal(t, StatusFailed, sink.all()[0].Status)
	})
}

// =============================================================================
// RUN BATCH
// =============================================================================

func TestRunBatch_FiltersFailures(t *testing.T) {
	good := testutil.Envelope("refine", testutil.RefinePayload())
	mock := testutil.NewMockLLMClient().
		WithResponse("paragraph one", good).
		WithResponse("paragraph two", "garbage").
		WithResponse("paragraph three", good)
	r, sink := newTestRunner(mock)

	cfgs := []RunConfig{
		{Agent: "refine-paragraph", Prompt: "paragraph one"},
		{Agent: "refine-paragraph", Prompt: "paragraph two"},
		{Agent: "refine-paragraph", Prompt: "paragraph three"},
	}
	out, err := RunBatch(context.Background(), r, cfgs, schema.RefineContract, 2)
	require.NoError(t, err)

	require.Len(t, out.Succeeded, 2)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, 0, out.Succeeded[0].Index)
	assert.Equal(t, 2, out.Succeeded[1].Index)
	assert.Equal(t, 1, out.Failed[0].Index)
	assert.True(t, failures.IsKind(out.Failed[0].Err, failures.KindNoJSONFound))
	assert.Len(t, sink.all(), 3)
}

func TestRunBatch_RespectsLimit(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	good := testutil.Envelope("refine", testutil.RefinePayload())
	mock := testutil.NewMockLLMClient()
	mock.InvokeFunc = func(ctx context.Context, prompt string, params llm.SamplingParams) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return good, nil
	}
	r, _ := newTestRunner(mock)

	cfgs := make([]RunConfig, 8)
	for i := range cfgs {
		cfgs[i] = RunConfig{Agent: "refine-paragraph", Prompt: "p"}
	}
	out, err := RunBatch(context.Background(), r, cfgs, schema.RefineContract, 3)
	require.NoError(t, err)
	assert.Len(t, out.Succeeded, 8)
	assert.LessOrEqual(t, peak, 3)
}

func TestRunBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := testutil.NewMockLLMClient().WithScript(testutil.Envelope("refine", testutil.RefinePayload()))
	r, _ := newTestRunner(mock)

	out, err := RunBatch(ctx, r, []RunConfig{{Agent: "refine-paragraph", Prompt: "p"}}, schema.RefineContract, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, out.Failed, 1)
	assert.Equal(t, 0, mock.CallCount())
}
