package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parley-chat/parley/llm/sse"
	"github.com/parley-chat/parley/llm/types"
)

// ---------------------------------------------------------------------------
// Scripted parser
// ---------------------------------------------------------------------------

// scriptedParser maps raw frame data to pre-built canonical events, standing
// in for a real provider adapter.
type scriptedParser struct {
	name   string
	script map[string][]types.StreamEvent
}

func (p *scriptedParser) Name() string { return p.name }

func (p *scriptedParser) ParseFrame(frame sse.Event) []types.StreamEvent {
	return p.script[frame.Data]
}

// chunkParser turns every frame's data into one chunk event, plus a done
// event for the "DONE" marker.
type chunkParser struct{}

func (chunkParser) Name() string { return "test" }

func (chunkParser) ParseFrame(frame sse.Event) []types.StreamEvent {
	if frame.Data == "DONE" {
		return []types.StreamEvent{types.DoneEvent(types.StopReason{Reason: types.StopEndTurn, Raw: "stop"})}
	}
	return []types.StreamEvent{types.ChunkEvent(frame.Data)}
}

func sseServer(t *testing.T, write func(w http.ResponseWriter, flush func())) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		write(w, flusher.Flush)
	}))
}

func wireFor(url string) *types.WireRequest {
	return &types.WireRequest{
		Method:  "POST",
		URL:     url,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{}`),
	}
}

// ---------------------------------------------------------------------------
// Happy path
// ---------------------------------------------------------------------------

func TestRunAccumulatesContent(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "data: Hello\n\ndata: , world\n\ndata: DONE\n\n")
	})
	defer server.Close()

	var deltas []string
	result, err := Run(context.Background(), server.Client(), wireFor(server.URL), chunkParser{},
		func(evt types.StreamEvent) {
			if evt.Type == types.StreamEventChunk {
				deltas = append(deltas, evt.Delta)
			}
		})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Content != "Hello, world" {
		t.Errorf("Content = %q", result.Content)
	}
	if result.StopReason.Reason != types.StopEndTurn {
		t.Errorf("StopReason = %+v", result.StopReason)
	}
	if len(deltas) != 2 || deltas[0] != "Hello" || deltas[1] != ", world" {
		t.Errorf("live deltas = %v", deltas)
	}
}

func TestRunDefaultsStopReasonWhenStreamEndsSilently(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "data: partial\n\n")
	})
	defer server.Close()

	result, err := Run(context.Background(), server.Client(), wireFor(server.URL), chunkParser{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.StopReason.Reason != types.StopOther {
		t.Errorf("StopReason = %+v, want other when no done frame arrived", result.StopReason)
	}
}

// ---------------------------------------------------------------------------
// Tool-call assembly
// ---------------------------------------------------------------------------

func TestRunAssemblesToolArguments(t *testing.T) {
	parser := &scriptedParser{
		name: "test",
		script: map[string][]types.StreamEvent{
			"f1": {types.ToolCallStartEvent("call_1", "memory_search")},
			"f2": {types.ToolCallDeltaEvent("", `{"qu`)},
			"f3": {types.ToolCallDeltaEvent("", `ery":"x`)},
			"f4": {types.ToolCallDeltaEvent("", `"}`)},
			"f5": {types.DoneEvent(types.StopReason{Reason: types.StopToolUse, Raw: "tool_use"})},
		},
	}
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		for _, d := range []string{"f1", "f2", "f3", "f4", "f5"} {
			fmt.Fprintf(w, "data: %s\n\n", d)
		}
	})
	defer server.Close()

	result, err := Run(context.Background(), server.Client(), wireFor(server.URL), parser, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(result.ToolCalls))
	}
	call := result.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "memory_search" {
		t.Errorf("call = %+v", call)
	}
	if call.RawArguments != `{"query":"x"}` {
		t.Errorf("RawArguments = %q", call.RawArguments)
	}
	if call.Arguments["query"] != "x" {
		t.Errorf("Arguments = %v", call.Arguments)
	}
}

func TestRunMalformedArgumentsLeaveNilWithoutAffectingOthers(t *testing.T) {
	parser := &scriptedParser{
		name: "test",
		script: map[string][]types.StreamEvent{
			"f1": {types.ToolCallStartEvent("call_1", "bad")},
			"f2": {types.ToolCallDeltaEvent("call_1", `{"broken":`)},
			"f3": {types.ToolCallStartEvent("call_2", "good")},
			"f4": {types.ToolCallDeltaEvent("call_2", `{"ok":true}`)},
			"f5": {types.DoneEvent(types.StopReason{Reason: types.StopToolUse, Raw: "tool_use"})},
		},
	}
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		for _, d := range []string{"f1", "f2", "f3", "f4", "f5"} {
			fmt.Fprintf(w, "data: %s\n\n", d)
		}
	})
	defer server.Close()

	result, err := Run(context.Background(), server.Client(), wireFor(server.URL), parser, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.ToolCalls) != 2 {
		t.Fatalf("len(ToolCalls) = %d, want 2", len(result.ToolCalls))
	}
	if result.ToolCalls[0].Arguments != nil {
		t.Errorf("malformed call Arguments = %v, want nil", result.ToolCalls[0].Arguments)
	}
	if result.ToolCalls[0].RawArguments != `{"broken":` {
		t.Errorf("malformed call RawArguments = %q", result.ToolCalls[0].RawArguments)
	}
	if result.ToolCalls[1].Arguments["ok"] != true {
		t.Errorf("good call Arguments = %v", result.ToolCalls[1].Arguments)
	}
}

func TestRunDropsToolCallsWithoutToolUseStop(t *testing.T) {
	parser := &scriptedParser{
		name: "test",
		script: map[string][]types.StreamEvent{
			"f1": {types.ToolCallStartEvent("call_1", "memory_search")},
			"f2": {types.ToolCallDeltaEvent("call_1", `{}`)},
			"f3": {types.DoneEvent(types.StopReason{Reason: types.StopEndTurn, Raw: "stop"})},
		},
	}
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		for _, d := range []string{"f1", "f2", "f3"} {
			fmt.Fprintf(w, "data: %s\n\n", d)
		}
	})
	defer server.Close()

	result, err := Run(context.Background(), server.Client(), wireFor(server.URL), parser, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.ToolCalls) != 0 {
		t.Errorf("ToolCalls = %+v, want none unless the stop reason requested tools", result.ToolCalls)
	}
}

// ---------------------------------------------------------------------------
// Cancellation
// ---------------------------------------------------------------------------

func TestRunCancellationPreservesPartial(t *testing.T) {
	firstSent := make(chan struct{})
	release := make(chan struct{})

	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "data: Hello\n\n")
		flush()
		fmt.Fprint(w, "data: , wor\n\n")
		flush()
		close(firstSent)
		<-release
		fmt.Fprint(w, "data: ld!\n\n")
	})
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-firstSent
		time.Sleep(50 * time.Millisecond) // let the reader drain the flushed frames
		cancel()
	}()

	result, err := Run(ctx, server.Client(), wireFor(server.URL), chunkParser{}, nil)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Run() error = %v, want ErrStopped", err)
	}
	if result == nil {
		t.Fatal("result = nil, want partial aggregate")
	}
	if !strings.HasPrefix(result.Content, "Hello") {
		t.Errorf("partial Content = %q, want the text streamed before cancellation", result.Content)
	}
}

func TestRunCancelledBeforeRequest(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Run(ctx, server.Client(), wireFor(server.URL), chunkParser{}, nil)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Run() error = %v, want ErrStopped", err)
	}
	if result.Content != "" {
		t.Errorf("Content = %q, want empty", result.Content)
	}
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

func TestRunStatusErrorExtractsProviderMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer server.Close()

	_, err := Run(context.Background(), server.Client(), wireFor(server.URL), chunkParser{}, nil)
	var provErr *types.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Run() error = %T, want *ProviderError", err)
	}
	if provErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", provErr.StatusCode)
	}
	if provErr.Message != "rate limited" {
		t.Errorf("Message = %q", provErr.Message)
	}
	if !provErr.IsRetryable() {
		t.Error("429 should classify as retryable")
	}
}

func TestRunTransportFailureReturnsPartial(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "data: partial text\n\n")
		flush()
		// Abort the connection mid-stream.
		conn, _, _ := w.(http.Hijacker).Hijack()
		conn.Close()
	})
	defer server.Close()

	result, err := Run(context.Background(), server.Client(), wireFor(server.URL), chunkParser{}, nil)
	if err == nil {
		t.Fatal("Run() error = nil, want transport failure")
	}
	if errors.Is(err, ErrStopped) {
		t.Fatal("an aborted connection is a failure, not a cancellation")
	}
	if result.Content != "partial text" {
		t.Errorf("partial Content = %q", result.Content)
	}
}

func TestRunSetsRequestHeaders(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		fmt.Fprint(w, "data: DONE\n\n")
	}))
	defer server.Close()

	wire := wireFor(server.URL)
	wire.Headers["x-api-key"] = "sk-test"
	if _, err := Run(context.Background(), server.Client(), wire, chunkParser{}, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gotAuth != "sk-test" {
		t.Errorf("x-api-key = %q", gotAuth)
	}
}

func TestRunDeadlineSurfacesAsStopped(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "data: slow\n\n")
		flush()
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, server.Client(), wireFor(server.URL), chunkParser{}, nil)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Run() error = %v, want ErrStopped on context expiry", err)
	}
}
