// Package stream executes one streaming wire request and turns it into one
// StreamResult, forwarding canonical events to a caller-supplied sink as
// they arrive. The reader owns all cross-frame state: the running text and
// reasoning aggregates, and the open tool-call argument buffers.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/parley-chat/parley/llm/sse"
	"github.com/parley-chat/parley/llm/types"
)

// ErrStopped is returned alongside the partial aggregate when the stream was
// cancelled by the caller. Cancellation is distinguished from failure by the
// signal's fired state, never by error type, since both manifest as an
// aborted read.
var ErrStopped = errors.New("stream stopped")

// maxErrorBody bounds how much of a non-success response body is read for
// the error message.
const maxErrorBody = 64 * 1024

// FrameParser is the slice of the provider adapter the reader needs.
type FrameParser interface {
	Name() string
	ParseFrame(frame sse.Event) []types.StreamEvent
}

// Sink receives canonical events synchronously, in frame arrival order.
type Sink func(types.StreamEvent)

// Run executes one streaming call. It always returns a non-nil result; on
// cancellation the accumulated partial aggregate is returned with ErrStopped,
// and on transport failure the partial aggregate is returned with the error,
// so the orchestration layer can decide what to persist.
func Run(ctx context.Context, client *http.Client, wire *types.WireRequest, parser FrameParser, sink Sink) (*types.StreamResult, error) {
	acc := newAccumulator()

	httpReq, err := http.NewRequestWithContext(ctx, wire.Method, wire.URL, bytes.NewReader(wire.Body))
	if err != nil {
		return acc.result(), types.NewNetworkError("building stream request", err)
	}
	for k, v := range wire.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return acc.result(), ErrStopped
		}
		return acc.result(), types.NewNetworkError("stream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return acc.result(), statusError(parser.Name(), resp.StatusCode, body)
	}

	frames := sse.NewParser(resp.Body)
	for {
		// Cooperative cancellation between frames.
		if ctx.Err() != nil {
			return acc.result(), ErrStopped
		}

		frame, err := frames.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return acc.result(), ErrStopped
			}
			return acc.result(), types.NewStreamError("reading stream", err)
		}

		for _, evt := range parser.ParseFrame(frame) {
			if sink != nil {
				sink(evt)
			}
			acc.fold(evt)
		}
	}

	if ctx.Err() != nil {
		return acc.result(), ErrStopped
	}
	return acc.result(), nil
}

// statusError extracts a message from a non-success response body. Provider
// error envelopes differ, but nearly all nest a {"error":{"message":...}}.
func statusError(provider string, statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		if errObj, ok := raw["error"].(map[string]any); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				message = msg
			}
		}
	}
	if message == "" {
		message = "request failed"
	}
	return types.ErrorFromStatusCode(statusCode, message, provider, "", nil)
}

// ---------------------------------------------------------------------------
// Accumulator
// ---------------------------------------------------------------------------

// toolBuffer collects the argument fragments of one open tool call.
type toolBuffer struct {
	id   string
	name string
	args strings.Builder
}

// accumulator folds canonical events into the aggregate that becomes the
// StreamResult. It is an explicit value owned by Run, not state captured by
// closures, so its output is deterministic and testable in isolation.
type accumulator struct {
	content   strings.Builder
	reasoning strings.Builder

	order   []string
	open    map[string]*toolBuffer
	current string // id of the open tool call, for deltas that omit the id

	stop *types.StopReason
}

func newAccumulator() *accumulator {
	return &accumulator{open: make(map[string]*toolBuffer)}
}

func (acc *accumulator) fold(evt types.StreamEvent) {
	switch evt.Type {
	case types.StreamEventChunk:
		acc.content.WriteString(evt.Delta)

	case types.StreamEventReasoning:
		acc.reasoning.WriteString(evt.Delta)

	case types.StreamEventToolCallStart:
		if _, exists := acc.open[evt.ToolCallID]; !exists {
			acc.open[evt.ToolCallID] = &toolBuffer{id: evt.ToolCallID, name: evt.ToolCallName}
			acc.order = append(acc.order, evt.ToolCallID)
		}
		acc.current = evt.ToolCallID

	case types.StreamEventToolCallDelta:
		id := evt.ToolCallID
		if id == "" {
			id = acc.current
		}
		if buf, ok := acc.open[id]; ok {
			buf.args.WriteString(evt.Delta)
		}

	case types.StreamEventDone:
		acc.stop = evt.StopReason
	}
}

// result finalizes the aggregate. Tool calls are assembled only when the
// terminal stop reason requested tool use, which keeps the invariant that a
// result carries tool calls only under the tool-invocation stop reason. A
// malformed argument buffer for one call leaves its Arguments nil without
// affecting the others.
func (acc *accumulator) result() *types.StreamResult {
	res := &types.StreamResult{
		Content:    acc.content.String(),
		Reasoning:  acc.reasoning.String(),
		StopReason: types.StopReason{Reason: types.StopOther},
	}
	if acc.stop != nil {
		res.StopReason = *acc.stop
	}

	if !res.StopReason.IsToolUse() {
		return res
	}

	for _, id := range acc.order {
		buf := acc.open[id]
		call := types.ToolCall{
			ID:           buf.id,
			Name:         buf.name,
			RawArguments: buf.args.String(),
		}
		if call.RawArguments != "" {
			var args map[string]any
			if err := json.Unmarshal([]byte(call.RawArguments), &args); err == nil {
				call.Arguments = args
			}
		}
		res.ToolCalls = append(res.ToolCalls, call)
	}

	return res
}
