// Package types defines the canonical data model for the chat orchestration
// core. Every provider backend (Anthropic, Gemini, OpenAI-compatible) is
// mapped onto these shared types, so the orchestration loop, stream reader,
// and persistence layer never see a provider-specific wire format.
package types

import "strings"

// ---------------------------------------------------------------------------
// Role
// ---------------------------------------------------------------------------

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleSystem is the system prompt role.
	RoleSystem Role = "system"
	// RoleUser is a human user turn.
	RoleUser Role = "user"
	// RoleAssistant is a model response turn.
	RoleAssistant Role = "assistant"
	// RoleTool carries the results of tool invocations back to the model.
	RoleTool Role = "tool"
)

// ---------------------------------------------------------------------------
// Attachments
// ---------------------------------------------------------------------------

// Attachment references a file attached to a user message. The core never
// touches the file system itself; an AttachmentReader resolves attachments
// into inline payloads during request construction.
type Attachment struct {
	Path      string `json:"path"`
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// IsImage reports whether the attachment's media type is an image type.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MediaType, "image/")
}

// ImageData is an image attachment resolved to its raw bytes. Adapters
// base64-encode the data into protocol-specific multimodal blocks.
type ImageData struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// AttachmentReader resolves image attachments to inline payloads. It is
// supplied by the caller and invoked synchronously while an adapter builds
// a wire request. Read failures degrade to the attachment being skipped.
type AttachmentReader interface {
	ReadImages(attachments []Attachment) ([]ImageData, error)
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// ChatMessage is one canonical history turn handed to a provider adapter.
type ChatMessage struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

// ToolDefinition describes a tool the model may invoke. Parameters follows
// JSON Schema conventions.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a tool invocation requested by the model. During streaming the
// arguments arrive as raw JSON fragments; RawArguments holds the assembled
// text and Arguments holds the parsed object. Arguments is nil when the
// assembled text was not valid JSON.
type ToolCall struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	RawArguments string         `json:"raw_arguments,omitempty"`
}

// ToolResult is the outcome of executing one tool call. Error outcomes are
// carried back to the model rather than aborting the round.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ---------------------------------------------------------------------------
// Continuation messages
// ---------------------------------------------------------------------------

// ContinuationMessage is a synthetic turn injected into a follow-up request
// during the tool loop. Exactly one shape is populated per Role: an assistant
// turn carries Content and ToolCalls, a tool turn carries Results.
type ContinuationMessage struct {
	Role      Role         `json:"role"`
	Content   string       `json:"content,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`
	Results   []ToolResult `json:"results,omitempty"`
}

// AssistantContinuation builds the assistant half of one tool round.
func AssistantContinuation(content string, calls []ToolCall) ContinuationMessage {
	return ContinuationMessage{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolContinuation builds the tool-results half of one tool round.
func ToolContinuation(results []ToolResult) ContinuationMessage {
	return ContinuationMessage{Role: RoleTool, Results: results}
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// ChatRequest is the canonical input to an adapter's BuildStreamRequest. A
// fresh value is constructed for every round of the tool loop; requests are
// never shared or mutated across rounds.
type ChatRequest struct {
	BaseURL string
	APIKey  string
	Model   string

	// History is the trimmed conversation handed over by the history filter.
	History []ChatMessage

	// UserText is the current user message.
	UserText string

	// Attachments belong to the current user message.
	Attachments []Attachment

	// SystemText is an optional system prompt.
	SystemText string

	// Thinking requests extended reasoning where the provider supports it.
	Thinking bool

	// Tools lists the definitions offered this session.
	Tools []ToolDefinition

	// Continuation carries prior tool rounds within the same send.
	Continuation []ContinuationMessage

	// Images resolves image attachments during request construction. May be
	// nil, in which case image attachments are skipped.
	Images AttachmentReader
}

// TitleRequest is the reduced non-streaming request used for short
// summarization calls. Extended reasoning is always disabled for titles
// regardless of the chat setting.
type TitleRequest struct {
	BaseURL       string
	APIKey        string
	Model         string
	UserText      string
	AssistantText string
}

// WireRequest is a protocol-specific HTTP request produced by an adapter.
type WireRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// ---------------------------------------------------------------------------
// Stop reasons
// ---------------------------------------------------------------------------

// StopReason is the normalized terminal classification of a stream, with the
// provider's original string preserved for debugging.
type StopReason struct {
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

// Normalized stop reasons.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopOther     = "other"
)

// IsToolUse reports whether the stream ended because the model requested
// tool invocations.
func (s StopReason) IsToolUse() bool { return s.Reason == StopToolUse }

// ---------------------------------------------------------------------------
// Stream events
// ---------------------------------------------------------------------------

// StreamEventType discriminates the kind of canonical streaming event.
type StreamEventType string

const (
	// StreamEventChunk carries a plain text delta.
	StreamEventChunk StreamEventType = "chunk"
	// StreamEventReasoning carries a thinking/reasoning delta.
	StreamEventReasoning StreamEventType = "reasoning"
	// StreamEventToolCallStart announces a new tool call.
	StreamEventToolCallStart StreamEventType = "tool_call_start"
	// StreamEventToolCallDelta carries a fragment of tool-call arguments.
	StreamEventToolCallDelta StreamEventType = "tool_call_delta"
	// StreamEventDone signals the terminal stop reason.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one unit of streamed model output in protocol-independent
// form. Adapters produce these from raw frames; the stream reader folds them
// into a StreamResult and forwards them live to the caller's sink.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Delta        string          `json:"delta,omitempty"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolCallName string          `json:"tool_call_name,omitempty"`
	StopReason   *StopReason     `json:"stop_reason,omitempty"`
}

// ChunkEvent builds a text-delta event.
func ChunkEvent(delta string) StreamEvent {
	return StreamEvent{Type: StreamEventChunk, Delta: delta}
}

// ReasoningEvent builds a reasoning-delta event.
func ReasoningEvent(delta string) StreamEvent {
	return StreamEvent{Type: StreamEventReasoning, Delta: delta}
}

// ToolCallStartEvent builds a tool-call announcement event.
func ToolCallStartEvent(id, name string) StreamEvent {
	return StreamEvent{Type: StreamEventToolCallStart, ToolCallID: id, ToolCallName: name}
}

// ToolCallDeltaEvent builds a tool-argument fragment event. The id may be
// empty when the protocol does not repeat it; the stream reader attaches the
// fragment to the currently open tool call.
func ToolCallDeltaEvent(id, delta string) StreamEvent {
	return StreamEvent{Type: StreamEventToolCallDelta, ToolCallID: id, Delta: delta}
}

// DoneEvent builds the terminal event.
func DoneEvent(reason StopReason) StreamEvent {
	return StreamEvent{Type: StreamEventDone, StopReason: &reason}
}

// ---------------------------------------------------------------------------
// Stream result
// ---------------------------------------------------------------------------

// StreamResult is the aggregate of one stream execution. It is owned by the
// stream reader and handed once to the orchestration loop. A partial result
// is still returned when the stream is cancelled or fails mid-flight.
type StreamResult struct {
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason `json:"stop_reason"`
}
