// Package openai implements the provider adapter for OpenAI-compatible chat
// completions endpoints (/v1/chat/completions). This is the family spoken by
// OpenAI itself and by the long tail of compatible gateways. It handles:
//   - Bearer token authentication
//   - Tool calls as function-type tool_calls with indexed argument deltas
//   - Reasoning deltas surfaced as reasoning_content (DeepSeek-style)
//   - Image attachments as data-URL image_url content parts
//   - The [DONE] sentinel (consumed by the SSE layer)
package openai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parley-chat/parley/llm/sse"
	"github.com/parley-chat/parley/llm/types"
)

const (
	providerName = "openai"

	defaultMaxTokens = 4096

	// Reasoning output counts against the completion budget, so the ceiling
	// is raised when reasoning is requested.
	thinkingMaxTokens = 16384

	titleMaxTokens = 64
)

// Adapter implements the provider contract for OpenAI-compatible APIs.
type Adapter struct{}

// New creates an OpenAI-compatible adapter.
func New() *Adapter { return &Adapter{} }

// Name returns the canonical provider tag.
func (a *Adapter) Name() string { return providerName }

// ---------------------------------------------------------------------------
// Request building
// ---------------------------------------------------------------------------

// BuildStreamRequest translates a canonical request into a streaming chat
// completions request.
func (a *Adapter) BuildStreamRequest(req types.ChatRequest) (*types.WireRequest, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": a.buildMessages(req),
		"stream":   true,
	}

	if req.Thinking {
		body["reasoning_effort"] = "medium"
		body["max_tokens"] = thinkingMaxTokens
	} else {
		body["max_tokens"] = defaultMaxTokens
	}

	if len(req.Tools) > 0 {
		body["tools"] = buildTools(req.Tools)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling openai request: %w", err)
	}

	return &types.WireRequest{
		Method:  "POST",
		URL:     strings.TrimRight(req.BaseURL, "/") + "/v1/chat/completions",
		Headers: headers(req.APIKey),
		Body:    payload,
	}, nil
}

// buildMessages assembles the system prompt, history, the current user turn,
// and continuation turns in chat completions format.
func (a *Adapter) buildMessages(req types.ChatRequest) []map[string]any {
	var messages []map[string]any

	if req.SystemText != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemText})
	}

	for _, m := range req.History {
		switch m.Role {
		case types.RoleUser:
			if msg := userMessage(m.Content, m.Attachments, req.Images); msg != nil {
				messages = append(messages, msg)
			}
		case types.RoleAssistant:
			if m.Content != "" {
				messages = append(messages, map[string]any{"role": "assistant", "content": m.Content})
			}
		}
	}

	if msg := userMessage(req.UserText, req.Attachments, req.Images); msg != nil {
		messages = append(messages, msg)
	}

	for _, cm := range req.Continuation {
		switch cm.Role {
		case types.RoleAssistant:
			msg := map[string]any{"role": "assistant"}
			if cm.Content != "" {
				msg["content"] = cm.Content
			}
			var calls []map[string]any
			for _, tc := range cm.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": rawArguments(tc),
					},
				})
			}
			if len(calls) > 0 {
				msg["tool_calls"] = calls
			}
			messages = append(messages, msg)

		case types.RoleTool:
			for _, r := range cm.Results {
				messages = append(messages, map[string]any{
					"role":         "tool",
					"tool_call_id": r.ToolCallID,
					"content":      r.Content,
				})
			}
		}
	}

	return messages
}

// userMessage builds a user message, inlining image attachments as data-URL
// image_url parts. Read failures degrade to a text-only message.
func userMessage(text string, attachments []types.Attachment, reader types.AttachmentReader) map[string]any {
	images := readImages(attachments, reader)
	if len(images) == 0 {
		if text == "" {
			return nil
		}
		return map[string]any{"role": "user", "content": text}
	}

	var parts []map[string]any
	if text != "" {
		parts = append(parts, map[string]any{"type": "text", "text": text})
	}
	for _, img := range images {
		dataURL := fmt.Sprintf("data:%s;base64,%s", img.MediaType, base64.StdEncoding.EncodeToString(img.Data))
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": dataURL},
		})
	}
	return map[string]any{"role": "user", "content": parts}
}

func readImages(attachments []types.Attachment, reader types.AttachmentReader) []types.ImageData {
	if reader == nil {
		return nil
	}
	var images []types.Attachment
	for _, att := range attachments {
		if att.IsImage() {
			images = append(images, att)
		}
	}
	if len(images) == 0 {
		return nil
	}
	data, err := reader.ReadImages(images)
	if err != nil {
		return nil
	}
	return data
}

func buildTools(defs []types.ToolDefinition) []map[string]any {
	tools := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		fn := map[string]any{
			"name":        def.Name,
			"description": def.Description,
		}
		if def.Parameters != nil {
			fn["parameters"] = def.Parameters
		}
		tools = append(tools, map[string]any{"type": "function", "function": fn})
	}
	return tools
}

// rawArguments returns the JSON-encoded argument payload for a tool call,
// preferring the raw text assembled during streaming.
func rawArguments(tc types.ToolCall) string {
	if tc.RawArguments != "" {
		return tc.RawArguments
	}
	if tc.Arguments == nil {
		return "{}"
	}
	raw, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func headers(apiKey string) map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + apiKey,
	}
}

// ---------------------------------------------------------------------------
// Frame parsing
// ---------------------------------------------------------------------------

// ParseFrame translates one chat completions SSE frame into canonical
// events. Tool-call fragments carry an id only on their first delta; later
// fragments are emitted without an id and the stream reader attaches them to
// the open call.
func (a *Adapter) ParseFrame(frame sse.Event) []types.StreamEvent {
	if frame.Data == "" {
		return nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(frame.Data), &data); err != nil {
		return nil
	}

	choices, _ := data["choices"].([]any)
	if len(choices) == 0 {
		return nil
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return nil
	}

	var events []types.StreamEvent

	if delta, ok := choice["delta"].(map[string]any); ok {
		if content, ok := delta["content"].(string); ok && content != "" {
			events = append(events, types.ChunkEvent(content))
		}
		if reasoning, ok := delta["reasoning_content"].(string); ok && reasoning != "" {
			events = append(events, types.ReasoningEvent(reasoning))
		}

		if calls, ok := delta["tool_calls"].([]any); ok {
			for _, call := range calls {
				callMap, ok := call.(map[string]any)
				if !ok {
					continue
				}
				id, _ := callMap["id"].(string)
				fn, _ := callMap["function"].(map[string]any)
				name, _ := fn["name"].(string)
				if id != "" && name != "" {
					events = append(events, types.ToolCallStartEvent(id, name))
				}
				if args, ok := fn["arguments"].(string); ok && args != "" {
					events = append(events, types.ToolCallDeltaEvent(id, args))
				}
			}
		}
	}

	if raw, ok := choice["finish_reason"].(string); ok && raw != "" {
		events = append(events, types.DoneEvent(mapStopReason(raw)))
	}

	return events
}

func mapStopReason(raw string) types.StopReason {
	switch raw {
	case "stop":
		return types.StopReason{Reason: types.StopEndTurn, Raw: raw}
	case "tool_calls":
		return types.StopReason{Reason: types.StopToolUse, Raw: raw}
	case "length":
		return types.StopReason{Reason: types.StopMaxTokens, Raw: raw}
	default:
		return types.StopReason{Reason: types.StopOther, Raw: raw}
	}
}

// ---------------------------------------------------------------------------
// Title generation
// ---------------------------------------------------------------------------

// BuildTitleRequest builds a reduced non-streaming chat completions request.
// The reasoning knob is never set for titles, so reasoning stays disabled
// even when the main chat enables it.
func (a *Adapter) BuildTitleRequest(req types.TitleRequest) (*types.WireRequest, error) {
	body := map[string]any{
		"model":      req.Model,
		"max_tokens": titleMaxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": titlePrompt(req.UserText, req.AssistantText)},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling openai title request: %w", err)
	}

	return &types.WireRequest{
		Method:  "POST",
		URL:     strings.TrimRight(req.BaseURL, "/") + "/v1/chat/completions",
		Headers: headers(req.APIKey),
		Body:    payload,
	}, nil
}

// ParseTitleResponse extracts the title from a chat completions response.
// When the message has no content it falls back to the first line of the
// reasoning_content field, and returns "" when neither exists.
func (a *Adapter) ParseTitleResponse(body []byte) string {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return ""
	}

	choices, _ := data["choices"].([]any)
	if len(choices) == 0 {
		return ""
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	message, _ := choice["message"].(map[string]any)

	if content, ok := message["content"].(string); ok && strings.TrimSpace(content) != "" {
		return strings.TrimSpace(content)
	}
	if reasoning, ok := message["reasoning_content"].(string); ok {
		return firstLine(reasoning)
	}
	return ""
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func titlePrompt(userText, assistantText string) string {
	var b strings.Builder
	b.WriteString("Write a concise title (at most six words) for the following conversation. ")
	b.WriteString("Reply with the title only.\n\nUser: ")
	b.WriteString(userText)
	if assistantText != "" {
		b.WriteString("\n\nAssistant: ")
		b.WriteString(assistantText)
	}
	return b.String()
}
