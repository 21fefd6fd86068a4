// Package anthropic implements the provider adapter for the Anthropic
// Messages API. It handles:
//   - System text as the top-level "system" parameter
//   - Strict user/assistant alternation with automatic merging
//   - Tool results encoded as user messages with tool_result content blocks
//   - Image attachments inlined as base64 source blocks
//   - Extended thinking with budget_tokens, raising the max_tokens ceiling
//     so the reasoning budget stays strictly below it
package anthropic

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parley-chat/parley/llm/sse"
	"github.com/parley-chat/parley/llm/types"
)

const (
	providerName     = "anthropic"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096

	// The thinking budget must be strictly less than max_tokens, so the
	// ceiling is raised whenever thinking is enabled.
	thinkingBudget    = 8192
	thinkingMaxTokens = 16384

	titleMaxTokens = 64
)

// Adapter implements the provider contract for the Anthropic Messages API.
type Adapter struct{}

// New creates an Anthropic adapter.
func New() *Adapter { return &Adapter{} }

// Name returns the canonical provider tag.
func (a *Adapter) Name() string { return providerName }

// ---------------------------------------------------------------------------
// Request building
// ---------------------------------------------------------------------------

// BuildStreamRequest translates a canonical request into a streaming
// Messages API request.
func (a *Adapter) BuildStreamRequest(req types.ChatRequest) (*types.WireRequest, error) {
	body := map[string]any{
		"model":  req.Model,
		"stream": true,
	}

	if req.SystemText != "" {
		body["system"] = req.SystemText
	}

	messages := a.buildMessages(req)
	body["messages"] = messages

	maxTokens := defaultMaxTokens
	if req.Thinking {
		body["thinking"] = map[string]any{
			"type":          "enabled",
			"budget_tokens": thinkingBudget,
		}
		maxTokens = thinkingMaxTokens
	}
	body["max_tokens"] = maxTokens

	if len(req.Tools) > 0 {
		body["tools"] = buildTools(req.Tools)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling anthropic request: %w", err)
	}

	return &types.WireRequest{
		Method:  "POST",
		URL:     strings.TrimRight(req.BaseURL, "/") + "/v1/messages",
		Headers: headers(req.APIKey),
		Body:    payload,
	}, nil
}

// buildMessages assembles history, the current user turn, and continuation
// turns, enforcing Anthropic's strict user/assistant alternation by merging
// consecutive same-role messages.
func (a *Adapter) buildMessages(req types.ChatRequest) []map[string]any {
	var result []map[string]any

	appendMsg := func(msg map[string]any) {
		if msg == nil {
			return
		}
		if len(result) > 0 {
			lastRole, _ := result[len(result)-1]["role"].(string)
			thisRole, _ := msg["role"].(string)
			if lastRole == thisRole {
				result[len(result)-1] = mergeMessages(result[len(result)-1], msg)
				return
			}
		}
		result = append(result, msg)
	}

	for _, m := range req.History {
		switch m.Role {
		case types.RoleUser:
			appendMsg(userMessage(m.Content, m.Attachments, req.Images))
		case types.RoleAssistant:
			if m.Content != "" {
				appendMsg(map[string]any{"role": "assistant", "content": m.Content})
			}
		}
	}

	appendMsg(userMessage(req.UserText, req.Attachments, req.Images))

	for _, cm := range req.Continuation {
		switch cm.Role {
		case types.RoleAssistant:
			appendMsg(assistantToolMessage(cm))
		case types.RoleTool:
			appendMsg(toolResultMessage(cm.Results))
		}
	}

	// The first message must come from the user.
	if len(result) > 0 {
		if role, _ := result[0]["role"].(string); role != "user" {
			result = append([]map[string]any{{"role": "user", "content": "."}}, result...)
		}
	}

	return result
}

// userMessage builds a user message, inlining image attachments as base64
// source blocks. Attachment read failures degrade to a text-only message.
func userMessage(text string, attachments []types.Attachment, reader types.AttachmentReader) map[string]any {
	images := readImages(attachments, reader)
	if len(images) == 0 {
		if text == "" {
			return nil
		}
		return map[string]any{"role": "user", "content": text}
	}

	var parts []map[string]any
	for _, img := range images {
		parts = append(parts, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": img.MediaType,
				"data":       base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	if text != "" {
		parts = append(parts, map[string]any{"type": "text", "text": text})
	}
	return map[string]any{"role": "user", "content": parts}
}

// assistantToolMessage encodes a continuation assistant turn: its text plus
// the tool_use blocks it issued.
func assistantToolMessage(cm types.ContinuationMessage) map[string]any {
	var parts []map[string]any
	if cm.Content != "" {
		parts = append(parts, map[string]any{"type": "text", "text": cm.Content})
	}
	for _, tc := range cm.ToolCalls {
		input := tc.Arguments
		if input == nil {
			input = map[string]any{}
		}
		parts = append(parts, map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Name,
			"input": input,
		})
	}
	if len(parts) == 0 {
		return nil
	}
	return map[string]any{"role": "assistant", "content": parts}
}

// toolResultMessage encodes tool results as a user message with tool_result
// blocks, the Messages API convention.
func toolResultMessage(results []types.ToolResult) map[string]any {
	var parts []map[string]any
	for _, r := range results {
		block := map[string]any{
			"type":        "tool_result",
			"tool_use_id": r.ToolCallID,
			"content":     r.Content,
		}
		if r.IsError {
			block["is_error"] = true
		}
		parts = append(parts, block)
	}
	if len(parts) == 0 {
		return nil
	}
	return map[string]any{"role": "user", "content": parts}
}

func buildTools(defs []types.ToolDefinition) []map[string]any {
	tools := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		schema := def.Parameters
		if schema == nil {
			// input_schema is required even when empty.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, map[string]any{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": schema,
		})
	}
	return tools
}

func mergeMessages(a, b map[string]any) map[string]any {
	a["content"] = append(toContentArray(a["content"]), toContentArray(b["content"])...)
	return a
}

func toContentArray(v any) []map[string]any {
	switch c := v.(type) {
	case string:
		return []map[string]any{{"type": "text", "text": c}}
	case []map[string]any:
		return c
	}
	return nil
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

func headers(apiKey string) map[string]string {
	return map[string]string{
		"Content-Type":      "application/json",
		"x-api-key":         apiKey,
		"anthropic-version": apiVersion,
	}
}

// ---------------------------------------------------------------------------
// Frame parsing
// ---------------------------------------------------------------------------

// ParseFrame translates one Messages API SSE frame into canonical events.
// Malformed frames yield an empty slice. Tool-argument deltas are emitted
// without a tool-call id because input_json_delta frames do not repeat it;
// the stream reader attaches them to the open call.
func (a *Adapter) ParseFrame(frame sse.Event) []types.StreamEvent {
	if frame.Data == "" {
		return nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(frame.Data), &data); err != nil {
		return nil
	}

	eventType := frame.Type
	if eventType == "" {
		eventType, _ = data["type"].(string)
	}

	switch eventType {
	case "content_block_start":
		block, _ := data["content_block"].(map[string]any)
		if blockType, _ := block["type"].(string); blockType == "tool_use" {
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			return []types.StreamEvent{types.ToolCallStartEvent(id, name)}
		}

	case "content_block_delta":
		delta, _ := data["delta"].(map[string]any)
		switch deltaType, _ := delta["type"].(string); deltaType {
		case "text_delta":
			if text, ok := delta["text"].(string); ok {
				return []types.StreamEvent{types.ChunkEvent(text)}
			}
		case "thinking_delta":
			if thinking, ok := delta["thinking"].(string); ok {
				return []types.StreamEvent{types.ReasoningEvent(thinking)}
			}
		case "input_json_delta":
			if partial, ok := delta["partial_json"].(string); ok {
				return []types.StreamEvent{types.ToolCallDeltaEvent("", partial)}
			}
		}

	case "message_delta":
		if delta, ok := data["delta"].(map[string]any); ok {
			if stopReason, ok := delta["stop_reason"].(string); ok {
				return []types.StreamEvent{types.DoneEvent(mapStopReason(stopReason))}
			}
		}
	}

	// message_start, content_block_stop, message_stop, ping and anything
	// unrecognized carry nothing the canonical model needs.
	return nil
}

func mapStopReason(raw string) types.StopReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return types.StopReason{Reason: types.StopEndTurn, Raw: raw}
	case "tool_use":
		return types.StopReason{Reason: types.StopToolUse, Raw: raw}
	case "max_tokens":
		return types.StopReason{Reason: types.StopMaxTokens, Raw: raw}
	default:
		return types.StopReason{Reason: types.StopOther, Raw: raw}
	}
}

// ---------------------------------------------------------------------------
// Title generation
// ---------------------------------------------------------------------------

// BuildTitleRequest builds a reduced non-streaming request for a short
// summarization call. Thinking is never enabled for titles.
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
		return nil, fmt.Errorf("marshaling anthropic title request: %w", err)
	}

	return &types.WireRequest{
		Method:  "POST",
		URL:     strings.TrimRight(req.BaseURL, "/") + "/v1/messages",
		Headers: headers(req.APIKey),
		Body:    payload,
	}, nil
}

// ParseTitleResponse extracts the title from a Messages API response. When
// no text block is present it falls back to the first line of a thinking
// block, and returns "" when neither exists.
func (a *Adapter) ParseTitleResponse(body []byte) string {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return ""
	}

	content, _ := data["content"].([]any)
	var thinking string
	for _, block := range content {
		blockMap, ok := block.(map[string]any)
		if !ok {
			continue
		}
		switch blockType, _ := blockMap["type"].(string); blockType {
		case "text":
			if text, ok := blockMap["text"].(string); ok && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
		case "thinking":
			if thinking == "" {
				thinking, _ = blockMap["thinking"].(string)
			}
		}
	}

	return firstLine(thinking)
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
