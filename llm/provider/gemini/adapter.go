// Package gemini implements the provider adapter for the Google Gemini
// generateContent API. It handles:
//   - assistant/model role mapping (Gemini has no "assistant" role)
//   - System text as the systemInstruction parameter
//   - Authentication via the key query parameter, streaming via ?alt=sse
//   - Synthetic tool-call ids (Gemini does not assign call ids) and tool
//     results keyed by function name instead of call id
//   - Reasoning parts discriminated by the boolean "thought" flag
package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/llm/sse"
	"github.com/parley-chat/parley/llm/types"
)

const (
	providerName = "gemini"

	defaultMaxTokens = 4096

	// maxOutputTokens must stay above the thinking budget when thoughts are
	// requested.
	thinkingBudget    = 8192
	thinkingMaxTokens = 16384

	titleMaxTokens = 64
)

// Adapter implements the provider contract for the Gemini API.
type Adapter struct{}

// New creates a Gemini adapter.
func New() *Adapter { return &Adapter{} }

// Name returns the canonical provider tag.
func (a *Adapter) Name() string { return providerName }

// ---------------------------------------------------------------------------
// Request building
// ---------------------------------------------------------------------------

// BuildStreamRequest translates a canonical request into a streaming
// generateContent request.
func (a *Adapter) BuildStreamRequest(req types.ChatRequest) (*types.WireRequest, error) {
	body := map[string]any{
		"contents": a.buildContents(req),
	}

	if req.SystemText != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemText}},
		}
	}

	genConfig := map[string]any{
		"maxOutputTokens": defaultMaxTokens,
	}
	if req.Thinking {
		genConfig["maxOutputTokens"] = thinkingMaxTokens
		genConfig["thinkingConfig"] = map[string]any{
			"thinkingBudget":  thinkingBudget,
			"includeThoughts": true,
		}
	}
	body["generationConfig"] = genConfig

	if len(req.Tools) > 0 {
		body["tools"] = []map[string]any{
			{"functionDeclarations": buildDeclarations(req.Tools)},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		strings.TrimRight(req.BaseURL, "/"), req.Model, url.QueryEscape(req.APIKey))

	return &types.WireRequest{
		Method:  "POST",
		URL:     endpoint,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, nil
}

// buildContents assembles history, the current user turn, and continuation
// turns in Gemini's contents format.
func (a *Adapter) buildContents(req types.ChatRequest) []map[string]any {
	var contents []map[string]any

	for _, m := range req.History {
		switch m.Role {
		case types.RoleUser:
			if c := userContent(m.Content, m.Attachments, req.Images); c != nil {
				contents = append(contents, c)
			}
		case types.RoleAssistant:
			if m.Content != "" {
				contents = append(contents, map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": m.Content}},
				})
			}
		}
	}

	if c := userContent(req.UserText, req.Attachments, req.Images); c != nil {
		contents = append(contents, c)
	}

	// Gemini keys tool results by function name, not call id; remember the
	// mapping from the assistant turns that issued the calls.
	callNames := make(map[string]string)

	for _, cm := range req.Continuation {
		switch cm.Role {
		case types.RoleAssistant:
			var parts []map[string]any
			if cm.Content != "" {
				parts = append(parts, map[string]any{"text": cm.Content})
			}
			for _, tc := range cm.ToolCalls {
				callNames[tc.ID] = tc.Name
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{"name": tc.Name, "args": args},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, map[string]any{"role": "model", "parts": parts})
			}

		case types.RoleTool:
			var parts []map[string]any
			for _, r := range cm.Results {
				response := map[string]any{"output": r.Content}
				if r.IsError {
					response = map[string]any{"error": r.Content}
				}
				parts = append(parts, map[string]any{
					"functionResponse": map[string]any{
						"name":     callNames[r.ToolCallID],
						"response": response,
					},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, map[string]any{"role": "user", "parts": parts})
			}
		}
	}

	return contents
}

// userContent builds a user content entry, inlining image attachments as
// inlineData parts. Read failures degrade to text only.
func userContent(text string, attachments []types.Attachment, reader types.AttachmentReader) map[string]any {
	var parts []map[string]any

	for _, img := range readImages(attachments, reader) {
		parts = append(parts, map[string]any{
			"inlineData": map[string]any{
				"mimeType": img.MediaType,
				"data":     base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	if text != "" {
		parts = append(parts, map[string]any{"text": text})
	}
	if len(parts) == 0 {
		return nil
	}
	return map[string]any{"role": "user", "parts": parts}
}

func buildDeclarations(defs []types.ToolDefinition) []map[string]any {
	decls := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		d := map[string]any{
			"name":        def.Name,
			"description": def.Description,
		}
		if def.Parameters != nil {
			d["parameters"] = def.Parameters
		}
		decls = append(decls, d)
	}
	return decls
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

// ---------------------------------------------------------------------------
// Frame parsing
// ---------------------------------------------------------------------------

// ParseFrame translates one streamGenerateContent SSE frame into canonical
// events. Each frame carries a candidate with content parts; reasoning parts
// are discriminated by the boolean "thought" flag. Function calls arrive
// complete in a single part, so the adapter emits a start event with a
// synthetic id followed by one argument delta holding the full payload.
func (a *Adapter) ParseFrame(frame sse.Event) []types.StreamEvent {
	if frame.Data == "" {
		return nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(frame.Data), &data); err != nil {
		return nil
	}

	candidates, _ := data["candidates"].([]any)
	if len(candidates) == 0 {
		return nil
	}
	candidate, ok := candidates[0].(map[string]any)
	if !ok {
		return nil
	}

	var events []types.StreamEvent
	sawFunctionCall := false

	if content, ok := candidate["content"].(map[string]any); ok {
		parts, _ := content["parts"].([]any)
		for _, part := range parts {
			partMap, ok := part.(map[string]any)
			if !ok {
				continue
			}

			if text, ok := partMap["text"].(string); ok {
				if thought, _ := partMap["thought"].(bool); thought {
					events = append(events, types.ReasoningEvent(text))
				} else {
					events = append(events, types.ChunkEvent(text))
				}
			}

			if fc, ok := partMap["functionCall"].(map[string]any); ok {
				sawFunctionCall = true
				name, _ := fc["name"].(string)
				id := syntheticCallID()
				events = append(events, types.ToolCallStartEvent(id, name))
				if args, ok := fc["args"].(map[string]any); ok {
					raw, err := json.Marshal(args)
					if err == nil {
						events = append(events, types.ToolCallDeltaEvent(id, string(raw)))
					}
				}
			}
		}
	}

	if raw, ok := candidate["finishReason"].(string); ok {
		reason := mapStopReason(raw)
		// Gemini reports STOP even when the turn requested function calls.
		if sawFunctionCall && reason.Reason == types.StopEndTurn {
			reason = types.StopReason{Reason: types.StopToolUse, Raw: raw}
		}
		events = append(events, types.DoneEvent(reason))
	}

	return events
}

func mapStopReason(raw string) types.StopReason {
	switch raw {
	case "STOP":
		return types.StopReason{Reason: types.StopEndTurn, Raw: raw}
	case "MAX_TOKENS":
		return types.StopReason{Reason: types.StopMaxTokens, Raw: raw}
	default:
		return types.StopReason{Reason: types.StopOther, Raw: raw}
	}
}

// syntheticCallID fabricates a call id; Gemini does not assign them, but the
// continuation protocol and tool dispatch require stable ids.
func syntheticCallID() string {
	return "call_" + uuid.NewString()
}

// ---------------------------------------------------------------------------
// Title generation
// ---------------------------------------------------------------------------

// BuildTitleRequest builds a reduced non-streaming generateContent request.
// The thinking budget is pinned to zero so reasoning stays off for titles
// even on models that think by default.
func (a *Adapter) BuildTitleRequest(req types.TitleRequest) (*types.WireRequest, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": titlePrompt(req.UserText, req.AssistantText)}},
			},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": titleMaxTokens,
			"thinkingConfig":  map[string]any{"thinkingBudget": 0},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling gemini title request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(req.BaseURL, "/"), req.Model, url.QueryEscape(req.APIKey))

	return &types.WireRequest{
		Method:  "POST",
		URL:     endpoint,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, nil
}

// ParseTitleResponse extracts the title from a generateContent response,
// preferring plain text parts and falling back to the first line of a
// thought part.
func (a *Adapter) ParseTitleResponse(body []byte) string {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return ""
	}

	candidates, _ := data["candidates"].([]any)
	if len(candidates) == 0 {
		return ""
	}
	candidate, ok := candidates[0].(map[string]any)
	if !ok {
		return ""
	}
	content, _ := candidate["content"].(map[string]any)
	parts, _ := content["parts"].([]any)

	var thinking string
	for _, part := range parts {
		partMap, ok := part.(map[string]any)
		if !ok {
			continue
		}
		text, ok := partMap["text"].(string)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		if thought, _ := partMap["thought"].(bool); thought {
			if thinking == "" {
				thinking = text
			}
			continue
		}
		return strings.TrimSpace(text)
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
