// Package provider defines the adapter contract that every back-end protocol
// family implements, and the closed dispatch that resolves a provider tag to
// its adapter. All protocol asymmetry lives behind this seam: the stream
// reader and the orchestration loop are protocol-agnostic, and a new back-end
// integration touches exactly one new adapter package.
package provider

import (
	"fmt"

	"github.com/parley-chat/parley/llm/provider/anthropic"
	"github.com/parley-chat/parley/llm/provider/gemini"
	"github.com/parley-chat/parley/llm/provider/openai"
	"github.com/parley-chat/parley/llm/sse"
	"github.com/parley-chat/parley/llm/types"
)

// Adapter translates between the canonical request/event model and one
// provider's wire protocol. Adapters are stateless and safe for concurrent
// use; per-frame state (such as the currently open tool call) is owned by
// the stream reader.
type Adapter interface {
	// Name returns the canonical provider tag.
	Name() string

	// BuildStreamRequest translates a canonical request into the provider's
	// streaming wire request.
	BuildStreamRequest(req types.ChatRequest) (*types.WireRequest, error)

	// ParseFrame translates one SSE frame into canonical events. It never
	// fails: a malformed frame yields an empty slice so that one bad frame
	// cannot abort an otherwise healthy stream.
	ParseFrame(frame sse.Event) []types.StreamEvent

	// BuildTitleRequest builds the reduced non-streaming request used for
	// short summarization calls. Extended reasoning is always disabled.
	BuildTitleRequest(req types.TitleRequest) (*types.WireRequest, error)

	// ParseTitleResponse extracts the title text from a non-streaming
	// response body. It returns "" when the expected shape is absent.
	ParseTitleResponse(body []byte) string
}

// Provider tags accepted by Resolve.
const (
	Anthropic = "anthropic"
	Gemini    = "gemini"
	OpenAI    = "openai"
)

// Resolve returns the adapter for a provider tag. Resolution happens once
// per channel lookup, never inside the per-frame loop.
func Resolve(tag string) (Adapter, error) {
	switch tag {
	case Anthropic:
		return anthropic.New(), nil
	case Gemini:
		return gemini.New(), nil
	case OpenAI:
		return openai.New(), nil
	default:
		return nil, types.NewConfigurationError(
			fmt.Sprintf("unknown provider %q; supported providers: anthropic, gemini, openai", tag), nil)
	}
}
