// Package history defines the stored-message model and the pure filter that
// trims conversation history before it is handed to a provider adapter.
package history

import (
	"time"

	"github.com/parley-chat/parley/llm/types"
)

// Message is one persisted conversation turn. Messages are immutable once
// appended; the store owns them.
type Message struct {
	ID          string             `json:"id"`
	Role        types.Role         `json:"role"`
	Content     string             `json:"content"`
	Attachments []types.Attachment `json:"attachments,omitempty"`

	// Interrupted marks an assistant turn persisted after a mid-stream stop;
	// the content is the partial output accumulated before cancellation.
	Interrupted bool `json:"interrupted,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// InfiniteRounds disables the round-count window.
const InfiniteRounds = -1

// Filter trims history for the model context. It has no side effects.
//
// Step 1 drops assistant messages with empty text; they carry no information
// and pollute provider history. Step 2 cuts everything at or before the last
// divider id found in the filtered sequence; unknown divider ids have no
// effect. Step 3 applies the round window: walking backward from the most
// recent message, one round is counted per user message encountered, and
// collection stops once rounds have been gathered. rounds == 0 yields an
// empty result; a negative value (InfiniteRounds) skips step 3 entirely.
func Filter(messages []Message, dividerIDs []string, rounds int) []Message {
	trimmed := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleAssistant && m.Content == "" {
			continue
		}
		trimmed = append(trimmed, m)
	}

	if cut := lastDividerIndex(trimmed, dividerIDs); cut >= 0 {
		trimmed = trimmed[cut+1:]
	}

	if rounds < 0 {
		return trimmed
	}
	if rounds == 0 {
		return []Message{}
	}

	counted := 0
	start := 0
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i].Role == types.RoleUser {
			counted++
			if counted == rounds {
				start = i
				break
			}
		}
	}
	if counted < rounds {
		return trimmed
	}
	return trimmed[start:]
}

// lastDividerIndex returns the position of the last divider id (in divider
// order) present in msgs, or -1 when none is found.
func lastDividerIndex(msgs []Message, dividerIDs []string) int {
	cut := -1
	for _, id := range dividerIDs {
		for i, m := range msgs {
			if m.ID == id {
				cut = i
				break
			}
		}
	}
	return cut
}
