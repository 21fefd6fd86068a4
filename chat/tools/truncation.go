package tools

import "fmt"

// DefaultOutputLimit caps the characters of tool output fed back to the
// model per call. Oversized results keep their head and tail; the middle is
// elided, since both the opening of a search result set and its final
// entries tend to matter.
const DefaultOutputLimit = 16000

// TruncateOutput applies character-based truncation to tool output. Output
// within the limit is returned unchanged. A non-positive limit disables
// truncation.
func TruncateOutput(output string, limit int) string {
	if limit <= 0 || len(output) <= limit {
		return output
	}

	removed := len(output) - limit

	headBudget := limit * 6 / 10
	tailBudget := limit - headBudget

	head := output[:headBudget]
	tail := output[len(output)-tailBudget:]

	marker := fmt.Sprintf("\n\n--- truncated %d characters ---\n\n", removed)
	return head + marker + tail
}
