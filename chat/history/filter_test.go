package history

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parley-chat/parley/llm/types"
)

func msg(id string, role types.Role, content string) Message {
	return Message{ID: id, Role: role, Content: content}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestFilterDropsEmptyAssistantMessages(t *testing.T) {
	messages := []Message{
		msg("1", types.RoleUser, "hi"),
		msg("2", types.RoleAssistant, ""),
		msg("3", types.RoleAssistant, "hello"),
	}

	got := Filter(messages, nil, InfiniteRounds)
	assert.Equal(t, []string{"1", "3"}, ids(got))
}

func TestFilterKeepsEmptyUserMessages(t *testing.T) {
	messages := []Message{
		msg("1", types.RoleUser, ""),
		msg("2", types.RoleAssistant, "hello"),
	}

	got := Filter(messages, nil, InfiniteRounds)
	assert.Equal(t, []string{"1", "2"}, ids(got))
}

func TestFilterCutsAtLastDivider(t *testing.T) {
	messages := []Message{
		msg("1", types.RoleUser, "old"),
		msg("2", types.RoleAssistant, "old reply"),
		msg("3", types.RoleUser, "new"),
		msg("4", types.RoleAssistant, "new reply"),
	}

	got := Filter(messages, []string{"2"}, InfiniteRounds)
	assert.Equal(t, []string{"3", "4"}, ids(got))
}

func TestFilterLastDividerInListOrderWins(t *testing.T) {
	messages := []Message{
		msg("1", types.RoleUser, "a"),
		msg("2", types.RoleUser, "b"),
		msg("3", types.RoleUser, "c"),
	}

	// The later entry in the divider list decides the cut even though it
	// appears earlier in the conversation.
	got := Filter(messages, []string{"2", "1"}, InfiniteRounds)
	assert.Equal(t, []string{"2", "3"}, ids(got))
}

func TestFilterUnknownDividerHasNoEffect(t *testing.T) {
	messages := []Message{
		msg("1", types.RoleUser, "a"),
		msg("2", types.RoleAssistant, "b"),
	}

	got := Filter(messages, []string{"nope"}, InfiniteRounds)
	assert.Equal(t, []string{"1", "2"}, ids(got))
}

func TestFilterDividerOnDroppedMessageHasNoEffect(t *testing.T) {
	messages := []Message{
		msg("1", types.RoleUser, "a"),
		msg("2", types.RoleAssistant, ""), // dropped in step 1
		msg("3", types.RoleUser, "b"),
	}

	got := Filter(messages, []string{"2"}, InfiniteRounds)
	assert.Equal(t, []string{"1", "3"}, ids(got))
}

func TestFilterRoundWindow(t *testing.T) {
	messages := []Message{
		msg("1", types.RoleUser, "q1"),
		msg("2", types.RoleAssistant, "a1"),
		msg("3", types.RoleUser, "q2"),
		msg("4", types.RoleAssistant, "a2"),
		msg("5", types.RoleUser, "q3"),
		msg("6", types.RoleAssistant, "a3"),
	}

	assert.Equal(t, []string{"5", "6"}, ids(Filter(messages, nil, 1)))
	assert.Equal(t, []string{"3", "4", "5", "6"}, ids(Filter(messages, nil, 2)))
	// More rounds than exist returns everything.
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, ids(Filter(messages, nil, 10)))
}

func TestFilterZeroRoundsYieldsEmpty(t *testing.T) {
	messages := []Message{
		msg("1", types.RoleUser, "q1"),
		msg("2", types.RoleAssistant, "a1"),
	}

	got := Filter(messages, nil, 0)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestFilterDividerThenRoundWindow(t *testing.T) {
	messages := []Message{
		msg("1", types.RoleUser, "q1"),
		msg("2", types.RoleUser, "q2"),
		msg("3", types.RoleUser, "q3"),
		msg("4", types.RoleUser, "q4"),
	}

	// Divider first cuts to q3,q4; the window then keeps the last round.
	got := Filter(messages, []string{"2"}, 1)
	assert.Equal(t, []string{"4"}, ids(got))
}

func TestFilterEmptyInput(t *testing.T) {
	assert.Empty(t, Filter(nil, nil, InfiniteRounds))
	assert.Empty(t, Filter(nil, []string{"x"}, 3))
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	messages := []Message{
		msg("1", types.RoleUser, "q1"),
		msg("2", types.RoleAssistant, ""),
		msg("3", types.RoleUser, "q2"),
	}

	Filter(messages, []string{"1"}, 1)
	assert.Equal(t, []string{"1", "2", "3"}, ids(messages))
}
