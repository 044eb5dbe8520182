package llmloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistory_FoldsUserAndDeveloperMessagesInOrder(t *testing.T) {
	h := NewHistory()
	h = h.WithUser("hi")
	h = h.WithDeveloper("tool ran")
	h = h.WithUser("again")

	require.Equal(t, []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleDeveloper, Content: "tool ran"},
		{Role: RoleUser, Content: "again"},
	}, h.Messages())
}

func TestHistory_TextDeltaAccumulatesUntilFinalized(t *testing.T) {
	h := NewHistory()
	h = h.WithTextDelta("req1", "Hel")
	h = h.WithTextDelta("req1", "lo")
	require.Empty(t, h.Messages(), "an in-flight request must not appear in history yet")

	h = h.WithFinalizedRequest("req1")
	require.Equal(t, []Message{{Role: RoleAssistant, Content: "Hello"}}, h.Messages())
}

func TestHistory_DiscardedRequestNeverAppearsInHistory(t *testing.T) {
	h := NewHistory()
	h = h.WithTextDelta("req1", "partial")
	h = h.WithDiscardedRequest("req1")
	h = h.WithFinalizedRequest("req1")
	require.Empty(t, h.Messages())
}

func TestHistory_FinalizingEmptyTextContributesNoMessage(t *testing.T) {
	h := NewHistory()
	h = h.WithFinalizedRequest("never-started")
	require.Empty(t, h.Messages())
}

func TestHistory_BeforeValueIsUnaffectedByLaterMutation(t *testing.T) {
	before := NewHistory().WithUser("first")
	after := before.WithUser("second")

	require.Len(t, before.Messages(), 1, "before must not see mutations made via after")
	require.Len(t, after.Messages(), 2)
}

func TestHistory_SystemPromptEditAppendsWithSeparator(t *testing.T) {
	h := NewHistory()
	h = h.WithSystemPromptEdit("append", "base prompt")
	h = h.WithSystemPromptEdit("append", "tool addendum")
	require.Equal(t, "base prompt\n\ntool addendum", h.SystemPrompt())
}

func TestHistory_SystemPromptEditIgnoresUnknownMode(t *testing.T) {
	h := NewHistory()
	h = h.WithSystemPromptEdit("replace", "should not apply")
	require.Empty(t, h.SystemPrompt())
}

func TestParseTextDelta(t *testing.T) {
	delta, ok := parseTextDelta([]byte(`{"kind":"text-delta","delta":"abc"}`))
	require.True(t, ok)
	require.Equal(t, "abc", delta)

	_, ok = parseTextDelta([]byte(`{"kind":"text-start"}`))
	require.False(t, ok)
}
