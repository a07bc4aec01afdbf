// ABOUTME: Tests for history trimming, projection derivation, and state finalize-once
// ABOUTME: Covers the record/projection round-trip and unauthenticated no-op persistence

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibyl-sh/sibyl/internal/stream"
)

func msg(role Role, content string) Message {
	return Message{ID: content, Role: role, Content: content}
}

func TestTrim_KeepsNewestMessagesInOrder(t *testing.T) {
	msgs := []Message{
		msg(RoleUser, "1"), msg(RoleAssistant, "2"), msg(RoleUser, "3"),
		msg(RoleAssistant, "4"), msg(RoleUser, "5"),
	}

	trimmed := Trim(msgs, 3)

	require.Len(t, trimmed, 3)
	assert.Equal(t, "3", trimmed[0].Content)
	assert.Equal(t, "4", trimmed[1].Content)
	assert.Equal(t, "5", trimmed[2].Content)
}

func TestTrim_ShortHistoryIsUntouched(t *testing.T) {
	msgs := []Message{msg(RoleUser, "only")}

	trimmed := Trim(msgs, 10)

	require.Len(t, trimmed, 1)
	assert.Equal(t, "only", trimmed[0].Content)
}

func TestTrim_DoesNotMutateInput(t *testing.T) {
	msgs := []Message{msg(RoleUser, "a"), msg(RoleUser, "b")}

	trimmed := Trim(msgs, 1)
	trimmed[0].Content = "changed"

	assert.Equal(t, "b", msgs[1].Content)
}

func TestProjectionFromRecord_FiltersSystemAndKeysDeterministically(t *testing.T) {
	rec := Record{
		ID: "chat-1",
		Messages: []Message{
			msg(RoleSystem, "system prompt"),
			msg(RoleUser, "question"),
			msg(RoleAssistant, "answer"),
			msg(RoleSystem, "another system"),
			msg(RoleUser, "followup"),
		},
	}

	nodes := ProjectionFromRecord(rec)

	require.Len(t, nodes, 3, "system messages must be filtered")
	assert.Equal(t, "chat-1-0", nodes[0].ID)
	assert.Equal(t, "chat-1-1", nodes[1].ID)
	assert.Equal(t, "chat-1-2", nodes[2].ID)
	assert.Equal(t, NodeUser, nodes[0].Kind)
	assert.Equal(t, NodeAnswer, nodes[1].Kind)
	assert.Equal(t, NodeUser, nodes[2].Kind)

	// Deterministic: a second derivation yields identical keys.
	again := ProjectionFromRecord(rec)
	for i := range nodes {
		assert.Equal(t, nodes[i].ID, again[i].ID)
	}
}

func TestProjectionFromRecord_NodeCountMatchesNonSystemMessages(t *testing.T) {
	rec := Record{ID: "c"}
	systemCount := 0
	for i := range 20 {
		role := RoleUser
		if i%3 == 0 {
			role = RoleSystem
			systemCount++
		}
		rec.Messages = append(rec.Messages, msg(role, fmt.Sprintf("m%d", i)))
	}

	nodes := ProjectionFromRecord(rec)
	assert.Len(t, nodes, len(rec.Messages)-systemCount)
}

func TestRenderHTML_ConvertsMarkdown(t *testing.T) {
	out := RenderHTML("**bold**")
	assert.Contains(t, out, "<strong>bold</strong>")
}

func TestProjection_AppendAndReplace(t *testing.T) {
	p := NewProjection()

	require.NoError(t, p.Append(NewNode("n1", NodeUser, "hi")))
	require.NoError(t, p.Append(NewNode("n2", NodeAnswer, "partial")))
	require.NoError(t, p.Replace(NewNode("n2", NodeAnswer, "partial plus more")))

	nodes, state := p.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "partial plus more", nodes[1].Markdown)
	assert.Equal(t, stream.StatePending, state)
}

func TestProjection_ReplaceOnEmptyAppends(t *testing.T) {
	p := NewProjection()

	require.NoError(t, p.Replace(NewNode("n1", NodeSpinner, "")))

	nodes, _ := p.Nodes()
	require.Len(t, nodes, 1)
}

func TestState_DoneInvokesHookOnceWithCompletedRecord(t *testing.T) {
	var saved []Record
	hook := func(_ context.Context, rec Record) error {
		saved = append(saved, rec)
		return nil
	}

	rec := Record{ID: "chat-1", Messages: []Message{msg(RoleUser, strings.Repeat("x", 150))}}
	st := NewState(rec, "user-1", hook, nil)

	require.NoError(t, st.Done(t.Context(), st.Get()))
	assert.ErrorIs(t, st.Done(t.Context(), st.Get()), ErrFinalized)

	require.Len(t, saved, 1)
	assert.Equal(t, "user-1", saved[0].UserID)
	assert.Equal(t, "/chat/chat-1", saved[0].Path)
	assert.Len(t, saved[0].Title, 100, "title is the first 100 characters of the first message")
	assert.False(t, saved[0].CreatedAt.IsZero())
}

func TestState_UnauthenticatedDoneIsNoOp(t *testing.T) {
	hookCalled := false
	hook := func(context.Context, Record) error {
		hookCalled = true
		return nil
	}

	st := NewState(Record{ID: "chat-1"}, "", hook, nil)

	require.NoError(t, st.Done(t.Context(), st.Get()))
	assert.False(t, hookCalled, "no session means no persistence")
}

func TestState_HookErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	hook := func(context.Context, Record) error { return boom }

	st := NewState(Record{ID: "chat-1", Messages: []Message{msg(RoleUser, "q")}}, "user-1", hook, nil)

	err := st.Done(t.Context(), st.Get())
	assert.ErrorIs(t, err, boom)
}

func TestState_UpdateFullyReplaces(t *testing.T) {
	st := NewState(Record{ID: "chat-1", Messages: []Message{msg(RoleUser, "old")}}, "u", nil, nil)

	st.Update(Record{ID: "chat-1", Messages: []Message{msg(RoleUser, "new"), msg(RoleAssistant, "a")}})

	got := st.Get()
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "new", got.Messages[0].Content)
}

func TestState_GetReturnsCopy(t *testing.T) {
	st := NewState(Record{ID: "chat-1", Messages: []Message{msg(RoleUser, "orig")}}, "u", nil, nil)

	got := st.Get()
	got.Messages[0].Content = "mutated"

	assert.Equal(t, "orig", st.Get().Messages[0].Content)
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := Record{ID: "c", CreatedAt: time.Now(), Messages: []Message{msg(RoleUser, "a")}}

	clone := rec.Clone()
	clone.Messages[0].Content = "b"

	assert.Equal(t, "a", rec.Messages[0].Content)
}
