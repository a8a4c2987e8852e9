package chat

import (
	"testing"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func fixedClock() Clock {
	ts := time.Date(2025, 3, 4, 10, 11, 12, 123456789, time.UTC)
	return func() time.Time { return ts }
}

func TestReduce_ToolCallAppendsCallEntry(t *testing.T) {
	ev, err := protocol.Decode([]byte(`{"type":"tool_call","name":"get_balance","arguments":"{}"}`))
	require.NoError(t, err)

	next, changed := Reduce(State{Thinking: true}, ev, NewIDSequence(100), fixedClock())
	require.True(t, changed)
	require.True(t, next.Thinking)
	require.Len(t, next.Messages, 1)

	m := next.Messages[0]
	require.Equal(t, "101", m.ID)
	require.Equal(t, RoleTool, m.Role)
	require.Equal(t, "Calling **get_balance**", m.Content)
	require.NotNil(t, m.ToolName)
	require.Equal(t, "get_balance", *m.ToolName)
	require.NotNil(t, m.ToolArguments)
	require.Equal(t, "{}", *m.ToolArguments)
	require.True(t, m.IsToolCall())
}

func TestReduce_ToolOutputHasNoArguments(t *testing.T) {
	next, changed := Reduce(State{}, protocol.ToolOutputEvent{Name: "get_balance", Output: "1.2 ETH"}, NewIDSequence(0), fixedClock())
	require.True(t, changed)
	require.Len(t, next.Messages, 1)
	m := next.Messages[0]
	require.Equal(t, RoleTool, m.Role)
	require.Equal(t, "1.2 ETH", m.Content)
	require.Equal(t, "get_balance", *m.ToolName)
	require.Nil(t, m.ToolArguments)
	require.True(t, m.IsToolOutput())
}

func TestReduce_MessageClearsThinking(t *testing.T) {
	ev, err := protocol.Decode([]byte(`{"type":"message","content":"Your balance is 1.2 ETH"}`))
	require.NoError(t, err)

	next, changed := Reduce(State{Thinking: true, Connected: true}, ev, NewIDSequence(0), fixedClock())
	require.True(t, changed)
	require.False(t, next.Thinking)
	require.True(t, next.Connected)
	require.Len(t, next.Messages, 1)
	require.Equal(t, RoleAssistant, next.Messages[0].Role)
	require.Equal(t, "Your balance is 1.2 ETH", next.Messages[0].Content)
}

func TestReduce_ThinkingTransitions(t *testing.T) {
	ids := NewIDSequence(0)
	clock := fixedClock()
	for _, prior := range []bool{true, false} {
		next, _ := Reduce(State{Thinking: prior}, protocol.DoneEvent{}, ids, clock)
		require.False(t, next.Thinking, "done from thinking=%v", prior)

		next, _ = Reduce(State{Thinking: prior}, protocol.ErrorEvent{Content: "boom"}, ids, clock)
		require.False(t, next.Thinking, "error from thinking=%v", prior)
		require.Equal(t, RoleError, next.Messages[0].Role)

		next, _ = Reduce(State{Thinking: prior}, protocol.StatusEvent{Content: "thinking"}, ids, clock)
		require.True(t, next.Thinking, "status from thinking=%v", prior)
		require.Empty(t, next.Messages)
	}

	next, _ := Reduce(State{Thinking: true}, protocol.ToolCallEvent{Name: "x"}, ids, clock)
	require.True(t, next.Thinking)
}

func TestReduce_DoesNotMutatePrior(t *testing.T) {
	ids := NewIDSequence(0)
	prior := State{Messages: []Message{NewUserMessage("hi", ids, fixedClock())}}
	next, _ := Reduce(prior, protocol.MessageEvent{Content: "hello"}, ids, fixedClock())
	require.Len(t, prior.Messages, 1)
	require.Len(t, next.Messages, 2)
	require.Equal(t, "hi", next.Messages[0].Content)
}

type unknownEvent struct{}

func (unknownEvent) Type() protocol.EventType { return "future" }

func TestReduce_UnknownEventIsIgnored(t *testing.T) {
	prior := State{Thinking: true, Connected: true}
	next, changed := Reduce(prior, unknownEvent{}, NewIDSequence(0), fixedClock())
	require.False(t, changed)
	require.Equal(t, prior, next)
}

func TestIDSequence_UniqueUnderBurst(t *testing.T) {
	ids := NewIDSequence(time.Now().UnixMilli())
	seen := map[string]struct{}{}
	for i := 0; i < 1000; i++ {
		id := ids.Next()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestIDSequence_ObserveSkipsPastLoadedIDs(t *testing.T) {
	ids := NewIDSequence(10)
	ids.Observe("50")
	ids.Observe("20")
	ids.Observe("not-a-number")
	require.Equal(t, "51", ids.Next())
}
