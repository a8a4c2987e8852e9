package chat

import (
	"fmt"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/protocol"
)

// Clock returns the creation instant for new messages.
type Clock func() time.Time

// WallClock strips the monotonic reading so timestamps compare equal after a
// persistence round-trip.
func WallClock() time.Time {
	return time.Now().Round(0)
}

// Reduce applies one inbound event to prior and returns the next state.
// prior is never modified. The bool result reports whether the log changed,
// which tells callers whether a save is needed.
func Reduce(prior State, ev protocol.Event, ids *IDSequence, now Clock) (State, bool) {
	next := prior
	appendMsg := func(m Message) {
		m.ID = ids.Next()
		m.Timestamp = now()
		msgs := make([]Message, len(prior.Messages), len(prior.Messages)+1)
		copy(msgs, prior.Messages)
		next.Messages = append(msgs, m)
	}

	switch e := ev.(type) {
	case protocol.StatusEvent:
		next.Thinking = true
		return next, false
	case protocol.ToolCallEvent:
		appendMsg(Message{
			Role:          RoleTool,
			Content:       ToolCallLabel(e.Name),
			ToolName:      strPtr(e.Name),
			ToolArguments: strPtr(e.Arguments),
		})
		return next, true
	case protocol.ToolOutputEvent:
		appendMsg(Message{
			Role:     RoleTool,
			Content:  e.Output,
			ToolName: strPtr(e.Name),
		})
		return next, true
	case protocol.MessageEvent:
		next.Thinking = false
		appendMsg(Message{Role: RoleAssistant, Content: e.Content})
		return next, true
	case protocol.ErrorEvent:
		next.Thinking = false
		appendMsg(Message{Role: RoleError, Content: e.Content})
		return next, true
	case protocol.DoneEvent:
		next.Thinking = false
		return next, false
	default:
		return prior, false
	}
}

// ToolCallLabel is the markdown content shown for a tool invocation.
func ToolCallLabel(name string) string {
	return fmt.Sprintf("Calling **%s**", name)
}

// NewUserMessage builds the local echo of an outgoing message.
func NewUserMessage(text string, ids *IDSequence, now Clock) Message {
	return Message{
		ID:        ids.Next(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: now(),
	}
}
