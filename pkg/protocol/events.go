// Package protocol defines the JSON frames exchanged with the agent backend
// over /ws/chat.
//
// Inbound frames are tagged by their "type" field. Decode turns a frame into
// exactly one of the concrete Event types below; frames with an unknown tag
// yield ErrUnknownEventType so callers can skip them without tearing down the
// connection.
package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type EventType string

const (
	EventTypeStatus     EventType = "status"
	EventTypeToolCall   EventType = "tool_call"
	EventTypeToolOutput EventType = "tool_output"
	EventTypeMessage    EventType = "message"
	EventTypeError      EventType = "error"
	EventTypeDone       EventType = "done"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMalformedFrame   = errors.New("malformed frame")
)

type Event interface {
	Type() EventType
}

type StatusEvent struct {
	Content string
}

type ToolCallEvent struct {
	Name      string
	Arguments string
}

type ToolOutputEvent struct {
	Name   string
	Output string
}

type MessageEvent struct {
	Content string
}

type ErrorEvent struct {
	Content string
}

type DoneEvent struct{}

func (StatusEvent) Type() EventType     { return EventTypeStatus }
func (ToolCallEvent) Type() EventType   { return EventTypeToolCall }
func (ToolOutputEvent) Type() EventType { return EventTypeToolOutput }
func (MessageEvent) Type() EventType    { return EventTypeMessage }
func (ErrorEvent) Type() EventType      { return EventTypeError }
func (DoneEvent) Type() EventType       { return EventTypeDone }

// frame is the union of every field any event type carries on the wire.
type frame struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content,omitempty"`
	Name      string    `json:"name,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	Output    string    `json:"output,omitempty"`
}

// Decode parses one inbound frame.
func Decode(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	switch f.Type {
	case EventTypeStatus:
		return StatusEvent{Content: f.Content}, nil
	case EventTypeToolCall:
		return ToolCallEvent{Name: f.Name, Arguments: f.Arguments}, nil
	case EventTypeToolOutput:
		return ToolOutputEvent{Name: f.Name, Output: f.Output}, nil
	case EventTypeMessage:
		return MessageEvent{Content: f.Content}, nil
	case EventTypeError:
		return ErrorEvent{Content: f.Content}, nil
	case EventTypeDone:
		return DoneEvent{}, nil
	case "":
		return nil, errors.Wrap(ErrMalformedFrame, "missing type")
	default:
		return nil, errors.Wrapf(ErrUnknownEventType, "%q", f.Type)
	}
}

// Encode is the inverse of Decode. The client never sends these frames; they
// are used by the event mirror and by test servers.
func Encode(ev Event) ([]byte, error) {
	f := frame{Type: ev.Type()}
	switch e := ev.(type) {
	case StatusEvent:
		f.Content = e.Content
	case ToolCallEvent:
		f.Name, f.Arguments = e.Name, e.Arguments
	case ToolOutputEvent:
		f.Name, f.Output = e.Name, e.Output
	case MessageEvent:
		f.Content = e.Content
	case ErrorEvent:
		f.Content = e.Content
	case DoneEvent:
	default:
		return nil, errors.Wrapf(ErrUnknownEventType, "%T", ev)
	}
	return json.Marshal(f)
}

// Terminal reports whether ev ends an exchange.
func Terminal(ev Event) bool {
	switch ev.(type) {
	case DoneEvent, ErrorEvent:
		return true
	default:
		return false
	}
}

// Outbound is the single frame shape the client sends.
type Outbound struct {
	Message string `json:"message"`
}

func EncodeOutbound(text string) ([]byte, error) {
	b, err := json.Marshal(Outbound{Message: text})
	if err != nil {
		return nil, errors.Wrap(err, "encode outbound frame")
	}
	return b, nil
}
