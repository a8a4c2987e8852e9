package chat

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleError     Role = "error"
	// RoleStatus is part of the protocol vocabulary but never stored in the log.
	RoleStatus Role = "status"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleError, RoleStatus:
		return true
	default:
		return false
	}
}

// Message is a single entry of the conversation log. Messages are never
// modified after creation.
type Message struct {
	ID            string    `json:"id" yaml:"id"`
	Role          Role      `json:"role" yaml:"role"`
	Content       string    `json:"content" yaml:"content"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	ToolName      *string   `json:"toolName,omitempty" yaml:"tool_name,omitempty"`
	ToolArguments *string   `json:"toolArguments,omitempty" yaml:"tool_arguments,omitempty"`
}

// IsToolCall reports whether m is the "call" half of a tool exchange.
// Tool outputs share RoleTool but carry no arguments.
func (m Message) IsToolCall() bool {
	return m.Role == RoleTool && m.ToolArguments != nil
}

func (m Message) IsToolOutput() bool {
	return m.Role == RoleTool && m.ToolArguments == nil
}

type messageJSON struct {
	ID            string  `json:"id"`
	Role          Role    `json:"role"`
	Content       string  `json:"content"`
	Timestamp     string  `json:"timestamp"`
	ToolName      *string `json:"toolName,omitempty"`
	ToolArguments *string `json:"toolArguments,omitempty"`
}

// MarshalJSON writes the timestamp as RFC3339 with nanoseconds so it parses
// back to the same instant.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		ID:            m.ID,
		Role:          m.Role,
		Content:       m.Content,
		Timestamp:     m.Timestamp.Format(time.RFC3339Nano),
		ToolName:      m.ToolName,
		ToolArguments: m.ToolArguments,
	})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return errors.New("message: missing id")
	}
	if !raw.Role.Valid() {
		return errors.Errorf("message %s: invalid role %q", raw.ID, raw.Role)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return errors.Wrapf(err, "message %s: parse timestamp", raw.ID)
	}
	*m = Message{
		ID:            raw.ID,
		Role:          raw.Role,
		Content:       raw.Content,
		Timestamp:     ts,
		ToolName:      raw.ToolName,
		ToolArguments: raw.ToolArguments,
	}
	return nil
}

// EncodeLog serializes an ordered log as a JSON array.
func EncodeLog(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return nil, errors.Wrap(err, "encode message log")
	}
	return b, nil
}

// DecodeLog parses data written by EncodeLog. Callers that must never fail
// (store loads) treat any error as an empty log.
func DecodeLog(data []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, errors.Wrap(err, "decode message log")
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func strPtr(s string) *string { return &s }
