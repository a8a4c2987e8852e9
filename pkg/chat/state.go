package chat

// State is what the presentation layer renders. Connected and Thinking are
// independent: a connection can drop while Thinking is still set.
type State struct {
	Messages  []Message
	Connected bool
	Thinking  bool
}

// Clone returns a copy whose message slice does not alias s.
func (s State) Clone() State {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return out
}

// LastAssistant returns the most recent assistant reply, if any.
func (s State) LastAssistant() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}
