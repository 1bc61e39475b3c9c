// Package models defines session state structures for BotLoom conversations.
package models

import "time"

// PauseReason says why a session is waiting for the next inbound message.
// Exactly one reason is authoritative at a time; PauseNone means the walk
// loop is free to advance.
type PauseReason string

const (
	// PauseNone means the session is not waiting for input.
	PauseNone PauseReason = ""
	// PauseAwaitingInput means a plain input node is waiting for a reply.
	PauseAwaitingInput PauseReason = "awaiting_input"
	// PauseAwaitingMenuChoice means an output_menu node is waiting for an
	// exact option match.
	PauseAwaitingMenuChoice PauseReason = "awaiting_menu_choice"
	// PauseAwaitingWebhookReply means an action_web_service node paused
	// mid-webhook and the next inbound text re-enters it as input.
	PauseAwaitingWebhookReply PauseReason = "awaiting_webhook_reply"
	// PauseAtEntry means the session is parked at the flow's
	// automatic_responses node between turns.
	PauseAtEntry PauseReason = "at_entry"
)

// StackFrame is one sub-flow return address on a session's call stack.
type StackFrame struct {
	CallerNodeID string `json:"caller_node_id"` // the fixed_process node that descended
	ReturnNodeID string `json:"return_node_id"` // where the walk resumes after the sub-flow
}

// HistoryEventKind classifies transcript entries.
type HistoryEventKind string

const (
	HistoryEventUser HistoryEventKind = "user"
	HistoryEventBot  HistoryEventKind = "bot"
)

// HistoryEvent is one append-only transcript entry, tagged with the node that
// produced it.
type HistoryEvent struct {
	ID        string           `json:"id"`
	NodeID    string           `json:"node_id,omitempty"`
	Kind      HistoryEventKind `json:"kind"`
	Text      string           `json:"text"`
	Timestamp time.Time        `json:"timestamp"`
}

// ConversationSession is the single mutable entity owned by the engine. It is
// created on the first inbound message for a contact with no active session,
// mutated once per turn by the walk loop, and never deleted by the engine.
type ConversationSession struct {
	ID            string         `json:"id"`
	FlowID        string         `json:"flow_id"`
	ContactKey    string         `json:"contact_key"` // channel address, e.g. phone number
	CurrentNodeID string         `json:"current_node_id,omitempty"`
	Active        bool           `json:"active"`
	Pause         PauseReason    `json:"pause,omitempty"`
	LastUserInput string         `json:"last_user_input,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	History       []HistoryEvent `json:"history,omitempty"`
	CallStack     []StackFrame   `json:"call_stack,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// SetParameter stores a conversation variable, allocating the map on first use.
func (s *ConversationSession) SetParameter(name string, value any) {
	if s.Parameters == nil {
		s.Parameters = make(map[string]any)
	}
	s.Parameters[name] = value
}

// AppendHistory adds a transcript entry for the given node.
func (s *ConversationSession) AppendHistory(e HistoryEvent) {
	s.History = append(s.History, e)
}

// PushFrame records a sub-flow return address.
func (s *ConversationSession) PushFrame(f StackFrame) {
	s.CallStack = append(s.CallStack, f)
}

// PopFrame removes and returns the most recent return address.
func (s *ConversationSession) PopFrame() (StackFrame, bool) {
	if len(s.CallStack) == 0 {
		return StackFrame{}, false
	}
	f := s.CallStack[len(s.CallStack)-1]
	s.CallStack = s.CallStack[:len(s.CallStack)-1]
	return f, true
}

// Close marks the session finished; closed sessions are never reused for new
// turns, a fresh one is created instead.
func (s *ConversationSession) Close() {
	s.Active = false
	s.CurrentNodeID = ""
	s.Pause = PauseNone
}

// Clone returns a deep copy, so store implementations can hand out sessions
// without aliasing their internal state.
func (s *ConversationSession) Clone() *ConversationSession {
	c := *s
	if s.Parameters != nil {
		c.Parameters = make(map[string]any, len(s.Parameters))
		for k, v := range s.Parameters {
			c.Parameters[k] = v
		}
	}
	c.History = append([]HistoryEvent(nil), s.History...)
	c.CallStack = append([]StackFrame(nil), s.CallStack...)
	return &c
}
