package models

import (
	"testing"
	"time"
)

func TestSessionParameterAndStack(t *testing.T) {
	sess := &ConversationSession{ID: "s1", Active: true}

	sess.SetParameter("name", "Ana")
	if sess.Parameters["name"] != "Ana" {
		t.Errorf("parameter not stored: %v", sess.Parameters)
	}

	sess.PushFrame(StackFrame{CallerNodeID: "n-call", ReturnNodeID: "n-after"})
	sess.PushFrame(StackFrame{CallerNodeID: "n-inner", ReturnNodeID: "n-back"})

	frame, ok := sess.PopFrame()
	if !ok || frame.CallerNodeID != "n-inner" {
		t.Fatalf("expected inner frame first, got %+v ok=%v", frame, ok)
	}
	frame, ok = sess.PopFrame()
	if !ok || frame.ReturnNodeID != "n-after" {
		t.Fatalf("expected outer frame second, got %+v ok=%v", frame, ok)
	}
	if _, ok := sess.PopFrame(); ok {
		t.Error("pop on empty stack must report false")
	}
}

func TestSessionClose(t *testing.T) {
	sess := &ConversationSession{ID: "s1", Active: true, CurrentNodeID: "n-x", Pause: PauseAwaitingInput}
	sess.Close()
	if sess.Active || sess.CurrentNodeID != "" || sess.Pause != PauseNone {
		t.Errorf("close left state behind: %+v", sess)
	}
}

func TestSessionCloneDoesNotAlias(t *testing.T) {
	sess := &ConversationSession{
		ID:         "s1",
		Active:     true,
		Parameters: map[string]any{"name": "Ana"},
		History:    []HistoryEvent{{ID: "e1", Kind: HistoryEventUser, Text: "hi", Timestamp: time.Now()}},
		CallStack:  []StackFrame{{CallerNodeID: "n-call", ReturnNodeID: "n-after"}},
	}

	clone := sess.Clone()
	clone.SetParameter("name", "Bob")
	clone.AppendHistory(HistoryEvent{ID: "e2", Kind: HistoryEventBot, Text: "hello"})
	clone.PopFrame()

	if sess.Parameters["name"] != "Ana" {
		t.Error("clone shares the parameter map")
	}
	if len(sess.History) != 1 {
		t.Error("clone shares the history slice")
	}
	if len(sess.CallStack) != 1 {
		t.Error("clone shares the call stack")
	}
}

func TestTurnRequestValidate(t *testing.T) {
	tests := []struct {
		name     string
		req      TurnRequest
		expected error
	}{
		{name: "valid", req: TurnRequest{ContactKey: "15551234567", Text: "hi"}, expected: nil},
		{name: "empty text allowed", req: TurnRequest{ContactKey: "15551234567"}, expected: nil},
		{name: "missing contact", req: TurnRequest{Text: "hi"}, expected: ErrEmptyContactKey},
		{name: "oversized text", req: TurnRequest{ContactKey: "1555", Text: string(make([]byte, MaxInboundTextLength+1))}, expected: ErrInboundTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err != tt.expected {
				t.Errorf("Validate() = %v, want %v", err, tt.expected)
			}
		})
	}
}
