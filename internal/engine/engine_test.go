package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BotLoom/BotLoom/internal/models"
	"github.com/BotLoom/BotLoom/internal/store"
)

// scriptedWebhook returns pre-programmed results in order and records the
// user input passed on each call.
type scriptedWebhook struct {
	results []WebhookResult
	inputs  []string
}

func (w *scriptedWebhook) Run(ctx context.Context, node *models.FlowNode, g *models.FlowGraph, sess *models.ConversationSession, userInput string) WebhookResult {
	w.inputs = append(w.inputs, userInput)
	if len(w.results) == 0 {
		return WebhookResult{}
	}
	r := w.results[0]
	w.results = w.results[1:]
	return r
}

// testClock is a settable wall clock for TTL and time-routing scenarios.
type testClock struct {
	at time.Time
}

func (c *testClock) now() time.Time { return c.at }

func (c *testClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestEngine(t *testing.T, flows []store.Flow, hook WebhookRunner) (*Engine, *store.InMemoryStore, *testClock) {
	t.Helper()
	st := store.NewInMemoryStore()
	st.AddAccount(models.Account{ID: "acc-1", Name: "Acme", Token: "tok-1", DefaultFlowID: flows[0].ID})
	for _, f := range flows {
		st.AddFlow(f)
	}
	if hook == nil {
		hook = &scriptedWebhook{}
	}
	clock := &testClock{at: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	eng := New(st, st, hook,
		WithClock(clock.now),
		WithSleeper(func(time.Duration) {}),
	)
	return eng, st, clock
}

func turn(t *testing.T, eng *Engine, text string) models.TurnResult {
	t.Helper()
	result, err := eng.HandleTurn(context.Background(), models.TurnRequest{
		ContactKey: "15551234567",
		Text:       text,
		AccountID:  "acc-1",
	})
	if err != nil {
		t.Fatalf("HandleTurn(%q): %v", text, err)
	}
	return result
}

// greeterFlow routes "pizza" mentions to a dedicated reply and everything
// else to the fallback greeting; both replies end the conversation.
func greeterFlow() store.Flow {
	return store.Flow{
		ID:        "flow-1",
		AccountID: "acc-1",
		Name:      "Greeter",
		Nodes: []models.FlowNode{
			{ID: "n-entry", Kind: models.NodeAutomaticResponses},
			{ID: "n-hello", Kind: models.NodeOutputText, Value: "Welcome!"},
			{ID: "n-pizza", Kind: models.NodeOutputText, Value: "One pizza coming up."},
		},
		Branches: []models.FlowBranch{
			{OwnerNodeID: "n-entry", Key: models.BranchKey(0), TargetNodeID: "n-hello"},
			{OwnerNodeID: "n-entry", Key: models.BranchKey(1), MatchValue: "pizza", Operator: models.OperatorContains, TargetNodeID: "n-pizza"},
		},
	}
}

func TestHandleTurnRejectsEmptyContactKey(t *testing.T) {
	eng, _, _ := newTestEngine(t, []store.Flow{greeterFlow()}, nil)
	_, err := eng.HandleTurn(context.Background(), models.TurnRequest{Text: "hi", AccountID: "acc-1"})
	if !errors.Is(err, models.ErrEmptyContactKey) {
		t.Fatalf("expected ErrEmptyContactKey, got %v", err)
	}
}

func TestHandleTurnOpensSessionAndCloses(t *testing.T) {
	eng, st, _ := newTestEngine(t, []store.Flow{greeterFlow()}, nil)

	result := turn(t, eng, "hi there")
	if len(result.Messages) != 1 || result.Messages[0].Text != "Welcome!" {
		t.Fatalf("expected single greeting, got %+v", result.Messages)
	}
	if !result.SessionClosed {
		t.Error("flow ends after the greeting, session should be closed")
	}
	if result.SessionID == "" {
		t.Error("expected a session id")
	}

	// The closed session must not be picked up by the next lookup.
	active, err := st.FindActiveByContact(context.Background(), "15551234567")
	if err != nil {
		t.Fatalf("FindActiveByContact: %v", err)
	}
	if active != nil {
		t.Errorf("expected no active session after close, got %s", active.ID)
	}
}

func TestHandleTurnEntryBranchMatch(t *testing.T) {
	eng, _, _ := newTestEngine(t, []store.Flow{greeterFlow()}, nil)

	result := turn(t, eng, "I would like a PIZZA please")
	if len(result.Messages) != 1 || result.Messages[0].Text != "One pizza coming up." {
		t.Fatalf("expected pizza branch reply, got %+v", result.Messages)
	}
}

func TestHandleTurnInputPauseAndResume(t *testing.T) {
	flow := store.Flow{
		ID:        "flow-1",
		AccountID: "acc-1",
		Name:      "NameTaker",
		Nodes: []models.FlowNode{
			{ID: "n-entry", Kind: models.NodeAutomaticResponses},
			{ID: "n-ask", Kind: models.NodeInputText, Value: "What is your name?", Metadata: models.NodeMetadata{Variable: "name"}, Next: "n-greet"},
			{ID: "n-greet", Kind: models.NodeOutputText, Value: "Hi --name--!"},
		},
		Branches: []models.FlowBranch{
			{OwnerNodeID: "n-entry", Key: models.BranchKey(0), TargetNodeID: "n-ask"},
		},
	}
	eng, _, _ := newTestEngine(t, []store.Flow{flow}, nil)

	first := turn(t, eng, "hello")
	if len(first.Messages) != 1 || first.Messages[0].Text != "What is your name?" {
		t.Fatalf("expected prompt, got %+v", first.Messages)
	}
	if first.PendingInputKind != "text" {
		t.Errorf("PendingInputKind = %q, want text", first.PendingInputKind)
	}
	if first.SessionClosed {
		t.Error("session should stay open while waiting for input")
	}

	second := turn(t, eng, "Ana")
	if len(second.Messages) != 1 || second.Messages[0].Text != "Hi Ana!" {
		t.Fatalf("expected interpolated greeting, got %+v", second.Messages)
	}
	if !second.SessionClosed {
		t.Error("flow ends after the greeting")
	}
	if second.SessionID != first.SessionID {
		t.Errorf("resumed turn must reuse the session, got %s then %s", first.SessionID, second.SessionID)
	}
}

func TestHandleTurnMenuRetryThenChoice(t *testing.T) {
	flow := store.Flow{
		ID:        "flow-1",
		AccountID: "acc-1",
		Name:      "Sizes",
		Nodes: []models.FlowNode{
			{ID: "n-entry", Kind: models.NodeAutomaticResponses},
			{ID: "n-menu", Kind: models.NodeOutputMenu, Value: "Pick a size"},
			{ID: "n-small", Kind: models.NodeOutputText, Value: "Small it is."},
			{ID: "n-large", Kind: models.NodeOutputText, Value: "Large it is."},
		},
		Branches: []models.FlowBranch{
			{OwnerNodeID: "n-entry", Key: models.BranchKey(0), TargetNodeID: "n-menu"},
			{OwnerNodeID: "n-menu", Key: models.BranchKey(0), MatchValue: "Small", TargetNodeID: "n-small"},
			{OwnerNodeID: "n-menu", Key: models.BranchKey(1), MatchValue: "Large", TargetNodeID: "n-large"},
		},
	}
	eng, _, _ := newTestEngine(t, []store.Flow{flow}, nil)

	first := turn(t, eng, "hi")
	if first.PendingInputKind != "menu" {
		t.Fatalf("PendingInputKind = %q, want menu", first.PendingInputKind)
	}
	if len(first.Messages) != 2 || len(first.Messages[1].Options) != 2 {
		t.Fatalf("expected prompt plus two options, got %+v", first.Messages)
	}

	retry := turn(t, eng, "medium")
	if retry.SessionClosed {
		t.Error("unmatched choice must keep the menu open")
	}
	if len(retry.Messages) != 2 || retry.Messages[0].Text != menuRetryMessage {
		t.Fatalf("expected retry prompt with options, got %+v", retry.Messages)
	}

	chosen := turn(t, eng, " large ")
	if len(chosen.Messages) != 1 || chosen.Messages[0].Text != "Large it is." {
		t.Fatalf("expected large branch, got %+v", chosen.Messages)
	}
	if !chosen.SessionClosed {
		t.Error("flow ends after the choice")
	}
}

func TestHandleTurnSessionExpiry(t *testing.T) {
	flow := store.Flow{
		ID:        "flow-1",
		AccountID: "acc-1",
		Name:      "NameTaker",
		Nodes: []models.FlowNode{
			{ID: "n-entry", Kind: models.NodeAutomaticResponses},
			{ID: "n-ask", Kind: models.NodeInputText, Value: "Name?", Metadata: models.NodeMetadata{Variable: "name"}, Next: "n-greet"},
			{ID: "n-greet", Kind: models.NodeOutputText, Value: "Hi --name--!"},
		},
		Branches: []models.FlowBranch{
			{OwnerNodeID: "n-entry", Key: models.BranchKey(0), TargetNodeID: "n-ask"},
		},
	}
	eng, _, clock := newTestEngine(t, []store.Flow{flow}, nil)

	first := turn(t, eng, "hello")
	clock.advance(SessionIdleTTL + time.Minute)

	second := turn(t, eng, "hello again")
	if second.SessionID == first.SessionID {
		t.Error("expired session must not be resumed")
	}
	if len(second.Messages) != 1 || second.Messages[0].Text != "Name?" {
		t.Fatalf("expected a fresh run from the entry node, got %+v", second.Messages)
	}
}

func TestHandleTurnSubFlowCallAndReturn(t *testing.T) {
	main := store.Flow{
		ID:        "flow-1",
		AccountID: "acc-1",
		Name:      "Main",
		Nodes: []models.FlowNode{
			{ID: "n-entry", Kind: models.NodeAutomaticResponses},
			{ID: "n-call", Kind: models.NodeFixedProcess, SubFlowID: "sub-1", Next: "n-after"},
			{ID: "n-after", Kind: models.NodeOutputText, Value: "Back in the main flow."},
		},
		Branches: []models.FlowBranch{
			{OwnerNodeID: "n-entry", Key: models.BranchKey(0), TargetNodeID: "n-call"},
		},
	}
	sub := store.Flow{
		ID:        "sub-1",
		AccountID: "acc-1",
		Name:      "Disclaimer",
		IsSubFlow: true,
		Nodes: []models.FlowNode{
			{ID: "s-start", Kind: models.NodeStart, Next: "s-text"},
			{ID: "s-text", Kind: models.NodeOutputText, Value: "Standard disclaimer."},
		},
	}
	eng, _, _ := newTestEngine(t, []store.Flow{main, sub}, nil)

	result := turn(t, eng, "go")
	want := []string{"Standard disclaimer.", "Back in the main flow."}
	if len(result.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %+v", len(want), result.Messages)
	}
	for i, text := range want {
		if result.Messages[i].Text != text {
			t.Errorf("message %d = %q, want %q", i, result.Messages[i].Text, text)
		}
	}
	if !result.SessionClosed {
		t.Error("main flow ends after the return")
	}
}

func TestHandleTurnWebhookPauseAndResume(t *testing.T) {
	branchOK := "confirmed"
	flow := store.Flow{
		ID:        "flow-1",
		AccountID: "acc-1",
		Name:      "Hooked",
		Nodes: []models.FlowNode{
			{ID: "n-entry", Kind: models.NodeAutomaticResponses},
			{ID: "n-hook", Kind: models.NodeActionWebService, Value: "https://ops.example.com/hook"},
			{ID: "n-done", Kind: models.NodeOutputText, Value: "All set."},
		},
		Branches: []models.FlowBranch{
			{OwnerNodeID: "n-entry", Key: models.BranchKey(0), TargetNodeID: "n-hook"},
			{OwnerNodeID: "n-hook", Key: models.BranchKey(0), MatchValue: "confirmed", Operator: models.OperatorEq, TargetNodeID: "n-done"},
		},
	}
	hook := &scriptedWebhook{results: []WebhookResult{
		{Messages: []models.OutboundMessage{models.TextMessage("Which date works?")}, Paused: true},
		{BranchValue: &branchOK},
	}}
	eng, _, _ := newTestEngine(t, []store.Flow{flow}, hook)

	first := turn(t, eng, "book me in")
	if first.PendingInputKind != "webhook" {
		t.Fatalf("PendingInputKind = %q, want webhook", first.PendingInputKind)
	}
	if len(first.Messages) != 1 || first.Messages[0].Text != "Which date works?" {
		t.Fatalf("expected webhook question, got %+v", first.Messages)
	}

	second := turn(t, eng, "next friday")
	if len(second.Messages) != 1 || second.Messages[0].Text != "All set." {
		t.Fatalf("expected confirmed branch, got %+v", second.Messages)
	}
	if !second.SessionClosed {
		t.Error("flow ends after the confirmation")
	}

	if len(hook.inputs) != 2 || hook.inputs[1] != "next friday" {
		t.Errorf("resumed webhook call must carry the reply, got %v", hook.inputs)
	}
}

func TestHandleTurnWebhookGoto(t *testing.T) {
	flow := store.Flow{
		ID:        "flow-1",
		AccountID: "acc-1",
		Name:      "Jumper",
		Nodes: []models.FlowNode{
			{ID: "n-entry", Kind: models.NodeAutomaticResponses},
			{ID: "n-hook", Kind: models.NodeActionWebService, Value: "https://ops.example.com/hook"},
			{ID: "n-alt", Kind: models.NodeOutputText, Value: "Jumped here.", Metadata: models.NodeMetadata{Label: "alternate"}},
			{ID: "n-default", Kind: models.NodeOutputText, Value: "Default path."},
		},
		Branches: []models.FlowBranch{
			{OwnerNodeID: "n-entry", Key: models.BranchKey(0), TargetNodeID: "n-hook"},
			{OwnerNodeID: "n-hook", Key: models.DefaultBranchKey, TargetNodeID: "n-default"},
		},
	}
	hook := &scriptedWebhook{results: []WebhookResult{{GotoLabel: "alternate"}}}
	eng, _, _ := newTestEngine(t, []store.Flow{flow}, hook)

	result := turn(t, eng, "go")
	if len(result.Messages) != 1 || result.Messages[0].Text != "Jumped here." {
		t.Fatalf("goto must bypass the node's own edges, got %+v", result.Messages)
	}
}

func TestHandleTurnCyclicFlowTruncates(t *testing.T) {
	flow := store.Flow{
		ID:        "flow-1",
		AccountID: "acc-1",
		Name:      "Loop",
		Nodes: []models.FlowNode{
			{ID: "n-entry", Kind: models.NodeAutomaticResponses},
			{ID: "n-a", Kind: models.NodeOutputText, Value: "ping", Next: "n-b"},
			{ID: "n-b", Kind: models.NodeOutputText, Value: "pong", Next: "n-a"},
		},
		Branches: []models.FlowBranch{
			{OwnerNodeID: "n-entry", Key: models.BranchKey(0), TargetNodeID: "n-a"},
		},
	}
	eng, _, _ := newTestEngine(t, []store.Flow{flow}, nil)

	result := turn(t, eng, "start")
	if len(result.Messages) != MaxWalkSteps {
		t.Fatalf("expected output truncated at %d messages, got %d", MaxWalkSteps, len(result.Messages))
	}
	if result.SessionClosed {
		t.Error("aborted walk keeps the session in its last state, not closed")
	}
}

func TestHandleTurnMissingTargetIsConfigError(t *testing.T) {
	flow := store.Flow{
		ID:        "flow-1",
		AccountID: "acc-1",
		Name:      "Broken",
		Nodes: []models.FlowNode{
			{ID: "n-entry", Kind: models.NodeAutomaticResponses},
		},
		Branches: []models.FlowBranch{
			{OwnerNodeID: "n-entry", Key: models.BranchKey(0), TargetNodeID: "n-missing"},
		},
	}
	eng, st, _ := newTestEngine(t, []store.Flow{flow}, nil)

	_, err := eng.HandleTurn(context.Background(), models.TurnRequest{
		ContactKey: "15551234567",
		Text:       "hi",
		AccountID:  "acc-1",
	})
	if !errors.Is(err, ErrFlowConfig) {
		t.Fatalf("expected ErrFlowConfig, got %v", err)
	}

	// The failed turn must not leave a session behind; a corrected flow can
	// then start cleanly.
	active, lookupErr := st.FindActiveByContact(context.Background(), "15551234567")
	if lookupErr != nil {
		t.Fatalf("FindActiveByContact: %v", lookupErr)
	}
	if active != nil {
		t.Errorf("expected no persisted session after config error, got %s", active.ID)
	}
}

func TestHandleTurnNoEntryNode(t *testing.T) {
	flow := store.Flow{
		ID:        "flow-1",
		AccountID: "acc-1",
		Name:      "Entryless",
		Nodes: []models.FlowNode{
			{ID: "n-start", Kind: models.NodeStart, Next: ""},
		},
	}
	eng, _, _ := newTestEngine(t, []store.Flow{flow}, nil)

	_, err := eng.HandleTurn(context.Background(), models.TurnRequest{
		ContactKey: "15551234567",
		Text:       "hi",
		AccountID:  "acc-1",
	})
	if !errors.Is(err, ErrFlowConfig) {
		t.Fatalf("expected ErrFlowConfig, got %v", err)
	}
}
