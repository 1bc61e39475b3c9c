package models

import "testing"

func graphFixture() *FlowGraph {
	nodes := []FlowNode{
		{ID: "n-entry", Kind: NodeAutomaticResponses},
		{ID: "n-menu", Kind: NodeOutputMenu, Value: "Pick"},
		{ID: "n-labeled", Kind: NodeOutputText, Value: "x", Metadata: NodeMetadata{Label: "escalation"}},
	}
	branches := []FlowBranch{
		{OwnerNodeID: "n-menu", Key: BranchKey(0), MatchValue: "Red", TargetNodeID: "a"},
		{OwnerNodeID: "n-menu", Key: BranchKey(1), MatchValue: "Blue", TargetNodeID: "b"},
		{OwnerNodeID: "n-menu", Key: DefaultBranchKey, TargetNodeID: "c"},
	}
	return NewFlowGraph("flow-1", "Fixture", nodes, branches)
}

func TestFlowGraphLookups(t *testing.T) {
	g := graphFixture()

	if g.Node("n-menu") == nil {
		t.Error("known node not found")
	}
	if g.Node("n-ghost") != nil {
		t.Error("unknown node must resolve to nil")
	}

	if found := g.FindByKind(NodeAutomaticResponses); found == nil || found.ID != "n-entry" {
		t.Errorf("FindByKind = %+v", found)
	}
	if g.FindByKind(NodeActionWait) != nil {
		t.Error("absent kind must resolve to nil")
	}

	if found := g.FindByLabel("escalation"); found == nil || found.ID != "n-labeled" {
		t.Errorf("FindByLabel = %+v", found)
	}
	if g.FindByLabel("nothing") != nil {
		t.Error("absent label must resolve to nil")
	}
}

func TestFlowGraphBranchesKeepDeclarationOrder(t *testing.T) {
	g := graphFixture()

	branches := g.Branches("n-menu")
	if len(branches) != 3 {
		t.Fatalf("expected 3 branches, got %d", len(branches))
	}
	if branches[0].MatchValue != "Red" || branches[1].MatchValue != "Blue" || !branches[2].IsDefault() {
		t.Errorf("branch order not preserved: %+v", branches)
	}

	def, ok := g.DefaultBranch("n-menu")
	if !ok || def.TargetNodeID != "c" {
		t.Errorf("DefaultBranch = %+v ok=%v", def, ok)
	}
	if _, ok := g.DefaultBranch("n-entry"); ok {
		t.Error("node without default branch must report false")
	}
}

func TestBranchKey(t *testing.T) {
	if BranchKey(0) != "option-0" || BranchKey(12) != "option-12" {
		t.Errorf("BranchKey produced %q and %q", BranchKey(0), BranchKey(12))
	}
}

func TestMediaMessageKinds(t *testing.T) {
	tests := []struct {
		name      string
		mediaType string
		expected  MessageType
	}{
		{name: "image", mediaType: "image", expected: MessageTypeImage},
		{name: "video", mediaType: "video", expected: MessageTypeVideo},
		{name: "document", mediaType: "document", expected: MessageTypeDocument},
		{name: "unknown degrades to image", mediaType: "hologram", expected: MessageTypeImage},
		{name: "empty degrades to image", mediaType: "", expected: MessageTypeImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MediaMessage(tt.mediaType, "https://cdn.example.com/x")
			if m.Type != tt.expected {
				t.Errorf("MediaMessage(%q) type = %s, want %s", tt.mediaType, m.Type, tt.expected)
			}
			if m.URL != "https://cdn.example.com/x" {
				t.Errorf("URL not carried: %+v", m)
			}
		})
	}
}

func TestDecodeWebhookActions(t *testing.T) {
	body := []byte(`{"actions":[
		{"type":"SendMessage","text":"hi"},
		{"type":"SetParameter","name":"a","value":"1"},
		{"type":"TimeTravel","when":"yesterday"}
	]}`)

	actions, err := DecodeWebhookActions(body)
	if err != nil {
		t.Fatalf("DecodeWebhookActions: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(actions))
	}
	if actions[0].Type != ActionSendMessage || actions[0].Text != "hi" {
		t.Errorf("action 0 = %+v", actions[0])
	}
	if actions[1].Type != ActionSetParameter || actions[1].Name != "a" {
		t.Errorf("action 1 = %+v", actions[1])
	}
	if actions[2].Type != ActionUnknown || len(actions[2].Raw) == 0 {
		t.Errorf("unrecognized variant must be tagged unknown with its raw JSON, got %+v", actions[2])
	}

	if _, err := DecodeWebhookActions([]byte("not json")); err == nil {
		t.Error("malformed body must error")
	}
}
