// Package testutil provides common test utilities and helpers for BotLoom tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BotLoom/BotLoom/internal/models"
)

// StartNode builds an entry node pointing at next.
func StartNode(id, next string) models.FlowNode {
	return models.FlowNode{ID: id, Kind: models.NodeStart, Next: next}
}

// TextNode builds an output_text node with the given template and successor.
func TextNode(id, text, next string) models.FlowNode {
	return models.FlowNode{ID: id, Kind: models.NodeOutputText, Value: text, Next: next}
}

// InputNode builds an input_text node storing the reply under variable.
func InputNode(id, variable, next string) models.FlowNode {
	return models.FlowNode{
		ID:       id,
		Kind:     models.NodeInputText,
		Metadata: models.NodeMetadata{Variable: variable},
		Next:     next,
	}
}

// Branch builds branch index i of owner with a contains match.
func Branch(owner string, i int, matchValue, target string) models.FlowBranch {
	return models.FlowBranch{
		OwnerNodeID:  owner,
		Key:          models.BranchKey(i),
		MatchValue:   matchValue,
		Operator:     models.OperatorContains,
		TargetNodeID: target,
	}
}

// GreeterGraph returns the smallest useful flow: an entry router whose
// fallback branch emits one text message and ends the session.
func GreeterGraph(flowID string) *models.FlowGraph {
	nodes := []models.FlowNode{
		{ID: "n-entry", Kind: models.NodeAutomaticResponses},
		TextNode("n-hello", "Welcome!", ""),
	}
	branches := []models.FlowBranch{
		{OwnerNodeID: "n-entry", Key: models.BranchKey(0), TargetNodeID: "n-hello"},
	}
	return models.NewFlowGraph(flowID, "Greeter", nodes, branches)
}

// SampleSession returns an active session parked at nodeID for tests that
// need realistic session state.
func SampleSession(flowID, contactKey, nodeID string) *models.ConversationSession {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.ConversationSession{
		ID:            "sess-test-1",
		FlowID:        flowID,
		ContactKey:    contactKey,
		CurrentNodeID: nodeID,
		Active:        true,
		Pause:         models.PauseAtEntry,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// AssertOutboundTexts compares the text bodies of a turn's outbound messages
// against the expected sequence.
func AssertOutboundTexts(t *testing.T, msgs []models.OutboundMessage, expected []string, context string) {
	t.Helper()
	if len(msgs) != len(expected) {
		t.Fatalf("%s: expected %d messages, got %d: %+v", context, len(expected), len(msgs), msgs)
	}
	for i, want := range expected {
		if msgs[i].Text != want {
			t.Errorf("%s: message %d: expected %q, got %q", context, i, want, msgs[i].Text)
		}
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
