// Package models defines the webhook protocol exchanged with operator services.
package models

import (
	"encoding/json"
	"fmt"
)

// WebhookActionType discriminates the instructions a webhook response may carry.
type WebhookActionType string

const (
	ActionSetParameter WebhookActionType = "SetParameter"
	ActionSendMessage  WebhookActionType = "SendMessage"
	ActionSendImage    WebhookActionType = "SendImage"
	ActionSendWebpage  WebhookActionType = "SendWebpage"
	ActionSendItem     WebhookActionType = "SendItem"
	ActionInputText    WebhookActionType = "InputText"
	ActionReturn       WebhookActionType = "Return"
	ActionChangeState  WebhookActionType = "ChangeState"
	ActionGoto         WebhookActionType = "Goto"
	// ActionUnknown captures variants this engine does not understand; they
	// are logged and skipped, never fatal.
	ActionUnknown WebhookActionType = "Unknown"
)

// WebhookAction is one decoded instruction from a webhook response. Fields are
// populated according to Type; Raw preserves the original JSON for unknown
// variants.
type WebhookAction struct {
	Type     WebhookActionType `json:"type"`
	Name     string            `json:"name,omitempty"`     // SetParameter
	Value    string            `json:"value,omitempty"`    // SetParameter, Return
	Text     string            `json:"text,omitempty"`     // SendMessage, SendWebpage, InputText, ChangeState
	URL      string            `json:"url,omitempty"`      // SendImage, SendWebpage, SendItem
	Title    string            `json:"title,omitempty"`    // SendItem
	Subtitle string            `json:"subtitle,omitempty"` // SendItem
	Image    string            `json:"image,omitempty"`    // SendItem
	Options  []string          `json:"options,omitempty"`  // SendItem, InputText
	Node     string            `json:"node,omitempty"`     // Goto: target display label

	Raw json.RawMessage `json:"-"`
}

// knownActionTypes is the decode allowlist; anything else becomes ActionUnknown.
var knownActionTypes = map[WebhookActionType]bool{
	ActionSetParameter: true,
	ActionSendMessage:  true,
	ActionSendImage:    true,
	ActionSendWebpage:  true,
	ActionSendItem:     true,
	ActionInputText:    true,
	ActionReturn:       true,
	ActionChangeState:  true,
	ActionGoto:         true,
}

// WebhookResponse is the body an operator webhook returns.
type WebhookResponse struct {
	Actions []WebhookAction `json:"actions"`
}

// DecodeWebhookActions decodes a response body at the boundary once, tagging
// unknown variants explicitly instead of dropping them deep inside the
// interpretation loop.
func DecodeWebhookActions(body []byte) ([]WebhookAction, error) {
	var envelope struct {
		Actions []json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode webhook response: %w", err)
	}
	actions := make([]WebhookAction, 0, len(envelope.Actions))
	for _, raw := range envelope.Actions {
		var a WebhookAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("failed to decode webhook action: %w", err)
		}
		if !knownActionTypes[a.Type] {
			a = WebhookAction{Type: ActionUnknown, Raw: append(json.RawMessage(nil), raw...)}
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// WebhookCampaign identifies the flow the conversation belongs to.
type WebhookCampaign struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WebhookChat is the chat-context block of a webhook request.
type WebhookChat struct {
	Created int64  `json:"created"` // session creation time, unix seconds
	Source  string `json:"source"`  // originating node id
	Sender  string `json:"sender"`  // contact key
	Control string `json:"control"` // session id
}

// WebhookParameter is one conversation variable in name/value form.
type WebhookParameter struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// WebhookValue is the last user input as a typed value: always the string
// form, plus a numeric parse when the text is numeric.
type WebhookValue struct {
	String string   `json:"string"`
	Number *float64 `json:"number,omitempty"`
}

// WebhookRequest is the fixed-shape payload posted to the operator's URL.
type WebhookRequest struct {
	Campaign       WebhookCampaign    `json:"campaign"`
	Chat           WebhookChat        `json:"chat"`
	Parameters     []WebhookParameter `json:"parameters"`
	Value          *WebhookValue      `json:"value"`
	ProcessHistory []HistoryEvent     `json:"process_history"`
}
