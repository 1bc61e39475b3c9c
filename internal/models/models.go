package models

import "errors"

// Validation limits for inbound turn requests.
const (
	// MaxInboundTextLength is the maximum accepted length of an inbound message.
	MaxInboundTextLength = 4096
	// MinContactKeyDigits is the minimum number of digits in a contact key.
	MinContactKeyDigits = 6
)

// Error variables for input-shape failures; these are rejected before any
// session lookup and have no side effects.
var (
	ErrEmptyContactKey  = errors.New("contact key cannot be empty")
	ErrEmptyCredential  = errors.New("auth credential is required")
	ErrUnknownAccount   = errors.New("no account matches the given credential")
	ErrInboundTooLong   = errors.New("inbound message exceeds maximum length")
	ErrNoEntryNode      = errors.New("flow has no automatic_responses entry node")
	ErrNoFlowForAccount = errors.New("account has no flow to route the message to")
)

// TurnRequest carries one inbound end-user message into the engine. The four
// logical fields are accepted identically over query-parameter GET and JSON POST.
type TurnRequest struct {
	ContactKey string `json:"phone"`             // channel address of the end user
	Text       string `json:"message"`           // free-text inbound message
	SenderID   string `json:"sender,omitempty"`  // channel-side address id
	FlowID     string `json:"bot,omitempty"`     // explicit flow selector
	AccountID  string `json:"account,omitempty"` // resolved from the auth credential
}

// Validate rejects input-shape errors before any session work happens.
func (r *TurnRequest) Validate() error {
	if r.ContactKey == "" {
		return ErrEmptyContactKey
	}
	if len(r.Text) > MaxInboundTextLength {
		return ErrInboundTooLong
	}
	return nil
}

// TurnResult is the outcome of one turn: the ordered outbound messages and,
// when the session paused, the kind of input it is waiting for.
type TurnResult struct {
	Messages         []OutboundMessage `json:"messages"`
	PendingInputKind string            `json:"pending_input_kind,omitempty"`
	SessionID        string            `json:"session_id,omitempty"`
	SessionClosed    bool              `json:"session_closed,omitempty"`
}

// Account is the operator identity an auth credential resolves to.
type Account struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Token         string `json:"-"`
	DefaultFlowID string `json:"default_flow_id,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result any) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
