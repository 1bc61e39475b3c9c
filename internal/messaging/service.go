// Package messaging provides pluggable channel adapters for BotLoom.
//
// A Service delivers the engine's outbound message sequence to a contact over
// a concrete channel (Twilio WhatsApp or a direct whatsmeow connection) and
// surfaces inbound end-user messages for turn handling.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/BotLoom/BotLoom/internal/models"
)

// Constants for channel adapter configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound message channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned for sends after Stop.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit from a recipient.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Each adapter applies its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessages delivers a turn's outbound messages to a recipient in order.
	SendMessages(ctx context.Context, to string, msgs []models.OutboundMessage) error

	// Start begins any background processing (e.g., channel event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns a channel of incoming end-user messages.
	Inbound() <-chan models.InboundMessage
}

// canonicalizePhone removes all non-numeric characters and validates the
// result has at least the minimum number of digits.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < models.MinContactKeyDigits {
		return "", errors.New("invalid phone number: too short")
	}
	return canonical, nil
}
