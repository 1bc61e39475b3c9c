package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BotLoom/BotLoom/internal/models"
	"github.com/BotLoom/BotLoom/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound messages arrive over the Twilio webhook endpoint in the api package,
// which pushes them into this service via EmitInbound.
type TwilioService struct {
	client  twiliowhatsapp.TextSender // real Twilio client or MockClient
	inbound chan models.InboundMessage
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.TextSender) *TwilioService {
	return &TwilioService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number by stripping non-digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op; Twilio delivery is request driven.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.inbound)
	return nil
}

// SendMessages renders each outbound message to text and sends it via Twilio.
func (s *TwilioService) SendMessages(ctx context.Context, to string, msgs []models.OutboundMessage) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessages validation error", "error", err, "to", to)
		return err
	}
	for _, m := range msgs {
		body := Render(m)
		if body == "" {
			continue
		}
		if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
			slog.Error("TwilioService.SendMessages delivery failed", "error", err, "to", canonicalTo, "type", m.Type)
			return fmt.Errorf("failed to deliver %s message to %s: %w", m.Type, canonicalTo, err)
		}
	}
	slog.Debug("TwilioService.SendMessages delivered", "to", canonicalTo, "count", len(msgs))
	return nil
}

// Inbound returns the channel of incoming end-user messages.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// EmitInbound pushes an inbound message received over the Twilio webhook.
// Messages are dropped with a warning when the channel stays blocked.
func (s *TwilioService) EmitInbound(msg models.InboundMessage) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.From)
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("TwilioService emitted inbound message", "from", msg.From)
	default:
		slog.Warn("TwilioService inbound channel blocked, dropping message", "from", msg.From)
	}
}
