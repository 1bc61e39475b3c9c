package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BotLoom/BotLoom/internal/models"
	"github.com/BotLoom/BotLoom/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.TextSender
	waClient *whatsapp.Client // underlying client for event handling, nil for mocks
	inbound  chan models.InboundMessage
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.TextSender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number by stripping non-digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	return canonical, nil
}

// Start begins background event handling when a full client is available.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService.Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	}
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService.Stop invoked")
	close(s.done)
	close(s.inbound)
	return nil
}

// SendMessages renders each outbound message to text and sends it.
func (s *WhatsAppService) SendMessages(ctx context.Context, to string, msgs []models.OutboundMessage) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessages validation error", "error", err, "to", to)
		return err
	}
	for _, m := range msgs {
		body := Render(m)
		if body == "" {
			continue
		}
		if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
			slog.Error("WhatsAppService.SendMessages delivery failed", "error", err, "to", canonicalTo, "type", m.Type)
			return fmt.Errorf("failed to deliver %s message to %s: %w", m.Type, canonicalTo, err)
		}
	}
	slog.Debug("WhatsAppService.SendMessages delivered", "to", canonicalTo, "count", len(msgs))
	return nil
}

// Inbound returns the channel of incoming end-user messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// handleEvents feeds incoming WhatsApp text messages into the inbound channel.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService.handleEvents: no client available")
		return
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		msg, ok := evt.(*events.Message)
		if !ok {
			return
		}
		text := msg.Message.GetConversation()
		if text == "" {
			text = msg.Message.GetExtendedTextMessage().GetText()
		}
		if text == "" {
			return
		}
		inbound := models.InboundMessage{
			From: msg.Info.Sender.User,
			Body: text,
			Time: time.Now().Unix(),
		}
		select {
		case s.inbound <- inbound:
			slog.Debug("WhatsAppService emitted inbound message", "from", inbound.From)
		case <-s.done:
		case <-time.After(DefaultChannelTimeout):
			slog.Warn("WhatsAppService inbound channel blocked, dropping message", "from", inbound.From)
		}
	})
}
