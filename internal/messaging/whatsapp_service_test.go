package messaging

import (
	"context"
	"testing"

	"github.com/BotLoom/BotLoom/internal/models"
	"github.com/BotLoom/BotLoom/internal/whatsapp"
)

func TestWhatsAppServiceSendMessages(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)

	msgs := []models.OutboundMessage{
		models.TextMessage("Welcome!"),
		models.OptionsMessage([]string{"Red", "Blue"}),
	}
	if err := svc.SendMessages(context.Background(), "+1 (555) 123-4567", msgs); err != nil {
		t.Fatalf("SendMessages: %v", err)
	}

	if len(mock.SentMessages) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(mock.SentMessages))
	}
	for i, sent := range mock.SentMessages {
		if sent.To != "15551234567" {
			t.Errorf("send %d recipient = %q, want canonical digits", i, sent.To)
		}
	}
	if mock.SentMessages[0].Body != "Welcome!" {
		t.Errorf("first body = %q", mock.SentMessages[0].Body)
	}
	if mock.SentMessages[1].Body != "1. Red\n2. Blue" {
		t.Errorf("options body = %q", mock.SentMessages[1].Body)
	}
}

func TestWhatsAppServiceRejectsShortRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	err := svc.SendMessages(context.Background(), "123", []models.OutboundMessage{models.TextMessage("x")})
	if err == nil {
		t.Fatal("expected validation error for short recipient")
	}
}

func TestWhatsAppServiceStartStopWithMock(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, open := <-svc.Inbound(); open {
		t.Error("inbound channel should be closed after Stop")
	}
}
