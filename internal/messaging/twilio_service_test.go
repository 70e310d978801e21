package messaging

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/twiliowhatsapp"
)

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+55 (11) 99999-8888", "olá"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.Sent) != 1 || mock.Sent[0].To != "5511999998888" {
		t.Fatalf("expected canonicalized recipient, got %v", mock.Sent)
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("expected sent receipt, got %q", receipt.Status)
		}
	default:
		t.Error("expected a sent receipt emitted")
	}
}

func TestTwilioServiceRejectsAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "5511999998888", "olá"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Stop is idempotent.
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+5511999998888")
	form.Set("Body", "oi, preciso de ajuda")
	req := httptest.NewRequest("POST", "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case response := <-svc.Responses():
		if response.From != "+5511999998888" {
			t.Errorf("unexpected sender %q", response.From)
		}
		if response.Body != "oi, preciso de ajuda" {
			t.Errorf("unexpected body %q", response.Body)
		}
	default:
		t.Fatal("expected inbound response emitted")
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+5511999998888")
	req := httptest.NewRequest("POST", "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)
	if rec.Code != 400 {
		t.Errorf("expected 400 for missing body, got %d", rec.Code)
	}
}
