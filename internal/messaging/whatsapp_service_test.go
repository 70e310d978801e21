package messaging

import (
	"context"
	"testing"

	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/whatsapp"
)

func TestWhatsAppServiceSendMessage(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)

	if err := svc.SendMessage(context.Background(), "(11) 99999-8888", "olá"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.Sent) != 1 || mock.Sent[0].To != "11999998888" {
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

func TestWhatsAppServiceValidateRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+55 11 99999-8888", "5511999998888", false},
		{"11999998888", "11999998888", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true},
	}
	for _, tc := range cases {
		got, err := svc.ValidateAndCanonicalizeRecipient(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWhatsAppServiceRejectsAfterStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "5511999998888", "olá"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
