// Package messaging provides the transport abstraction between the decision
// engine and the messaging channels (WhatsApp via whatsmeow or Twilio).
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/zapdesk/zapdesk/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size for receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel emits.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging: service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service is a pluggable message transport. It delivers outbound replies and
// exposes channels of inbound responses and delivery receipts.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient identifier and
	// returns its canonical form (digits only for phone-based transports).
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage delivers a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing (event polling, webhooks).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts returns delivery status events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns inbound messages from conversation identities.
	Responses() <-chan models.Response
}

// canonicalizePhone strips formatting from a phone-style recipient and
// validates a minimum length.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short")
	}
	return canonical, nil
}
