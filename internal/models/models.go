// Package models defines the core data structures for ZapDesk.
//
// It includes the types shared across the decision engine, the matching
// engine, the persistence gateway and the API surface.
package models

import (
	"errors"
	"time"
)

// Validation constants for input handling.
const (
	// MaxMessageLength caps the length of an inbound message after sanitizing.
	MaxMessageLength = 500
	// MaxTrainingInputLength caps stored training example inputs.
	MaxTrainingInputLength = 1000
	// MaxTrainingOutputLength caps stored training example outputs.
	MaxTrainingOutputLength = 4096
)

// Error variables for better error handling and testability.
var (
	ErrEmptyIdentity       = errors.New("identity cannot be empty")
	ErrEmptyTrainingInput  = errors.New("training input cannot be empty")
	ErrEmptyTrainingOutput = errors.New("training output cannot be empty")
	ErrTrainingInputLong   = errors.New("training input exceeds maximum length")
	ErrTrainingOutputLong  = errors.New("training output exceeds maximum length")
)

// TrainingExample is one input/output pair of the matching corpus.
type TrainingExample struct {
	ID         string    `json:"id"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	Confidence float64   `json:"confidence"`
	UsageCount int       `json:"usage_count"`
	Approved   bool      `json:"approved"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate performs validation on a TrainingExample before persistence.
func (t *TrainingExample) Validate() error {
	if t.Input == "" {
		return ErrEmptyTrainingInput
	}
	if t.Output == "" {
		return ErrEmptyTrainingOutput
	}
	if len(t.Input) > MaxTrainingInputLength {
		return ErrTrainingInputLong
	}
	if len(t.Output) > MaxTrainingOutputLength {
		return ErrTrainingOutputLong
	}
	return nil
}

// Sentiment labels attached to match results.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Entity is a lightweight annotation extracted from an utterance.
type Entity struct {
	Kind  string `json:"kind"` // e.g. "email", "phone", "number"
	Value string `json:"value"`
}

// ResponseMatch is the result of scoring an utterance against the corpus.
type ResponseMatch struct {
	Text              string    `json:"text"`
	Confidence        float64   `json:"confidence"`
	Algorithm         string    `json:"algorithm"` // contributing algorithms, comma separated
	Intent            string    `json:"intent"`
	Sentiment         Sentiment `json:"sentiment"`
	Entities          []Entity  `json:"entities,omitempty"`
	NeedsHumanHandoff bool      `json:"needs_human_handoff"`
	CacheHit          bool      `json:"cache_hit"`
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt records a delivery status event for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a conversation identity.
type Response struct {
	From    string            `json:"from"`
	Body    string            `json:"body"`
	Time    int64             `json:"time"`
	Context map[string]string `json:"context,omitempty"` // external context supplied by the transport
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
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
