package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/store"
)

// DecisionEngine is the conversational core the dispatcher hands inbound
// messages to.
type DecisionEngine interface {
	ProcessMessage(ctx context.Context, identity, rawText string, external map[string]string) *models.FlowResult
}

// Dispatcher connects a transport to the decision engine: it consumes inbound
// responses, enriches them with the stored user context, runs the flow, and
// delivers the resulting reply. Messages are processed one at a time, in
// arrival order.
type Dispatcher struct {
	svc    Service
	engine DecisionEngine
	store  store.Store
}

// NewDispatcher creates a Dispatcher over a transport and a decision engine.
func NewDispatcher(svc Service, engine DecisionEngine, st store.Store) *Dispatcher {
	return &Dispatcher{svc: svc, engine: engine, store: st}
}

// Run consumes inbound responses until the context is cancelled or the
// transport closes its channel. Receipts are drained and logged.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("messaging.Dispatcher.Run: dispatcher started")
	go d.drainReceipts(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("messaging.Dispatcher.Run: context cancelled, stopping")
			return
		case response, ok := <-d.svc.Responses():
			if !ok {
				slog.Info("messaging.Dispatcher.Run: responses channel closed, stopping")
				return
			}
			d.Handle(ctx, response)
		}
	}
}

// Handle runs one inbound response through the decision engine and sends the
// reply. Send failures are logged and dropped; the conversation state has
// already advanced.
func (d *Dispatcher) Handle(ctx context.Context, response models.Response) {
	identity, err := d.svc.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("messaging.Dispatcher.Handle: invalid sender", "from", response.From, "error", err)
		return
	}

	external := d.loadExternalContext(identity, response.Context)
	result := d.engine.ProcessMessage(ctx, identity, response.Body, external)

	slog.Debug("messaging.Dispatcher.Handle: decision made",
		"identity", identity, "action", result.Action, "continue", result.Continue, "confidence", result.Confidence)

	if result.Action != models.ActionNone {
		d.realizeAction(identity, result)
	}

	if result.Text == "" {
		return
	}
	if result.Delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(result.Delay) * time.Millisecond):
		}
	}
	if err := d.svc.SendMessage(ctx, identity, result.Text); err != nil {
		slog.Error("messaging.Dispatcher.Handle: failed to send reply", "identity", identity, "error", err)
	}
}

// loadExternalContext merges the persisted user context with any context the
// transport attached to the message. Transport context wins on conflicts.
func (d *Dispatcher) loadExternalContext(identity string, transportCtx map[string]string) map[string]string {
	external := make(map[string]string)
	if d.store != nil {
		saved, err := d.store.GetUserContext(identity)
		if err != nil {
			slog.Warn("messaging.Dispatcher: failed to load user context", "identity", identity, "error", err)
		} else {
			for k, v := range saved {
				external[k] = v
			}
		}
	}
	for k, v := range transportCtx {
		external[k] = v
	}
	return external
}

// realizeAction records the operational side of a flow action. Transfers and
// notifications are surfaced to the operator via structured logs; the
// user-facing announcement text is already part of the result.
func (d *Dispatcher) realizeAction(identity string, result *models.FlowResult) {
	switch result.Action {
	case models.ActionTransferHuman:
		slog.Info("messaging.Dispatcher: conversation handed off to human", "identity", identity)
	case models.ActionTransferDepartment:
		slog.Info("messaging.Dispatcher: conversation routed to department", "identity", identity, "department", result.Department)
	case models.ActionGenerateDocument:
		slog.Info("messaging.Dispatcher: document generation requested", "identity", identity)
	case models.ActionSendNotification:
		slog.Info("messaging.Dispatcher: notification requested", "identity", identity)
	}
}

func (d *Dispatcher) drainReceipts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-d.svc.Receipts():
			if !ok {
				return
			}
			slog.Debug("messaging.Dispatcher: receipt", "to", receipt.To, "status", receipt.Status)
		}
	}
}
