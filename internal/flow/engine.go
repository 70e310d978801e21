// Package flow implements the per-identity conversation state machine. It
// interprets the declarative flow definitions from the configuration, owns all
// UserFlowState, and delegates open-ended turns to the matching engine through
// the Matcher interface.
package flow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/metrics"
	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/store"
)

// Matcher is the matching engine surface the flow engine depends on.
type Matcher interface {
	Match(ctx context.Context, rawText, identity string) *models.ResponseMatch
	MaybeAutoLearn(ctx context.Context, input, output string, confidence float64) bool
}

// maxStepHops bounds automatic step chaining within one message so a
// misconfigured flow cycle cannot spin forever.
const maxStepHops = 50

// resetCommands restart the conversation from the entry flow.
var resetCommands = map[string]bool{
	"menu":      true,
	"reiniciar": true,
	"recomeçar": true,
	"recomecar": true,
}

// Engine is the flow state machine. One instance serves all identities.
type Engine struct {
	cfg     *config.Manager
	store   store.Store
	matcher Matcher
	met     *metrics.Metrics

	mu     sync.Mutex
	states map[string]*models.UserFlowState
}

// Option configures an Engine.
type Option func(*Engine)

// WithMatcher attaches the matching engine used by ai_response steps.
func WithMatcher(m Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.met = m }
}

// NewEngine creates a flow engine over a configuration manager and the
// persistence gateway.
func NewEngine(cfg *config.Manager, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		store:  st,
		states: make(map[string]*models.UserFlowState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ActiveStates returns the number of identities with a live flow state.
func (e *Engine) ActiveStates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

// StateFor returns a copy of the identity's flow state.
func (e *Engine) StateFor(identity string) (models.UserFlowState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[identity]
	if !ok {
		return models.UserFlowState{}, false
	}
	return *st, true
}

// ResetOrphanedStates removes states whose flow id no longer exists in the
// active configuration. Called after a hot reload.
func (e *Engine) ResetOrphanedStates() int {
	snap := e.cfg.Current()
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for identity, st := range e.states {
		if snap.Flow(st.FlowID) == nil {
			delete(e.states, identity)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("flow.Engine.ResetOrphanedStates: states reset after reload", "removed", removed)
	}
	return removed
}

// ProcessMessage runs one inbound message through the state machine and
// returns the decision for the transport. Unexpected failures degrade to the
// configured apology plus a transfer to a human, never a crash.
func (e *Engine) ProcessMessage(ctx context.Context, identity, rawText string, external map[string]string) (result *models.FlowResult) {
	snap := e.cfg.Current()

	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("flow.Engine.ProcessMessage: recovered from step failure", "identity", identity, "panic", r)
			result = e.fatal(snap, identity, "panic")
		}
	}()

	input := strings.TrimSpace(rawText)

	restart := false
	if resetCommands[strings.ToLower(input)] {
		if _, ok := e.states[identity]; ok {
			delete(e.states, identity)
			restart = true
			slog.Info("flow.Engine.ProcessMessage: conversation reset by command", "identity", identity)
		}
	}

	state := e.states[identity]
	if state != nil && snap.Flow(state.FlowID) == nil {
		slog.Warn("flow.Engine.ProcessMessage: state references removed flow, resetting", "identity", identity, "flow", state.FlowID)
		delete(e.states, identity)
		state = nil
	}

	if state == nil {
		state = &models.UserFlowState{
			Identity:  identity,
			FlowID:    snap.Mode,
			Data:      make(map[string]string),
			UpdatedAt: time.Now(),
		}
		e.states[identity] = state
		res := e.runSteps(ctx, snap, state, external)
		res.Restart = restart
		return res
	}

	flow := snap.Flow(state.FlowID)
	step := &flow.Steps[state.StepIndex]
	state.History = append(state.History, models.StepEvent{StepID: step.ID, Input: input, Timestamp: time.Now()})
	state.UpdatedAt = time.Now()

	if !state.WaitingInput {
		return e.runSteps(ctx, snap, state, external)
	}
	return e.consume(ctx, snap, state, step, input, external)
}

// runSteps renders from the current step, chaining through steps that need no
// input, and stops at the first step that awaits a reply or ends the flow.
func (e *Engine) runSteps(ctx context.Context, snap *config.Config, state *models.UserFlowState, external map[string]string, prefix ...string) *models.FlowResult {
	flow := snap.Flow(state.FlowID)
	texts := append([]string{}, prefix...)
	delay := 0

	for hop := 0; hop < maxStepHops; hop++ {
		if state.StepIndex < 0 || state.StepIndex >= len(flow.Steps) {
			return e.complete(state, texts, delay)
		}
		step := &flow.Steps[state.StepIndex]
		e.observeStep(flow.ID, step)
		if step.Delay > delay {
			delay = step.Delay
		}

		switch step.Type {
		case models.StepTypeMessage:
			texts = append(texts, Substitute(step.Text, external, state.Data))
			if step.NextID == "" {
				return e.complete(state, texts, delay)
			}
			e.advance(flow, state, step.NextID)

		case models.StepTypeMenu, models.StepTypeQuickReply:
			texts = append(texts, renderOptions(step, external, state.Data))
			state.WaitingInput = true
			return &models.FlowResult{Text: joinTexts(texts), Delay: delay, Continue: true}

		case models.StepTypeCaptureData:
			texts = append(texts, Substitute(step.Question, external, state.Data))
			state.WaitingInput = true
			return &models.FlowResult{Text: joinTexts(texts), Delay: delay, Continue: true}

		case models.StepTypeAIResponse:
			if step.Text != "" {
				texts = append(texts, Substitute(step.Text, external, state.Data))
			}
			state.WaitingInput = true
			return &models.FlowResult{Text: joinTexts(texts), Delay: delay, Continue: true}

		case models.StepTypeAction:
			return e.performAction(ctx, snap, state, step, texts, delay, external)

		case models.StepTypeCondition:
			target := step.Condition.FalseID
			if evalCondition(step.Condition, external, state.Data) {
				target = step.Condition.TrueID
			}
			e.advance(flow, state, target)

		default:
			// Unreachable for validated configurations.
			return e.fatal(snap, state.Identity, "unknown_step")
		}
	}

	slog.Error("flow.Engine.runSteps: step chain exceeded hop limit", "identity", state.Identity, "flow", flow.ID)
	return e.fatal(snap, state.Identity, "step_cycle")
}

// consume interprets the inbound message as input to the current waiting step.
func (e *Engine) consume(ctx context.Context, snap *config.Config, state *models.UserFlowState, step *models.Step, input string, external map[string]string) *models.FlowResult {
	switch step.Type {
	case models.StepTypeMenu:
		return e.consumeMenu(ctx, snap, state, step, input, external)
	case models.StepTypeQuickReply:
		return e.consumeQuickReply(ctx, snap, state, step, input, external)
	case models.StepTypeCaptureData:
		return e.consumeCapture(ctx, snap, state, step, input, external)
	case models.StepTypeAIResponse:
		return e.consumeAIResponse(ctx, snap, state, step, input, external)
	default:
		return e.fatal(snap, state.Identity, "unknown_step")
	}
}

func (e *Engine) consumeMenu(ctx context.Context, snap *config.Config, state *models.UserFlowState, step *models.Step, input string, external map[string]string) *models.FlowResult {
	opt := optionByID(step, input)
	if opt == nil {
		return e.retryOrTransfer(snap, state, snap.Retry.RetryMessage+"\n\n"+renderOptions(step, external, state.Data))
	}
	state.Retries = 0
	state.Data[step.ID] = opt.ID
	return e.dispatchOption(ctx, snap, state, step, opt, external)
}

func (e *Engine) consumeQuickReply(ctx context.Context, snap *config.Config, state *models.UserFlowState, step *models.Step, input string, external map[string]string) *models.FlowResult {
	opt := optionByID(step, input)
	if opt == nil {
		opt = optionByLabel(step, input)
	}
	if opt == nil {
		// Quick replies re-prompt without consuming a retry slot.
		return &models.FlowResult{
			Text:     snap.Retry.RetryMessage + "\n\n" + renderOptions(step, external, state.Data),
			Continue: true,
		}
	}
	state.Retries = 0
	state.Data[step.ID] = opt.ID

	if opt.NextID == "main_flow" || opt.FlowID == "main_flow" {
		delete(e.states, state.Identity)
		fresh := &models.UserFlowState{
			Identity:  state.Identity,
			FlowID:    snap.Mode,
			Data:      make(map[string]string),
			UpdatedAt: time.Now(),
		}
		e.states[state.Identity] = fresh
		res := e.runSteps(ctx, snap, fresh, external)
		res.Restart = true
		return res
	}
	return e.dispatchOption(ctx, snap, state, step, opt, external)
}

// dispatchOption realizes the selected option of a menu or quick_reply step.
func (e *Engine) dispatchOption(ctx context.Context, snap *config.Config, state *models.UserFlowState, step *models.Step, opt *models.StepOption, external map[string]string) *models.FlowResult {
	flow := snap.Flow(state.FlowID)
	switch opt.Action {
	case models.ActionGotoFlow:
		state.FlowID = opt.FlowID
		state.StepIndex = 0
		state.WaitingInput = false
		return e.runSteps(ctx, snap, state, external)
	case models.ActionTransferHuman:
		delete(e.states, state.Identity)
		e.observeHandoff("menu_option")
		return &models.FlowResult{Text: snap.Retry.FallbackMessage, Action: models.ActionTransferHuman}
	case models.ActionTransferDepartment:
		delete(e.states, state.Identity)
		e.observeHandoff("department")
		return &models.FlowResult{
			Text:       departmentMessage(snap, opt.Department),
			Action:     models.ActionTransferDepartment,
			Department: opt.Department,
		}
	}
	if opt.NextID == "" {
		return e.complete(state, nil, 0)
	}
	state.WaitingInput = false
	e.advance(flow, state, opt.NextID)
	return e.runSteps(ctx, snap, state, external)
}

func (e *Engine) consumeCapture(ctx context.Context, snap *config.Config, state *models.UserFlowState, step *models.Step, input string, external map[string]string) *models.FlowResult {
	normalized, err := ValidateInput(step.Validator, input)
	if err != nil {
		message := err.Error() + "\n\n" + Substitute(step.Question, external, state.Data)
		return e.retryOrTransfer(snap, state, message)
	}

	state.Retries = 0
	state.Data[step.Field] = normalized
	if step.SaveContext {
		if serr := e.store.SaveUserContext(state.Identity, map[string]string{step.Field: normalized}); serr != nil {
			slog.Warn("flow.Engine.consumeCapture: failed to save user context", "identity", state.Identity, "field", step.Field, "error", serr)
		}
	}

	if step.NextID == "" {
		return e.complete(state, nil, 0)
	}
	state.WaitingInput = false
	e.advance(snap.Flow(state.FlowID), state, step.NextID)
	return e.runSteps(ctx, snap, state, external)
}

func (e *Engine) consumeAIResponse(ctx context.Context, snap *config.Config, state *models.UserFlowState, step *models.Step, input string, external map[string]string) *models.FlowResult {
	if !snap.Matching.Enabled || e.matcher == nil {
		return e.aiFallback(ctx, snap, state, step, external, 0)
	}

	match := e.matcher.Match(ctx, input, state.Identity)
	threshold := step.Threshold
	if threshold == 0 {
		threshold = snap.Matching.MinConfidence
	}

	if match.NeedsHumanHandoff || match.Confidence < threshold {
		return e.aiFallback(ctx, snap, state, step, external, match.Confidence)
	}

	e.matcher.MaybeAutoLearn(ctx, input, match.Text, match.Confidence)

	if step.NextID != "" {
		state.WaitingInput = false
		e.advance(snap.Flow(state.FlowID), state, step.NextID)
		res := e.runSteps(ctx, snap, state, external, match.Text)
		res.Confidence = match.Confidence
		return res
	}
	// No next target: remain on this step for the next utterance.
	return &models.FlowResult{Text: match.Text, Confidence: match.Confidence, Continue: true}
}

// aiFallback routes a low-confidence or disabled ai_response step to its
// fallback branch, or hands off when no branch is configured.
func (e *Engine) aiFallback(ctx context.Context, snap *config.Config, state *models.UserFlowState, step *models.Step, external map[string]string, confidence float64) *models.FlowResult {
	if step.FallbackID != "" {
		state.WaitingInput = false
		e.advance(snap.Flow(state.FlowID), state, step.FallbackID)
		res := e.runSteps(ctx, snap, state, external)
		res.Confidence = confidence
		return res
	}
	delete(e.states, state.Identity)
	e.observeHandoff("low_confidence")
	return &models.FlowResult{
		Text:       snap.Matching.FallbackResponse,
		Action:     models.ActionTransferHuman,
		Confidence: confidence,
	}
}

// performAction realizes an action step. Transfers always terminate the flow;
// document/notification actions chain into their next step when one exists.
func (e *Engine) performAction(ctx context.Context, snap *config.Config, state *models.UserFlowState, step *models.Step, texts []string, delay int, external map[string]string) *models.FlowResult {
	if step.Text != "" {
		texts = append(texts, Substitute(step.Text, external, state.Data))
	}
	dept := step.ActionParams["department"]

	switch step.Action {
	case models.ActionTransferHuman:
		delete(e.states, state.Identity)
		e.observeHandoff("action_step")
		return &models.FlowResult{Text: joinTexts(texts), Delay: delay, Action: models.ActionTransferHuman}
	case models.ActionTransferDepartment:
		delete(e.states, state.Identity)
		e.observeHandoff("department")
		if msg := departmentMessage(snap, dept); msg != "" {
			texts = append(texts, msg)
		}
		return &models.FlowResult{Text: joinTexts(texts), Delay: delay, Action: models.ActionTransferDepartment, Department: dept}
	case models.ActionGenerateDocument, models.ActionSendNotification:
		if step.NextID == "" {
			delete(e.states, state.Identity)
			return &models.FlowResult{Text: joinTexts(texts), Delay: delay, Action: step.Action, Department: dept}
		}
		e.advance(snap.Flow(state.FlowID), state, step.NextID)
		res := e.runSteps(ctx, snap, state, external, texts...)
		if res.Action == models.ActionNone {
			res.Action = step.Action
			res.Department = dept
		}
		if res.Delay < delay {
			res.Delay = delay
		}
		return res
	default:
		return e.fatal(snap, state.Identity, "unknown_action")
	}
}

// retryOrTransfer applies the shared retry policy of validated steps: retries
// at or beyond the maximum clear the state and hand off to a human.
func (e *Engine) retryOrTransfer(snap *config.Config, state *models.UserFlowState, prompt string) *models.FlowResult {
	state.Retries++
	if state.Retries >= snap.Retry.MaxRetries {
		slog.Info("flow.Engine.retryOrTransfer: retries exhausted, handing off", "identity", state.Identity, "retries", state.Retries)
		delete(e.states, state.Identity)
		e.observeHandoff("max_retries")
		return &models.FlowResult{Text: snap.Retry.FallbackMessage, Action: models.ActionTransferHuman}
	}
	return &models.FlowResult{Text: prompt, Continue: true}
}

// complete ends the flow and releases the identity's state.
func (e *Engine) complete(state *models.UserFlowState, texts []string, delay int) *models.FlowResult {
	delete(e.states, state.Identity)
	slog.Debug("flow.Engine: flow completed", "identity", state.Identity, "flow", state.FlowID)
	return &models.FlowResult{Text: joinTexts(texts), Delay: delay}
}

// fatal is the terminal path for unrecoverable per-message errors: apology,
// state cleared, transfer to a human.
func (e *Engine) fatal(snap *config.Config, identity, reason string) *models.FlowResult {
	delete(e.states, identity)
	e.observeHandoff(reason)
	return &models.FlowResult{
		Text:   snap.ApologyMessage,
		Action: models.ActionTransferHuman,
		Error:  true,
	}
}

func (e *Engine) advance(flow *models.FlowDefinition, state *models.UserFlowState, target string) {
	idx := flow.StepByID(target)
	if idx < 0 {
		// Targets are validated at load time.
		panic("flow: dangling step target " + target)
	}
	state.StepIndex = idx
	state.UpdatedAt = time.Now()
}

func (e *Engine) observeStep(flowID string, step *models.Step) {
	if e.met != nil {
		e.met.StepTransitions.WithLabelValues(flowID, string(step.Type)).Inc()
	}
	slog.Debug("flow.Engine: entering step", "flow", flowID, "step", step.ID, "type", step.Type)
}

func (e *Engine) observeHandoff(reason string) {
	if e.met != nil {
		e.met.Handoffs.WithLabelValues(reason).Inc()
	}
}

// evalCondition evaluates a `source.field operator value` expression. The
// path prefix selects external context ("context.") or flow data ("data.");
// a bare field name checks context first, then data.
func evalCondition(c *models.Condition, external, data map[string]string) bool {
	source, field, found := strings.Cut(c.Path, ".")
	var value string
	var ok bool
	switch {
	case found && source == "context":
		value, ok = external[field]
	case found && source == "data":
		value, ok = data[field]
	default:
		if value, ok = external[c.Path]; !ok {
			value, ok = data[c.Path]
		}
	}

	switch c.Operator {
	case models.ConditionExists:
		return ok && value != ""
	case models.ConditionEquals:
		return ok && strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(c.Value))
	case models.ConditionContains:
		return ok && strings.Contains(strings.ToLower(value), strings.ToLower(c.Value))
	default:
		return false
	}
}

func optionByID(step *models.Step, input string) *models.StepOption {
	for i := range step.Options {
		if strings.EqualFold(step.Options[i].ID, strings.TrimSpace(input)) {
			return &step.Options[i]
		}
	}
	return nil
}

// optionByLabel matches the reply against option labels case-insensitively:
// either string may contain the other.
func optionByLabel(step *models.Step, input string) *models.StepOption {
	needle := strings.ToLower(strings.TrimSpace(input))
	if needle == "" {
		return nil
	}
	for i := range step.Options {
		label := strings.ToLower(step.Options[i].Label)
		if label == "" {
			continue
		}
		if strings.Contains(label, needle) || strings.Contains(needle, label) {
			return &step.Options[i]
		}
	}
	return nil
}

// renderOptions renders a menu or quick_reply prompt with its numbered
// option list.
func renderOptions(step *models.Step, external, data map[string]string) string {
	var b strings.Builder
	if step.Text != "" {
		b.WriteString(Substitute(step.Text, external, data))
		b.WriteString("\n\n")
	}
	for i, opt := range step.Options {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(opt.ID)
		b.WriteString(" - ")
		b.WriteString(Substitute(opt.Label, external, data))
	}
	return b.String()
}

func joinTexts(texts []string) string {
	var kept []string
	for _, t := range texts {
		if t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, "\n\n")
}

func departmentMessage(snap *config.Config, id string) string {
	if d := snap.DepartmentByID(id); d != nil && d.Message != "" {
		return d.Message
	}
	return config.DefaultFallbackMessage
}
