// Package models defines flow type definitions to avoid circular imports.
package models

import (
	"errors"
	"fmt"
	"time"
)

// StepType identifies the behavior variant of a flow step.
type StepType string

const (
	StepTypeMessage     StepType = "message"
	StepTypeMenu        StepType = "menu"
	StepTypeCaptureData StepType = "capture_data"
	StepTypeQuickReply  StepType = "quick_reply"
	StepTypeAIResponse  StepType = "ai_response"
	StepTypeAction      StepType = "action"
	StepTypeCondition   StepType = "condition"
)

// IsValidStepType checks if the given step type is supported.
func IsValidStepType(st StepType) bool {
	switch st {
	case StepTypeMessage, StepTypeMenu, StepTypeCaptureData, StepTypeQuickReply,
		StepTypeAIResponse, StepTypeAction, StepTypeCondition:
		return true
	default:
		return false
	}
}

// ActionType identifies a named side effect a flow can trigger.
type ActionType string

const (
	ActionNone               ActionType = ""
	ActionTransferHuman      ActionType = "transfer_human"
	ActionTransferDepartment ActionType = "transfer_department"
	ActionGenerateDocument   ActionType = "generate_document"
	ActionSendNotification   ActionType = "send_notification"
	// ActionGotoFlow switches the conversation to another flow. Only valid
	// inside menu/quick_reply options.
	ActionGotoFlow ActionType = "goto"
)

// IsValidActionType checks if the given action type is supported for action steps.
func IsValidActionType(at ActionType) bool {
	switch at {
	case ActionTransferHuman, ActionTransferDepartment, ActionGenerateDocument, ActionSendNotification:
		return true
	default:
		return false
	}
}

// ValidatorType names the validator applied to captured input.
type ValidatorType string

const (
	ValidatorText    ValidatorType = "text"
	ValidatorEmail   ValidatorType = "email"
	ValidatorPhone   ValidatorType = "phone"
	ValidatorCPF     ValidatorType = "cpf"
	ValidatorCNPJ    ValidatorType = "cnpj"
	ValidatorCPFCNPJ ValidatorType = "cpf_cnpj"
	ValidatorNumber  ValidatorType = "number"
	ValidatorFree    ValidatorType = "free"
)

// IsValidValidatorType checks if the given validator name is supported.
func IsValidValidatorType(vt ValidatorType) bool {
	switch vt {
	case ValidatorText, ValidatorEmail, ValidatorPhone, ValidatorCPF,
		ValidatorCNPJ, ValidatorCPFCNPJ, ValidatorNumber, ValidatorFree:
		return true
	default:
		return false
	}
}

// ConditionOperator is the operator of a condition step expression.
type ConditionOperator string

const (
	ConditionExists   ConditionOperator = "exists"
	ConditionEquals   ConditionOperator = "equals"
	ConditionContains ConditionOperator = "contains"
)

// StepOption is one selectable option of a menu or quick_reply step.
type StepOption struct {
	ID         string     `yaml:"id" json:"id"`
	Label      string     `yaml:"label" json:"label"`
	NextID     string     `yaml:"next,omitempty" json:"next,omitempty"`
	Action     ActionType `yaml:"action,omitempty" json:"action,omitempty"`
	Department string     `yaml:"department,omitempty" json:"department,omitempty"`
	FlowID     string     `yaml:"flow,omitempty" json:"flow,omitempty"` // target for goto
}

// Condition is the single expression evaluated by a condition step.
// Path selects the source: "context.<field>" or "data.<field>".
type Condition struct {
	Path     string            `yaml:"path" json:"path"`
	Operator ConditionOperator `yaml:"operator" json:"operator"`
	Value    string            `yaml:"value,omitempty" json:"value,omitempty"`
	TrueID   string            `yaml:"if_true" json:"if_true"`
	FalseID  string            `yaml:"if_false" json:"if_false"`
}

// Step is one unit of flow behavior. Type-specific fields are populated
// according to Type; Validate enforces the closed variant set at load time.
type Step struct {
	ID           string            `yaml:"id" json:"id"`
	Type         StepType          `yaml:"type" json:"type"`
	Text         string            `yaml:"text,omitempty" json:"text,omitempty"`
	Question     string            `yaml:"question,omitempty" json:"question,omitempty"`
	Field        string            `yaml:"field,omitempty" json:"field,omitempty"`
	Validator    ValidatorType     `yaml:"validator,omitempty" json:"validator,omitempty"`
	SaveContext  bool              `yaml:"save_context,omitempty" json:"save_context,omitempty"`
	Options      []StepOption      `yaml:"options,omitempty" json:"options,omitempty"`
	Threshold    float64           `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	FallbackID   string            `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	NextID       string            `yaml:"next,omitempty" json:"next,omitempty"`
	Action       ActionType        `yaml:"action,omitempty" json:"action,omitempty"`
	ActionParams map[string]string `yaml:"action_params,omitempty" json:"action_params,omitempty"`
	Condition    *Condition        `yaml:"condition,omitempty" json:"condition,omitempty"`
	Delay        int               `yaml:"delay,omitempty" json:"delay,omitempty"` // milliseconds before sending
}

// Validate checks the type-specific requirements of a step.
func (s *Step) Validate() error {
	if s.ID == "" {
		return errors.New("step id is required")
	}
	if !IsValidStepType(s.Type) {
		return fmt.Errorf("step %s: unknown step type %q", s.ID, s.Type)
	}
	switch s.Type {
	case StepTypeMessage:
		if s.Text == "" {
			return fmt.Errorf("step %s: message step requires text", s.ID)
		}
	case StepTypeMenu, StepTypeQuickReply:
		if len(s.Options) == 0 {
			return fmt.Errorf("step %s: %s step requires options", s.ID, s.Type)
		}
		for _, opt := range s.Options {
			if opt.ID == "" {
				return fmt.Errorf("step %s: option id is required", s.ID)
			}
			if opt.Action == ActionGotoFlow && opt.FlowID == "" {
				return fmt.Errorf("step %s: option %s: goto requires a target flow", s.ID, opt.ID)
			}
		}
	case StepTypeCaptureData:
		if s.Question == "" {
			return fmt.Errorf("step %s: capture_data step requires a question", s.ID)
		}
		if s.Field == "" {
			return fmt.Errorf("step %s: capture_data step requires a field name", s.ID)
		}
		if s.Validator != "" && !IsValidValidatorType(s.Validator) {
			return fmt.Errorf("step %s: unknown validator %q", s.ID, s.Validator)
		}
	case StepTypeAIResponse:
		if s.Threshold < 0 || s.Threshold > 1 {
			return fmt.Errorf("step %s: threshold must be in [0,1]", s.ID)
		}
	case StepTypeAction:
		if !IsValidActionType(s.Action) {
			return fmt.Errorf("step %s: unknown action %q", s.ID, s.Action)
		}
	case StepTypeCondition:
		if s.Condition == nil {
			return fmt.Errorf("step %s: condition step requires a condition", s.ID)
		}
		switch s.Condition.Operator {
		case ConditionExists, ConditionEquals, ConditionContains:
		default:
			return fmt.Errorf("step %s: unknown condition operator %q", s.ID, s.Condition.Operator)
		}
		if s.Condition.TrueID == "" || s.Condition.FalseID == "" {
			return fmt.Errorf("step %s: condition step requires if_true and if_false targets", s.ID)
		}
	}
	return nil
}

// FlowDefinition is a named, immutable, ordered set of steps.
type FlowDefinition struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// StepByID returns the index of the step with the given id, or -1.
func (f *FlowDefinition) StepByID(id string) int {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// StepEvent is one entry of a user's step history.
type StepEvent struct {
	StepID    string    `json:"step_id"`
	Input     string    `json:"input"`
	Timestamp time.Time `json:"timestamp"`
}

// UserFlowState is the per-identity conversation state. Owned exclusively by
// the flow engine; mutated only while processing that identity's message.
type UserFlowState struct {
	Identity     string            `json:"identity"`
	FlowID       string            `json:"flow_id"`
	StepIndex    int               `json:"step_index"`
	WaitingInput bool              `json:"waiting_input"`
	Retries      int               `json:"retries"`
	Data         map[string]string `json:"data"`
	History      []StepEvent       `json:"history"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// FlowResult is what the decision engine returns to the transport for one
// inbound message.
type FlowResult struct {
	Text       string     `json:"text,omitempty"`
	Delay      int        `json:"delay,omitempty"` // milliseconds
	Action     ActionType `json:"action,omitempty"`
	Department string     `json:"department,omitempty"`
	Continue   bool       `json:"continue"`
	Restart    bool       `json:"restart"`
	Error      bool       `json:"error"`
	Confidence float64    `json:"confidence,omitempty"`
}
