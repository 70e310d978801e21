// Package config loads and validates the ZapDesk conversational configuration.
//
// The configuration is a YAML document declaring flow definitions, matching
// engine weights and thresholds, retry policy, and the department table. It
// supports hot replacement: Manager holds an immutable snapshot that can be
// swapped atomically by Reload.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zapdesk/zapdesk/internal/models"
)

// Default values applied when the YAML omits a setting.
const (
	DefaultMaxRetries         = 3
	DefaultMinConfidence      = 0.5
	DefaultPublishThreshold   = 0.6
	DefaultAutoLearnThreshold = 0.85
	DefaultCacheTTL           = 30 * time.Minute
	DefaultCacheSize          = 500
	DefaultContextWindow      = 10
	DefaultRetryMessage       = "Desculpe, não entendi. Pode tentar novamente?"
	DefaultFallbackMessage    = "Vou transferir você para um de nossos atendentes. Um momento, por favor."
	DefaultApologyMessage     = "Desculpe, tivemos um problema ao processar sua mensagem. Vou chamar um atendente para ajudar."
	DefaultUnknownMessage     = "Ainda não sei responder isso, mas vou encaminhar sua dúvida."
)

// Matching holds the matching engine weights and thresholds.
type Matching struct {
	Enabled            bool    `yaml:"enabled"`
	LearningEnabled    bool    `yaml:"learning_enabled"`
	MinConfidence      float64 `yaml:"min_confidence"`
	PublishThreshold   float64 `yaml:"publish_threshold"`
	AutoLearnThreshold float64 `yaml:"auto_learn_threshold"`
	WeightJaccard      float64 `yaml:"weight_jaccard"`
	WeightLevenshtein  float64 `yaml:"weight_levenshtein"`
	WeightJaroWinkler  float64 `yaml:"weight_jaro_winkler"`
	WeightClassifier   float64 `yaml:"weight_classifier"`
	WeightContext      float64 `yaml:"weight_context"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	CacheSize          int           `yaml:"cache_size"`
	ContextWindow      int           `yaml:"context_window"`
	FallbackResponse   string        `yaml:"fallback_response"`
}

// Retry holds the retry policy applied by validated steps.
type Retry struct {
	MaxRetries      int    `yaml:"max_retries"`
	RetryMessage    string `yaml:"retry_message"`
	FallbackMessage string `yaml:"fallback_message"`
}

// Department is one entry of the hand-off routing table.
type Department struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Message string `yaml:"message"` // announcement sent when transferring here
}

// Config is one immutable configuration snapshot.
type Config struct {
	Mode        string                  `yaml:"mode"` // flow id started for new conversations
	Flows       []models.FlowDefinition `yaml:"flows"`
	Matching    Matching                `yaml:"matching"`
	Retry       Retry                   `yaml:"retry"`
	Departments []Department            `yaml:"departments"`
	// ApologyMessage is sent on unrecoverable per-message errors.
	ApologyMessage string `yaml:"apology_message"`

	flowIndex map[string]*models.FlowDefinition
	deptIndex map[string]*Department
}

// Load reads, parses, validates and indexes a configuration file.
func Load(path string) (*Config, error) {
	slog.Debug("config.Load: reading configuration", "path", path)
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Error("config.Load: failed to read configuration file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(raw)
}

// Parse parses and validates a YAML configuration document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.buildIndices()
	slog.Info("config.Parse: configuration loaded", "flows", len(cfg.Flows), "departments", len(cfg.Departments), "mode", cfg.Mode)
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = DefaultMaxRetries
	}
	if c.Retry.RetryMessage == "" {
		c.Retry.RetryMessage = DefaultRetryMessage
	}
	if c.Retry.FallbackMessage == "" {
		c.Retry.FallbackMessage = DefaultFallbackMessage
	}
	if c.ApologyMessage == "" {
		c.ApologyMessage = DefaultApologyMessage
	}
	m := &c.Matching
	if m.MinConfidence == 0 {
		m.MinConfidence = DefaultMinConfidence
	}
	if m.PublishThreshold == 0 {
		m.PublishThreshold = DefaultPublishThreshold
	}
	if m.AutoLearnThreshold == 0 {
		m.AutoLearnThreshold = DefaultAutoLearnThreshold
	}
	if m.WeightJaccard == 0 && m.WeightLevenshtein == 0 && m.WeightJaroWinkler == 0 &&
		m.WeightClassifier == 0 && m.WeightContext == 0 {
		m.WeightJaccard = 0.30
		m.WeightLevenshtein = 0.25
		m.WeightJaroWinkler = 0.20
		m.WeightClassifier = 0.15
		m.WeightContext = 0.10
	}
	if m.CacheTTL == 0 {
		m.CacheTTL = DefaultCacheTTL
	}
	if m.CacheSize == 0 {
		m.CacheSize = DefaultCacheSize
	}
	if m.ContextWindow == 0 {
		m.ContextWindow = DefaultContextWindow
	}
	if m.FallbackResponse == "" {
		m.FallbackResponse = DefaultUnknownMessage
	}
}

// validate enforces the closed step/action/validator variants and rejects
// dangling branch targets at load time, so unknown variants never reach the
// per-message path.
func (c *Config) validate() error {
	if len(c.Flows) == 0 {
		return fmt.Errorf("config: at least one flow is required")
	}

	flowIDs := make(map[string]bool, len(c.Flows))
	for i := range c.Flows {
		f := &c.Flows[i]
		if f.ID == "" {
			return fmt.Errorf("config: flow %d has no id", i)
		}
		if flowIDs[f.ID] {
			return fmt.Errorf("config: duplicate flow id %q", f.ID)
		}
		flowIDs[f.ID] = true
		if len(f.Steps) == 0 {
			return fmt.Errorf("config: flow %s has no steps", f.ID)
		}
	}

	if c.Mode == "" {
		c.Mode = c.Flows[0].ID
	}
	if !flowIDs[c.Mode] {
		return fmt.Errorf("config: mode references unknown flow %q", c.Mode)
	}

	deptIDs := make(map[string]bool, len(c.Departments))
	for _, d := range c.Departments {
		if d.ID == "" {
			return fmt.Errorf("config: department with empty id")
		}
		deptIDs[d.ID] = true
	}

	for i := range c.Flows {
		f := &c.Flows[i]
		stepIDs := make(map[string]bool, len(f.Steps))
		for j := range f.Steps {
			s := &f.Steps[j]
			if err := s.Validate(); err != nil {
				return fmt.Errorf("config: flow %s: %w", f.ID, err)
			}
			if stepIDs[s.ID] {
				return fmt.Errorf("config: flow %s: duplicate step id %q", f.ID, s.ID)
			}
			stepIDs[s.ID] = true
		}
		for j := range f.Steps {
			s := &f.Steps[j]
			if err := checkTarget(f.ID, s.ID, "next", s.NextID, stepIDs); err != nil {
				return err
			}
			if err := checkTarget(f.ID, s.ID, "fallback", s.FallbackID, stepIDs); err != nil {
				return err
			}
			if s.Condition != nil {
				if err := checkTarget(f.ID, s.ID, "if_true", s.Condition.TrueID, stepIDs); err != nil {
					return err
				}
				if err := checkTarget(f.ID, s.ID, "if_false", s.Condition.FalseID, stepIDs); err != nil {
					return err
				}
			}
			for _, opt := range s.Options {
				// main_flow is the reserved full-reset target of quick replies.
				if opt.NextID != "" && opt.NextID != "main_flow" {
					if err := checkTarget(f.ID, s.ID, "option "+opt.ID, opt.NextID, stepIDs); err != nil {
						return err
					}
				}
				if opt.Action == models.ActionGotoFlow && !flowIDs[opt.FlowID] {
					return fmt.Errorf("config: flow %s step %s: option %s targets unknown flow %q", f.ID, s.ID, opt.ID, opt.FlowID)
				}
				if opt.Action == models.ActionTransferDepartment && opt.Department != "" && !deptIDs[opt.Department] {
					return fmt.Errorf("config: flow %s step %s: option %s targets unknown department %q", f.ID, s.ID, opt.ID, opt.Department)
				}
			}
		}
	}
	return nil
}

func checkTarget(flowID, stepID, kind, target string, stepIDs map[string]bool) error {
	if target == "" {
		return nil
	}
	if !stepIDs[target] {
		return fmt.Errorf("config: flow %s step %s: %s targets unknown step %q", flowID, stepID, kind, target)
	}
	return nil
}

func (c *Config) buildIndices() {
	c.flowIndex = make(map[string]*models.FlowDefinition, len(c.Flows))
	for i := range c.Flows {
		c.flowIndex[c.Flows[i].ID] = &c.Flows[i]
	}
	c.deptIndex = make(map[string]*Department, len(c.Departments))
	for i := range c.Departments {
		c.deptIndex[c.Departments[i].ID] = &c.Departments[i]
	}
}

// Flow returns the flow definition with the given id, or nil.
func (c *Config) Flow(id string) *models.FlowDefinition {
	return c.flowIndex[id]
}

// DepartmentByID returns the department with the given id, or nil.
func (c *Config) DepartmentByID(id string) *Department {
	return c.deptIndex[id]
}

// Manager holds the current configuration snapshot and supports hot reload.
type Manager struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// NewManager creates a Manager around an already loaded snapshot.
func NewManager(path string, cfg *Config) *Manager {
	return &Manager{path: path, cfg: cfg}
}

// Path returns the configuration file path backing Reload.
func (m *Manager) Path() string {
	return m.path
}

// Current returns the active configuration snapshot.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-reads the configuration file and swaps the snapshot atomically.
// On load failure the previous snapshot stays active.
func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		slog.Error("config.Manager.Reload: reload failed, keeping previous snapshot", "path", m.path, "error", err)
		return nil, err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	slog.Info("config.Manager.Reload: configuration replaced", "path", m.path, "flows", len(cfg.Flows))
	return cfg, nil
}

// Replace swaps the snapshot directly (used by tests and programmatic updates).
func (m *Manager) Replace(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}
