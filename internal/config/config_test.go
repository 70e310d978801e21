package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zapdesk/zapdesk/internal/models"
)

const validYAML = `
mode: main
flows:
  - id: main
    name: Atendimento
    steps:
      - id: welcome
        type: message
        text: "Olá {name}! Bem-vindo."
        next: menu
      - id: menu
        type: menu
        text: "Escolha uma opção:"
        options:
          - id: "1"
            label: Vendas
            action: transfer_department
            department: vendas
          - id: "2"
            label: Suporte
            next: ask_email
      - id: ask_email
        type: capture_data
        question: "Qual seu e-mail?"
        field: email
        validator: email
        next: ai
      - id: ai
        type: ai_response
        threshold: 0.7
        fallback: handoff
      - id: handoff
        type: action
        action: transfer_human
departments:
  - id: vendas
    name: Vendas
    message: "Transferindo para o time de vendas."
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Mode != "main" {
		t.Errorf("expected mode main, got %q", cfg.Mode)
	}
	if cfg.Flow("main") == nil {
		t.Fatal("expected main flow indexed")
	}
	if cfg.DepartmentByID("vendas") == nil {
		t.Error("expected vendas department indexed")
	}

	// Defaults applied.
	if cfg.Retry.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected default max retries %d, got %d", DefaultMaxRetries, cfg.Retry.MaxRetries)
	}
	if cfg.Matching.WeightJaccard != 0.30 || cfg.Matching.WeightContext != 0.10 {
		t.Errorf("expected default weights, got %+v", cfg.Matching)
	}
	if cfg.Matching.AutoLearnThreshold != DefaultAutoLearnThreshold {
		t.Errorf("expected default auto-learn threshold, got %f", cfg.Matching.AutoLearnThreshold)
	}
}

func TestParseRejectsUnknownVariants(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"unknown step type",
			"flows:\n  - id: f\n    steps:\n      - id: s\n        type: teleport\n",
			"unknown step type",
		},
		{
			"unknown action",
			"flows:\n  - id: f\n    steps:\n      - id: s\n        type: action\n        action: launch\n",
			"unknown action",
		},
		{
			"dangling next",
			"flows:\n  - id: f\n    steps:\n      - id: s\n        type: message\n        text: oi\n        next: nowhere\n",
			"unknown step",
		},
		{
			"unknown mode flow",
			"mode: missing\nflows:\n  - id: f\n    steps:\n      - id: s\n        type: message\n        text: oi\n",
			"unknown flow",
		},
		{
			"duplicate step id",
			"flows:\n  - id: f\n    steps:\n      - id: s\n        type: message\n        text: a\n      - id: s\n        type: message\n        text: b\n",
			"duplicate step id",
		},
		{
			"unknown department",
			"flows:\n  - id: f\n    steps:\n      - id: s\n        type: menu\n        options:\n          - id: \"1\"\n            action: transfer_department\n            department: juridico\n",
			"unknown department",
		},
	}

	for _, tc := range cases {
		_, err := Parse([]byte(tc.yaml))
		if err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestQuickReplyMainFlowTargetAllowed(t *testing.T) {
	y := `
flows:
  - id: f
    steps:
      - id: s
        type: quick_reply
        text: "Deseja mais alguma coisa?"
        options:
          - id: sim
            label: Sim
            next: main_flow
          - id: nao
            label: "Não"
            next: s
`
	if _, err := Parse([]byte(y)); err != nil {
		t.Fatalf("expected main_flow target accepted, got %v", err)
	}
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zapdesk.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	mgr := NewManager(path, cfg)

	updated := strings.Replace(validYAML, "Bem-vindo", "Olá de novo", 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	flow := mgr.Current().Flow("main")
	if flow == nil || !strings.Contains(flow.Steps[0].Text, "Olá de novo") {
		t.Error("expected reloaded snapshot active")
	}

	// A broken file keeps the previous snapshot.
	if err := os.WriteFile(path, []byte("flows: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Reload(); err == nil {
		t.Fatal("expected reload error for empty flows")
	}
	if mgr.Current().Flow("main") == nil {
		t.Error("expected previous snapshot retained after failed reload")
	}
}

func TestStepOptionGotoValidation(t *testing.T) {
	y := `
flows:
  - id: f
    steps:
      - id: s
        type: menu
        options:
          - id: "1"
            action: goto
            flow: other
  - id: other
    steps:
      - id: start
        type: message
        text: oi
`
	cfg, err := Parse([]byte(y))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Flow("other") == nil {
		t.Error("expected other flow present")
	}

	bad := strings.Replace(y, "flow: other", "flow: missing", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Error("expected error for goto to unknown flow")
	}

	// Sanity: models constant matches the YAML literal used above.
	if models.ActionGotoFlow != "goto" {
		t.Errorf("unexpected goto constant %q", models.ActionGotoFlow)
	}
}
