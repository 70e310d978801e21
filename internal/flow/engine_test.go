package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/store"
)

const flowYAML = `
mode: main
retry:
  max_retries: 3
  retry_message: "Opção inválida."
  fallback_message: "Transferindo você para um atendente."
matching:
  enabled: true
  min_confidence: 0.5
departments:
  - id: vendas
    name: Vendas
    message: "Encaminhando para o time de vendas."
flows:
  - id: main
    name: Principal
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
            label: Suporte
            next: ask_email
          - id: "2"
            label: Vendas
            action: transfer_department
            department: vendas
          - id: "3"
            label: Atendente
            action: transfer_human
          - id: "4"
            label: Pesquisa
            action: goto
            flow: quick
      - id: ask_email
        type: capture_data
        question: "Qual seu e-mail?"
        field: email
        validator: email
        save_context: true
        next: check_vip
      - id: check_vip
        type: condition
        condition:
          path: context.vip
          operator: equals
          value: "yes"
          if_true: vip_msg
          if_false: assist
      - id: vip_msg
        type: message
        text: "Atendimento prioritário para {email}."
        next: assist
      - id: assist
        type: ai_response
        text: "Pode escrever sua dúvida."
        threshold: 0.7
        fallback: bye
      - id: bye
        type: message
        text: "Até logo!"
  - id: quick
    name: Pesquisa
    steps:
      - id: qr
        type: quick_reply
        text: "Deseja continuar?"
        options:
          - id: "sim"
            label: "Sim, continuar"
            next: done
          - id: "nao"
            label: "Voltar ao início"
            next: main_flow
      - id: done
        type: message
        text: "Perfeito, obrigado!"
  - id: open
    name: Aberto
    steps:
      - id: chat
        type: ai_response
        threshold: 0.9
  - id: docs
    name: Documentos
    steps:
      - id: gen
        type: action
        action: generate_document
        text: "Gerando seu documento..."
        next: sent
      - id: sent
        type: message
        text: "Documento enviado."
`

func testManager(t *testing.T, mode string) *config.Manager {
	t.Helper()
	yaml := strings.Replace(flowYAML, "mode: main", "mode: "+mode, 1)
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("config.Parse failed: %v", err)
	}
	return config.NewManager("", cfg)
}

type stubMatcher struct {
	result       *models.ResponseMatch
	matchCalls   int
	autoLearned  []string
}

func (s *stubMatcher) Match(ctx context.Context, rawText, identity string) *models.ResponseMatch {
	s.matchCalls++
	return s.result
}

func (s *stubMatcher) MaybeAutoLearn(ctx context.Context, input, output string, confidence float64) bool {
	s.autoLearned = append(s.autoLearned, input)
	return true
}

func newTestEngine(t *testing.T, mode string, matcher Matcher) (*Engine, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	opts := []Option{}
	if matcher != nil {
		opts = append(opts, WithMatcher(matcher))
	}
	return NewEngine(testManager(t, mode), st, opts...), st
}

func TestProcessMessageStartsFlowAndWaits(t *testing.T) {
	eng, _ := newTestEngine(t, "main", nil)
	ctx := context.Background()

	res := eng.ProcessMessage(ctx, "user1", "oi", map[string]string{"name": "Ana"})
	if !strings.Contains(res.Text, "Olá Ana! Bem-vindo.") {
		t.Errorf("expected substituted welcome, got %q", res.Text)
	}
	if !strings.Contains(res.Text, "1 - Suporte") {
		t.Errorf("expected menu options rendered, got %q", res.Text)
	}
	if !res.Continue {
		t.Error("expected flow to continue")
	}

	state, ok := eng.StateFor("user1")
	if !ok {
		t.Fatal("expected live state after first message")
	}
	if !state.WaitingInput {
		t.Error("expected waitingInput=true at menu step")
	}
}

func TestMenuRetriesThenTransfersHuman(t *testing.T) {
	eng, _ := newTestEngine(t, "main", nil)
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)

	for attempt := 1; attempt <= 2; attempt++ {
		res := eng.ProcessMessage(ctx, "user1", "9", nil)
		if res.Action != models.ActionNone {
			t.Fatalf("attempt %d: expected re-prompt, got action %q", attempt, res.Action)
		}
		if !strings.Contains(res.Text, "Opção inválida.") {
			t.Errorf("attempt %d: expected retry message, got %q", attempt, res.Text)
		}
		state, _ := eng.StateFor("user1")
		if state.Retries != attempt {
			t.Errorf("attempt %d: retries = %d", attempt, state.Retries)
		}
		if !state.WaitingInput {
			t.Errorf("attempt %d: expected still waiting", attempt)
		}
	}

	res := eng.ProcessMessage(ctx, "user1", "9", nil)
	if res.Action != models.ActionTransferHuman {
		t.Fatalf("third invalid reply must transfer, got %q", res.Action)
	}
	if _, ok := eng.StateFor("user1"); ok {
		t.Error("expected state cleared after retry exhaustion")
	}
}

func TestMenuTransferDepartment(t *testing.T) {
	eng, _ := newTestEngine(t, "main", nil)
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)

	res := eng.ProcessMessage(ctx, "user1", "2", nil)
	if res.Action != models.ActionTransferDepartment || res.Department != "vendas" {
		t.Fatalf("expected vendas transfer, got %q/%q", res.Action, res.Department)
	}
	if !strings.Contains(res.Text, "time de vendas") {
		t.Errorf("expected department announcement, got %q", res.Text)
	}
	if _, ok := eng.StateFor("user1"); ok {
		t.Error("expected state cleared after department transfer")
	}
}

func TestCaptureDataValidatesAndSavesContext(t *testing.T) {
	eng, st := newTestEngine(t, "main", nil)
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)
	eng.ProcessMessage(ctx, "user1", "1", nil)

	res := eng.ProcessMessage(ctx, "user1", "não tenho", nil)
	if !strings.Contains(res.Text, "E-mail inválido") {
		t.Errorf("expected validator error text, got %q", res.Text)
	}
	state, _ := eng.StateFor("user1")
	if state.Retries != 1 {
		t.Errorf("invalid capture must consume a retry, got %d", state.Retries)
	}

	res = eng.ProcessMessage(ctx, "user1", "Ana@Example.com", nil)
	if !strings.Contains(res.Text, "Pode escrever sua dúvida.") {
		t.Errorf("expected flow to reach the open step, got %q", res.Text)
	}
	state, _ = eng.StateFor("user1")
	if state.Data["email"] != "ana@example.com" {
		t.Errorf("expected normalized email stored, got %q", state.Data["email"])
	}
	if state.Retries != 0 {
		t.Errorf("retry counter must reset on success, got %d", state.Retries)
	}

	saved, err := st.GetUserContext("user1")
	if err != nil {
		t.Fatalf("GetUserContext failed: %v", err)
	}
	if saved["email"] != "ana@example.com" {
		t.Errorf("expected email persisted to user context, got %v", saved)
	}
}

func TestConditionBranchesOnExternalContext(t *testing.T) {
	eng, _ := newTestEngine(t, "main", nil)
	ctx := context.Background()
	external := map[string]string{"vip": "yes"}

	eng.ProcessMessage(ctx, "user1", "oi", external)
	eng.ProcessMessage(ctx, "user1", "1", external)
	res := eng.ProcessMessage(ctx, "user1", "ana@example.com", external)
	if !strings.Contains(res.Text, "Atendimento prioritário para ana@example.com.") {
		t.Errorf("expected vip branch with substitution, got %q", res.Text)
	}

	eng2, _ := newTestEngine(t, "main", nil)
	eng2.ProcessMessage(ctx, "user2", "oi", nil)
	eng2.ProcessMessage(ctx, "user2", "1", nil)
	res = eng2.ProcessMessage(ctx, "user2", "ana@example.com", nil)
	if strings.Contains(res.Text, "prioritário") {
		t.Errorf("expected non-vip branch, got %q", res.Text)
	}
}

func TestEvalCondition(t *testing.T) {
	external := map[string]string{"city": "Recife"}
	data := map[string]string{"email": "ana@example.com"}
	cases := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"exists in context", models.Condition{Path: "context.city", Operator: models.ConditionExists}, true},
		{"exists missing", models.Condition{Path: "context.cpf", Operator: models.ConditionExists}, false},
		{"equals case-insensitive", models.Condition{Path: "context.city", Operator: models.ConditionEquals, Value: "recife"}, true},
		{"equals mismatch", models.Condition{Path: "context.city", Operator: models.ConditionEquals, Value: "Olinda"}, false},
		{"contains in data", models.Condition{Path: "data.email", Operator: models.ConditionContains, Value: "@example"}, true},
		{"bare path falls through to data", models.Condition{Path: "email", Operator: models.ConditionExists}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := evalCondition(&tc.cond, external, data); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAIResponseHighConfidence(t *testing.T) {
	matcher := &stubMatcher{result: &models.ResponseMatch{Text: "Atendemos de 9h às 18h.", Confidence: 0.9}}
	eng, _ := newTestEngine(t, "main", matcher)
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)
	eng.ProcessMessage(ctx, "user1", "1", nil)
	eng.ProcessMessage(ctx, "user1", "ana@example.com", nil)

	res := eng.ProcessMessage(ctx, "user1", "qual o horário de atendimento?", nil)
	if res.Text != "Atendemos de 9h às 18h." {
		t.Errorf("expected matcher reply, got %q", res.Text)
	}
	if res.Confidence != 0.9 {
		t.Errorf("expected confidence propagated, got %f", res.Confidence)
	}
	if len(matcher.autoLearned) != 1 {
		t.Errorf("expected auto-learn offered once, got %d", len(matcher.autoLearned))
	}
	// Without a next target the conversation stays on the open step.
	state, ok := eng.StateFor("user1")
	if !ok || !state.WaitingInput {
		t.Error("expected conversation still open on the same step")
	}
}

func TestAIResponseLowConfidenceTakesFallback(t *testing.T) {
	matcher := &stubMatcher{result: &models.ResponseMatch{Text: "?", Confidence: 0.2, NeedsHumanHandoff: true}}
	eng, _ := newTestEngine(t, "main", matcher)
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)
	eng.ProcessMessage(ctx, "user1", "1", nil)
	eng.ProcessMessage(ctx, "user1", "ana@example.com", nil)

	res := eng.ProcessMessage(ctx, "user1", "xyzzy plugh", nil)
	if !strings.Contains(res.Text, "Até logo!") {
		t.Errorf("expected fallback branch, got %q", res.Text)
	}
	if _, ok := eng.StateFor("user1"); ok {
		t.Error("expected state cleared after terminal fallback step")
	}
}

func TestAIResponseWithoutFallbackTransfersHuman(t *testing.T) {
	matcher := &stubMatcher{result: &models.ResponseMatch{Text: "?", Confidence: 0.2, NeedsHumanHandoff: true}}
	eng, _ := newTestEngine(t, "open", matcher)
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)

	res := eng.ProcessMessage(ctx, "user1", "xyzzy plugh", nil)
	if res.Action != models.ActionTransferHuman {
		t.Fatalf("expected human transfer without fallback branch, got %q", res.Action)
	}
	if _, ok := eng.StateFor("user1"); ok {
		t.Error("expected state cleared")
	}
}

func TestAIResponseSkipsToFallbackWhenMatchingDisabled(t *testing.T) {
	eng, _ := newTestEngine(t, "main", nil) // no matcher wired
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)
	eng.ProcessMessage(ctx, "user1", "1", nil)
	eng.ProcessMessage(ctx, "user1", "ana@example.com", nil)

	res := eng.ProcessMessage(ctx, "user1", "qualquer coisa", nil)
	if !strings.Contains(res.Text, "Até logo!") {
		t.Errorf("expected direct skip to fallback branch, got %q", res.Text)
	}
}

func TestQuickReplyMatchesSubstringWithoutRetries(t *testing.T) {
	eng, _ := newTestEngine(t, "quick", nil)
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)

	// Unknown reply re-prompts without consuming a retry slot.
	for i := 0; i < 5; i++ {
		res := eng.ProcessMessage(ctx, "user1", "hmm", nil)
		if res.Action != models.ActionNone {
			t.Fatalf("quick reply must never transfer on mismatch, got %q", res.Action)
		}
	}
	state, _ := eng.StateFor("user1")
	if state.Retries != 0 {
		t.Errorf("quick reply mismatches must not consume retries, got %d", state.Retries)
	}

	res := eng.ProcessMessage(ctx, "user1", "CONTINUAR", nil)
	if !strings.Contains(res.Text, "Perfeito, obrigado!") {
		t.Errorf("expected substring label match, got %q", res.Text)
	}
	if _, ok := eng.StateFor("user1"); ok {
		t.Error("expected flow completed")
	}
}

func TestQuickReplyMainFlowResets(t *testing.T) {
	eng, _ := newTestEngine(t, "quick", nil)
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)

	res := eng.ProcessMessage(ctx, "user1", "voltar", nil)
	if !res.Restart {
		t.Error("expected restart signalled")
	}
	if !strings.Contains(res.Text, "Deseja continuar?") {
		t.Errorf("expected entry flow re-rendered, got %q", res.Text)
	}
	state, ok := eng.StateFor("user1")
	if !ok {
		t.Fatal("expected fresh state")
	}
	if state.Retries != 0 || len(state.Data) != 0 {
		t.Error("expected state fully reset")
	}
}

func TestGotoFlowOption(t *testing.T) {
	eng, _ := newTestEngine(t, "main", nil)
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)

	res := eng.ProcessMessage(ctx, "user1", "4", nil)
	if !strings.Contains(res.Text, "Deseja continuar?") {
		t.Errorf("expected target flow rendered, got %q", res.Text)
	}
	state, _ := eng.StateFor("user1")
	if state.FlowID != "quick" {
		t.Errorf("expected flow switched to quick, got %q", state.FlowID)
	}
}

func TestResetCommandRestartsFlow(t *testing.T) {
	eng, _ := newTestEngine(t, "main", nil)
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)
	eng.ProcessMessage(ctx, "user1", "1", nil)

	res := eng.ProcessMessage(ctx, "user1", "reiniciar", nil)
	if !res.Restart {
		t.Error("expected restart flag")
	}
	if !strings.Contains(res.Text, "Escolha uma opção:") {
		t.Errorf("expected flow restarted from the top, got %q", res.Text)
	}
	state, _ := eng.StateFor("user1")
	if state.FlowID != "main" {
		t.Errorf("expected entry flow, got %q", state.FlowID)
	}
}

func TestActionStepChainsIntoNext(t *testing.T) {
	eng, _ := newTestEngine(t, "docs", nil)
	ctx := context.Background()

	res := eng.ProcessMessage(ctx, "user1", "oi", nil)
	if res.Action != models.ActionGenerateDocument {
		t.Errorf("expected document action, got %q", res.Action)
	}
	if !strings.Contains(res.Text, "Gerando seu documento...") || !strings.Contains(res.Text, "Documento enviado.") {
		t.Errorf("expected chained texts, got %q", res.Text)
	}
	if _, ok := eng.StateFor("user1"); ok {
		t.Error("expected flow completed after terminal message")
	}
}

func TestResetOrphanedStates(t *testing.T) {
	mgr := testManager(t, "main")
	eng := NewEngine(mgr, store.NewInMemoryStore())
	ctx := context.Background()
	eng.ProcessMessage(ctx, "user1", "oi", nil)

	replacement, err := config.Parse([]byte(`
mode: other
flows:
  - id: other
    name: Outro
    steps:
      - id: hello
        type: message
        text: "Novo fluxo."
`))
	if err != nil {
		t.Fatalf("config.Parse failed: %v", err)
	}
	mgr.Replace(replacement)

	if removed := eng.ResetOrphanedStates(); removed != 1 {
		t.Errorf("expected 1 orphaned state removed, got %d", removed)
	}
	if eng.ActiveStates() != 0 {
		t.Errorf("expected no live states, got %d", eng.ActiveStates())
	}

	// A fresh message lands in the new entry flow without crashing.
	res := eng.ProcessMessage(ctx, "user1", "oi", nil)
	if !strings.Contains(res.Text, "Novo fluxo.") {
		t.Errorf("expected new entry flow, got %q", res.Text)
	}
}

func TestProcessMessageIndependentIdentities(t *testing.T) {
	eng, _ := newTestEngine(t, "main", nil)
	ctx := context.Background()

	eng.ProcessMessage(ctx, "user1", "oi", nil)
	eng.ProcessMessage(ctx, "user2", "oi", nil)
	eng.ProcessMessage(ctx, "user1", "9", nil)

	s1, _ := eng.StateFor("user1")
	s2, _ := eng.StateFor("user2")
	if s1.Retries != 1 {
		t.Errorf("user1 retries = %d, want 1", s1.Retries)
	}
	if s2.Retries != 0 {
		t.Errorf("user2 retries = %d, want 0", s2.Retries)
	}
}
