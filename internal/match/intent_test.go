package match

import (
	"testing"

	"github.com/zapdesk/zapdesk/internal/models"
)

func TestDetectIntentPatternPriority(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"oi", "greeting"},
		{"bom dia", "greeting"},
		{"tchau", "farewell"},
		{"obrigado pela ajuda rapida", "gratitude"}, // gratitude outranks help
		{"qual o preco", "question"},                // question outranks purchase
		{"isso e um absurdo", "complaint"},
		{"atendimento excelente", "praise"},
		{"preciso de ajuda", "help"},
		{"quero comprar um plano", "purchase"},
		{"meu aparelho esta com defeito", "support"},
		{"quero cancelar", "cancel"},
		{"sim pode ser", "confirm"},
		{"nao quero", "deny"},
	}
	for _, tc := range cases {
		if got := DetectIntent(tc.text, nil); got != tc.want {
			t.Errorf("DetectIntent(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestDetectIntentClassifierFallback(t *testing.T) {
	clf := NewClassifier()
	clf.Train("rastrear minha encomenda", "tracking")
	clf.Train("onde esta minha encomenda chegando", "tracking")

	if got := DetectIntent("xyzzy plugh", nil); got != IntentUnknown {
		t.Errorf("expected unknown without classifier, got %q", got)
	}
	if got := DetectIntent("minha encomenda", clf); got != "tracking" {
		t.Errorf("expected classifier fallback tracking, got %q", got)
	}
}

func TestDetectSentiment(t *testing.T) {
	cases := []struct {
		text string
		want models.Sentiment
	}{
		{"atendimento otimo adorei", models.SentimentPositive},
		{"servico pessimo que raiva", models.SentimentNegative},
		{"quero segunda via do boleto", models.SentimentNeutral},
	}
	for _, tc := range cases {
		if got := DetectSentiment(tc.text); got != tc.want {
			t.Errorf("DetectSentiment(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestExtractEntities(t *testing.T) {
	entities := ExtractEntities("meu email é ana@example.com e meu telefone (11) 99999-8888, pedido 1234")
	kinds := make(map[string]string)
	for _, e := range entities {
		kinds[e.Kind] = e.Value
	}
	if kinds["email"] != "ana@example.com" {
		t.Errorf("expected email entity, got %v", entities)
	}
	if _, ok := kinds["phone"]; !ok {
		t.Errorf("expected phone entity, got %v", entities)
	}
	if _, ok := kinds["number"]; !ok {
		t.Errorf("expected number entity, got %v", entities)
	}
}

func TestClassifier(t *testing.T) {
	clf := NewClassifier()
	if label, conf := clf.Classify("oi"); label != "" || conf != 0 {
		t.Errorf("untrained classifier should return empty, got %q %f", label, conf)
	}

	clf.Train("oi bom dia", "greeting")
	clf.Train("ola boa tarde", "greeting")
	clf.Train("quero cancelar o pedido", "cancel")
	clf.Train("cancelar assinatura agora", "cancel")

	label, conf := clf.Classify("bom dia")
	if label != "greeting" {
		t.Errorf("expected greeting, got %q", label)
	}
	if conf <= 0.5 {
		t.Errorf("expected confident prediction, got %f", conf)
	}

	label, _ = clf.Classify("cancelar pedido")
	if label != "cancel" {
		t.Errorf("expected cancel, got %q", label)
	}

	if clf.Classes() != 2 {
		t.Errorf("expected 2 classes, got %d", clf.Classes())
	}
	clf.Reset()
	if clf.Classes() != 0 {
		t.Error("expected classifier cleared after reset")
	}
}
