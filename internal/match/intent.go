package match

import "regexp"

// IntentUnknown is returned when neither the pattern table nor the trained
// classifier can label an utterance.
const IntentUnknown = "unknown"

// intentRule pairs an intent label with its detection pattern. Rules are
// evaluated in order; the first match wins.
type intentRule struct {
	Label   string
	Pattern *regexp.Regexp
}

// intentRules is the fixed-priority intent taxonomy. Patterns run over
// normalized (lowercased, accent-folded) text.
var intentRules = []intentRule{
	{"greeting", regexp.MustCompile(`\b(oi|ola|hey|opa|bom dia|boa tarde|boa noite|e ai)\b`)},
	{"farewell", regexp.MustCompile(`\b(tchau|ate logo|ate mais|adeus|falou|ate amanha)\b`)},
	{"gratitude", regexp.MustCompile(`\b(obrigad[oa]|valeu|agradec|brigad[oa])\b`)},
	{"question", regexp.MustCompile(`\b(como|quando|onde|qual|quais|quanto|por que|porque|o que)\b`)},
	{"complaint", regexp.MustCompile(`\b(reclama|problema|pessimo|horrivel|absurdo|demora|insatisfeit|errad[oa]|nao funciona)\b`)},
	{"praise", regexp.MustCompile(`\b(otimo|excelente|perfeito|maravilhos[oa]|adorei|parabens|muito bom)\b`)},
	{"help", regexp.MustCompile(`\b(ajuda|ajudar|socorro|preciso de|me ajude|duvida)\b`)},
	{"purchase", regexp.MustCompile(`\b(comprar|compra|pedido|preco|valor|orcamento|pagamento|pagar)\b`)},
	{"support", regexp.MustCompile(`\b(suporte|tecnico|defeito|conserto|garantia|manutencao)\b`)},
	{"cancel", regexp.MustCompile(`\b(cancelar|cancela|desistir|estorno|devolucao|reembolso)\b`)},
	{"confirm", regexp.MustCompile(`\b(sim|claro|confirmo|confirmar|pode ser|ok|certo|isso)\b`)},
	{"deny", regexp.MustCompile(`\b(nao|nunca|negativo|jamais|de jeito nenhum)\b`)},
}

// DetectIntent labels normalized text using the pattern table, falling back
// to the trained classifier, then to IntentUnknown.
func DetectIntent(normalized string, clf *Classifier) string {
	for _, rule := range intentRules {
		if rule.Pattern.MatchString(normalized) {
			return rule.Label
		}
	}
	if clf != nil {
		if label, conf := clf.Classify(normalized); label != "" && conf > 0.5 {
			return label
		}
	}
	return IntentUnknown
}
