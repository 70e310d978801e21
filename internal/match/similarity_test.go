package match

import "testing"

func TestJaccardSimilarity(t *testing.T) {
	if got := JaccardSimilarity("bom dia", "bom dia"); got != 1 {
		t.Errorf("identical strings: got %f, want 1", got)
	}
	if got := JaccardSimilarity("bom dia", "boa noite"); got != 0 {
		t.Errorf("disjoint strings: got %f, want 0", got)
	}
	// {bom, dia} vs {bom, tarde}: intersection 1, union 3.
	got := JaccardSimilarity("bom dia", "bom tarde")
	if got < 0.33 || got > 0.34 {
		t.Errorf("partial overlap: got %f, want ~0.333", got)
	}
}

func TestLevenshteinSimilarity(t *testing.T) {
	if got := LevenshteinSimilarity("oi", "oi"); got != 1 {
		t.Errorf("identical: got %f", got)
	}
	if got := LevenshteinSimilarity("", ""); got != 1 {
		t.Errorf("both empty: got %f", got)
	}
	if got := LevenshteinSimilarity("abc", "xyz"); got != 0 {
		t.Errorf("fully different: got %f", got)
	}
	// one edit over four characters
	got := LevenshteinSimilarity("casa", "caso")
	if got != 0.75 {
		t.Errorf("one edit: got %f, want 0.75", got)
	}
}

func TestJaroWinklerSimilarity(t *testing.T) {
	if got := JaroWinklerSimilarity("martha", "martha"); got != 1 {
		t.Errorf("identical: got %f", got)
	}
	if got := JaroWinklerSimilarity("abc", ""); got != 0 {
		t.Errorf("empty side: got %f", got)
	}
	// Shared prefix scores above plain Jaro.
	jw := JaroWinklerSimilarity("martha", "marhta")
	j := jaro("martha", "marhta")
	if jw <= j {
		t.Errorf("expected prefix bonus: jw=%f jaro=%f", jw, j)
	}
	if jw < 0.9 {
		t.Errorf("martha/marhta: got %f, want >= 0.9", jw)
	}
}

func TestLexicalSimilarityDedupRange(t *testing.T) {
	if got := lexicalSimilarity("oi", "oi"); got <= dedupSimilarityThreshold {
		t.Errorf("identical inputs must exceed dedup threshold, got %f", got)
	}
	if got := lexicalSimilarity("oi", "quero cancelar meu pedido"); got > 0.5 {
		t.Errorf("unrelated inputs should score low, got %f", got)
	}
}
