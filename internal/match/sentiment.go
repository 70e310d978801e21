package match

import (
	"regexp"

	"github.com/zapdesk/zapdesk/internal/models"
)

// Sentiment scoring is an auxiliary annotation: it rides along on match
// results for logging and metrics and never influences confidence.

var (
	positivePattern = regexp.MustCompile(`\b(otimo|bom|boa|excelente|perfeito|maravilhos[oa]|adorei|gostei|feliz|satisfeit[oa]|parabens|legal|top)\b`)
	negativePattern = regexp.MustCompile(`\b(ruim|pessimo|horrivel|odiei|raiva|absurdo|insatisfeit[oa]|triste|decepcionad[oa]|demora|problema|reclamacao)\b`)
)

// DetectSentiment labels normalized text as positive, negative or neutral by
// counting labeled-pattern hits.
func DetectSentiment(normalized string) models.Sentiment {
	pos := len(positivePattern.FindAllString(normalized, -1))
	neg := len(negativePattern.FindAllString(normalized, -1))
	switch {
	case pos > neg:
		return models.SentimentPositive
	case neg > pos:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}
