package match

import (
	"regexp"

	"github.com/zapdesk/zapdesk/internal/models"
)

// Entity extraction is a lightweight annotation pass over the sanitized
// (not normalized) text, so emails and numbers keep their original form.

var (
	emailEntityPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneEntityPattern  = regexp.MustCompile(`\+?\d{2}?\s?\(?\d{2}\)?\s?\d{4,5}-?\d{4}`)
	numberEntityPattern = regexp.MustCompile(`\b\d+(?:[.,]\d+)?\b`)
)

// ExtractEntities annotates emails, phone numbers and standalone numbers.
func ExtractEntities(text string) []models.Entity {
	var entities []models.Entity
	seen := make(map[string]bool)

	add := func(kind, value string) {
		key := kind + ":" + value
		if !seen[key] {
			seen[key] = true
			entities = append(entities, models.Entity{Kind: kind, Value: value})
		}
	}

	for _, m := range emailEntityPattern.FindAllString(text, -1) {
		add("email", m)
	}
	remaining := emailEntityPattern.ReplaceAllString(text, " ")
	for _, m := range phoneEntityPattern.FindAllString(remaining, -1) {
		add("phone", m)
	}
	remaining = phoneEntityPattern.ReplaceAllString(remaining, " ")
	for _, m := range numberEntityPattern.FindAllString(remaining, -1) {
		add("number", m)
	}
	return entities
}
