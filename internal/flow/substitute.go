package flow

import "regexp"

var tokenPattern = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// Substitute resolves {key} tokens in a step's text. Keys are looked up in the
// external context first, then in flow-local data. Unresolved tokens are left
// verbatim.
func Substitute(text string, external, data map[string]string) string {
	if text == "" {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		key := token[1 : len(token)-1]
		if v, ok := external[key]; ok {
			return v
		}
		if v, ok := data[key]; ok {
			return v
		}
		return token
	})
}
