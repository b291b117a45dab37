package email

import (
	"regexp"
	"strings"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	strayRe       = regexp.MustCompile(`\{\{[^}]+\}\}`)
)

// Render substitutes {{key}} placeholders with values from vars.
// Substitution is a single pass over the placeholders of the original text,
// so a value containing {{other}} is never expanded again. Placeholders
// with no value become empty text.
// POST: result contains no substring matching \{\{[^}]+\}\}
func Render(text string, vars Variables) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	out := placeholderRe.ReplaceAllStringFunc(text, func(tok string) string {
		key := tok[2 : len(tok)-2]
		if val, ok := vars.Get(key); ok {
			return val
		}
		if val, ok := vars.Get(strings.TrimSpace(key)); ok {
			return val
		}
		return ""
	})
	// Values may carry their own tokens and a removal can join its
	// neighbours into a new one, so strip until stable.
	for strayRe.MatchString(out) {
		out = strayRe.ReplaceAllString(out, "")
	}
	return out
}

// RenderContent renders both halves of a localized pair.
func RenderContent(c Content, vars Variables) Content {
	return Content{
		Subject: Render(c.Subject, vars),
		Body:    Render(c.Body, vars),
	}
}
