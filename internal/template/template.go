// Package template implements placeholder substitution for campaign subject
// and body templates. Placeholders use the {{key}} form; no expressions, no
// helpers, no implicit escaping. Output sanitization is the composer's job.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Render replaces every {{key}} placeholder with the stringified value from
// data. Missing keys render as an empty string rather than an error, so a
// half-enriched lead still produces deliverable mail.
func Render(tmpl string, data map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := data[key]
		if !ok || v == nil {
			return ""
		}
		switch t := v.(type) {
		case string:
			return t
		case float64:
			// Trim trailing zeros so ratings print as "4.5" not "4.500000"
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
		default:
			return fmt.Sprintf("%v", t)
		}
	})
}

// ExtractPlaceholders returns the unique placeholder key names in tmpl, in
// first-seen order.
func ExtractPlaceholders(tmpl string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		key := strings.TrimSpace(m[1])
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// Validate checks a template for structural problems. The script/javascript
// checks are a heuristic guard against the most obvious injection vectors,
// not a full XSS policy.
func Validate(tmpl string) (bool, []string) {
	var errs []string

	if strings.TrimSpace(tmpl) == "" {
		errs = append(errs, "template cannot be empty")
	}
	if strings.Contains(strings.ToLower(tmpl), "<script") {
		errs = append(errs, "template contains potentially dangerous script tags")
	}
	if strings.Contains(strings.ToLower(tmpl), "javascript:") {
		errs = append(errs, "template contains potentially dangerous javascript: URLs")
	}

	return len(errs) == 0, errs
}
