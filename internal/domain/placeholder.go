package domain

import (
	"encoding/json"
	"regexp"
	"strconv"
)

// placeholderPattern matches {{token}} markers, tolerating inner spaces.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// FirstPlaceholder returns the first token embedded in s.
func FirstPlaceholder(s string) (string, bool) {
	m := placeholderPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Placeholders returns every token embedded in s, in order of appearance.
func Placeholders(s string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, m[1])
	}
	return tokens
}

// HasPlaceholder reports whether s embeds at least one token.
func HasPlaceholder(s string) bool {
	return placeholderPattern.MatchString(s)
}

// SubstitutePlaceholders replaces every {{token}} in s whose token is present
// in args. Tokens without an argument are left as literal text.
func SubstitutePlaceholders(s string, args map[string]any) string {
	if len(args) == 0 {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		token := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := args[token]
		if !ok {
			return match
		}
		return Stringify(v)
	})
}

// Stringify renders an argument value the way it is spliced into a template.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
