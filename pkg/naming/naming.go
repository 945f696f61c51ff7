// Package naming converts input document keys to the canonical attribute
// names used by form definitions.
//
// Keys arrive from JSON bodies in camelCase ("monthlyPay") while
// definitions declare snake_case attributes ("monthly_pay"). Underscore
// maps the former onto the latter and leaves already-canonical keys alone.
package naming

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// Underscore returns the snake_case form of key.
//
//	Underscore("monthlyPay")  == "monthly_pay"
//	Underscore("HTTPServer")  == "http_server"
//	Underscore("employee-id") == "employee_id"
//	Underscore("monthly_pay") == "monthly_pay"
func Underscore(key string) string {
	if !hasUpperOrDash(key) {
		return key
	}
	return lower.String(strings.Join(split(key), "_"))
}

// split breaks s at camelCase boundaries and at '-' or '_' separators.
// Empty tokens are kept so that repeated separators survive a round trip.
func split(s string) []string {
	if s == "" {
		return nil
	}

	var (
		tokens  []string
		current strings.Builder
	)

	runes := []rune(s)
	for i, r := range runes {
		if isSeparator(r) {
			tokens = append(tokens, current.String())
			current.Reset()
			continue
		}
		if i > 0 && startsWord(runes, i) && current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	tokens = append(tokens, current.String())

	return tokens
}

// startsWord reports whether the rune at i begins a new camelCase word.
func startsWord(runes []rune, i int) bool {
	r, prev := runes[i], runes[i-1]
	if !unicode.IsUpper(r) {
		return false
	}

	// "monthlyPay", "page2Count"
	if unicode.IsLower(prev) || unicode.IsDigit(prev) {
		return true
	}

	// end of an acronym: "HTTPServer" splits before 'S'
	return unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
}

func isSeparator(r rune) bool {
	return r == '_' || r == '-'
}

func hasUpperOrDash(s string) bool {
	for _, r := range s {
		if r == '-' || unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
