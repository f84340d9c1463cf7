// Package normalize converts raw per-source record fields into the canonical
// shapes the matcher compares. Symbols lose venue suffixes and whitespace,
// counterparties lose legal-form suffixes and punctuation, amounts are
// rounded to a fixed scale.
package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	venueSuffix = regexp.MustCompile(`\.[A-Z]{1,4}$`)
	nonWord     = regexp.MustCompile(`[^\w\s]`)
	multiSpace  = regexp.MustCompile(`\s+`)
)

// legalSuffixes are corporate-form tokens stripped from counterparty names
// before similarity comparison.
var legalSuffixes = []string{
	"INC", "INCORPORATED", "LLC", "LTD", "LIMITED", "CORP", "CORPORATION",
	"CO", "LP", "LLP", "PLC", "SA", "AG", "GMBH", "NV", "BV",
}

var legalSuffixRe = regexp.MustCompile(`\b(` + strings.Join(legalSuffixes, "|") + `)\b\.?`)

// Symbol upper-cases, trims, drops a trailing venue suffix (e.g. "AAPL.O" →
// "AAPL") and removes interior spaces.
func Symbol(symbol string) string {
	if symbol == "" {
		return ""
	}
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = venueSuffix.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, " ", "")
}

// Counterparty upper-cases, strips legal-form suffixes and punctuation, and
// collapses runs of whitespace.
func Counterparty(name string) string {
	if name == "" {
		return ""
	}
	s := strings.ToUpper(strings.TrimSpace(name))
	s = legalSuffixRe.ReplaceAllString(s, "")
	s = nonWord.ReplaceAllString(s, " ")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Side upper-cases and maps common aliases onto BUY/SELL.
func Side(side string) string {
	s := strings.ToUpper(strings.TrimSpace(side))
	switch s {
	case "B", "BOT", "BOUGHT":
		return "BUY"
	case "S", "SLD", "SOLD":
		return "SELL"
	}
	return s
}

// Amount rounds to the given number of decimal places.
func Amount(v decimal.Decimal, places int32) decimal.Decimal {
	return v.Round(places)
}

// Currency upper-cases and trims an ISO currency code, defaulting to USD.
func Currency(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return "USD"
	}
	return c
}
