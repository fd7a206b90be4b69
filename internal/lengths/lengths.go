// Package lengths canonicalizes free-form length-variant input. The same
// parser runs on admin input (declaring available lengths per size) and on
// customer input (selecting one), so both sides land on the same 4-decimal
// canonical form and compare exactly.
package lengths

import (
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Tolerance for comparing a customer-supplied length against a declared one.
var tolerance = decimal.New(1, -4)

var cleaner = strings.NewReplacer("，", ",", "、", ",", "；", ";", "厘米", " ", "ｃｍ", " ")

// Normalize extracts every positive numeric length from input, rounds to 4
// decimal places, dedupes and returns the values sorted ascending. Input
// with no valid positive number yields an empty slice, not an error.
// Accepted noise: "cm"/"厘米" suffixes, fullwidth punctuation, mixed
// separators (",", "/", ";", whitespace) and a decimal comma in a lone
// "1,4"-style token.
func Normalize(input string) []decimal.Decimal {
	s := strings.ToLower(cleaner.Replace(input))
	s = strings.ReplaceAll(s, "cm", " ")

	seen := make(map[string]decimal.Decimal)
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '/' || r == ';' || r == '[' || r == ']' || r == '"' || unicode.IsSpace(r)
	}) {
		for _, sub := range splitCommas(tok) {
			d, err := decimal.NewFromString(sub)
			if err != nil || !d.IsPositive() {
				continue
			}
			d = d.Round(4)
			seen[Format(d)] = d
		}
	}

	out := make([]decimal.Decimal, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

// splitCommas treats a single comma between two digit runs as a decimal
// comma ("1,4" means 1.4); any other comma is a list separator.
func splitCommas(tok string) []string {
	if !strings.Contains(tok, ",") {
		return []string{tok}
	}
	if strings.Count(tok, ",") == 1 && !strings.Contains(tok, ".") {
		i := strings.Index(tok, ",")
		if i > 0 && i < len(tok)-1 && isDigits(tok[:i]) && isDigits(tok[i+1:]) {
			return []string{tok[:i] + "." + tok[i+1:]}
		}
	}
	return strings.Split(tok, ",")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Format renders one value in canonical form: at most 4 decimals, no
// trailing zeros ("1.4000" -> "1.4").
func Format(d decimal.Decimal) string {
	s := d.StringFixed(4)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Canonical joins normalized values into the stored comma form.
func Canonical(values []decimal.Decimal) string {
	parts := make([]string, len(values))
	for i, d := range values {
		parts[i] = Format(d)
	}
	return strings.Join(parts, ",")
}

// One normalizes customer input that is expected to name a single length.
// ok is false when the input resolves to zero or several distinct values.
func One(input string) (decimal.Decimal, bool) {
	vals := Normalize(input)
	if len(vals) != 1 {
		return decimal.Decimal{}, false
	}
	return vals[0], true
}

// Match reports whether candidate equals one of the declared values within
// tolerance, returning the matched declared value in canonical form.
func Match(candidate decimal.Decimal, declared []decimal.Decimal) (string, bool) {
	for _, d := range declared {
		if candidate.Sub(d).Abs().LessThanOrEqual(tolerance) {
			return Format(d), true
		}
	}
	return "", false
}
