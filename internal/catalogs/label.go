// Package catalogs holds helpers shared by the concrete catalog definitions.
package catalogs

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var title = cases.Title(language.English)

// Label returns label trimmed, or a title-cased rendering of defName when the
// source supplied no label ("ThrumboPasses" -> "Thrumbo Passes").
func Label(label, defName string) string {
	if l := strings.TrimSpace(label); l != "" {
		return l
	}
	return title.String(splitWords(defName))
}

func splitWords(s string) string {
	var b strings.Builder
	var prev rune
	for i, r := range s {
		switch {
		case r == '_' || r == '-' || r == '.':
			r = ' '
		case i > 0 && unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			b.WriteRune(' ')
		}
		if r == ' ' && (prev == ' ' || b.Len() == 0) {
			prev = r
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.TrimSpace(b.String())
}

// Round returns v rounded half away from zero.
func Round(v float64) int { return int(math.Round(v)) }

// Finite reports an error naming field when v is NaN or infinite.
func Finite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a finite number (got %v)", field, v)
	}
	return nil
}

// Amount rounds v to a whole number of coins. Values that are not finite or
// do not fit in an int32 are rejected.
func Amount(field string, v float64) (int, error) {
	if err := Finite(field, v); err != nil {
		return 0, err
	}
	r := math.Round(v)
	if r > math.MaxInt32 || r < math.MinInt32 {
		return 0, fmt.Errorf("%s out of range (got %v)", field, v)
	}
	return int(r), nil
}

// NonNegative reports an error naming field when v is negative.
func NonNegative(field string, v int) error {
	if v < 0 {
		return fmt.Errorf("%s must not be negative (got %d)", field, v)
	}
	return nil
}
