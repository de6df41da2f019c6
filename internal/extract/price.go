package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Grouped forms first so "1.299,90" is not read as "1.299".
var priceRe = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+,\d+|\d{1,3}(?:,\d{3})+\.\d+|\d+[.,]\d+`)

var ErrNoPrice = errors.New("no price in text")

// ParsePrice returns the first number with a decimal part in text as an exact
// decimal. Bare integers are not prices. A single separator, either '.' or ',',
// is the decimal mark. Thousands-grouped values
// like "1.299,90" and "1,299.90" are recognised as well.
func ParsePrice(text string) (decimal.Decimal, error) {
	match := priceRe.FindString(text)
	if match == "" {
		return decimal.Zero, ErrNoPrice
	}

	d, err := decimal.NewFromString(normalize(match))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %q: %w", match, err)
	}
	return d, nil
}

func normalize(number string) string {
	lastDot := strings.LastIndexByte(number, '.')
	lastComma := strings.LastIndexByte(number, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(number, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(number, ",", "")
	case lastComma >= 0:
		return strings.Replace(number, ",", ".", 1)
	default:
		return number
	}
}

// ToMinorUnits converts to cents, truncating toward zero.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Truncate(0).IntPart()
}
