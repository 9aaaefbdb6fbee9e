// Package amount renders schedule amounts for event labels.
package amount

import (
	"math"

	"github.com/dustin/go-humanize"

	"actualcal/internal/model"
)

const (
	DefaultSymbol   = "$"
	DefaultFormat   = "#,###.##"
	DefaultDecimals = 2

	rangeSeparator = " ~ "
)

// Formatter turns minor-unit amounts (cents) into display strings such as
// "$1,234.56". Use Default for the usual settings; an empty Format falls
// back to DefaultFormat.
type Formatter struct {
	// Symbol is prefixed to every amount.
	Symbol string
	// Format is a go-humanize FormatFloat pattern.
	Format string
	// Decimals is the number of minor-unit digits stored in an amount.
	Decimals int
}

// Default returns a Formatter with the package defaults.
func Default() Formatter {
	return Formatter{
		Symbol:   DefaultSymbol,
		Format:   DefaultFormat,
		Decimals: DefaultDecimals,
	}
}

// Format renders a fixed amount as one value and a range as "low ~ high".
func (f Formatter) Format(a model.Amount) string {
	if a.Kind == model.AmountRange {
		return f.Value(a.Low) + rangeSeparator + f.Value(a.High)
	}
	return f.Value(a.Value)
}

// Value renders a single minor-unit amount.
func (f Formatter) Value(minor int64) string {
	format := f.Format
	if format == "" {
		format = DefaultFormat
	}
	decimals := f.Decimals
	if decimals < 0 {
		decimals = DefaultDecimals
	}

	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}

	major := float64(minor) / math.Pow10(decimals)
	return sign + f.Symbol + humanize.FormatFloat(format, major)
}
