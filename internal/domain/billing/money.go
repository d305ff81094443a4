package billing

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders amounts for display with the clinic locale's digit
// grouping.
type Formatter struct {
	printer *message.Printer
	symbol  string
}

// NewFormatter returns a formatter for tag. symbol is appended after the
// number, e.g. "₫".
func NewFormatter(tag language.Tag, symbol string) *Formatter {
	return &Formatter{printer: message.NewPrinter(tag), symbol: symbol}
}

func (f *Formatter) Format(amount int64) string {
	if f.symbol == "" {
		return f.printer.Sprintf("%d", amount)
	}
	return f.printer.Sprintf("%d %s", amount, f.symbol)
}
