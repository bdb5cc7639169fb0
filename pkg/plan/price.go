package plan

import (
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatPrice renders m with its currency symbol for the given language.
// Unknown currency codes fall back to the bare decimal amount.
func FormatPrice(m Money, tag language.Tag) string {
	p := message.NewPrinter(tag)
	value := float64(m.Amount) / 100

	unit, err := currency.ParseISO(m.Currency)
	if err != nil {
		return p.Sprintf("%.2f", value)
	}
	return p.Sprint(currency.Symbol(unit.Amount(value)))
}
