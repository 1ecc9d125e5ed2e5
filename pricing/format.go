package pricing

import (
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/commercekit/channelsync/errors"
)

// Format renders the display price for the given BCP 47 locale tag, e.g.
// "en-US" or "de". The currency symbol follows the pricing's currency code.
func (p *ChannelPricing) Format(locale string) (string, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return "", errors.NewValidationError("locale", "unknown locale tag "+locale)
	}
	unit, err := currency.ParseISO(p.currency)
	if err != nil {
		return "", errors.NewValidationError("currency", "unknown ISO code "+p.currency)
	}

	printer := message.NewPrinter(tag)
	amount := unit.Amount(p.DisplayPrice().InexactFloat64())
	return printer.Sprint(currency.Symbol(amount)), nil
}
