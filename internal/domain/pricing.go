package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Weights are stored as numeric(10,3) and prices per kg as numeric(10,2).
const (
	WeightPlaces int32 = 3
	PricePlaces  int32 = 2
)

var (
	MaxWeightKg   = decimal.RequireFromString("9999999.999")
	MaxPricePerKg = decimal.RequireFromString("99999999.99")
)

// FitsColumn reports whether d is stored unchanged by a numeric column with
// the given number of decimal places and upper bound.
func FitsColumn(d decimal.Decimal, places int32, limit decimal.Decimal) bool {
	return d.Equal(d.Truncate(places)) && d.LessThanOrEqual(limit)
}

// Quote is the price split of a booking, in minor currency units.
type Quote struct {
	Amount         int64
	ServiceFee     int64
	TravelerAmount int64
}

// PriceBooking computes weight × pricePerKg rounded to the minor unit, and
// splits it into the platform fee (feePercent of the amount, rounded) and the
// traveler's share.
func PriceBooking(weight, pricePerKg, feePercent decimal.Decimal) Quote {
	amount := weight.Mul(pricePerKg).Mul(hundred).Round(0).IntPart()
	fee := decimal.NewFromInt(amount).Mul(feePercent).Div(hundred).Round(0).IntPart()
	if fee > amount {
		fee = amount
	}
	return Quote{
		Amount:         amount,
		ServiceFee:     fee,
		TravelerAmount: amount - fee,
	}
}
