package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Promo code discount types.
const (
	PromoTypeAmount     = "Amount"
	PromoTypePercentage = "Percentage"
	PromoTypeSession    = "Session"
)

const (
	gstPercentage         = 9
	cardFeePercentage     = 5
	percentageDenominator = 100
)

// PromoCode describes a discount and the slots it targets.
type PromoCode struct {
	Key                   string   `json:"key"`
	Code                  string   `json:"promocode"`
	Name                  string   `json:"name"`
	Type                  string   `json:"type"`
	Value                 string   `json:"value"`
	TimeslotTypes         []string `json:"timeslotTypes"`
	TargetSpecificPitches bool     `json:"targetSpecificPitches"`
	TargetPitches         []string `json:"targetPitches"`
	SportTypes            []string `json:"typeOfSports"`
}

// BookingSlotSelection is a slot chosen at checkout, before it is booked.
// PitchKey is the pitch catalogue key resolved by the caller, if known.
type BookingSlotSelection struct {
	Date            string          `json:"date"`
	Pitch           string          `json:"pitch"`
	PitchKey        string          `json:"pitchKey,omitempty"`
	AutomatePitchID string          `json:"automatePitchId,omitempty"`
	Start           string          `json:"start"`
	End             string          `json:"end"`
	Rate            decimal.Decimal `json:"rate"`
	Duration        float64         `json:"duration"`
	Type            string          `json:"type"`
	SportType       string          `json:"typeOfSports"`
}

// GroupedTimeslots maps a YYYY-MM-DD date to the slots selected on it.
type GroupedTimeslots map[string][]BookingSlotSelection

// Dates returns the grouped dates in ascending order.
func (grouped GroupedTimeslots) Dates() []string {
	dates := make([]string, 0, len(grouped))
	for date := range grouped {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// Subtotal sums every selected slot's rate.
func (grouped GroupedTimeslots) Subtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, slots := range grouped {
		for _, slot := range slots {
			subtotal = subtotal.Add(slot.Rate)
		}
	}
	return subtotal
}

// CostBreakdown is the priced checkout.
type CostBreakdown struct {
	Subtotal              decimal.Decimal `json:"subtotal"`
	Discount              decimal.Decimal `json:"discount"`
	Total                 decimal.Decimal `json:"total"`
	GSTPercentage         int             `json:"gstPercentage"`
	GST                   decimal.Decimal `json:"gst"`
	TransactionPercentage int             `json:"transactionPercentage"`
	TransactionFee        decimal.Decimal `json:"transactionFee"`
	TotalPayable          decimal.Decimal `json:"totalPayable"`
	PromoCode             string          `json:"promocode"`
}

// Discount computes the promo discount over the grouped slots. Amount promos
// set the discount (the last matching slot wins); Percentage and Session
// promos accumulate per matching slot.
func Discount(grouped GroupedTimeslots, promo PromoCode) (decimal.Decimal, error) {
	value, err := parsePromoValue(promo.Value)
	if err != nil {
		return decimal.Zero, err
	}
	switch promo.Type {
	case PromoTypeAmount, PromoTypePercentage, PromoTypeSession:
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown type %q", ErrInvalidPromoCode, promo.Type)
	}
	discount := decimal.Zero
	for _, date := range grouped.Dates() {
		for _, slot := range grouped[date] {
			if !promoMatches(promo, slot) {
				continue
			}
			switch promo.Type {
			case PromoTypeAmount:
				discount = value
			case PromoTypePercentage:
				discount = discount.Add(slot.Rate.Mul(value).Div(decimal.NewFromInt(percentageDenominator)))
			case PromoTypeSession:
				discount = discount.Add(value)
			}
		}
	}
	return discount, nil
}

func promoMatches(promo PromoCode, slot BookingSlotSelection) bool {
	if len(promo.TimeslotTypes) > 0 && !containsString(promo.TimeslotTypes, slot.Type) {
		return false
	}
	if promo.TargetSpecificPitches && len(promo.TargetPitches) > 0 && !pitchMatches(promo.TargetPitches, slot) {
		return false
	}
	if len(promo.SportTypes) > 0 {
		slotSport := normalizeSport(slot.SportType)
		matched := false
		for _, sport := range promo.SportTypes {
			if strings.ToLower(sport) == slotSport {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func pitchMatches(targets []string, slot BookingSlotSelection) bool {
	for _, target := range targets {
		if slot.PitchKey != "" && slot.PitchKey == target {
			return true
		}
		if slot.Pitch == target || strings.Contains(slot.Pitch, target) {
			return true
		}
		if slot.AutomatePitchID != "" && slot.AutomatePitchID == target {
			return true
		}
	}
	return false
}

// parsePromoValue reads the leading integer of value, ignoring any fraction
// or trailing text.
func parsePromoValue(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	end := 0
	if end < len(trimmed) && (trimmed[end] == '-' || trimmed[end] == '+') {
		end++
	}
	digitsStart := end
	for end < len(trimmed) && trimmed[end] >= '0' && trimmed[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return decimal.Zero, fmt.Errorf("%w: value %q is not a number", ErrInvalidPromoCode, raw)
	}
	value, err := decimal.NewFromString(trimmed[:end])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: value %q: %v", ErrInvalidPromoCode, raw, err)
	}
	return value, nil
}

// Quote prices the grouped slots for a payment method. A nil promo applies no
// discount. Credit payments carry neither GST nor a card fee.
func Quote(grouped GroupedTimeslots, promo *PromoCode, paymentMethod string) (CostBreakdown, error) {
	breakdown := CostBreakdown{
		Subtotal:       grouped.Subtotal(),
		Discount:       decimal.Zero,
		GST:            decimal.Zero,
		TransactionFee: decimal.Zero,
	}
	if promo != nil {
		discount, err := Discount(grouped, *promo)
		if err != nil {
			return CostBreakdown{}, err
		}
		breakdown.Discount = discount.Round(2)
		breakdown.PromoCode = promo.Code
	}
	breakdown.Total = breakdown.Subtotal.Sub(breakdown.Discount).Round(2)
	if breakdown.Total.IsNegative() {
		breakdown.Total = decimal.Zero
	}
	if paymentMethod == PaymentMethodCredit {
		breakdown.TotalPayable = breakdown.Total
		return breakdown, nil
	}
	if paymentMethod == PaymentMethodCreditCard {
		breakdown.TransactionPercentage = cardFeePercentage
		breakdown.TransactionFee = percentOfCents(breakdown.Total, cardFeePercentage)
		breakdown.Total = breakdown.Total.Add(breakdown.TransactionFee)
	}
	breakdown.GSTPercentage = gstPercentage
	breakdown.GST = percentOfCents(breakdown.Total, gstPercentage)
	breakdown.TotalPayable = breakdown.Total.Add(breakdown.GST).Round(2)
	return breakdown, nil
}

// percentOfCents returns percent of amount rounded to whole cents.
func percentOfCents(amount decimal.Decimal, percent int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(percent)).Round(0).Div(decimal.NewFromInt(percentageDenominator))
}
