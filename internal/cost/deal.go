package cost

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sells-group/deal-report/internal/model"
)

// SellerBuffer is the markup applied to the top of a seller's listing range.
var SellerBuffer = decimal.NewFromFloat(0.25)

var two = decimal.NewFromInt(2)

// Figures are the numbers a deal calculation starts from. Nil means the
// figure was not available.
type Figures struct {
	AskingPrice *decimal.Decimal
	RepairsLow  *decimal.Decimal
	RepairsHigh *decimal.Decimal
	Fees        *decimal.Decimal
	// MarketValue is the expected retail value; for a Flipper it is the
	// expected resale value.
	MarketValue *decimal.Decimal
	// StatedMaxPrice is the max price to pay (or max bid) as stated by the
	// generated report, validated rather than trusted.
	StatedMaxPrice *decimal.Decimal
}

// Compute re-derives the money-math table for role. It returns nil when the
// asking price is unknown, plus data-quality warnings for every assumption
// or violation.
func Compute(role model.Role, f Figures) (*model.MoneyMath, []string) {
	var warnings []string
	if f.AskingPrice == nil {
		if role == model.RoleSeller && f.MarketValue != nil {
			return sellerOnly(*f.MarketValue), nil
		}
		return nil, []string{"money math: asking price missing, table not recomputed"}
	}

	repairsLow, repairsHigh := f.RepairsLow, f.RepairsHigh
	switch {
	case repairsLow == nil && repairsHigh == nil:
		warnings = append(warnings, "money math: repair estimate missing, assumed $0")
		zero := decimal.Zero
		repairsLow, repairsHigh = &zero, &zero
	case repairsLow == nil:
		repairsLow = repairsHigh
	case repairsHigh == nil:
		repairsHigh = repairsLow
	}
	if repairsHigh.LessThan(*repairsLow) {
		warnings = append(warnings, "money math: repair range was inverted")
		repairsLow, repairsHigh = repairsHigh, repairsLow
	}

	fees := decimal.Zero
	if f.Fees == nil {
		warnings = append(warnings, "money math: fees missing, assumed $0")
	} else {
		fees = *f.Fees
	}

	asking := *f.AskingPrice
	mm := &model.MoneyMath{
		AskingPrice: round(asking),
		RepairsLow:  round(*repairsLow),
		RepairsHigh: round(*repairsHigh),
		Fees:        round(fees),
		AllInLow:    round(asking.Add(*repairsLow).Add(fees)),
		AllInHigh:   round(asking.Add(*repairsHigh).Add(fees)),
	}

	switch role {
	case model.RoleFlipper:
		warnings = append(warnings, flipper(mm, f)...)
	case model.RoleSeller:
		base := asking
		if f.MarketValue != nil {
			base = *f.MarketValue
		}
		low, high := listingRange(base)
		mm.ListingLow, mm.ListingHigh = &low, &high
	default:
		warnings = append(warnings, buyer(mm, f)...)
	}

	if mm.MaxPriceToPay != nil {
		savings := round(asking.Sub(*mm.MaxPriceToPay))
		mm.Savings = &savings
		if mm.MaxPriceToPay.GreaterThan(asking) {
			warnings = append(warnings, fmt.Sprintf(
				"money math: max price to pay %s exceeds asking price %s",
				FormatUSD(*mm.MaxPriceToPay), FormatUSD(asking)))
		}
	}
	return mm, warnings
}

// buyer validates the stated max price. Without one it falls back to the
// market value less worst-case repairs and fees.
func buyer(mm *model.MoneyMath, f Figures) []string {
	if f.StatedMaxPrice != nil {
		v := round(*f.StatedMaxPrice)
		mm.MaxPriceToPay = &v
		return nil
	}
	if f.MarketValue == nil {
		return []string{"money math: no max price to pay stated and no market value to derive one"}
	}
	v := round(f.MarketValue.Sub(mm.RepairsHigh).Sub(mm.Fees))
	mm.MaxPriceToPay = &v
	return []string{"money math: max price to pay derived from market value"}
}

// flipper applies Max Bid = (Resale / 2) - Repairs - Fees, using the high end
// of the repair range. The computed bid replaces any stated figure.
func flipper(mm *model.MoneyMath, f Figures) []string {
	if f.MarketValue == nil {
		if f.StatedMaxPrice != nil {
			v := round(*f.StatedMaxPrice)
			mm.MaxPriceToPay = &v
		}
		return []string{"money math: resale value missing, max bid not recomputed"}
	}

	resale := round(*f.MarketValue)
	bid := round(resale.Div(two).Sub(mm.RepairsHigh).Sub(mm.Fees))
	mm.ResaleValue = &resale
	mm.MaxBid = &bid
	mm.MaxPriceToPay = &bid

	if f.StatedMaxPrice != nil && !round(*f.StatedMaxPrice).Equal(bid) {
		return []string{fmt.Sprintf("money math: stated max bid %s replaced by recomputed %s",
			FormatUSD(*f.StatedMaxPrice), FormatUSD(bid))}
	}
	return nil
}

func sellerOnly(market decimal.Decimal) *model.MoneyMath {
	low, high := listingRange(market)
	return &model.MoneyMath{ListingLow: &low, ListingHigh: &high}
}

// listingRange returns the floor and the buffered list price for base.
func listingRange(base decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	low := round(base)
	high := round(base.Mul(decimal.NewFromInt(1).Add(SellerBuffer)))
	return low, high
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
