// Package credit scores khata customers for collection follow-up.
package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TierSafe     = "Safe"
	TierModerate = "Moderate"
	TierRisky    = "Risky"
	TierHighRisk = "High Risk"
)

type Input struct {
	Balance    decimal.Decimal
	Limit      decimal.Decimal
	TotalSales int
	LastSaleAt *time.Time
}

var (
	utilizationBands = []struct {
		atLeast decimal.Decimal
		penalty int
	}{
		{decimal.RequireFromString("0.9"), 40},
		{decimal.RequireFromString("0.7"), 25},
		{decimal.RequireFromString("0.5"), 15},
		{decimal.RequireFromString("0.3"), 5},
	}
	balanceBands = []struct {
		above   decimal.Decimal
		penalty int
	}{
		{decimal.NewFromInt(10000), 15},
		{decimal.NewFromInt(5000), 10},
		{decimal.NewFromInt(2000), 5},
	}
	loyaltyBands = []struct {
		above int
		bonus int
	}{
		{20, 10},
		{10, 5},
		{5, 2},
	}
)

// Score returns a trust score in [0, 100] and its tier. Only the highest
// applicable band of each signal counts. now is the reference point for
// recency.
func Score(in Input, now time.Time) (int, string) {
	score := 100

	utilization := decimal.Zero
	if !in.Limit.IsZero() {
		utilization = in.Balance.Div(in.Limit)
	}
	for _, band := range utilizationBands {
		if utilization.GreaterThanOrEqual(band.atLeast) {
			score -= band.penalty
			break
		}
	}

	for _, band := range balanceBands {
		if in.Balance.GreaterThan(band.above) {
			score -= band.penalty
			break
		}
	}

	for _, band := range loyaltyBands {
		if in.TotalSales > band.above {
			score += band.bonus
			break
		}
	}

	if in.Balance.IsPositive() {
		if in.LastSaleAt == nil {
			score -= 15
		} else {
			days := int(now.Sub(*in.LastSaleAt).Hours() / 24)
			switch {
			case days > 60:
				score -= 15
			case days > 30:
				score -= 8
			}
		}
	}

	score = min(100, max(0, score))
	return score, TierFor(score)
}

func TierFor(score int) string {
	switch {
	case score >= 80:
		return TierSafe
	case score >= 60:
		return TierModerate
	case score >= 40:
		return TierRisky
	default:
		return TierHighRisk
	}
}

// Priority orders collections: large balances and low trust both push a
// customer up the list.
func Priority(balance decimal.Decimal, score int) decimal.Decimal {
	return balance.Mul(decimal.NewFromInt(int64(100 - score)))
}
