package risk

import (
	"math"

	"github.com/evdnx/trisignal/config"
)

// Lot describes what the venue accepts as an order quantity.
type Lot struct {
	Step      float64 // quantity increment; <= 0 disables stepping
	Precision int     // decimal places kept after stepping
	Min       float64 // smaller quantities are rejected (sized to 0)
}

// LotFromParams reads the lot constraints from the parameter surface.
func LotFromParams(p config.Params) Lot {
	return Lot{Step: p.QtyStep, Precision: p.QtyPrecision, Min: p.MinQty}
}

// Round floors qty to the lot step and precision. Quantities under the
// minimum come back as 0.
func Round(qty float64, lot Lot) float64 {
	if !(qty > 0) || math.IsInf(qty, 0) {
		return 0
	}
	if lot.Step > 0 {
		// the epsilon keeps 0.3/0.1 from flooring to 2
		qty = math.Floor(qty/lot.Step+1e-9) * lot.Step
	}
	scale := math.Pow(10, float64(lot.Precision))
	qty = math.Floor(qty*scale+1e-9) / scale
	if qty < lot.Min || qty <= 0 {
		return 0
	}
	return qty
}

// CalcQty sizes a position so that a move of stopDist against it costs
// equity*maxRisk.
func CalcQty(equity, maxRisk, stopDist float64, lot Lot) float64 {
	if stopDist <= 0 || equity <= 0 || maxRisk <= 0 {
		return 0
	}
	return Round(equity*maxRisk/stopDist, lot)
}

// Size picks the order quantity for an entry: risk-based when
// max_risk_per_trade is set, fixed_size otherwise.
func Size(p config.Params, equity, stopDist float64) float64 {
	lot := LotFromParams(p)
	if p.MaxRiskPerTrade > 0 {
		return CalcQty(equity, p.MaxRiskPerTrade, stopDist, lot)
	}
	return Round(p.FixedSize, lot)
}
