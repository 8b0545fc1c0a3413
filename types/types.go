package types

import "time"

// Bar is a single OHLCV record. Bars are values; nothing in the engine
// mutates one after it has been accepted.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Decision is the per-bar intent emitted towards the execution side.
type Decision int

const (
	NoTrade Decision = iota
	OpenLong
	OpenShort
	Hold
	CloseLong
	CloseShort
)

func (d Decision) String() string {
	switch d {
	case OpenLong:
		return "OPEN_LONG"
	case OpenShort:
		return "OPEN_SHORT"
	case Hold:
		return "HOLD"
	case CloseLong:
		return "CLOSE_LONG"
	case CloseShort:
		return "CLOSE_SHORT"
	default:
		return "NO_TRADE"
	}
}

// IsOpen reports whether the decision opens a position.
func (d Decision) IsOpen() bool { return d == OpenLong || d == OpenShort }

// IsClose reports whether the decision flattens a position.
func (d Decision) IsClose() bool { return d == CloseLong || d == CloseShort }

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Order is what the strategy hands to an executor.
type Order struct {
	Symbol string
	Side   Side
	Qty    float64
	Price  float64 // limit price; 0 = market
	// meta
	Comment string
}
