package executor

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/evdnx/trisignal/logger"
	"github.com/evdnx/trisignal/types"
)

var (
	ErrInsufficientCash = errors.New("paper executor: insufficient cash")
	ErrInvalidOrder     = errors.New("paper executor: invalid order")
)

type Executor interface {
	Submit(o types.Order) error
	// For back-testing we expose the portfolio state
	Equity() float64
	Position(symbol string) (qty float64, avgPrice float64)
}

// PaperExecutor is a simple paper trader: perfect fills at Order.Price,
// no slippage, no fees.
type PaperExecutor struct {
	mu        sync.RWMutex
	cash      float64
	positions map[string]float64 // qty (positive = long, negative = short)
	avgPrice  map[string]float64
	lastPrice map[string]float64 // latest fill, used to mark positions
	log       logger.Logger
}

func NewPaperExecutor(startEquity float64, log logger.Logger) *PaperExecutor {
	if log == nil {
		log = logger.NewNop()
	}
	return &PaperExecutor{
		cash:      startEquity,
		positions: make(map[string]float64),
		avgPrice:  make(map[string]float64),
		lastPrice: make(map[string]float64),
		log:       log,
	}
}

func (p *PaperExecutor) Submit(o types.Order) error {
	if o.Qty == 0 {
		return nil
	}
	if o.Qty < 0 || !(o.Price > 0) || math.IsInf(o.Price, 0) || math.IsNaN(o.Qty) {
		return fmt.Errorf("%w: qty=%v price=%v", ErrInvalidOrder, o.Qty, o.Price)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := o.Price * o.Qty
	signed := o.Qty
	switch o.Side {
	case types.Buy:
		// Buying back a short only needs cash for the part that goes long.
		opening := o.Qty - math.Max(0, -p.positions[o.Symbol])
		if opening > 0 && opening*o.Price > p.cash {
			p.log.Warn("insufficient_cash",
				logger.String("symbol", o.Symbol),
				logger.Float64("cost", cost),
				logger.Float64("cash", p.cash),
			)
			return ErrInsufficientCash
		}
		p.cash -= cost
	case types.Sell:
		p.cash += cost
		signed = -o.Qty
	default:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	}
	p.apply(o.Symbol, signed, o.Price)

	p.log.Info("order_filled",
		logger.String("symbol", o.Symbol),
		logger.String("side", string(o.Side)),
		logger.Float64("qty", o.Qty),
		logger.Float64("price", o.Price),
		logger.Float64("cash", p.cash),
		logger.String("comment", o.Comment),
	)
	return nil
}

// apply moves the signed position and keeps a volume-weighted entry
// price for the open side.
func (p *PaperExecutor) apply(sym string, signed, price float64) {
	prev := p.positions[sym]
	next := prev + signed
	if math.Abs(next) < 1e-12 {
		next = 0
	}
	p.lastPrice[sym] = price
	switch {
	case next == 0:
		delete(p.positions, sym)
		delete(p.avgPrice, sym)
		return
	case prev == 0 || (prev > 0) != (next > 0):
		// fresh position or a flip through zero
		p.avgPrice[sym] = price
	case math.Abs(next) > math.Abs(prev):
		p.avgPrice[sym] = (p.avgPrice[sym]*math.Abs(prev) + price*math.Abs(signed)) / math.Abs(next)
	}
	p.positions[sym] = next
}

// Equity is cash plus every open position marked at its latest fill.
func (p *PaperExecutor) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	eq := p.cash
	for sym, qty := range p.positions {
		eq += qty * p.lastPrice[sym]
	}
	return eq
}

// Cash is the uninvested balance.
func (p *PaperExecutor) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

func (p *PaperExecutor) Position(sym string) (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[sym], p.avgPrice[sym]
}
