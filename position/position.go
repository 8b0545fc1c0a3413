// Package position owns the lifecycle of a single open position: entry,
// the volatility-adaptive stop that only ever tightens, and the exit.
package position

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/evdnx/trisignal/config"
	"github.com/evdnx/trisignal/indicator"
	"github.com/evdnx/trisignal/signal"
	"github.com/evdnx/trisignal/types"
)

var (
	ErrAlreadyOpen = errors.New("position already open")
	ErrNotOpen     = errors.New("no open position")
	ErrBadEntry    = errors.New("entry requires a finite positive price and ATR")
)

type Side int

const (
	Flat Side = iota
	Long
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Position is the value the manager owns. The zero value is Flat.
type Position struct {
	Side         Side
	EntryPrice   float64
	EntryATR     float64
	ExtremePrice float64 // highest close since entry for Long, lowest for Short
	StopPrice    float64
	EntryTime    time.Time
	BarsHeld     int
}

// Exit reasons reported on a close.
const (
	ReasonStop     = "stop"
	ReasonRSI      = "rsi"
	ReasonReversal = "reversal"
)

// Outcome is the result of evaluating one bar against an open position.
type Outcome struct {
	Decision  types.Decision // Hold, CloseLong or CloseShort
	Reason    string         // empty on Hold
	Ratcheted bool           // stop moved on this bar
	Position  Position       // after the bar; on a close, the position as it stood when closed
}

// Manager is the per-instrument position state machine. It is not safe
// for concurrent use.
type Manager struct {
	params config.Params
	pos    Position
}

func NewManager(p config.Params) *Manager {
	return &Manager{params: p}
}

// Position returns a copy of the current position.
func (m *Manager) Position() Position { return m.pos }

// IsFlat reports whether no position is open.
func (m *Manager) IsFlat() bool { return m.pos.Side == Flat }

// Open moves Flat to Long or Short at bar.Close with the stop placed
// atr*multiplier away.
func (m *Manager) Open(d types.Decision, bar types.Bar, atr float64) (Position, error) {
	if m.pos.Side != Flat {
		return m.pos, ErrAlreadyOpen
	}
	price := bar.Close
	if !(price > 0) || !(atr > 0) || math.IsInf(price, 0) || math.IsInf(atr, 0) {
		return m.pos, fmt.Errorf("%w: price=%v atr=%v", ErrBadEntry, price, atr)
	}
	dist := atr * m.params.ATRMultiplier
	pos := Position{
		EntryPrice:   price,
		EntryATR:     atr,
		ExtremePrice: price,
		EntryTime:    bar.Timestamp,
	}
	switch d {
	case types.OpenLong:
		pos.Side = Long
		pos.StopPrice = price - dist
	case types.OpenShort:
		pos.Side = Short
		pos.StopPrice = price + dist
	default:
		return m.pos, fmt.Errorf("cannot open a position on %s", d)
	}
	m.pos = pos
	return m.pos, nil
}

// Evaluate advances the open position by one bar: it tracks the extreme,
// ratchets the stop and decides between Hold and Close. tally is the
// momentum tally for the same bar; it only matters when reversal exits are
// enabled.
func (m *Manager) Evaluate(bar types.Bar, state indicator.State, tally signal.Tally) (Outcome, error) {
	switch m.pos.Side {
	case Long:
		return m.evalLong(bar, state, tally), nil
	case Short:
		return m.evalShort(bar, state, tally), nil
	default:
		return Outcome{Decision: types.NoTrade, Position: m.pos}, ErrNotOpen
	}
}

func (m *Manager) evalLong(bar types.Bar, state indicator.State, tally signal.Tally) Outcome {
	p := m.params
	m.pos.BarsHeld++
	m.pos.ExtremePrice = math.Max(m.pos.ExtremePrice, bar.Close)

	out := Outcome{Decision: types.Hold}
	activated := p.TrailActivationPct == 0 || bar.Close > m.pos.EntryPrice*(1+p.TrailActivationPct)
	if state.Ready && state.ATR > 0 && activated {
		candidate := m.pos.ExtremePrice - state.ATR*p.ATRMultiplier
		if candidate > m.pos.StopPrice {
			m.pos.StopPrice = candidate
			out.Ratcheted = true
		}
	}

	trigger := bar.Close
	if p.IntrabarStop {
		trigger = bar.Low
	}
	switch {
	case trigger <= m.pos.StopPrice:
		out.Reason = ReasonStop
	case p.ExitOnRSI && state.Ready && state.RSI >= p.RSISellLevel:
		out.Reason = ReasonRSI
	case p.ExitOnReversal && state.Ready && state.MATrend == -1 && tally.Short >= p.SignalNum:
		out.Reason = ReasonReversal
	}
	if out.Reason != "" {
		out.Decision = types.CloseLong
	}
	return m.settle(out)
}

func (m *Manager) evalShort(bar types.Bar, state indicator.State, tally signal.Tally) Outcome {
	p := m.params
	m.pos.BarsHeld++
	m.pos.ExtremePrice = math.Min(m.pos.ExtremePrice, bar.Close)

	out := Outcome{Decision: types.Hold}
	activated := p.TrailActivationPct == 0 || bar.Close < m.pos.EntryPrice*(1-p.TrailActivationPct)
	if state.Ready && state.ATR > 0 && activated {
		candidate := m.pos.ExtremePrice + state.ATR*p.ATRMultiplier
		if candidate < m.pos.StopPrice {
			m.pos.StopPrice = candidate
			out.Ratcheted = true
		}
	}

	trigger := bar.Close
	if p.IntrabarStop {
		trigger = bar.High
	}
	switch {
	case trigger >= m.pos.StopPrice:
		out.Reason = ReasonStop
	case p.ExitOnRSI && state.Ready && state.RSI <= p.RSIBuyLevel:
		out.Reason = ReasonRSI
	case p.ExitOnReversal && state.Ready && state.MATrend == 1 && tally.Long >= p.SignalNum:
		out.Reason = ReasonReversal
	}
	if out.Reason != "" {
		out.Decision = types.CloseShort
	}
	return m.settle(out)
}

// settle records the post-bar position and flattens on a close.
func (m *Manager) settle(out Outcome) Outcome {
	out.Position = m.pos
	if out.Decision.IsClose() {
		m.pos = Position{}
	}
	return out
}

// Close flattens the position on an external instruction.
func (m *Manager) Close(reason string) (Outcome, error) {
	var d types.Decision
	switch m.pos.Side {
	case Long:
		d = types.CloseLong
	case Short:
		d = types.CloseShort
	default:
		return Outcome{Decision: types.NoTrade}, ErrNotOpen
	}
	out := Outcome{Decision: d, Reason: reason, Position: m.pos}
	m.pos = Position{}
	return out, nil
}
