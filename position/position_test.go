package position

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/evdnx/trisignal/config"
	"github.com/evdnx/trisignal/indicator"
	"github.com/evdnx/trisignal/signal"
	"github.com/evdnx/trisignal/types"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, close float64) types.Bar {
	return types.Bar{
		Timestamp: t0.Add(time.Duration(i) * time.Hour),
		Open:      close, High: close + 0.5, Low: close - 0.5, Close: close,
		Volume: 1000,
	}
}

func ready(atr float64) indicator.State {
	return indicator.State{Ready: true, ATR: atr, RSI: 50, MATrend: 1}
}

func newManager(mult float64) *Manager {
	p := config.Recommended()
	p.ATRMultiplier = mult
	return NewManager(p)
}

func TestLongScenario(t *testing.T) {
	m := newManager(2.5)

	// Open at 100 with ATR 2: stop = 100 - 2*2.5.
	pos, err := m.Open(types.OpenLong, bar(0, 100), 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if pos.Side != Long || pos.StopPrice != 95 || pos.ExtremePrice != 100 || pos.EntryATR != 2 {
		t.Fatalf("unexpected entry state %+v", pos)
	}

	// Close 110 with ATR 1: extreme 110, candidate 107.5 ratchets up from 95.
	out, err := m.Evaluate(bar(1, 110), ready(1), signal.Tally{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out.Decision != types.Hold || !out.Ratcheted {
		t.Fatalf("expected ratcheting hold, got %+v", out)
	}
	if out.Position.ExtremePrice != 110 || out.Position.StopPrice != 107.5 {
		t.Fatalf("expected extreme 110 / stop 107.5, got %+v", out.Position)
	}

	// Close 106 is below the 107.5 stop.
	out, err = m.Evaluate(bar(2, 106), ready(1), signal.Tally{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out.Decision != types.CloseLong || out.Reason != ReasonStop {
		t.Fatalf("expected stop-out, got %+v", out)
	}
	if out.Position.StopPrice != 107.5 {
		t.Fatalf("closed position should report its final stop, got %+v", out.Position)
	}
	if !m.IsFlat() {
		t.Fatal("manager should be flat after a close")
	}
}

func TestShortMirror(t *testing.T) {
	m := newManager(2.5)
	pos, err := m.Open(types.OpenShort, bar(0, 100), 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if pos.Side != Short || pos.StopPrice != 105 {
		t.Fatalf("unexpected entry state %+v", pos)
	}
	out, _ := m.Evaluate(bar(1, 90), ready(1), signal.Tally{})
	if out.Decision != types.Hold || out.Position.ExtremePrice != 90 || out.Position.StopPrice != 92.5 {
		t.Fatalf("expected extreme 90 / stop 92.5, got %+v", out)
	}
	out, _ = m.Evaluate(bar(2, 93), ready(1), signal.Tally{})
	if out.Decision != types.CloseShort || out.Reason != ReasonStop {
		t.Fatalf("expected short stop-out, got %+v", out)
	}
}

func TestStopNeverLoosensOnVolatilitySpike(t *testing.T) {
	m := newManager(2.5)
	if _, err := m.Open(types.OpenLong, bar(0, 100), 2); err != nil {
		t.Fatal(err)
	}
	out, _ := m.Evaluate(bar(1, 110), ready(1), signal.Tally{})
	if out.Position.StopPrice != 107.5 {
		t.Fatalf("setup: expected 107.5, got %v", out.Position.StopPrice)
	}
	// ATR jumps to 10: candidate 85 would loosen the stop.
	out, _ = m.Evaluate(bar(2, 109), ready(10), signal.Tally{})
	if out.Position.StopPrice != 107.5 || out.Ratcheted {
		t.Fatalf("stop must not move back on a volatility spike, got %+v", out)
	}
}

func TestStopRatchetIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, side := range []types.Decision{types.OpenLong, types.OpenShort} {
		for trial := 0; trial < 50; trial++ {
			m := newManager(1.5 + rng.Float64()*2)
			price := 100.0
			if _, err := m.Open(side, bar(0, price), 1+rng.Float64()); err != nil {
				t.Fatal(err)
			}
			prev := m.Position().StopPrice
			for i := 1; i < 200 && !m.IsFlat(); i++ {
				price += rng.NormFloat64()
				if price < 1 {
					price = 1
				}
				out, err := m.Evaluate(bar(i, price), ready(0.2+rng.Float64()*3), signal.Tally{})
				if err != nil {
					t.Fatal(err)
				}
				stop := out.Position.StopPrice
				if side == types.OpenLong && stop < prev {
					t.Fatalf("long stop moved down: %v -> %v", prev, stop)
				}
				if side == types.OpenShort && stop > prev {
					t.Fatalf("short stop moved up: %v -> %v", prev, stop)
				}
				prev = stop
			}
		}
	}
}

func TestTrailActivation(t *testing.T) {
	p := config.Recommended()
	p.ATRMultiplier = 2.5
	p.TrailActivationPct = 0.05
	m := NewManager(p)
	if _, err := m.Open(types.OpenLong, bar(0, 100), 2); err != nil {
		t.Fatal(err)
	}
	// 104 is under the 105 activation price: the stop stays at 95.
	out, _ := m.Evaluate(bar(1, 104), ready(0.5), signal.Tally{})
	if out.Position.StopPrice != 95 {
		t.Fatalf("stop should wait for activation, got %v", out.Position.StopPrice)
	}
	out, _ = m.Evaluate(bar(2, 106), ready(0.5), signal.Tally{})
	if out.Position.StopPrice != 104.75 {
		t.Fatalf("expected 106 - 0.5*2.5 once activated, got %v", out.Position.StopPrice)
	}
}

func TestIntrabarStop(t *testing.T) {
	p := config.Recommended()
	p.ATRMultiplier = 2.5
	p.IntrabarStop = true
	m := NewManager(p)
	if _, err := m.Open(types.OpenLong, bar(0, 100), 2); err != nil {
		t.Fatal(err)
	}
	b := bar(1, 97)
	b.Low = 94.9
	out, _ := m.Evaluate(b, ready(2), signal.Tally{})
	if out.Decision != types.CloseLong {
		t.Fatalf("low piercing the stop should close, got %+v", out)
	}
}

func TestOptionalExits(t *testing.T) {
	p := config.Recommended()
	p.ExitOnRSI = true
	p.ExitOnReversal = true
	m := NewManager(p)

	if _, err := m.Open(types.OpenLong, bar(0, 100), 2); err != nil {
		t.Fatal(err)
	}
	st := ready(2)
	st.RSI = 75
	out, _ := m.Evaluate(bar(1, 101), st, signal.Tally{})
	if out.Decision != types.CloseLong || out.Reason != ReasonRSI {
		t.Fatalf("expected RSI exit, got %+v", out)
	}

	if _, err := m.Open(types.OpenShort, bar(2, 100), 2); err != nil {
		t.Fatal(err)
	}
	st = ready(2)
	st.MATrend = 1
	out, _ = m.Evaluate(bar(3, 99), st, signal.Tally{Long: 2})
	if out.Decision != types.CloseShort || out.Reason != ReasonReversal {
		t.Fatalf("expected reversal exit, got %+v", out)
	}
}

func TestOptionalExitsOffByDefault(t *testing.T) {
	m := newManager(2.5)
	if _, err := m.Open(types.OpenLong, bar(0, 100), 2); err != nil {
		t.Fatal(err)
	}
	st := ready(2)
	st.RSI = 95
	st.MATrend = -1
	out, _ := m.Evaluate(bar(1, 101), st, signal.Tally{Short: 3})
	if out.Decision != types.Hold {
		t.Fatalf("only the stop may close with default params, got %+v", out)
	}
}

func TestOpenErrors(t *testing.T) {
	m := newManager(2.5)
	if _, err := m.Open(types.OpenLong, bar(0, 100), 0); !errors.Is(err, ErrBadEntry) {
		t.Fatalf("zero ATR must be rejected, got %v", err)
	}
	if _, err := m.Open(types.Hold, bar(0, 100), 1); err == nil {
		t.Fatal("Hold is not an open decision")
	}
	if _, err := m.Open(types.OpenLong, bar(0, 100), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Open(types.OpenShort, bar(1, 100), 1); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}
}

func TestExternalClose(t *testing.T) {
	m := newManager(2.5)
	if _, err := m.Close("manual"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if _, err := m.Evaluate(bar(0, 100), ready(1), signal.Tally{}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if _, err := m.Open(types.OpenShort, bar(0, 100), 1); err != nil {
		t.Fatal(err)
	}
	out, err := m.Close("manual")
	if err != nil || out.Decision != types.CloseShort || out.Reason != "manual" {
		t.Fatalf("unexpected close outcome %+v err=%v", out, err)
	}
	if !m.IsFlat() {
		t.Fatal("expected flat after external close")
	}
}
