package executor

import (
	"errors"
	"testing"

	"github.com/evdnx/trisignal/testutils"
	"github.com/evdnx/trisignal/types"
)

func TestPaperExecutor_SubmitAndPosition(t *testing.T) {
	ex := NewPaperExecutor(10_000, nil)

	o := types.Order{
		Symbol: "BTCUSD",
		Side:   types.Buy,
		Qty:    0.5,
		Price:  20_000,
	}
	if err := ex.Submit(o); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if cash := ex.Cash(); cash != 0 {
		t.Fatalf("expected cash 0 after buying 0.5*20000, got %v", cash)
	}
	if eq := ex.Equity(); eq != 10_000 {
		t.Fatalf("equity should be marked at the fill, got %v", eq)
	}
	qty, avg := ex.Position("BTCUSD")
	if qty != 0.5 || avg != 20_000 {
		t.Fatalf("unexpected position: qty=%v avg=%v", qty, avg)
	}
}

func TestPaperExecutor_InsufficientCash(t *testing.T) {
	log := testutils.NewMockLogger()
	ex := NewPaperExecutor(1000, log)
	o := types.Order{
		Symbol: "ETHUSD",
		Side:   types.Buy,
		Qty:    1,
		Price:  2000,
	}
	if err := ex.Submit(o); !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
	if eq := ex.Equity(); eq != 1000 {
		t.Fatalf("equity should stay unchanged on insufficient cash")
	}
	if log.LastMessage() != "insufficient_cash" {
		t.Fatalf("expected insufficient_cash warning, got %q", log.LastMessage())
	}
}

func TestPaperExecutor_RoundTripLong(t *testing.T) {
	ex := NewPaperExecutor(1000, nil)
	must(t, ex.Submit(types.Order{Symbol: "X", Side: types.Buy, Qty: 2, Price: 100}))
	must(t, ex.Submit(types.Order{Symbol: "X", Side: types.Buy, Qty: 2, Price: 110}))
	if qty, avg := ex.Position("X"); qty != 4 || avg != 105 {
		t.Fatalf("expected 4 @ 105, got %v @ %v", qty, avg)
	}
	must(t, ex.Submit(types.Order{Symbol: "X", Side: types.Sell, Qty: 4, Price: 120}))
	if qty, avg := ex.Position("X"); qty != 0 || avg != 0 {
		t.Fatalf("expected flat, got %v @ %v", qty, avg)
	}
	if eq := ex.Equity(); eq != 1060 {
		t.Fatalf("expected 1000 - 420 + 480 = 1060, got %v", eq)
	}
}

func TestPaperExecutor_ShortAndCover(t *testing.T) {
	ex := NewPaperExecutor(100, nil)
	must(t, ex.Submit(types.Order{Symbol: "X", Side: types.Sell, Qty: 1, Price: 500}))
	if qty, avg := ex.Position("X"); qty != -1 || avg != 500 {
		t.Fatalf("expected -1 @ 500, got %v @ %v", qty, avg)
	}
	// Covering needs no free cash for the closing part.
	must(t, ex.Submit(types.Order{Symbol: "X", Side: types.Buy, Qty: 1, Price: 450}))
	if qty, _ := ex.Position("X"); qty != 0 {
		t.Fatalf("expected flat, got %v", qty)
	}
	if eq := ex.Equity(); eq != 150 {
		t.Fatalf("expected 100 + 50 profit, got %v", eq)
	}
}

func TestPaperExecutor_RejectsInvalidOrders(t *testing.T) {
	ex := NewPaperExecutor(1000, nil)
	for _, o := range []types.Order{
		{Symbol: "X", Side: types.Buy, Qty: -1, Price: 10},
		{Symbol: "X", Side: types.Buy, Qty: 1, Price: 0},
		{Symbol: "X", Side: "HOLD", Qty: 1, Price: 10},
	} {
		if err := ex.Submit(o); !errors.Is(err, ErrInvalidOrder) {
			t.Fatalf("%+v: expected ErrInvalidOrder, got %v", o, err)
		}
	}
	if err := ex.Submit(types.Order{Symbol: "X", Side: types.Buy}); err != nil {
		t.Fatalf("zero qty is a no-op, got %v", err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
