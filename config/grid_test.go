package config

import (
	"errors"
	"testing"
)

func TestRangeValues(t *testing.T) {
	got := Range{Name: "volume_multiplier", Min: 1.0, Max: 2.0, Step: 0.2}.Values()
	want := []float64{1.0, 1.2, 1.4, 1.6, 1.8, 2.0}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("value %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestDefaultGridSize(t *testing.T) {
	// 2 * 6 * 5 * 6 * 4 * 5 * 6
	if got := DefaultGrid().Size(); got != 43200 {
		t.Fatalf("unexpected grid size %d", got)
	}
}

func TestGridEachVisitsEveryPoint(t *testing.T) {
	g := Grid{
		{Name: "signal_num", Min: 2, Max: 3, Step: 1},
		{Name: "atr_multiplier", Min: 1.5, Max: 2.5, Step: 0.5},
	}
	var seen []Params
	err := g.Each(Recommended(), func(p Params) error {
		seen = append(seen, p)
		return nil
	})
	if err != nil {
		t.Fatalf("Each failed: %v", err)
	}
	if len(seen) != g.Size() || len(seen) != 6 {
		t.Fatalf("expected 6 points, got %d", len(seen))
	}
	if seen[0].SignalNum != 2 || seen[0].ATRMultiplier != 1.5 {
		t.Fatalf("unexpected first point: %+v", seen[0])
	}
	if seen[1].ATRMultiplier != 2.0 {
		t.Fatalf("last range should vary fastest, got %+v", seen[1])
	}
	if last := seen[5]; last.SignalNum != 3 || last.ATRMultiplier != 2.5 {
		t.Fatalf("unexpected last point: %+v", last)
	}
}

func TestGridEachRejectsInvalidPoints(t *testing.T) {
	g := Grid{{Name: "signal_num", Min: 1, Max: 3, Step: 1}}
	err := g.Each(Recommended(), func(Params) error { return nil })
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("signal_num=1 in the sweep must be rejected, got %v", err)
	}
}

func TestGridEachRejectsUnknownOption(t *testing.T) {
	g := Grid{{Name: "leverage", Min: 1, Max: 5, Step: 1}}
	if err := g.Each(Recommended(), func(Params) error { return nil }); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestGridEachStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := DefaultGrid().Each(Recommended(), func(Params) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || calls != 3 {
		t.Fatalf("expected stop after 3 calls, got err=%v calls=%d", err, calls)
	}
}
