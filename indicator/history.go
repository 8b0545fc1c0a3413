package indicator

import "github.com/evdnx/trisignal/types"

// history keeps the trailing window of bars the bank recomputes from.
type history struct {
	max int
	buf []types.Bar
}

func newHistory(max int) *history {
	if max <= 0 {
		max = 1
	}
	return &history{max: max, buf: make([]types.Bar, 0, max+1)}
}

func (h *history) Add(b types.Bar) {
	h.buf = append(h.buf, b)
	if len(h.buf) > h.max {
		// shift in place so the backing array stays bounded
		n := copy(h.buf, h.buf[len(h.buf)-h.max:])
		h.buf = h.buf[:n]
	}
}

func (h *history) Len() int  { return len(h.buf) }
func (h *history) Full() bool { return len(h.buf) >= h.max }

// columns splits the window into the per-field series talib expects.
func (h *history) columns() (highs, lows, closes, volumes []float64) {
	n := len(h.buf)
	highs = make([]float64, n)
	lows = make([]float64, n)
	closes = make([]float64, n)
	volumes = make([]float64, n)
	for i, b := range h.buf {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	return highs, lows, closes, volumes
}
