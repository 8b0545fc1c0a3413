// Package indicator maintains the bounded bar history of one instrument and
// derives, per bar, the trend, momentum, volatility, directional-strength
// and volume readings the entry pipeline and the stop manager consume.
package indicator

import (
	"fmt"
	"math"

	"github.com/evdnx/goti"
	talib "github.com/markcheno/go-talib"

	"github.com/evdnx/trisignal/config"
	"github.com/evdnx/trisignal/logger"
	"github.com/evdnx/trisignal/types"
)

// State is the indicator snapshot for the most recent bar. When Ready is
// false the indicator fields are zero, which the pipeline reads as a
// neutral, non-tradeable bar.
type State struct {
	Ready bool
	Bars  int // bars currently held by the bank

	FastMA  float64
	SlowMA  float64
	MATrend int // +1 fast above slow, -1 below, 0 equal

	RSI            float64
	MACD           float64 // histogram; only the sign is consumed
	StochK         float64
	StochD         float64
	StochCrossOver bool // %K crossed above %D on this bar

	ATR      float64
	ADX      float64
	VolumeMA float64 // mean volume of the bars before this one

	// Advisory money-flow reading; never gates a decision.
	MFI      float64
	MFIReady bool
}

// Bank is the per-instrument indicator store. It is not safe for
// concurrent use.
type Bank struct {
	params config.Params
	hist   *history
	rsi    *goti.RelativeStrengthIndex
	mfi    *goti.MoneyFlowIndex
	log    logger.Logger
}

// NewBank validates the parameters and sizes the history window to
// max(HistorySize, RequiredHistory).
func NewBank(p config.Params, log logger.Logger) (*Bank, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	size := RequiredHistory(p)
	if size > config.MaxHistory {
		return nil, fmt.Errorf("%w: indicators need %d bars, more than %d",
			config.ErrInvalidParameter, size, config.MaxHistory)
	}
	if p.HistorySize > size {
		size = p.HistorySize
	}
	// goti's own thresholds only drive its signal helpers, which are unused.
	cfg := goti.DefaultConfig()
	rsi, err := goti.NewRelativeStrengthIndexWithParams(p.RSILength, cfg)
	if err != nil {
		return nil, err
	}
	mfi, err := goti.NewMoneyFlowIndexWithParams(p.RSILength, cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Bank{
		params: p,
		hist:   newHistory(size),
		rsi:    rsi,
		mfi:    mfi,
		log:    log,
	}, nil
}

// Capacity is the number of bars needed before the bank reports Ready.
func (b *Bank) Capacity() int { return b.hist.max }

// Len is the number of bars currently held.
func (b *Bank) Len() int { return b.hist.Len() }

// RequiredHistory is the smallest window on which every configured
// indicator (and the previous stochastic reading for the crossover) has
// a defined value.
func RequiredHistory(p config.Params) int {
	macdLong := p.MACDSlowPeriod
	if p.MACDFastPeriod > macdLong {
		macdLong = p.MACDFastPeriod
	}
	return maxInt(
		p.FastWindow,
		p.SlowWindow,
		p.RSILength+1,
		macdLong+p.MACDSignalPeriod-1,
		p.KPeriod+p.SlowingPeriod+p.DPeriod-1,
		p.ATRLength+1,
		2*p.ADXLength,
		p.VolumeWindow+1,
	)
}

// Update appends bar to the history and recomputes the snapshot. Ordering
// of bars is the caller's responsibility.
func (b *Bank) Update(bar types.Bar) State {
	b.hist.Add(bar)

	var st State
	st.Bars = b.hist.Len()
	// The goti oscillators are incremental: they see every bar, not just
	// the window.
	rsiErr := b.rsi.Add(bar.Close)
	if rsiErr != nil {
		b.log.Warn("rsi_add_error", logger.Time("ts", bar.Timestamp), logger.Err(rsiErr))
	}
	if err := b.mfi.Add(bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
		b.log.Warn("mfi_add_error", logger.Time("ts", bar.Timestamp), logger.Err(err))
	} else if mfi, err := b.mfi.Calculate(); err == nil && finite(mfi) {
		st.MFI = mfi
		st.MFIReady = true
	}

	if !b.hist.Full() {
		return st
	}

	p := b.params
	highs, lows, closes, volumes := b.hist.columns()
	n := len(closes)

	st.FastMA = last(talib.Sma(closes, p.FastWindow))
	st.SlowMA = last(talib.Sma(closes, p.SlowWindow))
	switch {
	case st.FastMA > st.SlowMA:
		st.MATrend = 1
	case st.FastMA < st.SlowMA:
		st.MATrend = -1
	}

	st.RSI = math.NaN()
	if rsi, err := b.rsi.Calculate(); err == nil && rsiErr == nil {
		st.RSI = rsi
	}
	_, _, hist := talib.Macd(closes, p.MACDFastPeriod, p.MACDSlowPeriod, p.MACDSignalPeriod)
	st.MACD = last(hist)

	k, d := talib.Stoch(highs, lows, closes, p.KPeriod, p.SlowingPeriod, talib.SMA, p.DPeriod, talib.SMA)
	st.StochK, st.StochD = last(k), last(d)
	st.StochCrossOver = crossedAbove(k, d)

	st.ATR = mean(talib.TRange(highs, lows, closes)[n-p.ATRLength:])
	st.ADX = last(talib.Adx(highs, lows, closes, p.ADXLength))
	st.VolumeMA = mean(volumes[n-1-p.VolumeWindow : n-1])

	if !finite(st.FastMA, st.SlowMA, st.RSI, st.MACD, st.StochK, st.StochD, st.ATR, st.ADX, st.VolumeMA) {
		b.log.Warn("indicator_not_finite",
			logger.Time("ts", bar.Timestamp),
			logger.Float64("rsi", st.RSI),
			logger.Float64("atr", st.ATR),
			logger.Float64("adx", st.ADX),
		)
		return State{Bars: st.Bars, MFI: st.MFI, MFIReady: st.MFIReady}
	}
	st.Ready = true
	return st
}

// crossedAbove reports whether k moved from strictly below d on the
// previous bar to strictly above it on the last one.
func crossedAbove(k, d []float64) bool {
	n := len(k)
	if n < 2 || len(d) != n {
		return false
	}
	return k[n-2] < d[n-2] && k[n-1] > d[n-1]
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return xs[len(xs)-1]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func maxInt(first int, rest ...int) int {
	m := first
	for _, v := range rest {
		if v > m {
			m = v
		}
	}
	return m
}
