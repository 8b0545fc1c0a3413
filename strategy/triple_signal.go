package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/evdnx/trisignal/config"
	"github.com/evdnx/trisignal/executor"
	"github.com/evdnx/trisignal/indicator"
	"github.com/evdnx/trisignal/logger"
	"github.com/evdnx/trisignal/metrics"
	"github.com/evdnx/trisignal/position"
	"github.com/evdnx/trisignal/risk"
	"github.com/evdnx/trisignal/signal"
	"github.com/evdnx/trisignal/types"
)

var (
	ErrOutOfOrderBar = errors.New("bar timestamp not after the previous bar")
	ErrInvalidBar    = errors.New("malformed bar")
	ErrZeroQty       = errors.New("order size rounds to zero")
)

// Step is everything the engine decided about one bar.
type Step struct {
	Bar       types.Bar
	Decision  types.Decision
	Layer     signal.Layer // entry path only; LayerExecution when a confirmed entry failed
	Reason    string
	Tally     signal.Tally
	State     indicator.State
	Position  position.Position // after the bar; on a close, the position that was closed
	Ratcheted bool
	OrderErr  error // failed entry or refused order on this bar
}

// TripleSignal is the per-instrument engine: the indicator bank feeds the
// entry pipeline while flat and the position manager while in a trade.
// Exactly one of the two runs per bar. It is not safe for concurrent use.
type TripleSignal struct {
	Symbol string
	RunID  string

	params   config.Params
	bank     *indicator.Bank
	pipeline *signal.Pipeline
	pos      *position.Manager
	exec     executor.Executor
	log      logger.Logger

	last    time.Time
	started bool
	openQty float64
}

// NewTripleSignal validates params and builds the engine. exec may be nil,
// in which case decisions are only returned, never submitted.
func NewTripleSignal(symbol string, params config.Params, exec executor.Executor, log logger.Logger) (*TripleSignal, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	runID := uuid.NewString()
	log = logger.With(log, logger.String("symbol", symbol), logger.String("run_id", runID))

	bank, err := indicator.NewBank(params, log)
	if err != nil {
		return nil, err
	}
	s := &TripleSignal{
		Symbol:   symbol,
		RunID:    runID,
		params:   params,
		bank:     bank,
		pipeline: signal.New(params),
		pos:      position.NewManager(params),
		exec:     exec,
		log:      log,
	}
	log.Info("strategy_started",
		logger.Int("signal_num", params.SignalNum),
		logger.Int("history", bank.Capacity()),
	)
	return s, nil
}

// Params returns the parameter set the engine was built with.
func (s *TripleSignal) Params() config.Params { return s.params }

// Position returns the current position.
func (s *TripleSignal) Position() position.Position { return s.pos.Position() }

// ProcessBar runs one bar through the engine. Out-of-order and malformed
// bars are refused with an error and leave every piece of state untouched.
func (s *TripleSignal) ProcessBar(bar types.Bar) (Step, error) {
	if err := checkBar(bar); err != nil {
		s.refuse("invalid", bar, err)
		return Step{Bar: bar, Decision: types.NoTrade}, err
	}
	if s.started && !bar.Timestamp.After(s.last) {
		err := fmt.Errorf("%w: %s <= %s", ErrOutOfOrderBar,
			bar.Timestamp.Format(time.RFC3339), s.last.Format(time.RFC3339))
		s.refuse("out_of_order", bar, err)
		return Step{Bar: bar, Decision: types.NoTrade}, err
	}
	s.last, s.started = bar.Timestamp, true

	st := s.bank.Update(bar)
	var step Step
	if s.pos.IsFlat() {
		step = s.enter(bar, st)
	} else {
		step = s.manage(bar, st)
	}
	s.record(step)
	return step, nil
}

// Replay feeds bars in order and hands every step to fn. It stops at the
// first refused bar or when ctx is done.
func (s *TripleSignal) Replay(ctx context.Context, bars []types.Bar, fn func(Step)) error {
	for _, b := range bars {
		if err := ctx.Err(); err != nil {
			return err
		}
		step, err := s.ProcessBar(b)
		if err != nil {
			return err
		}
		if fn != nil {
			fn(step)
		}
	}
	return nil
}

// Close flattens an open position at price on an external instruction.
func (s *TripleSignal) Close(price float64, reason string) (Step, error) {
	out, err := s.pos.Close(reason)
	if err != nil {
		return Step{Decision: types.NoTrade}, err
	}
	step := Step{Decision: out.Decision, Reason: reason, Position: out.Position}
	step.OrderErr = s.submitClose(out, price)
	s.record(step)
	return step, nil
}

func (s *TripleSignal) enter(bar types.Bar, st indicator.State) Step {
	v := s.pipeline.Decide(bar, st)
	step := Step{
		Bar:      bar,
		Decision: v.Decision,
		Layer:    v.Layer,
		Reason:   v.Reason,
		Tally:    v.Tally,
		State:    st,
	}
	if !v.Decision.IsOpen() {
		s.log.Debug("entry_rejected",
			logger.Time("ts", bar.Timestamp),
			logger.String("layer", string(v.Layer)),
			logger.String("reason", v.Reason),
			logger.Int("long", v.Tally.Long),
			logger.Int("short", v.Tally.Short),
			logger.Float64("mfi", st.MFI),
		)
		return step
	}

	pos, err := s.pos.Open(v.Decision, bar, st.ATR)
	if err != nil {
		s.log.Warn("open_failed", logger.Time("ts", bar.Timestamp), logger.Err(err))
		return s.abandon(step, err)
	}
	if err := s.submitOpen(v.Decision, pos, st); err != nil {
		// The executor refused: the engine stays flat.
		_, _ = s.pos.Close("order_failed")
		return s.abandon(step, err)
	}
	step.Position = pos
	s.log.Info("position_opened",
		logger.Time("ts", bar.Timestamp),
		logger.String("decision", v.Decision.String()),
		logger.Float64("entry", pos.EntryPrice),
		logger.Float64("stop", pos.StopPrice),
		logger.Float64("atr", pos.EntryATR),
		logger.String("reason", v.Reason),
	)
	return step
}

// abandon turns an entry that could not be carried out into a NoTrade.
func (s *TripleSignal) abandon(step Step, err error) Step {
	step.Decision = types.NoTrade
	step.Layer = signal.LayerExecution
	step.Reason = err.Error()
	step.OrderErr = err
	step.Position = s.pos.Position()
	return step
}

func (s *TripleSignal) manage(bar types.Bar, st indicator.State) Step {
	tally := tallyFor(st, s.params)
	out, err := s.pos.Evaluate(bar, st, tally)
	if err != nil {
		// unreachable while the manager holds a position
		s.log.Error("evaluate_failed", logger.Err(err))
	}
	step := Step{
		Bar:       bar,
		Decision:  out.Decision,
		Reason:    out.Reason,
		Tally:     tally,
		State:     st,
		Position:  out.Position,
		Ratcheted: out.Ratcheted,
	}
	if out.Ratcheted {
		s.log.Debug("stop_ratcheted",
			logger.Time("ts", bar.Timestamp),
			logger.Float64("stop", out.Position.StopPrice),
			logger.Float64("extreme", out.Position.ExtremePrice),
		)
	}
	if out.Decision.IsClose() {
		step.OrderErr = s.submitClose(out, bar.Close)
	}
	return step
}

// tallyFor counts votes on a ready state only; the zero values of a
// not-ready state would read as an RSI long vote.
func tallyFor(st indicator.State, p config.Params) signal.Tally {
	if !st.Ready {
		return signal.Tally{}
	}
	return signal.Count(st, p)
}

func (s *TripleSignal) submitOpen(d types.Decision, pos position.Position, st indicator.State) error {
	if s.exec == nil {
		return nil
	}
	qty := risk.Size(s.params, s.exec.Equity(), st.ATR*s.params.ATRMultiplier)
	if qty <= 0 {
		s.log.Warn("order_qty_zero", logger.Float64("equity", s.exec.Equity()))
		return ErrZeroQty
	}
	side := types.Buy
	if d == types.OpenShort {
		side = types.Sell
	}
	o := types.Order{
		Symbol:  s.Symbol,
		Side:    side,
		Qty:     qty,
		Price:   pos.EntryPrice,
		Comment: d.String(),
	}
	if err := s.submitOrder(o); err != nil {
		return err
	}
	s.openQty = qty
	return nil
}

// submitClose sends the closing order. The engine position is already
// flat whatever the executor answers; its error is handed back for the Step.
func (s *TripleSignal) submitClose(out position.Outcome, price float64) error {
	qty := s.openQty
	s.openQty = 0
	s.log.Info("position_closed",
		logger.String("decision", out.Decision.String()),
		logger.String("reason", out.Reason),
		logger.Float64("entry", out.Position.EntryPrice),
		logger.Float64("exit", price),
		logger.Float64("stop", out.Position.StopPrice),
		logger.Int("bars_held", out.Position.BarsHeld),
	)
	if s.exec == nil || qty == 0 {
		return nil
	}
	side := types.Sell
	if out.Decision == types.CloseShort {
		side = types.Buy
	}
	return s.submitOrder(types.Order{
		Symbol:  s.Symbol,
		Side:    side,
		Qty:     qty,
		Price:   price,
		Comment: out.Decision.String() + ":" + out.Reason,
	})
}

// submitOrder is a thin wrapper that records metrics and logs.
func (s *TripleSignal) submitOrder(o types.Order) error {
	err := s.exec.Submit(o)
	if err != nil {
		s.log.Error("order_submit_failed",
			logger.String("side", string(o.Side)),
			logger.Float64("qty", o.Qty),
			logger.Err(err),
		)
		metrics.OrdersFailed.WithLabelValues(s.Symbol).Inc()
		return err
	}
	s.log.Info("order_submitted",
		logger.String("side", string(o.Side)),
		logger.Float64("qty", o.Qty),
		logger.Float64("price", o.Price),
		logger.String("ctx", o.Comment),
	)
	metrics.OrdersSubmitted.WithLabelValues(s.Symbol, string(o.Side)).Inc()
	metrics.EquityGauge.Set(s.exec.Equity())
	return nil
}

func (s *TripleSignal) record(step Step) {
	metrics.Decisions.WithLabelValues(s.Symbol, step.Decision.String()).Inc()
	if step.Decision == types.NoTrade && step.Layer != "" {
		metrics.Rejections.WithLabelValues(s.Symbol, string(step.Layer)).Inc()
	}
	pos := s.pos.Position()
	side := 0.0
	switch pos.Side {
	case position.Long:
		side = 1
	case position.Short:
		side = -1
	}
	metrics.PositionsOpen.WithLabelValues(s.Symbol).Set(side)
	metrics.StopPrice.WithLabelValues(s.Symbol).Set(pos.StopPrice)
}

func (s *TripleSignal) refuse(reason string, bar types.Bar, err error) {
	metrics.BarsRejected.WithLabelValues(s.Symbol, reason).Inc()
	s.log.Warn("bar_refused",
		logger.String("reason", reason),
		logger.Time("ts", bar.Timestamp),
		logger.Err(err),
	)
}

func checkBar(b types.Bar) error {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidBar)
		}
	}
	switch {
	case b.Volume < 0:
		return fmt.Errorf("%w: negative volume %v", ErrInvalidBar, b.Volume)
	case b.High < b.Low:
		return fmt.Errorf("%w: high %v below low %v", ErrInvalidBar, b.High, b.Low)
	case b.Close <= 0:
		return fmt.Errorf("%w: non-positive close %v", ErrInvalidBar, b.Close)
	}
	return nil
}
