// Package signal turns an indicator snapshot into an entry decision. The
// decision is an ordered list of short-circuiting stages: the first stage
// to reject ends the evaluation and names itself as the reason.
package signal

import (
	"fmt"

	"github.com/evdnx/trisignal/config"
	"github.com/evdnx/trisignal/indicator"
	"github.com/evdnx/trisignal/types"
)

// Layer identifies the stage that settled a verdict.
type Layer string

const (
	LayerWarmup       Layer = "warmup"
	LayerRegime       Layer = "regime"
	LayerDirection    Layer = "direction"
	LayerTally        Layer = "tally"
	LayerVolume       Layer = "volume"
	LayerConfirmation Layer = "confirmation"

	// LayerExecution marks a confirmed entry that the position manager or
	// the executor could not carry out.
	LayerExecution Layer = "execution"
)

// Tally counts how many of the three momentum votes agree with each side.
type Tally struct {
	Long  int
	Short int
}

// Verdict is the outcome of one entry evaluation.
type Verdict struct {
	Decision types.Decision
	Layer    Layer // stage that rejected, or LayerConfirmation once every stage passed
	Reason   string
	Tally    Tally
}

// input is the immutable context every stage reads.
type input struct {
	bar    types.Bar
	state  indicator.State
	params config.Params
}

// stage returns ok=false with a reason to reject. It may fill in the
// tally for later stages.
type stage struct {
	layer Layer
	eval  func(in *input, tally *Tally) (ok bool, reason string)
}

// Pipeline evaluates entries for a flat position. It holds no mutable
// state and may be shared.
type Pipeline struct {
	params config.Params
	stages []stage
}

// New builds the pipeline in its fixed order: warm-up, regime, direction,
// tally, volume.
func New(p config.Params) *Pipeline {
	return &Pipeline{
		params: p,
		stages: []stage{
			{LayerWarmup, warmupStage},
			{LayerRegime, regimeStage},
			{LayerDirection, directionStage},
			{LayerTally, tallyStage},
			{LayerVolume, volumeStage},
		},
	}
}

// Decide runs the stages against bar and state and returns the verdict.
func (p *Pipeline) Decide(bar types.Bar, state indicator.State) Verdict {
	in := &input{bar: bar, state: state, params: p.params}
	var tally Tally
	for _, s := range p.stages {
		if ok, reason := s.eval(in, &tally); !ok {
			return Verdict{Decision: types.NoTrade, Layer: s.layer, Reason: reason, Tally: tally}
		}
	}
	return confirm(in, tally)
}

func warmupStage(in *input, _ *Tally) (bool, string) {
	if !in.state.Ready {
		return false, fmt.Sprintf("insufficient history (%d bars)", in.state.Bars)
	}
	return true, ""
}

func regimeStage(in *input, _ *Tally) (bool, string) {
	if in.state.ADX < in.params.ADXThreshold {
		return false, fmt.Sprintf("adx %.2f below threshold %.2f", in.state.ADX, in.params.ADXThreshold)
	}
	return true, ""
}

func directionStage(in *input, _ *Tally) (bool, string) {
	if in.state.MATrend == 0 {
		return false, "moving averages flat"
	}
	return true, ""
}

func tallyStage(in *input, tally *Tally) (bool, string) {
	*tally = Count(in.state, in.params)
	return true, ""
}

func volumeStage(in *input, _ *Tally) (bool, string) {
	limit := in.state.VolumeMA * in.params.VolumeMultiplier
	if in.bar.Volume <= limit {
		return false, fmt.Sprintf("volume %.4f not above %.4f", in.bar.Volume, limit)
	}
	return true, ""
}

func confirm(in *input, tally Tally) Verdict {
	v := Verdict{Decision: types.NoTrade, Layer: LayerConfirmation, Tally: tally}
	need := in.params.SignalNum
	switch in.state.MATrend {
	case 1:
		if tally.Long >= need {
			v.Decision = types.OpenLong
			v.Reason = fmt.Sprintf("uptrend with %d/3 long votes", tally.Long)
		} else {
			v.Reason = fmt.Sprintf("uptrend but only %d/%d long votes", tally.Long, need)
		}
	case -1:
		if tally.Short >= need {
			v.Decision = types.OpenShort
			v.Reason = fmt.Sprintf("downtrend with %d/3 short votes", tally.Short)
		} else {
			v.Reason = fmt.Sprintf("downtrend but only %d/%d short votes", tally.Short, need)
		}
	}
	return v
}

// Count tallies the RSI, MACD and stochastic votes for state.
func Count(state indicator.State, p config.Params) Tally {
	var t Tally
	switch {
	case state.RSI <= p.RSIBuyLevel:
		t.Long++
	case state.RSI >= p.RSISellLevel:
		t.Short++
	}
	switch {
	case state.MACD > 0:
		t.Long++
	case state.MACD < 0:
		t.Short++
	}
	switch {
	case state.StochCrossOver:
		t.Long++
	case state.StochK > p.StochOverbought && state.StochD > p.StochOverbought:
		t.Short++
	}
	return t
}
