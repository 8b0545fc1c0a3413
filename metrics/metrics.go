package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trisignal_orders_submitted_total",
			Help: "Total number of orders accepted by the executor (by symbol and side).",
		},
		[]string{"symbol", "side"},
	)

	OrdersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trisignal_orders_failed_total",
			Help: "Total number of orders the executor rejected.",
		},
		[]string{"symbol"},
	)

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trisignal_decisions_total",
			Help: "Per-bar decisions emitted by the engine.",
		},
		[]string{"symbol", "decision"},
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trisignal_entry_rejections_total",
			Help: "Flat-state bars that produced no trade, by the layer that rejected them.",
		},
		[]string{"symbol", "layer"},
	)

	PositionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trisignal_position_side",
			Help: "Current position per symbol: 1 long, -1 short, 0 flat.",
		},
		[]string{"symbol"},
	)

	StopPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trisignal_stop_price",
			Help: "Current trailing stop of the open position (0 when flat).",
		},
		[]string{"symbol"},
	)

	BarsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trisignal_bars_rejected_total",
			Help: "Bars refused as out of order or malformed.",
		},
		[]string{"symbol", "reason"},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trisignal_equity",
			Help: "Current equity of the executor (paper or live).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted,
		OrdersFailed,
		Decisions,
		Rejections,
		PositionsOpen,
		StopPrice,
		BarsRejected,
		EquityGauge,
	)
}
