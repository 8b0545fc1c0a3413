package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegistered(t *testing.T) {
	// Vecs only show up once a child exists.
	Decisions.WithLabelValues("REG", "NO_TRADE").Inc()
	EquityGauge.Set(1)
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"trisignal_decisions_total", "trisignal_equity"} {
		if !names[want] {
			t.Fatalf("%s not registered with the default registry", want)
		}
	}
}

func TestDecisionCounter(t *testing.T) {
	before := testutil.ToFloat64(Decisions.WithLabelValues("TEST", "OPEN_LONG"))
	Decisions.WithLabelValues("TEST", "OPEN_LONG").Inc()
	if got := testutil.ToFloat64(Decisions.WithLabelValues("TEST", "OPEN_LONG")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}

func TestStopGaugeExposition(t *testing.T) {
	StopPrice.WithLabelValues("EXPO").Set(107.5)
	defer StopPrice.DeleteLabelValues("EXPO")
	expected := `
# HELP trisignal_stop_price Current trailing stop of the open position (0 when flat).
# TYPE trisignal_stop_price gauge
trisignal_stop_price{symbol="EXPO"} 107.5
`
	if err := testutil.CollectAndCompare(StopPrice, strings.NewReader(expected), "trisignal_stop_price"); err != nil {
		t.Fatal(err)
	}
}
