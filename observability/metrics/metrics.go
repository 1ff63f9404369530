// Package metrics implements engine.Recorder against Prometheus collectors,
// the way observability/metrics.go wires every other daemon's counters and
// histograms through a lazily-initialised, package-level registry.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CoinCulture/agnes/consensus/bft"
)

type Consensus struct {
	step             *prometheus.GaugeVec
	messages         *prometheus.CounterVec
	reinjectionDepth prometheus.Histogram
}

var (
	consensusOnce sync.Once
	consensusReg  *Consensus
)

// NewConsensus returns the lazily-initialised consensus metrics registry.
// Collectors are registered once per process; repeated calls return the same
// instance.
func NewConsensus() *Consensus {
	consensusOnce.Do(func() {
		consensusReg = &Consensus{
			step: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "consensus",
				Subsystem: "engine",
				Name:      "round_step",
				Help:      "Current round state machine step (0=NewRound,1=Propose,2=Prevote,3=Precommit,4=Commit), labelled by height and round.",
			}, []string{"height", "round"}),
			messages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "consensus",
				Subsystem: "engine",
				Name:      "messages_total",
				Help:      "Count of messages emitted by the round state machine, segmented by kind.",
			}, []string{"kind"}),
			reinjectionDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "consensus",
				Subsystem: "engine",
				Name:      "reinjection_depth",
				Help:      "Number of events drained from the re-injection queue per Apply/Start call.",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			}),
		}
		prometheus.MustRegister(
			consensusReg.step,
			consensusReg.messages,
			consensusReg.reinjectionDepth,
		)
	})
	return consensusReg
}

// ObserveStep implements engine.Recorder.
func (m *Consensus) ObserveStep(height uint64, round int, step bft.Step) {
	if m == nil {
		return
	}
	m.step.WithLabelValues(heightLabel(height), roundLabel(round)).Set(float64(step))
}

// ObserveMessage implements engine.Recorder.
func (m *Consensus) ObserveMessage(kind bft.MessageKind) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind.String()).Inc()
}

// ObserveReinjectionDepth implements engine.Recorder.
func (m *Consensus) ObserveReinjectionDepth(n int) {
	if m == nil {
		return
	}
	m.reinjectionDepth.Observe(float64(n))
}

func heightLabel(h uint64) string {
	return strconv.FormatUint(h, 10)
}

func roundLabel(r int) string {
	return strconv.Itoa(r)
}
