package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livequiz"

var (
	// AnswersTotal counts answer submissions by outcome: scored, duplicate, rejected.
	AnswersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_total",
		Help:      "Answer submissions by outcome.",
	}, []string{"outcome"})

	HostActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "host_actions_total",
		Help:      "Host control actions by action and outcome.",
	}, []string{"action", "outcome"})

	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "Messages published to session channels by message type.",
	}, []string{"type"})

	DroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "socket_dropped_total",
		Help:      "Sockets dropped because they could not keep up.",
	})

	OpenSockets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_sockets",
		Help:      "Open sockets by audience.",
	}, []string{"audience"})
)

// Outcome maps an error to the outcome label of a counter.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}
