package supervisor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	sessions   prometheus.Gauge
	running    prometheus.Gauge
	spawns     *prometheus.CounterVec
	exits      *prometheus.CounterVec
	kills      prometheus.Counter
	stale      *prometheus.CounterVec
	lineErrors prometheus.Counter
	verdicts   *prometheus.CounterVec
	costUSD    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentdeck", Name: "sessions",
			Help: "Sessions currently held by the supervisor.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentdeck", Name: "processes_running",
			Help: "Agent processes currently attached to a session.",
		}),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentdeck", Name: "process_spawns_total",
			Help: "Agent process starts by result.",
		}, []string{"result"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentdeck", Name: "process_exits_total",
			Help: "Exits of current agent processes by result.",
		}, []string{"result"}),
		kills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentdeck", Name: "process_kills_total",
			Help: "Stopped processes that needed SIGKILL.",
		}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentdeck", Name: "stale_events_dropped_total",
			Help: "Output chunks and exits discarded because their process was superseded.",
		}, []string{"kind"}),
		lineErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentdeck", Name: "stream_line_errors_total",
			Help: "Output lines that were not valid JSON.",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentdeck", Name: "permission_verdicts_total",
			Help: "Permission verdicts by source and outcome.",
		}, []string{"source", "allow"}),
		costUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentdeck", Name: "cost_usd_total",
			Help: "Estimated spend across all sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.running, m.spawns, m.exits, m.kills,
			m.stale, m.lineErrors, m.verdicts, m.costUSD)
	}
	return m
}

func (m *metrics) verdict(source string, allow bool) {
	m.verdicts.WithLabelValues(source, strconv.FormatBool(allow)).Inc()
}
