package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limit gate decisions by outcome",
		},
		[]string{"outcome"},
	)

	blocksCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_blocks_created_total",
			Help: "User blocks created by reason",
		},
		[]string{"reason"},
	)

	warPollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "war_poll_clans_total",
			Help: "Per-clan war poll iterations by result",
		},
		[]string{"result"},
	)

	warRemindersSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "war_reminders_sent_total",
			Help: "War end reminders sent",
		},
	)

	warPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "war_poll_tick_duration_seconds",
			Help:    "Time spent processing one full poll tick",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Init(addr string) {
	prometheus.MustRegister(rateLimitDecisions, blocksCreated, warPollTicks, warRemindersSent, warPollDuration)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()
}

func RecordRateLimitDecision(outcome string) {
	rateLimitDecisions.WithLabelValues(outcome).Inc()
}

func RecordBlockCreated(reason string) {
	blocksCreated.WithLabelValues(reason).Inc()
}

func RecordWarPoll(result string) {
	warPollTicks.WithLabelValues(result).Inc()
}

func RecordWarReminder() {
	warRemindersSent.Inc()
}

// StartWarPollTick returns a function that records the tick duration.
func StartWarPollTick() func() {
	timer := prometheus.NewTimer(warPollDuration)
	return func() { timer.ObserveDuration() }
}
