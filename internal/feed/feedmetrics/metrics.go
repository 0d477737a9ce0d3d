package feedmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bnstream"

var (
	Conns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_conns",
		Help:      "Open feed connections",
	})
	ConnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_connect_total",
		Help:      "Connect attempts, partitioned by result",
	}, []string{"result"}) // ok/error

	FramesInTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_frames_in_total",
		Help:      "Frames read from the transport, partitioned by message type",
	}, []string{"type"}) // text/binary
	FramesPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_frames_published_total",
		Help:      "Text frames published onto the broadcast bus",
	})
	DispatcherStopTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_dispatcher_stop_total",
		Help:      "Dispatcher exits, partitioned by reason",
	}, []string{"reason"}) // read_error/canceled/no_subscribers

	BusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_bus_subscribers",
		Help:      "Live broadcast bus subscriptions across all connections",
	})
	LaggedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_lagged_frames_total",
		Help:      "Frames dropped from a full subscription backlog",
	})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_commands_total",
		Help:      "Outgoing commands, partitioned by method and result",
	}, []string{"method", "result"})
	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "feed_send_duration_seconds",
		Help:      "Time spent writing one command frame, including rate limiter wait",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_stream_events_total",
		Help:      "Typed events yielded by subscription streams",
	}, []string{"kind"})
	SkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_stream_skipped_total",
		Help:      "Frames discarded by a subscription stream because they did not match its shape",
	}, []string{"kind"})
)

func OnConnect(err error) {
	if err != nil {
		ConnectTotal.WithLabelValues("error").Inc()
		return
	}
	ConnectTotal.WithLabelValues("ok").Inc()
	Conns.Inc()
}

func OnClose() { Conns.Dec() }

func ObserveCommand(method string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CommandsTotal.WithLabelValues(method, result).Inc()
	SendDuration.Observe(seconds)
}
