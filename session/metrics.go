package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mqy/minichat/model"
)

const metricsNamespace = "minichat"

// drop reasons
const (
	dropNotReady     = "not_ready"
	dropUnknownTopic = "unknown_topic"
	dropMalformed    = "malformed"
	dropOffline      = "offline"
)

var (
	receivedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "messages_received_total",
		Help:      "Inbound messages appended to the timeline, by origin.",
	}, []string{"origin"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "messages_dropped_total",
		Help:      "Inbound or outbound messages dropped, by reason.",
	}, []string{"reason"})

	publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "messages_published_total",
		Help:      "Outbound messages published to the broker.",
	})

	historyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "history_messages",
		Help:      "Messages loaded from history.",
	})

	statusGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "connection_status",
		Help:      "Broker connection status: 0 connecting, 1 reconnecting, 2 connected, 3 disconnecting, 4 disconnected.",
	})
)

func init() {
	prometheus.MustRegister(receivedCounter, droppedCounter, publishedCounter, historyGauge, statusGauge)
	statusGauge.Set(float64(model.StatusConnecting))
}
