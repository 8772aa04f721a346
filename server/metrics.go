package server

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
	msgTypeLabel = "msg_type"
)

var (
	wsConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "The number of connected clients.",
	})

	wsRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_rejected_clients",
		Help: "The number of connections refused because of connection limits.",
	})

	wsReceivedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_msgs",
		Help: "The number of messages received from WebSocket connections.",
	}, []string{msgTypeLabel})

	wsReceiveError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_receive_errors",
		Help: "The errors that occurred while handling a websocket message.",
	}, []string{errTypeLabel})

	wsSentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_sent_bytes",
		Help: "The number of bytes sent to WebSocket connections.",
	})

	wsDroppedMsgs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_dropped_msgs",
		Help: "The number of messages dropped because a client was too slow.",
	})

	sessionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_count",
		Help: "The number of sessions.",
	})

	sessionCountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_count_total",
		Help: "The total number of sessions.",
	})
)

func instrumentConnect() {
	wsConnectedClients.Inc()
}

func instrumentDisconnect() {
	wsConnectedClients.Dec()
}

func instrumentRejectedClient() {
	wsRejectedClients.Inc()
}

func instrumentReceivedMsg(msgType string) {
	wsReceivedMsgs.
		With(prometheus.Labels{msgTypeLabel: msgType}).
		Inc()
}

func instrumentReceiveError(err error) {
	wsReceiveError.
		With(prometheus.Labels{errTypeLabel: errors.Type(err)}).
		Inc()
}

func instrumentSentBytes(n int) {
	wsSentBytes.Add(float64(n))
}

func instrumentDroppedMsg() {
	wsDroppedMsgs.Inc()
}

func instrumentSessionCreated() {
	sessionCount.Inc()
	sessionCountTotal.Inc()
}

func instrumentSessionClosed() {
	sessionCount.Dec()
}
