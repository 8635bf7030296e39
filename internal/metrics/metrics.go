package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carecall_relay_active_connections",
		Help: "Number of open signaling connections",
	})
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carecall_relay_active_rooms",
		Help: "Number of rooms with at least one member",
	})
)

// Counters
var (
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carecall_relay_connections_total",
		Help: "Total signaling connections accepted",
	})
	JoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carecall_relay_joins_total",
		Help: "Total successful room joins",
	})
	RelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carecall_relay_messages_relayed_total",
		Help: "Signaling messages accepted for fan-out, by event",
	}, []string{"event"})
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carecall_relay_deliveries_total",
		Help: "Frames queued to recipients, by event",
	}, []string{"event"})
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carecall_relay_messages_dropped_total",
		Help: "Messages that reached nobody, by reason",
	}, []string{"reason"})
	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carecall_relay_messages_rejected_total",
		Help: "Inbound messages rejected at validation, by reason",
	}, []string{"reason"})
	EvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carecall_relay_slow_consumer_evictions_total",
		Help: "Connections closed because their outbound queue was full",
	})
)
