package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyhub_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// GraphQLOperations counts executed GraphQL operations by type (query|mutation|subscription) and result (ok|error).
	GraphQLOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_graphql_operations_total",
			Help: "Total number of GraphQL operations executed",
		},
		[]string{"operation", "result"},
	)

	// EventsPublished counts bus publishes by routing key and result (ok|error).
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_events_published_total",
			Help: "Total number of events published to the bus",
		},
		[]string{"routing_key", "result"},
	)

	// EventsConsumed counts handled deliveries by queue and outcome (ack|retry|dead_letter).
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_events_consumed_total",
			Help: "Total number of bus deliveries handled",
		},
		[]string{"queue", "outcome"},
	)

	// PushDeliveries counts live push outcomes per topic (delivered|dropped|evicted).
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_push_deliveries_total",
			Help: "Live push deliveries by outcome",
		},
		[]string{"topic", "outcome"},
	)

	// PushSubscribers tracks currently connected live subscribers per topic.
	PushSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "studyhub_push_subscribers",
			Help: "Number of active live push subscribers",
		},
		[]string{"topic"},
	)

	// SubgraphLatency measures gateway to subgraph round trips.
	SubgraphLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyhub_gateway_subgraph_latency_seconds",
			Help:    "Latency of gateway requests to subgraphs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subgraph", "kind"},
	)

	// MaintenanceRuns counts background job runs by job and result (success|failure).
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_maintenance_runs_total",
			Help: "Background maintenance job runs",
		},
		[]string{"job", "result"},
	)
)
