package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersProcessed counts orders accepted into the book by side.
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bitvex_orders_processed_total",
		Help: "Total number of orders accepted into the order book",
	},
	[]string{"side"},
)

// OrdersDropped counts orders rejected for an unknown side.
var OrdersDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "bitvex_orders_dropped_total",
		Help: "Total number of orders dropped before insertion",
	},
)

// TradesExecuted counts settled trades.
var TradesExecuted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "bitvex_trades_executed_total",
		Help: "Total number of trades settled by the matching engine",
	},
)

// ForcedCancellations counts orders cancelled by the funding check, by side.
var ForcedCancellations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bitvex_forced_cancellations_total",
		Help: "Total number of orders force-cancelled for insufficient funds",
	},
	[]string{"side"},
)

// CrossingLatency records the time spent processing one incoming order,
// crossing loop and snapshot emission included.
var CrossingLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "bitvex_order_processing_latency_seconds",
		Help:    "Latency in seconds to process individual orders",
		Buckets: prometheus.DefBuckets,
	},
)

// SnapshotDepth tracks the number of price levels in the latest snapshot.
var SnapshotDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "bitvex_snapshot_depth_levels",
		Help: "Price levels per side in the most recent book snapshot",
	},
	[]string{"side"},
)

func init() {
	prometheus.MustRegister(
		OrdersProcessed,
		OrdersDropped,
		TradesExecuted,
		ForcedCancellations,
		CrossingLatency,
		SnapshotDepth,
	)
}
