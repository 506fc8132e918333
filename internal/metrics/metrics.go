package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bar_tables"

var (
	once sync.Once

	holdsPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "holds_placed_total",
		Help:      "Tables moved to PENDING by the local session.",
	})

	holdsReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "holds_released_total",
		Help:      "Holds released by the user.",
	})

	holdsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "holds_expired_total",
		Help:      "Holds released because the countdown ran out.",
	})

	holdsLost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "holds_lost_total",
		Help:      "Local holds overwritten by a server update.",
	})

	reconcileStale = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_stale_total",
		Help:      "Table changes rejected because their version was older than the cached one.",
	})

	channelReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_reconnects_total",
		Help:      "Channel connect attempts after the first one.",
	})

	channelState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channel_state",
		Help:      "0 disconnected, 1 connecting, 2 connected, 3 offline.",
	})

	bookingsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_submitted_total",
			Help:      "Booking submissions by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	relayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Status requests handled by the relay, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			holdsPlaced, holdsReleased, holdsExpired, holdsLost,
			reconcileStale, channelReconnects, channelState,
			bookingsSubmitted, relayRequests,
		)
	})
}

func IncHoldPlaced() { holdsPlaced.Inc() }
func IncHoldReleased() { holdsReleased.Inc() }
func IncHoldExpired() { holdsExpired.Inc() }
func IncHoldLost() { holdsLost.Inc() }
func IncStaleReconcile() { reconcileStale.Inc() }
func IncReconnect() { channelReconnects.Inc() }

func SetChannelState(v int) { channelState.Set(float64(v)) }

func IncBookingSubmitted(bookingType, outcome string) {
	bookingsSubmitted.WithLabelValues(bookingType, outcome).Inc()
}

func IncRelayRequest(outcome string) {
	relayRequests.WithLabelValues(outcome).Inc()
}
