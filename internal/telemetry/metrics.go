package telemetry

// Observation kinds used as the "kind" label.
const (
	KindAccount     = "account"
	KindTransaction = "transaction"
	KindSlot        = "slot"
	KindPong        = "pong"
)

// Ping results used as the "result" label.
const (
	PingSent   = "sent"
	PingFailed = "failed"
)

var (
	// FramesTotal counts inbound frames, including empty ones.
	FramesTotal Counter = NoopStat{}

	// ObservationsTotal counts handled updates by kind.
	ObservationsTotal CounterVec = noopCounterVec{}

	// PingsTotal counts heartbeat pings by result (sent, failed).
	PingsTotal CounterVec = noopCounterVec{}

	// LastSlot tracks the slot of the most recent slot update.
	LastSlot Gauge = NoopStat{}
)

// InitMetrics binds the package metrics to the registry.
func InitMetrics() {
	FramesTotal = NewCounter(
		"frames_total",
		"Inbound frames received from the Subscribe stream",
	)
	ObservationsTotal = NewCounterVec(
		"observations_total",
		"Updates handled, by kind",
		[]string{"kind"},
	)
	PingsTotal = NewCounterVec(
		"pings_total",
		"Heartbeat pings, by result",
		[]string{"result"},
	)
	LastSlot = NewGauge(
		"last_slot",
		"Most recent slot number reported by a slot update",
	)
}
