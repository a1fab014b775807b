package world

import "time"

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick    uint64  `json:"tick"`
	SimTime float64 `json:"sim_time"`

	Actors  int `json:"actors"`
	Clients int `json:"clients"`

	ArrivalsTotal uint64 `json:"arrivals_total"`
	CommandsTotal uint64 `json:"commands_total"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) publishMetrics(stepDur time.Duration) {
	w.metrics.Store(WorldMetrics{
		Tick:          w.tick.Load(),
		SimTime:       w.simTime,
		Actors:        len(w.actors),
		Clients:       len(w.clients),
		ArrivalsTotal: w.arrivalsTotal,
		CommandsTotal: w.commandsTotal,
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
		StepMS: float64(stepDur.Microseconds()) / 1000.0,
	})
}
