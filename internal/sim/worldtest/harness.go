package worldtest

import (
	"encoding/json"
	"testing"

	"actorsim/internal/protocol"
	"actorsim/internal/sim/tuning"
	world "actorsim/internal/sim/world"
)

// Harness drives a world through its exported APIs only:
// - a single subscribed session collects ACTOR_POSE/WAYPOINT messages
// - Step/StepN advance the world with StepOnce
// - Command queues a CMD_POSE for the next step
type Harness struct {
	T *testing.T
	W *world.World

	SessionID string

	out     chan []byte
	pending []world.CommandEnvelope

	Poses     map[string]protocol.ActorPoseMsg
	Waypoints map[string]protocol.WaypointMsg
}

func NewHarness(t *testing.T, tune tuning.Tuning) *Harness {
	t.Helper()
	w, err := world.New(world.ConfigFromTuning("test", tune))
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewHarnessWithWorld(t, w)
}

// NewHarnessWithWorld is like NewHarness, but uses an already-constructed world instance.
// This is useful for snapshot round-trip tests where the snapshot is imported first.
func NewHarnessWithWorld(t *testing.T, w *world.World) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}
	h := &Harness{
		T:         t,
		W:         w,
		out:       make(chan []byte, 256),
		Poses:     map[string]protocol.ActorPoseMsg{},
		Waypoints: map[string]protocol.WaypointMsg{},
	}
	resp := make(chan world.JoinResponse, 1)
	w.StepOnce([]world.JoinRequest{{ClientName: "harness", Out: h.out, Resp: resp}}, nil, nil)
	h.SessionID = (<-resp).Welcome.SessionID
	h.drain()
	return h
}

func DefaultTuning(t *testing.T) tuning.Tuning {
	t.Helper()
	tune, err := tuning.Load("")
	if err != nil {
		t.Fatalf("tuning: %v", err)
	}
	return tune
}

func (h *Harness) Command(topic string, pos [3]float64) {
	h.pending = append(h.pending, world.CommandEnvelope{
		SessionID: h.SessionID,
		Cmd: protocol.CmdPoseMsg{
			Type:            protocol.TypeCmdPose,
			ProtocolVersion: protocol.Version,
			Topic:           topic,
			Pos:             pos,
		},
	})
}

func (h *Harness) Clear(topic string) {
	h.pending = append(h.pending, world.CommandEnvelope{
		SessionID: h.SessionID,
		Cmd: protocol.CmdPoseMsg{
			Type:            protocol.TypeCmdPose,
			ProtocolVersion: protocol.Version,
			Topic:           topic,
			Clear:           true,
		},
	})
}

func (h *Harness) Step() (tick uint64, digest string) {
	h.T.Helper()
	cmds := h.pending
	tick, digest = h.W.StepOnce(nil, nil, cmds)
	h.drain()
	return tick, digest
}

func (h *Harness) StepN(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.Step()
	}
}

// StepUntil steps until cond holds, failing after max ticks.
func (h *Harness) StepUntil(max int, cond func(h *Harness) bool) {
	h.T.Helper()
	for i := 0; i < max; i++ {
		h.Step()
		if cond(h) {
			return
		}
	}
	h.T.Fatalf("condition not met after %d ticks", max)
}

func (h *Harness) drain() {
	for {
		select {
		case b := <-h.out:
			base, err := protocol.DecodeBase(b)
			if err != nil {
				h.T.Fatalf("decode: %v", err)
			}
			switch base.Type {
			case protocol.TypeActorPose:
				var m protocol.ActorPoseMsg
				if err := json.Unmarshal(b, &m); err != nil {
					h.T.Fatalf("decode pose: %v", err)
				}
				h.Poses[m.ActorID] = m
			case protocol.TypeWaypoint:
				var m protocol.WaypointMsg
				if err := json.Unmarshal(b, &m); err != nil {
					h.T.Fatalf("decode waypoint: %v", err)
				}
				h.Waypoints[m.ActorID] = m
			}
		default:
			return
		}
	}
}
