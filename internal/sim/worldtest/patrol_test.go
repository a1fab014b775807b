package worldtest

import (
	"math"
	"testing"

	"actorsim/internal/protocol"
	"actorsim/internal/sim/patrol"
)

func TestPatrol_WaypointTopicFollowsCycle(t *testing.T) {
	h := NewHarness(t, DefaultTuning(t))

	want := [][2]float64{{-30, -30}, {-45, -45}, {-45, -15}, {-15, -15}, {-15, -45}, {-45, -45}}
	// The harness joined on tick 0, so the home waypoint is already in.
	home, ok := h.Waypoints["2"]
	if !ok || home.Tick != 0 || home.Cycle != 0 {
		t.Fatalf("tick 0 waypoint=%+v ok=%v", home, ok)
	}
	got := [][2]float64{{home.Pos[0], home.Pos[1]}}
	last := home.Pos
	for i := 0; i < 400_000 && len(got) < len(want); i++ {
		h.Step()
		wp, ok := h.Waypoints["2"]
		if !ok {
			t.Fatalf("no waypoint message for actor 2")
		}
		if wp.Pos != last {
			got = append(got, [2]float64{wp.Pos[0], wp.Pos[1]})
			last = wp.Pos
		}
	}
	if len(got) != len(want) {
		t.Fatalf("waypoints=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("waypoint %d=%v want %v (all %v)", i, got[i], want[i], got)
		}
	}
}

func TestPatrol_PosesStayInBoundsAndOnGround(t *testing.T) {
	h := NewHarness(t, DefaultTuning(t))
	for i := 0; i < 5000; i++ {
		h.Step()
		for id, p := range h.Poses {
			if p.Pos[0] < -50 || p.Pos[0] > 100 || p.Pos[1] < -50 || p.Pos[1] > 50 {
				t.Fatalf("actor %s out of bounds at tick %d: %v", id, p.Tick, p.Pos)
			}
			if p.Pos[2] != 1.0191 {
				t.Fatalf("actor %s z=%v", id, p.Pos[2])
			}
		}
	}
}

func TestCommand_OverrideWalksThereAndKeepsPatrol(t *testing.T) {
	h := NewHarness(t, DefaultTuning(t))
	h.Step()

	dest := [3]float64{-25, -35, 1.0191}
	h.Command("cmd_actor_pose2", dest)
	h.StepUntil(200_000, func(h *Harness) bool {
		p := h.Poses["2"].Pos
		return math.Abs(p[0]-dest[0]) < 0.1 && math.Abs(p[1]-dest[1]) < 0.1
	})

	wp := h.Waypoints["2"]
	if !wp.Override || wp.Cycle != 1 || wp.Pos != [3]float64{-45, -45, 1.0191} {
		t.Fatalf("waypoint under override=%+v", wp)
	}
	if err := protocol.ValidateValue(protocol.TypeWaypoint, wp); err != nil {
		t.Fatalf("waypoint schema: %v", err)
	}
	if err := protocol.ValidateValue(protocol.TypeActorPose, h.Poses["2"]); err != nil {
		t.Fatalf("pose schema: %v", err)
	}

	h.Clear("cmd_actor_pose2")
	h.Step()
	if h.Waypoints["2"].Override {
		t.Fatalf("override still set after clear")
	}
}

func TestWander_StaysInBoundsAndKeepsMoving(t *testing.T) {
	tune := DefaultTuning(t)
	tune.Actors[1].Mode = patrol.ModeWander
	tune.Actors[1].Seed = 7
	tune.Actors[1].Waypoints = nil
	h := NewHarness(t, tune)

	targets := map[[3]float64]bool{}
	for i := 0; i < 200_000 && len(targets) < 3; i++ {
		h.Step()
		wp := h.Waypoints["3"]
		if wp.Mode != patrol.ModeWander {
			t.Fatalf("mode=%q", wp.Mode)
		}
		if wp.Pos[0] < -50 || wp.Pos[0] > 100 || wp.Pos[1] < -50 || wp.Pos[1] > 50 {
			t.Fatalf("wander target out of bounds: %v", wp.Pos)
		}
		targets[wp.Pos] = true
	}
	if len(targets) < 3 {
		t.Fatalf("wander issued only %d targets", len(targets))
	}
}
