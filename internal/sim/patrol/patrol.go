package patrol

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	ModeCycle  = "cycle"
	ModeWander = "wander"
)

// Planner picks the point an actor walks toward and decides when it has
// been reached. Implementations are owned by a single actor and are not
// safe for concurrent use.
type Planner interface {
	Mode() string
	// Target is the waypoint currently issued to the actor.
	Target() mgl64.Vec3
	// Pin reports a position the actor must be held at this tick, if any.
	Pin() (mgl64.Vec3, bool)
	// Observe is called once per tick with the post-step position and
	// reports whether the planner moved on to a new waypoint.
	Observe(pos mgl64.Vec3) bool

	Save() State
	Restore(State)
}

// State is the serializable part of a planner.
type State struct {
	Mode    string `json:"mode"`
	Cycle   int    `json:"cycle"`
	Latched bool   `json:"latched"`
	// LatchedAt is the target the latch was set on.
	LatchedAt [3]float64 `json:"latched_at"`
	Target    [3]float64 `json:"target"`
	Draws     uint64     `json:"draws,omitempty"`
}

// Arrived reports whether pos is within tol of target on both x and y.
func Arrived(target, pos mgl64.Vec3, tol float64) bool {
	return math.Abs(target.X()-pos.X()) < tol && math.Abs(target.Y()-pos.Y()) < tol
}
