package patrol

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Cycle walks a home point once, then loops over a fixed waypoint table.
//
// State 0 issues the home point and pins the actor there. Each arrival
// advances the state by one: 0 -> 1 -> ... -> n -> 1. An arrival only
// counts once per issued waypoint; the latch clears when a different
// waypoint is issued.
type Cycle struct {
	home      mgl64.Vec3
	points    []mgl64.Vec3
	tolerance float64

	state     int
	latched   bool
	latchedAt mgl64.Vec3
}

func NewCycle(home mgl64.Vec3, points []mgl64.Vec3, tolerance float64) *Cycle {
	pts := make([]mgl64.Vec3, len(points))
	copy(pts, points)
	return &Cycle{home: home, points: pts, tolerance: tolerance}
}

func (c *Cycle) Mode() string { return ModeCycle }

// State returns the current cycle state (0 = home, 1..n = table index + 1).
func (c *Cycle) State() int { return c.state }

func (c *Cycle) Target() mgl64.Vec3 {
	if c.state == 0 || len(c.points) == 0 {
		return c.home
	}
	return c.points[c.state-1]
}

func (c *Cycle) Pin() (mgl64.Vec3, bool) {
	if c.state == 0 {
		return c.home, true
	}
	return mgl64.Vec3{}, false
}

func (c *Cycle) Observe(pos mgl64.Vec3) bool {
	target := c.Target()
	if c.latched && target != c.latchedAt {
		c.latched = false
	}
	if !Arrived(target, pos, c.tolerance) || c.latched || len(c.points) == 0 {
		return false
	}
	c.state = c.state%len(c.points) + 1
	c.latched = true
	c.latchedAt = target
	return true
}

func (c *Cycle) Save() State {
	return State{
		Mode:      ModeCycle,
		Cycle:     c.state,
		Latched:   c.latched,
		LatchedAt: c.latchedAt,
		Target:    c.Target(),
	}
}

func (c *Cycle) Restore(s State) {
	c.state = s.Cycle
	if c.state < 0 || c.state > len(c.points) {
		c.state = 0
	}
	c.latched = s.Latched
	c.latchedAt = s.LatchedAt
}
