package patrol

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"actorsim/internal/sim/motion"
)

const (
	// wanderClearance keeps new targets away from the previous target and
	// from other actors.
	wanderClearance = 2.0
	wanderMaxDraws  = 256
)

// Wander picks uniformly random targets inside bounds. Draws come from a
// counter-based hash so the sequence survives snapshot/restore.
type Wander struct {
	seed      int64
	bounds    motion.Bounds
	ground    float64
	tolerance float64

	// Others returns positions new targets must keep clear of. May be nil.
	Others func() []mgl64.Vec3

	target    mgl64.Vec3
	draws     uint64
	latched   bool
	latchedAt mgl64.Vec3
}

func NewWander(seed int64, start mgl64.Vec3, bounds motion.Bounds, ground, tolerance float64) *Wander {
	return &Wander{
		seed:      seed,
		bounds:    bounds,
		ground:    ground,
		tolerance: tolerance,
		target:    mgl64.Vec3{start.X(), start.Y(), ground},
	}
}

func (w *Wander) Mode() string            { return ModeWander }
func (w *Wander) Target() mgl64.Vec3      { return w.target }
func (w *Wander) Pin() (mgl64.Vec3, bool) { return mgl64.Vec3{}, false }

// Observe latches on the target it was reached at, like Cycle. A new target
// clears the latch, so arriving there counts even when it lies within
// tolerance of the previous one.
func (w *Wander) Observe(pos mgl64.Vec3) bool {
	if w.latched && w.target != w.latchedAt {
		w.latched = false
	}
	if !Arrived(w.target, pos, w.tolerance) || w.latched {
		return false
	}
	w.latched = true
	w.latchedAt = w.target
	w.target, _ = w.choose()
	return true
}

// choose draws the next target. ok is false when no draw kept wanderClearance
// from the previous target and the other actors; the draw with the most room
// is returned instead.
func (w *Wander) choose() (target mgl64.Vec3, ok bool) {
	var others []mgl64.Vec3
	if w.Others != nil {
		others = w.Others()
	}
	var best mgl64.Vec3
	bestRoom := -1.0
	for i := 0; i < wanderMaxDraws; i++ {
		x := w.bounds.MinX + unit(w.seed, w.draws)*(w.bounds.MaxX-w.bounds.MinX)
		w.draws++
		y := w.bounds.MinY + unit(w.seed, w.draws)*(w.bounds.MaxY-w.bounds.MinY)
		w.draws++
		cand := mgl64.Vec3{x, y, w.ground}
		r := room(cand, w.target, others)
		if r >= wanderClearance {
			return cand, true
		}
		if r > bestRoom {
			best, bestRoom = cand, r
		}
	}
	return best, false
}

// room is the planar distance from p to the nearest of prev and others.
func room(p, prev mgl64.Vec3, others []mgl64.Vec3) float64 {
	r := math.Hypot(prev.X()-p.X(), prev.Y()-p.Y())
	for _, o := range others {
		r = math.Min(r, math.Hypot(o.X()-p.X(), o.Y()-p.Y()))
	}
	return r
}

func (w *Wander) Save() State {
	return State{
		Mode:      ModeWander,
		Latched:   w.latched,
		LatchedAt: w.latchedAt,
		Target:    w.target,
		Draws:     w.draws,
	}
}

func (w *Wander) Restore(s State) {
	w.latched = s.Latched
	w.latchedAt = s.LatchedAt
	w.target = s.Target
	w.draws = s.Draws
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// unit returns a deterministic value in [0, 1) for (seed, n).
func unit(seed int64, n uint64) float64 {
	v := mix64(uint64(seed) ^ (n * 0xc2b2ae3d27d4eb4f))
	return float64(v>>11) / (1 << 53)
}
