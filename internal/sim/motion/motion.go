package motion

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Roll applied to every actor pose. Actor meshes are authored lying down,
// so they stand up by rolling a quarter turn around x.
const Roll = 1.5707

// HeadingOffset turns the atan2 heading into the actor's yaw frame (meshes face +y).
const HeadingOffset = math.Pi / 2

type Bounds struct {
	MinX float64
	MaxX float64
	MinY float64
	MaxY float64
}

func (b Bounds) Contains(p mgl64.Vec3) bool {
	return p.X() >= b.MinX && p.X() <= b.MaxX && p.Y() >= b.MinY && p.Y() <= b.MaxY
}

func (b Bounds) Clamp(p mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{
		math.Max(b.MinX, math.Min(b.MaxX, p.X())),
		math.Max(b.MinY, math.Min(b.MaxY, p.Y())),
		p.Z(),
	}
}

type Params struct {
	// Speed is the base walking speed (units/sec).
	Speed float64
	// EaseDistance is the distance above which speed is divided by distance.
	EaseDistance float64
	// TurnThreshold (radians): larger heading errors rotate in place.
	TurnThreshold float64
	// TurnRate is the fraction of the heading error applied per tick while turning.
	TurnRate     float64
	GroundHeight float64
	Bounds       Bounds
}

func DefaultParams() Params {
	return Params{
		Speed:         0.8,
		EaseDistance:  1.0,
		TurnThreshold: 10 * math.Pi / 180,
		TurnRate:      0.001,
		GroundHeight:  1.0191,
		Bounds:        Bounds{MinX: -50, MaxX: 100, MinY: -50, MaxY: 50},
	}
}

type Pose struct {
	Pos mgl64.Vec3
	Yaw float64
}

// Stepper advances a single actor pose toward a target. It holds no state
// between calls; callers own the pose.
type Stepper struct {
	p Params
}

func NewStepper(p Params) Stepper { return Stepper{p: p} }

func (s Stepper) Params() Params { return s.p }

// SpeedFor returns the speed scalar for a remaining distance.
// Beyond EaseDistance the scalar is Speed/distance, so the scaled offset
// vector moves at Speed along the unit direction.
func (s Stepper) SpeedFor(distance float64) float64 {
	if distance > s.p.EaseDistance {
		return s.p.Speed / distance
	}
	return s.p.Speed
}

// HeadingDelta returns the yaw change needed to face from pose toward target,
// normalized to (-pi, pi].
func HeadingDelta(pose Pose, target mgl64.Vec3) float64 {
	d := target.Sub(pose.Pos)
	return NormalizeAngle(math.Atan2(d.Y(), d.X()) + HeadingOffset - pose.Yaw)
}

func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// Step moves pose toward target by dt seconds and returns the new pose and
// the distance travelled. Heading errors above TurnThreshold rotate in place
// without translating.
func (s Stepper) Step(pose Pose, target mgl64.Vec3, dt float64) (Pose, float64) {
	if dt < 0 || math.IsNaN(dt) {
		dt = 0
	}
	offset := target.Sub(pose.Pos)
	speed := s.SpeedFor(offset.Len())
	delta := HeadingDelta(pose, target)

	next := pose
	if math.Abs(delta) > s.p.TurnThreshold {
		next.Yaw = NormalizeAngle(pose.Yaw + delta*s.p.TurnRate)
	} else {
		next.Pos = pose.Pos.Add(offset.Mul(speed * dt))
		next.Yaw = NormalizeAngle(pose.Yaw + delta)
	}

	next.Pos = s.p.Bounds.Clamp(next.Pos)
	next.Pos[2] = s.p.GroundHeight

	return next, next.Pos.Sub(pose.Pos).Len()
}
