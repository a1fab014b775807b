package actor

import (
	"github.com/go-gl/mathgl/mgl64"

	"actorsim/internal/sim/motion"
	"actorsim/internal/sim/patrol"
)

// AnimationRate converts distance walked into walking-animation script time.
const AnimationRate = 5.0

type Config struct {
	ID        string
	Namespace string
	Animation string

	PoseTopic     string
	CmdTopic      string
	WaypointTopic string
}

// Actor is a single patrolling pedestrian. It is driven by exactly one
// goroutine (the world loop) and keeps all of its counters per instance.
type Actor struct {
	cfg     Config
	stepper motion.Stepper
	planner patrol.Planner

	pose       motion.Pose
	lastUpdate float64
	scriptTime float64

	override    mgl64.Vec3
	hasOverride bool
}

// Update is what one tick produced for an actor. Waypoint and Cycle are the
// patrol waypoint issued for this tick, before the arrival check could move
// the planner on.
type Update struct {
	ActorID    string
	Pose       motion.Pose
	Target     mgl64.Vec3
	Waypoint   mgl64.Vec3
	Traveled   float64
	ScriptTime float64
	Advanced   bool
	Override   bool
	Mode       string
	Cycle      int
}

func New(cfg Config, stepper motion.Stepper, planner patrol.Planner, start motion.Pose) *Actor {
	start.Pos[2] = stepper.Params().GroundHeight
	return &Actor{
		cfg:     cfg,
		stepper: stepper,
		planner: planner,
		pose:    start,
	}
}

func (a *Actor) ID() string              { return a.cfg.ID }
func (a *Actor) Config() Config          { return a.cfg }
func (a *Actor) Pose() motion.Pose       { return a.pose }
func (a *Actor) Planner() patrol.Planner { return a.planner }
func (a *Actor) ScriptTime() float64     { return a.scriptTime }

// SetOverride makes the actor walk toward p instead of its patrol waypoint.
func (a *Actor) SetOverride(p mgl64.Vec3) {
	a.override = p
	a.hasOverride = true
}

func (a *Actor) ClearOverride() {
	a.override = mgl64.Vec3{}
	a.hasOverride = false
}

func (a *Actor) Override() (mgl64.Vec3, bool) { return a.override, a.hasOverride }

// Target is the point the actor walks toward this tick.
func (a *Actor) Target() mgl64.Vec3 {
	if a.hasOverride {
		return a.override
	}
	return a.planner.Target()
}

// Update advances the actor to simTime (seconds).
//
// The planner observes the post-step position every tick, including while an
// override is active, so a pinned home state is left on the first tick.
func (a *Actor) Update(simTime float64) Update {
	dt := simTime - a.lastUpdate
	target := a.Target()
	waypoint := a.planner.Target()
	cycle := a.planner.Save().Cycle

	next, _ := a.stepper.Step(a.pose, target, dt)
	if pin, ok := a.planner.Pin(); ok {
		next.Pos = mgl64.Vec3{pin.X(), pin.Y(), a.stepper.Params().GroundHeight}
	}
	traveled := next.Pos.Sub(a.pose.Pos).Len()

	a.pose = next
	a.scriptTime += traveled * AnimationRate
	a.lastUpdate = simTime

	advanced := a.planner.Observe(a.pose.Pos)

	u := Update{
		ActorID:    a.cfg.ID,
		Pose:       a.pose,
		Target:     target,
		Waypoint:   waypoint,
		Traveled:   traveled,
		ScriptTime: a.scriptTime,
		Advanced:   advanced,
		Override:   a.hasOverride,
		Mode:       a.planner.Mode(),
		Cycle:      cycle,
	}
	return u
}

// State is the serializable form of an actor.
type State struct {
	ID          string       `json:"id"`
	Pos         [3]float64   `json:"pos"`
	Yaw         float64      `json:"yaw"`
	LastUpdate  float64      `json:"last_update"`
	ScriptTime  float64      `json:"script_time"`
	Override    [3]float64   `json:"override"`
	HasOverride bool         `json:"has_override"`
	Planner     patrol.State `json:"planner"`
}

func (a *Actor) Save() State {
	return State{
		ID:          a.cfg.ID,
		Pos:         a.pose.Pos,
		Yaw:         a.pose.Yaw,
		LastUpdate:  a.lastUpdate,
		ScriptTime:  a.scriptTime,
		Override:    a.override,
		HasOverride: a.hasOverride,
		Planner:     a.planner.Save(),
	}
}

func (a *Actor) Restore(s State) {
	a.pose = motion.Pose{Pos: s.Pos, Yaw: s.Yaw}
	a.lastUpdate = s.LastUpdate
	a.scriptTime = s.ScriptTime
	a.override = s.Override
	a.hasOverride = s.HasOverride
	a.planner.Restore(s.Planner)
}
