package world

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"actorsim/internal/persistence/snapshot"
	"actorsim/internal/protocol"
	"actorsim/internal/sim/actor"
	"actorsim/internal/sim/motion"
	"actorsim/internal/sim/patrol"
	"actorsim/internal/sim/tuning"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	SnapshotEveryTicks int

	Motion tuning.Motion
	Actors []tuning.Actor
}

func ConfigFromTuning(id string, t tuning.Tuning) WorldConfig {
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		Motion:             t.Motion,
		Actors:             append([]tuning.Actor(nil), t.Actors...),
	}
}

type JoinRequest struct {
	ClientName string
	// Subscribe lists pose/waypoint topics. Empty subscribes to all of them.
	Subscribe []string
	Out       chan []byte
	Resp      chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	// Unknown holds requested topics that no actor publishes.
	Unknown []string
}

type CommandEnvelope struct {
	SessionID string
	Cmd       protocol.CmdPoseMsg
}

type RecordedCommand struct {
	SessionID string     `json:"session_id,omitempty"`
	ActorID   string     `json:"actor_id"`
	Topic     string     `json:"topic"`
	Pos       [3]float64 `json:"pos"`
	Clear     bool       `json:"clear,omitempty"`
}

// RecordedArrival is logged when an actor reaches its waypoint. Cycle and
// Waypoint describe the target it was advanced to.
type RecordedArrival struct {
	ActorID  string     `json:"actor_id"`
	Cycle    int        `json:"cycle"`
	Pos      [3]float64 `json:"pos"`
	Waypoint [3]float64 `json:"waypoint"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick     uint64            `json:"tick"`
	SimTime  float64           `json:"sim_time"`
	Commands []RecordedCommand `json:"commands,omitempty"`
	Arrivals []RecordedArrival `json:"arrivals,omitempty"`
	Digest   string            `json:"digest"`
}

type clientState struct {
	Out       chan []byte
	Subscribe map[string]bool
}

// World steps every actor on a fixed clock.
// All actor state must be accessed only from the world loop goroutine.
type World struct {
	cfg WorldConfig

	tick    atomic.Uint64
	simTime float64

	actors  []*actor.Actor
	byCmd   map[string]*actor.Actor
	topics  map[string]bool
	infos   []protocol.ActorInfo
	clients map[string]*clientState

	inbox chan CommandEnvelope
	join  chan JoinRequest
	leave chan string
	admin chan adminSnapshotReq

	nextSessionNum atomic.Uint64
	arrivalsTotal  uint64
	commandsTotal  uint64

	// Optional (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	metrics atomic.Value // WorldMetrics
	status  atomic.Value // []ActorStatus
}

func New(cfg WorldConfig) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("tick rate must be > 0")
	}
	if len(cfg.Actors) == 0 {
		return nil, fmt.Errorf("world %s has no actors", cfg.ID)
	}

	params := cfg.Motion.Params()
	stepper := motion.NewStepper(params)
	ground := params.GroundHeight

	w := &World{
		cfg:     cfg,
		byCmd:   map[string]*actor.Actor{},
		topics:  map[string]bool{},
		clients: map[string]*clientState{},
		inbox:   make(chan CommandEnvelope, 1024),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		admin:   make(chan adminSnapshotReq, 8),
	}

	for i, ac := range cfg.Actors {
		home := mgl64.Vec3{ac.Home[0], ac.Home[1], ground}
		start := home
		if ac.Start != nil {
			start = mgl64.Vec3{ac.Start[0], ac.Start[1], ground}
		}

		var planner patrol.Planner
		switch ac.Mode {
		case patrol.ModeCycle, "":
			pts := make([]mgl64.Vec3, 0, len(ac.Waypoints))
			for _, p := range ac.Waypoints {
				pts = append(pts, mgl64.Vec3{p[0], p[1], ground})
			}
			if len(pts) == 0 {
				return nil, fmt.Errorf("actor %s: cycle mode needs waypoints", ac.ID)
			}
			planner = patrol.NewCycle(home, pts, cfg.Motion.ArrivalTolerance)
		case patrol.ModeWander:
			wd := patrol.NewWander(ac.Seed, home, params.Bounds, ground, cfg.Motion.ArrivalTolerance)
			self := i
			wd.Others = func() []mgl64.Vec3 { return w.positionsExcept(self) }
			planner = wd
		default:
			return nil, fmt.Errorf("actor %s: unknown mode %q", ac.ID, ac.Mode)
		}

		a := actor.New(actor.Config{
			ID:            ac.ID,
			Namespace:     ac.Namespace,
			Animation:     ac.Animation,
			PoseTopic:     ac.PoseTopic,
			CmdTopic:      ac.CmdTopic,
			WaypointTopic: ac.WaypointTopic,
		}, stepper, planner, motion.Pose{Pos: start})

		if _, dup := w.byCmd[ac.CmdTopic]; dup {
			return nil, fmt.Errorf("actor %s: duplicate cmd topic %q", ac.ID, ac.CmdTopic)
		}
		w.actors = append(w.actors, a)
		w.byCmd[ac.CmdTopic] = a
		w.topics[ac.PoseTopic] = true
		w.topics[ac.WaypointTopic] = true
		w.infos = append(w.infos, protocol.ActorInfo{
			ID:            ac.ID,
			Namespace:     ac.Namespace,
			Mode:          planner.Mode(),
			PoseTopic:     ac.PoseTopic,
			CmdTopic:      ac.CmdTopic,
			WaypointTopic: ac.WaypointTopic,
		})
	}

	w.publishStatus()
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Inbox() chan<- CommandEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest      { return w.join }
func (w *World) Leave() chan<- string          { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }
func (w *World) ID() string          { return w.cfg.ID }
func (w *World) TickRateHz() int     { return w.cfg.TickRateHz }

// ActorInfos is fixed at construction and safe to call from any goroutine.
func (w *World) ActorInfos() []protocol.ActorInfo {
	return append([]protocol.ActorInfo(nil), w.infos...)
}

// LookupCmdTopic reports which actor listens on a command topic. Safe from any
// goroutine because the topic table never changes after New.
func (w *World) LookupCmdTopic(topic string) (string, bool) {
	a, ok := w.byCmd[topic]
	if !ok {
		return "", false
	}
	return a.ID(), true
}

// IsOutputTopic reports whether some actor publishes on topic. Safe from any
// goroutine for the same reason as LookupCmdTopic.
func (w *World) IsOutputTopic(topic string) bool { return w.topics[topic] }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingCmds []CommandEnvelope
	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingCmds = append(pendingCmds, env)
		case req := <-w.admin:
			pendingAdmin = append(pendingAdmin, req)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingCmds)
			w.handleAdminSnapshotRequests(pendingAdmin)
			pendingAdmin = pendingAdmin[:0]
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingCmds = pendingCmds[:0]
		}
	}
}

func (w *World) positionsExcept(idx int) []mgl64.Vec3 {
	out := make([]mgl64.Vec3, 0, len(w.actors))
	for i, a := range w.actors {
		if i == idx || a == nil {
			continue
		}
		out = append(out, a.Pose().Pos)
	}
	return out
}

func (w *World) newSessionID() string {
	return "S" + strconv.FormatUint(w.nextSessionNum.Add(1), 10)
}
