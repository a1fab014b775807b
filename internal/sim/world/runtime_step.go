package world

import (
	"encoding/json"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"actorsim/internal/protocol"
	"actorsim/internal/sim/actor"
)

func (w *World) handleJoin(req JoinRequest) {
	id := w.newSessionID()
	cl := &clientState{Out: req.Out}
	var unknown []string
	if len(req.Subscribe) > 0 {
		cl.Subscribe = map[string]bool{}
		for _, topic := range req.Subscribe {
			if !w.IsOutputTopic(topic) {
				unknown = append(unknown, topic)
				continue
			}
			cl.Subscribe[topic] = true
		}
	}
	if req.Out != nil {
		w.clients[id] = cl
	}
	if req.Resp != nil {
		req.Resp <- JoinResponse{
			Welcome: protocol.WelcomeMsg{
				Type:            protocol.TypeWelcome,
				ProtocolVersion: protocol.Version,
				SessionID:       id,
				TickRateHz:      w.cfg.TickRateHz,
				Tick:            w.tick.Load(),
				Actors:          w.ActorInfos(),
			},
			Unknown: unknown,
		}
	}
}

func (w *World) handleLeave(sessionID string) {
	delete(w.clients, sessionID)
}

// applyCommand sets or clears an actor's override target. Commands on unknown
// topics are dropped and not recorded.
func (w *World) applyCommand(env CommandEnvelope) (RecordedCommand, bool) {
	a, ok := w.byCmd[env.Cmd.Topic]
	if !ok {
		return RecordedCommand{}, false
	}
	rc := RecordedCommand{
		SessionID: env.SessionID,
		ActorID:   a.ID(),
		Topic:     env.Cmd.Topic,
		Clear:     env.Cmd.Clear,
	}
	if env.Cmd.Clear {
		a.ClearOverride()
		return rc, true
	}
	pos := mgl64.Vec3(env.Cmd.Pos)
	a.SetOverride(pos)
	rc.Pos = env.Cmd.Pos
	return rc, true
}

func (w *World) step(joins []JoinRequest, leaves []string, cmds []CommandEnvelope) {
	start := time.Now()
	nowTick := w.tick.Load()

	// Sessions change at the tick boundary; they never affect actor state.
	for _, id := range leaves {
		w.handleLeave(id)
	}
	for _, req := range joins {
		w.handleJoin(req)
	}

	// Commands apply in receive order; the last one for an actor wins.
	recorded := make([]RecordedCommand, 0, len(cmds))
	for _, env := range cmds {
		if rc, ok := w.applyCommand(env); ok {
			recorded = append(recorded, rc)
		}
	}
	w.commandsTotal += uint64(len(recorded))

	w.simTime = float64(nowTick+1) / float64(w.cfg.TickRateHz)

	updates := make([]actor.Update, 0, len(w.actors))
	var arrivals []RecordedArrival
	for _, a := range w.actors {
		u := a.Update(w.simTime)
		updates = append(updates, u)
		if u.Advanced {
			arrivals = append(arrivals, RecordedArrival{
				ActorID:  u.ActorID,
				Cycle:    a.Planner().Save().Cycle,
				Pos:      u.Pose.Pos,
				Waypoint: a.Planner().Target(),
			})
		}
	}
	w.arrivalsTotal += uint64(len(arrivals))

	w.broadcast(nowTick, updates)

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{
			Tick:     nowTick,
			SimTime:  w.simTime,
			Commands: recorded,
			Arrivals: arrivals,
			Digest:   digest,
		})
	}

	// Snapshot every N ticks, starting after tick 0.
	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
			snap := w.ExportSnapshot(nowTick)
			select {
			case w.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	w.tick.Add(1)
	w.publishStatus()
	w.publishMetrics(time.Since(start))
}

// broadcast publishes ACTOR_POSE and WAYPOINT to subscribed clients. Slow
// clients only ever see the latest messages.
func (w *World) broadcast(nowTick uint64, updates []actor.Update) {
	if len(w.clients) == 0 {
		return
	}
	for i, u := range updates {
		cfg := w.actors[i].Config()
		pose, err := json.Marshal(protocol.ActorPoseMsg{
			Type:            protocol.TypeActorPose,
			ProtocolVersion: protocol.Version,
			Topic:           cfg.PoseTopic,
			ActorID:         u.ActorID,
			Tick:            nowTick,
			SimTime:         w.simTime,
			Pos:             u.Pose.Pos,
			Yaw:             u.Pose.Yaw,
			ScriptTime:      u.ScriptTime,
		})
		if err != nil {
			continue
		}
		wp, err := json.Marshal(protocol.WaypointMsg{
			Type:            protocol.TypeWaypoint,
			ProtocolVersion: protocol.Version,
			Topic:           cfg.WaypointTopic,
			ActorID:         u.ActorID,
			Tick:            nowTick,
			Pos:             u.Waypoint,
			Mode:            u.Mode,
			Cycle:           u.Cycle,
			Override:        u.Override,
		})
		if err != nil {
			continue
		}
		for _, cl := range w.clients {
			if cl.wants(cfg.PoseTopic) {
				sendLatest(cl.Out, pose)
			}
			if cl.wants(cfg.WaypointTopic) {
				sendLatest(cl.Out, wp)
			}
		}
	}
}

func (c *clientState) wants(topic string) bool {
	return c.Subscribe == nil || c.Subscribe[topic]
}

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, cmds []CommandEnvelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.step(joins, leaves, cmds)
	return tick, w.stateDigest(tick)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
