package world

import (
	"fmt"

	"actorsim/internal/persistence/snapshot"
	"actorsim/internal/sim/actor"
	"actorsim/internal/sim/patrol"
)

// ExportSnapshot captures the world as of the end of nowTick. Importing it
// resumes at nowTick+1.
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	actors := make([]snapshot.ActorV1, 0, len(w.actors))
	for _, a := range w.actors {
		s := a.Save()
		actors = append(actors, snapshot.ActorV1{
			ID:          s.ID,
			Pos:         s.Pos,
			Yaw:         s.Yaw,
			LastUpdate:  s.LastUpdate,
			ScriptTime:  s.ScriptTime,
			Override:    s.Override,
			HasOverride: s.HasOverride,
			Planner: snapshot.PlannerV1{
				Mode:      s.Planner.Mode,
				Cycle:     s.Planner.Cycle,
				Latched:   s.Planner.Latched,
				LatchedAt: s.Planner.LatchedAt,
				Target:    s.Planner.Target,
				Draws:     s.Planner.Draws,
			},
		})
	}
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    nowTick,
		},
		TickRate:           w.cfg.TickRateHz,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		SimTime:            w.simTime,
		Actors:             actors,
		Counters: snapshot.CountersV1{
			Arrivals: w.arrivalsTotal,
			Commands: w.commandsTotal,
		},
	}
}

// ImportSnapshot restores actor state. It must be called before Run. Every
// configured actor must be present in the snapshot with the same planner mode.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	if s.TickRate != 0 && s.TickRate != w.cfg.TickRateHz {
		return fmt.Errorf("snapshot tick rate %d does not match world tick rate %d", s.TickRate, w.cfg.TickRateHz)
	}
	byID := make(map[string]snapshot.ActorV1, len(s.Actors))
	for _, a := range s.Actors {
		byID[a.ID] = a
	}
	for _, a := range w.actors {
		sa, ok := byID[a.ID()]
		if !ok {
			return fmt.Errorf("snapshot missing actor %s", a.ID())
		}
		if sa.Planner.Mode != a.Planner().Mode() {
			return fmt.Errorf("actor %s: snapshot mode %q, configured %q", a.ID(), sa.Planner.Mode, a.Planner().Mode())
		}
	}

	for _, a := range w.actors {
		sa := byID[a.ID()]
		a.Restore(actor.State{
			ID:          sa.ID,
			Pos:         sa.Pos,
			Yaw:         sa.Yaw,
			LastUpdate:  sa.LastUpdate,
			ScriptTime:  sa.ScriptTime,
			Override:    sa.Override,
			HasOverride: sa.HasOverride,
			Planner: patrol.State{
				Mode:      sa.Planner.Mode,
				Cycle:     sa.Planner.Cycle,
				Latched:   sa.Planner.Latched,
				LatchedAt: sa.Planner.LatchedAt,
				Target:    sa.Planner.Target,
				Draws:     sa.Planner.Draws,
			},
		})
	}
	w.simTime = s.SimTime
	w.arrivalsTotal = s.Counters.Arrivals
	w.commandsTotal = s.Counters.Commands
	w.tick.Store(s.Header.Tick + 1)
	w.publishStatus()
	return nil
}
