package indexdb

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"actorsim/internal/persistence/snapshot"
	"actorsim/internal/sim/tuning"
	"actorsim/internal/sim/world"
)

func TestSQLiteIndex_WritesTickCommandsAndArrivals(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index", "world.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_ = idx.WriteTick(world.TickLogEntry{
		Tick:    0,
		SimTime: 0.01,
		Digest:  "d0",
		Arrivals: []world.RecordedArrival{
			{ActorID: "2", Cycle: 1, Pos: [3]float64{-30, -30, 1.0191}, Waypoint: [3]float64{-45, -45, 1.0191}},
			{ActorID: "3", Cycle: 1, Pos: [3]float64{-30, 30, 1.0191}, Waypoint: [3]float64{-15, 15, 1.0191}},
		},
	})
	_ = idx.WriteTick(world.TickLogEntry{
		Tick:    1,
		SimTime: 0.02,
		Digest:  "d1",
		Commands: []world.RecordedCommand{
			{SessionID: "S1", ActorID: "2", Topic: "cmd_actor_pose2", Pos: [3]float64{-20, -30, 0}},
			{SessionID: "S1", ActorID: "2", Topic: "cmd_actor_pose2", Clear: true},
		},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var ticks int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&ticks); err != nil {
		t.Fatalf("count ticks: %v", err)
	}
	if ticks != 2 {
		t.Fatalf("ticks=%d want 2", ticks)
	}

	var digest string
	var cmds int
	if err := db.QueryRow(`SELECT digest, commands FROM ticks WHERE tick = 1`).Scan(&digest, &cmds); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if digest != "d1" || cmds != 2 {
		t.Fatalf("tick 1 digest=%s commands=%d", digest, cmds)
	}

	var x float64
	var cleared int
	if err := db.QueryRow(`SELECT x, clear FROM commands WHERE tick = 1 AND seq = 1`).Scan(&x, &cleared); err != nil {
		t.Fatalf("command: %v", err)
	}
	if cleared != 1 || x != 0 {
		t.Fatalf("clear=%d x=%v", cleared, x)
	}

	var nx, ny float64
	if err := db.QueryRow(`SELECT next_x, next_y FROM arrivals WHERE tick = 0 AND actor_id = '3'`).Scan(&nx, &ny); err != nil {
		t.Fatalf("arrival: %v", err)
	}
	if nx != -15 || ny != 15 {
		t.Fatalf("next waypoint=(%v,%v)", nx, ny)
	}
}

func TestSQLiteIndex_RecordSnapshotAndActors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tune, err := tuning.Load("")
	if err != nil {
		t.Fatalf("tuning: %v", err)
	}
	if err := idx.UpsertActors(tune); err != nil {
		t.Fatalf("upsert actors: %v", err)
	}

	idx.RecordSnapshot("/tmp/600.snap.zst", snapshot.SnapshotV1{
		Header:  snapshot.Header{Version: snapshot.Version, WorldID: "w1", Tick: 600},
		SimTime: 6.01,
		Actors: []snapshot.ActorV1{
			{ID: "2", Pos: [3]float64{-40, -41, 1.0191}, Yaw: -2, ScriptTime: 99, Planner: snapshot.PlannerV1{Mode: "cycle", Cycle: 1}},
			{ID: "3", Pos: [3]float64{-20, 22, 1.0191}, HasOverride: true, Planner: snapshot.PlannerV1{Mode: "cycle", Cycle: 2}},
		},
		Counters: snapshot.CountersV1{Arrivals: 3, Commands: 1},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var actors int
	if err := db.QueryRow(`SELECT COUNT(*) FROM actors`).Scan(&actors); err != nil || actors != 2 {
		t.Fatalf("actors=%d err=%v", actors, err)
	}
	var cmdTopic string
	if err := db.QueryRow(`SELECT cmd_topic FROM actors WHERE actor_id = '3'`).Scan(&cmdTopic); err != nil || cmdTopic != "cmd_actor_pose3" {
		t.Fatalf("cmd_topic=%q err=%v", cmdTopic, err)
	}
	var digest string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'tuning_digest'`).Scan(&digest); err != nil || len(digest) != 64 {
		t.Fatalf("tuning digest=%q err=%v", digest, err)
	}

	var path string
	var arrivals int64
	if err := db.QueryRow(`SELECT path, arrivals_total FROM snapshots WHERE tick = 600`).Scan(&path, &arrivals); err != nil {
		t.Fatalf("snapshot row: %v", err)
	}
	if path != "/tmp/600.snap.zst" || arrivals != 3 {
		t.Fatalf("snapshot row path=%s arrivals=%d", path, arrivals)
	}
	var cycle, override int
	if err := db.QueryRow(`SELECT cycle, has_override FROM actor_states WHERE tick = 600 AND actor_id = '3'`).Scan(&cycle, &override); err != nil {
		t.Fatalf("actor state: %v", err)
	}
	if cycle != 2 || override != 1 {
		t.Fatalf("actor 3 cycle=%d override=%d", cycle, override)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: world.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(world.TickLogEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropSnapshotTotal != 1 || st.QueueDepth != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestSQLiteIndex_WritesAfterCloseAreIgnored(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "world.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			_ = idx.WriteTick(world.TickLogEntry{Tick: uint64(i), Digest: "d"})
		}
	}()
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()

	_ = idx.WriteTick(world.TickLogEntry{Tick: 5000})
	idx.RecordSnapshot("/tmp/5000.snap.zst", snapshot.SnapshotV1{})
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
