package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"actorsim/internal/persistence/snapshot"
	"actorsim/internal/sim/tuning"
	"actorsim/internal/sim/world"
)

// SQLiteIndex is a queryable secondary index of the tick log. Writes are
// queued and applied by one goroutine in batched transactions; the JSONL
// logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu guards closed and the close of ch against in-flight enqueues.
	mu     sync.RWMutex
	closed bool

	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	snapshot snapshotRow
	actors   []snapshot.ActorV1
}

type snapshotRow struct {
	Tick          uint64
	Path          string
	SimTime       float64
	Actors        int
	ArrivalsTotal uint64
	CommandsTotal uint64
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// One tick entry per tick; over a minute of backlog at 100 Hz.
		ch: make(chan req, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actors (
			actor_id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			animation TEXT NOT NULL,
			mode TEXT NOT NULL,
			pose_topic TEXT NOT NULL,
			cmd_topic TEXT NOT NULL,
			waypoint_topic TEXT NOT NULL,
			config_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			sim_time REAL NOT NULL,
			digest TEXT NOT NULL,
			commands INTEGER NOT NULL,
			arrivals INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			clear INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_actor_tick ON commands(actor_id, tick);`,
		`CREATE TABLE IF NOT EXISTS arrivals (
			tick INTEGER NOT NULL,
			actor_id TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			next_x REAL NOT NULL,
			next_y REAL NOT NULL,
			PRIMARY KEY (tick, actor_id)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			sim_time REAL NOT NULL,
			actors INTEGER NOT NULL,
			arrivals_total INTEGER NOT NULL,
			commands_total INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actor_states (
			tick INTEGER NOT NULL,
			actor_id TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			yaw REAL NOT NULL,
			mode TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			script_time REAL NOT NULL,
			has_override INTEGER NOT NULL,
			PRIMARY KEY (tick, actor_id)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteTick queues entry without blocking. Calls after Close are ignored.
func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

// RecordSnapshot indexes a written snapshot file together with the actor
// states it holds.
func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	r := snapshotRow{
		Tick:          snap.Header.Tick,
		Path:          path,
		SimTime:       snap.SimTime,
		Actors:        len(snap.Actors),
		ArrivalsTotal: snap.Counters.Arrivals,
		CommandsTotal: snap.Counters.Commands,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r, actors: snap.Actors}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// UpsertActors stores the applied actor configuration and its digest.
func (s *SQLiteIndex) UpsertActors(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, hex.EncodeToString(sum[:])); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_json',?)`, string(b)); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO actors(actor_id,namespace,animation,mode,pose_topic,cmd_topic,waypoint_topic,config_json,updated_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range tune.Actors {
		cj, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(a.ID, a.Namespace, a.Animation, a.Mode, a.PoseTopic, a.CmdTopic, a.WaypointTopic, string(cj), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,sim_time,digest,commands,arrivals,raw_json) VALUES(?,?,?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(tick,seq,session_id,actor_id,topic,x,y,z,clear) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertArrival, _ := s.db.Prepare(`INSERT OR REPLACE INTO arrivals(tick,actor_id,cycle,x,y,next_x,next_y) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,sim_time,actors,arrivals_total,commands_total) VALUES(?,?,?,?,?,?)`)
	insertState, _ := s.db.Prepare(`INSERT OR REPLACE INTO actor_states(tick,actor_id,x,y,z,yaw,mode,cycle,script_time,has_override) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertCommand, insertArrival, insertSnapshot, insertState} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			b, _ := json.Marshal(e)
			if !exec(insertTick, int64(e.Tick), e.SimTime, e.Digest, len(e.Commands), len(e.Arrivals), string(b)) {
				continue
			}
			for i, c := range e.Commands {
				if !exec(insertCommand, int64(e.Tick), i, c.SessionID, c.ActorID, c.Topic, c.Pos[0], c.Pos[1], c.Pos[2], boolInt(c.Clear)) {
					break
				}
			}
			for _, a := range e.Arrivals {
				if !exec(insertArrival, int64(e.Tick), a.ActorID, a.Cycle, a.Pos[0], a.Pos[1], a.Waypoint[0], a.Waypoint[1]) {
					break
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			if !exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.SimTime, sn.Actors, int64(sn.ArrivalsTotal), int64(sn.CommandsTotal)) {
				continue
			}
			for _, a := range r.actors {
				if !exec(insertState, int64(sn.Tick), a.ID, a.Pos[0], a.Pos[1], a.Pos[2], a.Yaw, a.Planner.Mode, a.Planner.Cycle, a.ScriptTime, boolInt(a.HasOverride)) {
					break
				}
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
