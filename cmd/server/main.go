package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"actorsim/internal/persistence/indexdb"
	persistlog "actorsim/internal/persistence/log"
	"actorsim/internal/persistence/snapshot"
	"actorsim/internal/sim/tuning"
	"actorsim/internal/sim/world"
	"actorsim/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/actors.yaml", "path to actors.yaml (empty: built-in defaults)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read index (ticks, commands, arrivals, snapshots)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	flushSentry := initSentry(*worldID, logger)
	defer flushSentry()

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune, _ = tuning.Load("")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}

	w, err := buildWorld(*worldID, tune, snapshotToLoad)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	if snapshotToLoad != "" {
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	}

	// Optional read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertActors(tune); err != nil {
			logger.Printf("index: upsert actors: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(worldDir)
	defer tickLog.Close()
	if idx != nil {
		w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	} else {
		w.SetTickLogger(tickLog)
	}

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		defer reportPanic("snapshot_writer")
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					reportError("snapshot_writer", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	// The tick log and index are closed by the defers above, so main must not
	// return before the world loop stops writing to them.
	worldDone := startWorld(ctx, w, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		var stats *indexdb.Stats
		if idx != nil {
			s := idx.Stats()
			stats = &s
		}
		writeMetrics(rw, *worldID, w, stats)
	})

	enableAdminHTTP := envBool("ACTORSIM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("ACTORSIM_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", stateHandler(*worldID, w))
		mux.HandleFunc("/admin/v1/snapshot", snapshotHandler(w))
	} else {
		logger.Printf("admin endpoints disabled (ACTORSIM_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (ACTORSIM_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s actors=%d tick_rate=%d", *addr, *worldID, len(tune.Actors), tune.TickRateHz)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		reportError("http", err)
	}
	cancel()
	<-worldDone
	logger.Printf("world stopped at tick=%d", w.CurrentTick())
}

// startWorld runs the tick loop until ctx is done. The returned channel is
// closed once the loop has returned.
func startWorld(ctx context.Context, w *world.World, logger *log.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer reportPanic("world")
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
			reportError("world", err)
		}
	}()
	return done
}

// buildWorld creates a fresh world, or resumes one when snapPath is set.
// A snapshot's tick rate wins over the tuning file.
func buildWorld(worldID string, tune tuning.Tuning, snapPath string) (*world.World, error) {
	if snapPath == "" {
		return world.New(world.ConfigFromTuning(worldID, tune))
	}
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != worldID {
		return nil, fmt.Errorf("snapshot world id mismatch: flag=%s snap=%s", worldID, snap.Header.WorldID)
	}
	cfg := world.ConfigFromTuning(worldID, tune)
	if snap.TickRate > 0 {
		cfg.TickRateHz = snap.TickRate
	}
	w, err := world.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	return w, nil
}

func writeMetrics(rw io.Writer, worldID string, w *world.World, stats *indexdb.Stats) {
	m := w.Metrics()
	tick := w.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP actorsim_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE actorsim_world_tick gauge\n")
	fmt.Fprintf(rw, "actorsim_world_tick{world=%q} %d\n", worldID, tick)

	fmt.Fprintf(rw, "# HELP actorsim_world_sim_time_seconds Simulated time.\n")
	fmt.Fprintf(rw, "# TYPE actorsim_world_sim_time_seconds gauge\n")
	fmt.Fprintf(rw, "actorsim_world_sim_time_seconds{world=%q} %.3f\n", worldID, m.SimTime)

	fmt.Fprintf(rw, "# HELP actorsim_world_actors Number of simulated actors.\n")
	fmt.Fprintf(rw, "# TYPE actorsim_world_actors gauge\n")
	fmt.Fprintf(rw, "actorsim_world_actors{world=%q} %d\n", worldID, m.Actors)

	fmt.Fprintf(rw, "# HELP actorsim_world_clients Current number of connected clients.\n")
	fmt.Fprintf(rw, "# TYPE actorsim_world_clients gauge\n")
	fmt.Fprintf(rw, "actorsim_world_clients{world=%q} %d\n", worldID, m.Clients)

	fmt.Fprintf(rw, "# HELP actorsim_world_arrivals_total Waypoint arrivals since start.\n")
	fmt.Fprintf(rw, "# TYPE actorsim_world_arrivals_total counter\n")
	fmt.Fprintf(rw, "actorsim_world_arrivals_total{world=%q} %d\n", worldID, m.ArrivalsTotal)

	fmt.Fprintf(rw, "# HELP actorsim_world_commands_total Applied command poses since start.\n")
	fmt.Fprintf(rw, "# TYPE actorsim_world_commands_total counter\n")
	fmt.Fprintf(rw, "actorsim_world_commands_total{world=%q} %d\n", worldID, m.CommandsTotal)

	fmt.Fprintf(rw, "# HELP actorsim_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE actorsim_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "actorsim_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "actorsim_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "actorsim_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "leave", m.QueueDepths.Leave)

	fmt.Fprintf(rw, "# HELP actorsim_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE actorsim_world_step_ms gauge\n")
	fmt.Fprintf(rw, "actorsim_world_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

	if stats == nil {
		return
	}
	fmt.Fprintf(rw, "# HELP actorsim_index_queue_depth Pending sqlite index writes.\n")
	fmt.Fprintf(rw, "# TYPE actorsim_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "actorsim_index_queue_depth{world=%q} %d\n", worldID, stats.QueueDepth)

	fmt.Fprintf(rw, "# HELP actorsim_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE actorsim_index_dropped_total counter\n")
	fmt.Fprintf(rw, "actorsim_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "tick", stats.DropTickTotal)
	fmt.Fprintf(rw, "actorsim_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "snapshot", stats.DropSnapshotTotal)
}

func stateHandler(worldID string, w *world.World) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			WorldID string              `json:"world_id"`
			Tick    uint64              `json:"tick"`
			Metrics world.WorldMetrics  `json:"metrics"`
			Actors  []world.ActorStatus `json:"actors"`
		}{
			WorldID: worldID,
			Tick:    w.CurrentTick(),
			Metrics: w.Metrics(),
			Actors:  w.Status(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func snapshotHandler(w *world.World) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel2()
		tick, err := w.RequestSnapshot(ctx2)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}
