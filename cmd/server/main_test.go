package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"actorsim/internal/persistence/indexdb"
	"actorsim/internal/persistence/snapshot"
	"actorsim/internal/sim/tuning"
	"actorsim/internal/sim/world"
)

func defaultTuning(t *testing.T) tuning.Tuning {
	t.Helper()
	tune, err := tuning.Load("")
	if err != nil {
		t.Fatalf("tuning: %v", err)
	}
	return tune
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	if got := latestSnapshot(dir); got != "" {
		t.Fatalf("empty dir: got %q", got)
	}
	snaps := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snaps, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"600.snap.zst", "12000.snap.zst", "6000.snap.zst", "junk.snap.zst", "99999.txt"} {
		if err := os.WriteFile(filepath.Join(snaps, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got := latestSnapshot(dir); filepath.Base(got) != "12000.snap.zst" {
		t.Fatalf("got %q", got)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"example.com:80": false,
		"":               false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%q: got %v want %v", addr, got, want)
		}
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("ACTORSIM_TEST_FLAG", "")
	if !envBool("ACTORSIM_TEST_FLAG", true) {
		t.Fatalf("empty value should use default")
	}
	t.Setenv("ACTORSIM_TEST_FLAG", "false")
	if envBool("ACTORSIM_TEST_FLAG", true) {
		t.Fatalf("false not parsed")
	}
	t.Setenv("ACTORSIM_TEST_FLAG", "maybe")
	if envBool("ACTORSIM_TEST_FLAG", false) {
		t.Fatalf("invalid value should use default")
	}
	t.Setenv("DEPLOY_ENV", "production")
	if defaultEnableAdminHTTP() {
		t.Fatalf("admin must be off in production")
	}
}

func TestBuildWorld_ResumesFromSnapshot(t *testing.T) {
	tune := defaultTuning(t)
	src, err := buildWorld("w1", tune, "")
	if err != nil {
		t.Fatalf("fresh world: %v", err)
	}
	for i := 0; i < 50; i++ {
		src.StepOnce(nil, nil, nil)
	}
	path := filepath.Join(t.TempDir(), "snapshots", "49.snap.zst")
	if err := snapshot.WriteSnapshot(path, src.ExportSnapshot(49)); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := buildWorld("w1", tune, path)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if w.CurrentTick() != 50 {
		t.Fatalf("tick=%d want 50", w.CurrentTick())
	}
	if _, err := buildWorld("other", tune, path); err == nil {
		t.Fatalf("expected world id mismatch")
	}
}

func TestWriteMetrics(t *testing.T) {
	w, err := buildWorld("w1", defaultTuning(t), "")
	if err != nil {
		t.Fatal(err)
	}
	w.StepOnce(nil, nil, nil)

	var buf bytes.Buffer
	writeMetrics(&buf, "w1", w, &indexdb.Stats{DropTickTotal: 3})
	out := buf.String()
	for _, want := range []string{
		`actorsim_world_tick{world="w1"} 1`,
		`actorsim_world_actors{world="w1"} 2`,
		`actorsim_world_arrivals_total{world="w1"} 2`,
		`actorsim_index_dropped_total{world="w1",kind="tick"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
}

func TestStateHandler_LoopbackOnly(t *testing.T) {
	w, err := buildWorld("w1", defaultTuning(t), "")
	if err != nil {
		t.Fatal(err)
	}
	w.StepOnce(nil, nil, nil)
	h := stateHandler("w1", w)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote code=%d", rec.Code)
	}

	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("loopback code=%d", rec.Code)
	}
	var resp struct {
		WorldID string              `json:"world_id"`
		Actors  []world.ActorStatus `json:"actors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorldID != "w1" || len(resp.Actors) != 2 || resp.Actors[0].ID != "2" {
		t.Fatalf("resp=%+v", resp)
	}

	rec = httptest.NewRecorder()
	snapshotHandler(w)(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/snapshot", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("snapshot GET code=%d", rec.Code)
	}
}

func TestReportPanic_RepanicsWithoutClient(t *testing.T) {
	reportError("test", nil)
	reportError("test", os.ErrNotExist)

	defer func() {
		if r := recover(); r != "boom" {
			t.Fatalf("recovered %v want boom", r)
		}
	}()
	func() {
		defer reportPanic("test")
		panic("boom")
	}()
}

type closingLogger struct {
	mu     sync.Mutex
	closed bool
	late   int
	ticks  int
}

func (l *closingLogger) WriteTick(world.TickLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.late++
	}
	l.ticks++
	return nil
}

func (l *closingLogger) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func TestStartWorld_DoneAfterLastTickWrite(t *testing.T) {
	w, err := world.New(world.ConfigFromTuning("w1", defaultTuning(t)))
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	sink := &closingLogger{}
	w.SetTickLogger(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := startWorld(ctx, w, log.New(io.Discard, "", 0))
	deadline := time.Now().Add(2 * time.Second)
	for w.CurrentTick() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("world loop did not stop")
	}
	sink.Close()
	time.Sleep(50 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.ticks == 0 || sink.late != 0 {
		t.Fatalf("ticks=%d writes after close=%d", sink.ticks, sink.late)
	}
}
