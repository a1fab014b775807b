package worldtest

import (
	"path/filepath"
	"testing"

	"actorsim/internal/persistence/snapshot"
	world "actorsim/internal/sim/world"
)

func TestSnapshotFile_RoundTripResumesSameDigests(t *testing.T) {
	tune := DefaultTuning(t)
	h1 := NewHarness(t, tune)
	h1.StepN(1200)
	h1.Command("cmd_actor_pose3", [3]float64{-20, 20, 0})
	h1.StepN(50)

	snapTick := h1.W.CurrentTick() - 1
	path := filepath.Join(t.TempDir(), "snapshots", "snap.zst")
	if err := snapshot.WriteSnapshot(path, h1.W.ExportSnapshot(snapTick)); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	w2, err := world.New(world.ConfigFromTuning("test", tune))
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}

	// Drive both without sessions so the tick counters stay aligned.
	for i := 0; i < 500; i++ {
		t1, d1 := h1.W.StepOnce(nil, nil, nil)
		t2, d2 := w2.StepOnce(nil, nil, nil)
		if t1 != t2 || d1 != d2 {
			t.Fatalf("step %d diverged: %d/%s vs %d/%s", i, t1, d1, t2, d2)
		}
	}
	if !w2.Status()[1].Override {
		t.Fatalf("override lost across snapshot")
	}
}
