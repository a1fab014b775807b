package tuning

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	tune, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if err := tune.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if len(tune.Actors) != 2 {
		t.Fatalf("actors=%d want 2", len(tune.Actors))
	}
	a := tune.Actors[0]
	if a.PoseTopic != "actor_pose2" || a.CmdTopic != "cmd_actor_pose2" || a.WaypointTopic != "actor_waypoint2" {
		t.Fatalf("topics not derived from id: %+v", a)
	}
}

func TestParse_OverridesOnTopOfDefaults(t *testing.T) {
	tune, err := Parse([]byte(`
tick_rate_hz: 50
motion:
  speed: 1.2
actors:
  - id: walker
    namespace: plaza
    animation: walking
    mode: wander
    seed: 9
    home: [0, 0]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tune.TickRateHz != 50 || tune.Motion.Speed != 1.2 {
		t.Fatalf("overrides not applied: %+v", tune)
	}
	if tune.Motion.GroundHeight != 1.0191 || tune.Motion.ArrivalTolerance != 0.1 {
		t.Fatalf("unset motion fields lost defaults: %+v", tune.Motion)
	}
	if len(tune.Actors) != 1 || tune.Actors[0].ID != "walker" {
		t.Fatalf("actors must be replaced, got %+v", tune.Actors)
	}
	if tune.Actors[0].CmdTopic != "cmd_actor_posewalker" {
		t.Fatalf("cmd topic=%q", tune.Actors[0].CmdTopic)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing namespace", `
actors:
  - id: "2"
    animation: walking2
    home: [-30, -30]
    waypoints: [[-45, -45]]
`, "namespace is required"},
		{"missing animation", `
actors:
  - id: "2"
    namespace: ns
    home: [-30, -30]
    waypoints: [[-45, -45]]
`, "animation is required"},
		{"duplicate id", `
actors:
  - {id: a, namespace: ns, animation: w, home: [0, 0], waypoints: [[1, 1]]}
  - {id: a, namespace: ns, animation: w, home: [0, 0], waypoints: [[1, 1]]}
`, "duplicate actor id"},
		{"repeated waypoint", `
actors:
  - {id: a, namespace: ns, animation: w, home: [0, 0], waypoints: [[1, 1], [1, 1.05]]}
`, "repeats the previous point"},
		{"wrap repeats", `
actors:
  - {id: a, namespace: ns, animation: w, home: [0, 0], waypoints: [[1, 1], [5, 5], [1, 1]]}
`, "last waypoint repeats the first"},
		{"out of bounds", `
actors:
  - {id: a, namespace: ns, animation: w, home: [0, 0], waypoints: [[500, 1]]}
`, "outside bounds"},
		{"unknown mode", `
actors:
  - {id: a, namespace: ns, animation: w, mode: sprint, home: [0, 0]}
`, "unknown mode"},
		{"shared topic", `
actors:
  - {id: a, namespace: ns, animation: w, home: [0, 0], waypoints: [[1, 1]], pose_topic: x}
  - {id: b, namespace: ns, animation: w, home: [0, 0], waypoints: [[1, 1]], pose_topic: x}
`, "already used"},
		{"bad tick rate", `tick_rate_hz: 0`, "tick_rate_hz"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse([]byte(c.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", c.want)
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("err=%v want %q", err, c.want)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "actors.yaml")
	if err := os.WriteFile(p, []byte("snapshot_every_ticks: 10\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tune, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tune.SnapshotEveryTicks != 10 || len(tune.Actors) != 2 {
		t.Fatalf("unexpected tuning: %+v", tune)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("missing file err=%v", err)
	}
}

func TestMotionParams(t *testing.T) {
	p := Defaults().Motion.Params()
	if math.Abs(p.TurnThreshold-10*math.Pi/180) > 1e-12 {
		t.Fatalf("turn threshold=%v", p.TurnThreshold)
	}
	if p.Bounds.MinX != -50 || p.Bounds.MaxX != 100 || p.Bounds.MinY != -50 || p.Bounds.MaxY != 50 {
		t.Fatalf("bounds=%+v", p.Bounds)
	}
}

func TestLoad_ShippedConfigMatchesDefaults(t *testing.T) {
	tune, err := Load(filepath.Join("..", "..", "..", "configs", "actors.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Defaults()
	def.Normalize()
	if tune.TickRateHz != def.TickRateHz || tune.Motion != def.Motion || len(tune.Actors) != len(def.Actors) {
		t.Fatalf("shipped config drifted from defaults: %+v", tune)
	}
	for i, a := range tune.Actors {
		d := def.Actors[i]
		if a.ID != d.ID || a.Home != d.Home || a.PoseTopic != d.PoseTopic || len(a.Waypoints) != len(d.Waypoints) {
			t.Fatalf("actor %d: got %+v want %+v", i, a, d)
		}
		for j := range a.Waypoints {
			if a.Waypoints[j] != d.Waypoints[j] {
				t.Fatalf("actor %s waypoint %d: %v vs %v", a.ID, j, a.Waypoints[j], d.Waypoints[j])
			}
		}
	}
}
