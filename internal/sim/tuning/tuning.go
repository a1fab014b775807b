package tuning

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"actorsim/internal/sim/motion"
	"actorsim/internal/sim/patrol"
)

type Tuning struct {
	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`

	Motion Motion  `yaml:"motion" json:"motion"`
	Actors []Actor `yaml:"actors" json:"actors"`
}

type Motion struct {
	Speed            float64 `yaml:"speed" json:"speed"`
	EaseDistance     float64 `yaml:"ease_distance" json:"ease_distance"`
	TurnThresholdDeg float64 `yaml:"turn_threshold_deg" json:"turn_threshold_deg"`
	TurnRate         float64 `yaml:"turn_rate" json:"turn_rate"`
	GroundHeight     float64 `yaml:"ground_height" json:"ground_height"`
	ArrivalTolerance float64 `yaml:"arrival_tolerance" json:"arrival_tolerance"`
	Bounds           Bounds  `yaml:"bounds" json:"bounds"`
}

type Bounds struct {
	MinX float64 `yaml:"min_x" json:"min_x"`
	MaxX float64 `yaml:"max_x" json:"max_x"`
	MinY float64 `yaml:"min_y" json:"min_y"`
	MaxY float64 `yaml:"max_y" json:"max_y"`
}

type Actor struct {
	ID        string       `yaml:"id" json:"id"`
	Namespace string       `yaml:"namespace" json:"namespace"`
	Animation string       `yaml:"animation" json:"animation"`
	Mode      string       `yaml:"mode" json:"mode"`
	Seed      int64        `yaml:"seed,omitempty" json:"seed,omitempty"`
	Start     *[2]float64  `yaml:"start,omitempty" json:"start,omitempty"`
	Home      [2]float64   `yaml:"home" json:"home"`
	Waypoints [][2]float64 `yaml:"waypoints" json:"waypoints"`

	PoseTopic     string `yaml:"pose_topic" json:"pose_topic"`
	CmdTopic      string `yaml:"cmd_topic" json:"cmd_topic"`
	WaypointTopic string `yaml:"waypoint_topic" json:"waypoint_topic"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         100,
		SnapshotEveryTicks: 6000,
		Motion: Motion{
			Speed:            0.8,
			EaseDistance:     1.0,
			TurnThresholdDeg: 10,
			TurnRate:         0.001,
			GroundHeight:     1.0191,
			ArrivalTolerance: 0.1,
			Bounds:           Bounds{MinX: -50, MaxX: 100, MinY: -50, MaxY: 50},
		},
		Actors: []Actor{
			{
				ID:        "2",
				Namespace: "actors",
				Animation: "walking2",
				Mode:      patrol.ModeCycle,
				Home:      [2]float64{-30, -30},
				Waypoints: [][2]float64{{-45, -45}, {-45, -15}, {-15, -15}, {-15, -45}},
			},
			{
				ID:        "3",
				Namespace: "actors",
				Animation: "walking3",
				Mode:      patrol.ModeCycle,
				Home:      [2]float64{-30, 30},
				Waypoints: [][2]float64{{-15, 15}, {-15, 45}, {-45, 45}, {-45, 15}},
			},
		},
	}
}

// Load reads a YAML tuning file on top of Defaults. An empty path returns
// the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("actors.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("actors.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	for i := range t.Actors {
		a := &t.Actors[i]
		a.ID = strings.TrimSpace(a.ID)
		a.Namespace = strings.TrimSpace(a.Namespace)
		if a.Mode == "" {
			a.Mode = patrol.ModeCycle
		}
		if a.PoseTopic == "" {
			a.PoseTopic = "actor_pose" + a.ID
		}
		if a.CmdTopic == "" {
			a.CmdTopic = "cmd_actor_pose" + a.ID
		}
		if a.WaypointTopic == "" {
			a.WaypointTopic = "actor_waypoint" + a.ID
		}
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0")
	}
	m := t.Motion
	if m.Speed <= 0 || m.EaseDistance <= 0 || m.ArrivalTolerance <= 0 {
		return fmt.Errorf("motion speed, ease_distance and arrival_tolerance must be > 0")
	}
	if m.TurnThresholdDeg < 0 || m.TurnThresholdDeg > 180 {
		return fmt.Errorf("motion turn_threshold_deg must be in [0, 180]")
	}
	if m.TurnRate <= 0 || m.TurnRate > 1 {
		return fmt.Errorf("motion turn_rate must be in (0, 1]")
	}
	b := m.Bounds
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
		return fmt.Errorf("motion bounds must have min < max")
	}
	if len(t.Actors) == 0 {
		return fmt.Errorf("actors must not be empty")
	}

	seenID := map[string]bool{}
	seenTopic := map[string]string{}
	for _, a := range t.Actors {
		if a.ID == "" {
			return fmt.Errorf("actor id must not be empty")
		}
		if seenID[a.ID] {
			return fmt.Errorf("duplicate actor id: %s", a.ID)
		}
		seenID[a.ID] = true
		if a.Namespace == "" {
			return fmt.Errorf("actor %s: namespace is required", a.ID)
		}
		if strings.TrimSpace(a.Animation) == "" {
			return fmt.Errorf("actor %s: animation is required", a.ID)
		}
		for _, topic := range []string{a.PoseTopic, a.CmdTopic, a.WaypointTopic} {
			if other, ok := seenTopic[topic]; ok {
				return fmt.Errorf("actor %s: topic %q already used by actor %s", a.ID, topic, other)
			}
			seenTopic[topic] = a.ID
		}
		if !inBounds(b, a.Home) {
			return fmt.Errorf("actor %s: home %v outside bounds", a.ID, a.Home)
		}
		switch a.Mode {
		case patrol.ModeCycle:
			if len(a.Waypoints) == 0 {
				return fmt.Errorf("actor %s: cycle mode needs waypoints", a.ID)
			}
			prev := a.Home
			for i, p := range a.Waypoints {
				if !inBounds(b, p) {
					return fmt.Errorf("actor %s: waypoint %d %v outside bounds", a.ID, i, p)
				}
				if samePoint(prev, p, m.ArrivalTolerance) {
					return fmt.Errorf("actor %s: waypoint %d repeats the previous point", a.ID, i)
				}
				prev = p
			}
			if len(a.Waypoints) > 1 && samePoint(a.Waypoints[len(a.Waypoints)-1], a.Waypoints[0], m.ArrivalTolerance) {
				return fmt.Errorf("actor %s: last waypoint repeats the first", a.ID)
			}
		case patrol.ModeWander:
		default:
			return fmt.Errorf("actor %s: unknown mode %q", a.ID, a.Mode)
		}
	}
	return nil
}

func inBounds(b Bounds, p [2]float64) bool {
	return p[0] >= b.MinX && p[0] <= b.MaxX && p[1] >= b.MinY && p[1] <= b.MaxY
}

func samePoint(a, b [2]float64, tol float64) bool {
	return math.Abs(a[0]-b[0]) < tol && math.Abs(a[1]-b[1]) < tol
}

func (m Motion) Params() motion.Params {
	return motion.Params{
		Speed:         m.Speed,
		EaseDistance:  m.EaseDistance,
		TurnThreshold: m.TurnThresholdDeg * math.Pi / 180,
		TurnRate:      m.TurnRate,
		GroundHeight:  m.GroundHeight,
		Bounds: motion.Bounds{
			MinX: m.Bounds.MinX,
			MaxX: m.Bounds.MaxX,
			MinY: m.Bounds.MinY,
			MaxY: m.Bounds.MaxY,
		},
	}
}
