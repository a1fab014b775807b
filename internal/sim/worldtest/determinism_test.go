package worldtest

import (
	"testing"

	"actorsim/internal/protocol"
	world "actorsim/internal/sim/world"
)

func TestDeterminism_FixedCommandsSameDigest(t *testing.T) {
	tune := DefaultTuning(t)
	w1, err := world.New(world.ConfigFromTuning("test", tune))
	if err != nil {
		t.Fatalf("world1: %v", err)
	}
	w2, err := world.New(world.ConfigFromTuning("test", tune))
	if err != nil {
		t.Fatalf("world2: %v", err)
	}

	for i := uint64(0); i < 2000; i++ {
		var cmds []world.CommandEnvelope
		switch i {
		case 300:
			cmds = append(cmds, world.CommandEnvelope{Cmd: protocol.CmdPoseMsg{Topic: "cmd_actor_pose2", Pos: [3]float64{-20, -20, 0}}})
		case 1500:
			cmds = append(cmds, world.CommandEnvelope{Cmd: protocol.CmdPoseMsg{Topic: "cmd_actor_pose2", Clear: true}})
		}
		t1, d1 := w1.StepOnce(nil, nil, cmds)
		t2, d2 := w2.StepOnce(nil, nil, cmds)
		if t1 != i || t2 != i {
			t.Fatalf("tick mismatch: got w1=%d w2=%d want %d", t1, t2, i)
		}
		if d1 != d2 {
			t.Fatalf("digest mismatch at tick %d: %s vs %s", i, d1, d2)
		}
	}
}

func TestDeterminism_SessionsDoNotAffectDigest(t *testing.T) {
	tune := DefaultTuning(t)
	w1, _ := world.New(world.ConfigFromTuning("test", tune))
	w2, _ := world.New(world.ConfigFromTuning("test", tune))

	out := make(chan []byte, 4)
	_, d1 := w1.StepOnce([]world.JoinRequest{{ClientName: "viewer", Out: out}}, nil, nil)
	_, d2 := w2.StepOnce(nil, nil, nil)
	if d1 != d2 {
		t.Fatalf("join changed digest: %s vs %s", d1, d2)
	}
}
