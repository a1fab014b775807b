package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"actorsim/internal/protocol"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "probe", "client name")
		subscribe = flag.String("subscribe", "", "comma-separated pose/waypoint topics (empty: all)")
		cmdTopic  = flag.String("topic", "", "command topic for -goto/-clear, e.g. cmd_actor_pose2")
		gotoPos   = flag.String("goto", "", "override target x,y[,z]")
		clearCmd  = flag.Bool("clear", false, "clear the override on -topic")
		count     = flag.Int("count", 0, "exit after this many pose messages (0: run until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[probe] ", log.LstdFlags|log.Lmicroseconds)

	var cmd *protocol.CmdPoseMsg
	if *gotoPos != "" || *clearCmd {
		if *cmdTopic == "" {
			logger.Fatalf("-goto/-clear need -topic")
		}
		c := protocol.CmdPoseMsg{
			Type:            protocol.TypeCmdPose,
			ProtocolVersion: protocol.Version,
			Topic:           *cmdTopic,
			Clear:           *clearCmd,
		}
		if !*clearCmd {
			p, err := parsePoint(*gotoPos)
			if err != nil {
				logger.Fatalf("-goto: %v", err)
			}
			c.Pos = p
		}
		cmd = &c
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Subscribe:       splitTopics(*subscribe),
		MaxQueue:        8,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	poses := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s tick=%d tick_rate=%d actors=%d", w.SessionID, w.Tick, w.TickRateHz, len(w.Actors))
			for _, a := range w.Actors {
				logger.Printf("  actor %s mode=%s pose=%s cmd=%s waypoint=%s", a.ID, a.Mode, a.PoseTopic, a.CmdTopic, a.WaypointTopic)
			}
			if cmd != nil {
				if err := conn.WriteJSON(cmd); err != nil {
					logger.Fatalf("send CMD_POSE: %v", err)
				}
				logger.Printf("sent CMD_POSE topic=%s pos=%v clear=%v", cmd.Topic, cmd.Pos, cmd.Clear)
			}

		case protocol.TypeActorPose:
			var p protocol.ActorPoseMsg
			if err := json.Unmarshal(msg, &p); err != nil {
				continue
			}
			logger.Printf("%s tick=%d pos=(%.3f,%.3f,%.4f) yaw=%.3f script=%.2f", p.Topic, p.Tick, p.Pos[0], p.Pos[1], p.Pos[2], p.Yaw, p.ScriptTime)
			poses++
			if *count > 0 && poses >= *count {
				return
			}

		case protocol.TypeWaypoint:
			var wp protocol.WaypointMsg
			if err := json.Unmarshal(msg, &wp); err != nil {
				continue
			}
			logger.Printf("%s tick=%d waypoint=(%.2f,%.2f) mode=%s cycle=%d override=%v", wp.Topic, wp.Tick, wp.Pos[0], wp.Pos[1], wp.Mode, wp.Cycle, wp.Override)

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR %s: %s", e.Code, e.Message)
		}
	}
}

// parsePoint reads "x,y" or "x,y,z". Actors stay on the ground plane, so z
// only travels in the message.
func parsePoint(s string) ([3]float64, error) {
	var p [3]float64
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return p, fmt.Errorf("want x,y or x,y,z, got %q", s)
	}
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return p, fmt.Errorf("coordinate %d: %w", i, err)
		}
		p[i] = v
	}
	return p, nil
}

func splitTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
