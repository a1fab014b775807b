package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Subscribe lists topics to receive. Empty means every pose and waypoint topic.
	Subscribe []string `json:"subscribe,omitempty"`
	MaxQueue  int      `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	TickRateHz      int         `json:"tick_rate_hz"`
	Tick            uint64      `json:"tick"`
	Actors          []ActorInfo `json:"actors"`
}

type ActorInfo struct {
	ID            string `json:"id"`
	Namespace     string `json:"namespace"`
	Mode          string `json:"mode"`
	PoseTopic     string `json:"pose_topic"`
	CmdTopic      string `json:"cmd_topic"`
	WaypointTopic string `json:"waypoint_topic"`
}

// CMD_POSE (client -> server). Sets or clears an actor's override target.
type CmdPoseMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Topic           string     `json:"topic"`
	Pos             [3]float64 `json:"pos"`
	Clear           bool       `json:"clear,omitempty"`
}

// ACTOR_POSE (server -> client), once per tick per actor.
type ActorPoseMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Topic           string     `json:"topic"`
	ActorID         string     `json:"actor_id"`
	Tick            uint64     `json:"tick"`
	SimTime         float64    `json:"sim_time"`
	Pos             [3]float64 `json:"pos"`
	Yaw             float64    `json:"yaw"`
	ScriptTime      float64    `json:"script_time"`
}

// WAYPOINT (server -> client), the patrol target issued this tick.
type WaypointMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Topic           string     `json:"topic"`
	ActorID         string     `json:"actor_id"`
	Tick            uint64     `json:"tick"`
	Pos             [3]float64 `json:"pos"`
	Mode            string     `json:"mode"`
	Cycle           int        `json:"cycle"`
	Override        bool       `json:"override,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
