package world

// ActorStatus is the per-actor view served by the admin endpoint.
type ActorStatus struct {
	ID         string     `json:"id"`
	Namespace  string     `json:"namespace"`
	Animation  string     `json:"animation"`
	Mode       string     `json:"mode"`
	Pos        [3]float64 `json:"pos"`
	Yaw        float64    `json:"yaw"`
	Target     [3]float64 `json:"target"`
	Waypoint   [3]float64 `json:"waypoint"`
	Cycle      int        `json:"cycle"`
	Override   bool       `json:"override"`
	ScriptTime float64    `json:"script_time"`
}

// Status returns the actor states as of the last completed tick. Safe from any
// goroutine.
func (w *World) Status() []ActorStatus {
	v := w.status.Load()
	if v == nil {
		return nil
	}
	st, _ := v.([]ActorStatus)
	return append([]ActorStatus(nil), st...)
}

// publishStatus refreshes the status view from the actors. Waypoint and
// Cycle are what the next tick will issue.
func (w *World) publishStatus() {
	out := make([]ActorStatus, 0, len(w.actors))
	for _, a := range w.actors {
		cfg := a.Config()
		s := ActorStatus{
			ID:         cfg.ID,
			Namespace:  cfg.Namespace,
			Animation:  cfg.Animation,
			Mode:       a.Planner().Mode(),
			Pos:        a.Pose().Pos,
			Yaw:        a.Pose().Yaw,
			Target:     a.Target(),
			Waypoint:   a.Planner().Target(),
			ScriptTime: a.ScriptTime(),
			Cycle:      a.Planner().Save().Cycle,
		}
		_, s.Override = a.Override()
		out = append(out, s)
	}
	w.status.Store(out)
}
