package engine

import (
	"fmt"
	"time"
)

// Alert kinds
const (
	AlertSource          = "source"
	AlertProcessing      = "processing"
	AlertRouting         = "routing"
	AlertRestartFailed   = "restart_failed"
	AlertReplayExhausted = "replay_exhausted"
)

// Alert reports an unrecoverable error of one task instance.
type Alert struct {
	Stage    string    `json:"stage"`
	Instance int       `json:"instance"`
	Worker   int       `json:"worker"`
	Kind     string    `json:"kind"`
	Err      error     `json:"-"`
	Time     time.Time `json:"time"`
}

func (a Alert) String() string {
	return fmt.Sprintf("%s alert on %s[%d] (worker %d): %v", a.Kind, a.Stage, a.Instance, a.Worker, a.Err)
}

// AlertHandler receives alerts. HandleAlert runs on the failing instance's
// execution context and should return quickly.
type AlertHandler interface {
	HandleAlert(Alert)
}

// AlertFunc adapts a function to AlertHandler.
type AlertFunc func(Alert)

// HandleAlert calls f(a).
func (f AlertFunc) HandleAlert(a Alert) { f(a) }
