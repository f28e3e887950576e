package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/c360/semtopo/component"
)

// Health states
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	httpURLRegex     = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex     = regexp.MustCompile(`nats://[^\s]+`)
	wsURLRegex       = regexp.MustCompile(`wss?://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a task instance or a whole topology
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related counters of one task instance
type Metrics struct {
	Uptime           time.Duration `json:"uptime"`
	ErrorCount       int           `json:"error_count"`
	Restarts         int           `json:"restarts"`
	RecordsProcessed int64         `json:"records_processed,omitempty"`
	LastActivity     time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(subStatus Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, subStatus)
	return s
}

// TaskReport is the engine's view of one task instance.
type TaskReport struct {
	Stage     string
	Instance  int
	Worker    int
	State     component.State
	LastError error
	Alerted   bool
	Restarts  int
	Errors    int
	Processed int64
	Started   time.Time
	LastSeen  time.Time
}

// Name returns the monitor key of the task instance.
func (r TaskReport) Name() string {
	return TaskName(r.Stage, r.Instance)
}

// TaskName returns the monitor key "stage/instance".
func TaskName(stage string, instance int) string {
	return fmt.Sprintf("%s/%d", stage, instance)
}

// FromTask converts a task report into a health status.
func FromTask(r TaskReport) Status {
	var status Status
	name := r.Name()

	switch {
	case r.Alerted || r.State == component.StateFailed:
		status = NewUnhealthy(name, "task failed")
	case r.State == component.StateRunning && r.Restarts > 0 && r.LastError != nil:
		status = NewDegraded(name, "task restarted")
	case r.State == component.StateRunning, r.State == component.StateStopped:
		status = NewHealthy(name, "task "+r.State.String())
	default:
		status = NewDegraded(name, "task "+r.State.String())
	}

	if r.LastError != nil {
		status.Message = status.Message + ": " + sanitizeErrorMessage(r.LastError.Error())
	}

	var uptime time.Duration
	if !r.Started.IsZero() {
		uptime = time.Since(r.Started)
	}
	return status.WithMetrics(&Metrics{
		Uptime:           uptime,
		ErrorCount:       r.Errors,
		Restarts:         r.Restarts,
		RecordsProcessed: r.Processed,
		LastActivity:     r.LastSeen,
	})
}

// sanitizeErrorMessage replaces URLs, file paths, IP addresses, ports and
// credentials with placeholders.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := err

	// URLs before paths, as they contain paths
	sanitized = httpURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = natsURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = wsURLRegex.ReplaceAllString(sanitized, "[URL]")

	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = windowsPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
			break
		}
	}

	return sanitized
}
