package health

import (
	"strconv"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate creates a status by aggregating the statuses of task instances
func Aggregate(component string, subStatuses []Status) Status {
	return aggregate(component, subStatuses, "task instance")
}

// Combine aggregates the statuses of heterogeneous parts, such as the stages
// of a topology next to the connections they depend on.
func Combine(component string, parts ...Status) Status {
	return aggregate(component, parts, "component")
}

func aggregate(component string, subStatuses []Status, noun string) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no "+noun+"s")
	}

	unhealthy, degraded := 0, 0
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var status Status
	switch {
	case unhealthy > 0:
		status = NewUnhealthy(component, plural(unhealthy, noun)+" unhealthy")
	case degraded > 0:
		status = NewDegraded(component, plural(degraded, noun)+" degraded")
	default:
		status = NewHealthy(component, "all "+noun+"s healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)

	return status
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
