package health

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Monitor keeps the latest status of every task instance, grouped by stage.
// It is safe for concurrent use.
type Monitor struct {
	mu     sync.RWMutex
	stages map[string]map[int]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{stages: make(map[string]map[int]Status)}
}

// UpdateTask records the status derived from a task report.
func (m *Monitor) UpdateTask(r TaskReport) {
	m.set(r.Stage, r.Instance, FromTask(r))
}

// MarkFailed records an instance as unhealthy with message.
func (m *Monitor) MarkFailed(stage string, instance int, message string) {
	m.set(stage, instance, NewUnhealthy(TaskName(stage, instance), message))
}

func (m *Monitor) set(stage string, instance int, status Status) {
	status.Component = TaskName(stage, instance)
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tasks, ok := m.stages[stage]
	if !ok {
		tasks = make(map[int]Status)
		m.stages[stage] = tasks
	}
	tasks[instance] = status
}

// Task returns the latest status of one instance.
func (m *Monitor) Task(stage string, instance int) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.stages[stage][instance]
	return status, ok
}

// Stage aggregates the instances of one stage, ordered by instance index.
func (m *Monitor) Stage(stage string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks, ok := m.stages[stage]
	if !ok {
		return Status{}, false
	}
	return stageStatus(stage, tasks), true
}

func stageStatus(stage string, tasks map[int]Status) Status {
	subs := make([]Status, 0, len(tasks))
	for _, i := range slices.Sorted(maps.Keys(tasks)) {
		subs = append(subs, tasks[i])
	}
	return Aggregate(stage, subs)
}

// Stages returns the monitored stage names in sorted order.
func (m *Monitor) Stages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.stages))
}

// RemoveStage forgets every instance of stage.
func (m *Monitor) RemoveStage(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stages, stage)
}

// Count returns the number of monitored task instances.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, tasks := range m.stages {
		n += len(tasks)
	}
	return n
}

// AggregateHealth returns the topology status. Its sub-statuses are the
// stage aggregates sorted by stage name, each holding its instances.
func (m *Monitor) AggregateHealth(topology string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.stages))
	for _, stage := range slices.Sorted(maps.Keys(m.stages)) {
		subs = append(subs, stageStatus(stage, m.stages[stage]))
	}
	m.mu.RUnlock()

	return aggregate(topology, subs, "stage")
}
