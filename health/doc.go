// Package health tracks the health of task instances and aggregates it into a
// topology-wide status.
//
// Every task instance reports under the name "stage/instance". The engine
// updates the monitor on every lifecycle transition: an instance that is
// running is healthy, one that is being restarted is degraded and one that
// failed or raised an alert is unhealthy.
//
//	monitor := health.NewMonitor()
//	monitor.UpdateTask(report)
//	split, _ := monitor.Stage("split")
//	status := monitor.AggregateHealth("wordsplit")
//
// The topology status nests one aggregate per stage, and each stage nests
// its instances.
//
// Aggregation rules:
//   - any unhealthy sub-status makes the aggregate unhealthy
//   - otherwise any degraded sub-status makes it degraded
//   - otherwise it is healthy
//
// Error messages passed through FromTask are sanitized: URLs, paths, IP
// addresses, ports and credentials are replaced with placeholders so a health
// endpoint never exposes broker addresses or secrets.
package health
