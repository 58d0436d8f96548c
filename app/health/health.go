package health

import (
	"log/slog"
	"sync/atomic"
)

// Monitor collects unhealthy votes from background components. Votes are
// permanent: once any component has voted, readiness stays down until the
// process is restarted and re-establishes its broker and store sessions.
type Monitor struct {
	unhealthyVotes atomic.Int64
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) VoteUnhealthy(component string, reason error) {
	n := m.unhealthyVotes.Add(1)
	slog.Error("Component voted unhealthy", "component", component, "reason", reason, "votes", n)
}

func (m *Monitor) Healthy() bool {
	return m.unhealthyVotes.Load() == 0
}
