package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/studyhub/internal/monitoring"
)

const defaultMaintenanceMaxAge = 48 * time.Hour

// Maintenance verifies that background jobs succeed and ran within maxAge. A job that
// has not run yet is reported but does not fail the probe.
func Maintenance(jobs *monitoring.Jobs, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if jobs == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no maintenance jobs registered"}
		}

		status := monitoring.StatusUp
		var notes []string
		for _, job := range jobs.Snapshot() {
			switch {
			case job.TotalRuns == 0:
				notes = append(notes, job.Job+": pending first run")
			case job.ConsecutiveFailures > 0:
				status = worstStatus(status, monitoring.StatusDown)
				notes = append(notes, job.Job+": "+job.LastError)
			case start.Sub(job.LastRunAt) > maxAge:
				status = worstStatus(status, monitoring.StatusDegraded)
				notes = append(notes, job.Job+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(notes, "; "),
			Duration: time.Since(start),
		}
	})
}

func worstStatus(current, candidate monitoring.ProbeStatus) monitoring.ProbeStatus {
	if current == monitoring.StatusDown || candidate == monitoring.StatusDown {
		return monitoring.StatusDown
	}
	if current == monitoring.StatusDegraded || candidate == monitoring.StatusDegraded {
		return monitoring.StatusDegraded
	}
	return monitoring.StatusUp
}
