package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/studyhub/internal/monitoring"
)

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager(time.Second)
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("broker", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
	require.Equal(t, "broker", report.Checks[1].Component)

	live := manager.EvaluateLiveness(context.Background())
	require.True(t, live.Success)
	require.Empty(t, live.Checks)
}

func TestHealthManagerBoundsSlowProbes(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager(20 * time.Millisecond)
	manager.RegisterReadiness(monitoring.ErrorCheck("subgraphs", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDegraded, report.Status)
}

func TestHealthManagerRecoversPanickingProbe(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager(time.Second)
	manager.RegisterLiveness(monitoring.NewCheck("push", func(context.Context) monitoring.ProbeResult {
		panic("boom")
	}))

	report := manager.EvaluateLiveness(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Equal(t, "push", report.Checks[0].Component)
	require.Equal(t, "boom", report.Checks[0].Details)
}

func TestMergeReports(t *testing.T) {
	t.Parallel()

	live := monitoring.HealthReport{Checks: []monitoring.ProbeResult{{Component: "process", Status: monitoring.StatusUp}}}
	ready := monitoring.HealthReport{Checks: []monitoring.ProbeResult{{Component: "broker", Status: monitoring.StatusDegraded}}}

	merged := monitoring.MergeReports(live, ready)
	require.False(t, merged.Success)
	require.Equal(t, monitoring.StatusDegraded, merged.Status)
	require.Len(t, merged.Checks, 2)
}

func TestJobsTrackConsecutiveFailures(t *testing.T) {
	t.Parallel()

	jobs := monitoring.NewJobs()
	jobs.RecordRun("retention", errors.New("locked"), time.Millisecond)
	jobs.RecordRun("retention", errors.New("locked"), time.Millisecond)

	snapshot := jobs.Snapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, uint64(2), snapshot[0].ConsecutiveFailures)
	require.Equal(t, "failure", snapshot[0].LastStatus)
	require.True(t, snapshot[0].LastSuccessAt.IsZero())

	jobs.RecordRun("retention", nil, time.Millisecond)
	snapshot = jobs.Snapshot()
	require.Zero(t, snapshot[0].ConsecutiveFailures)
	require.Empty(t, snapshot[0].LastError)
	require.Equal(t, uint64(3), snapshot[0].TotalRuns)
}
