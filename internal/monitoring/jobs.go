package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/charlesng35/studyhub/pkg/metrics"
)

// JobSummary describes the recent runs of one background job.
type JobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Jobs records background job runs. The zero value is not usable; use NewJobs.
type Jobs struct {
	mu   sync.Mutex
	jobs map[string]*JobSummary
	now  func() time.Time
}

// NewJobs returns an empty job registry.
func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]*JobSummary), now: time.Now}
}

// Register makes job visible before its first run.
func (j *Jobs) Register(job string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entry(job)
}

// RecordRun stores the outcome of one run of job.
func (j *Jobs) RecordRun(job string, err error, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.MaintenanceRuns.WithLabelValues(job, status).Inc()

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	entry := j.entry(job)
	entry.LastStatus = status
	entry.LastRunAt = now
	entry.LastDuration = duration
	entry.TotalRuns++
	if err != nil {
		entry.LastError = err.Error()
		entry.ConsecutiveFailures++
		return
	}
	entry.LastError = ""
	entry.ConsecutiveFailures = 0
	entry.LastSuccessAt = now
}

// Snapshot returns every registered job ordered by name.
func (j *Jobs) Snapshot() []JobSummary {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]JobSummary, 0, len(j.jobs))
	for _, entry := range j.jobs {
		out = append(out, *entry)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Job < out[b].Job })
	return out
}

func (j *Jobs) entry(job string) *JobSummary {
	entry, ok := j.jobs[job]
	if !ok {
		entry = &JobSummary{Job: job}
		j.jobs[job] = entry
	}
	return entry
}
