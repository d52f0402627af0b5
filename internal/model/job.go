package model

import (
	"strings"
	"time"
)

// StepStatus is the outcome of one orchestrator step.
type StepStatus string

const (
	StepStatusComplete StepStatus = "complete"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped"
)

// StepResult records what happened in one orchestrator step. ErrorType is
// "transient" or "permanent" for failed steps.
type StepResult struct {
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Duration  int64      `json:"duration_ms"`
	Message   string     `json:"message,omitempty"`
	Kind      string     `json:"error_kind,omitempty"`
	ErrorType string     `json:"error_type,omitempty"`
	Fatal     bool       `json:"fatal,omitempty"`
}

// JobStatus is the lifecycle state of a reduction job in the journal.
type JobStatus string

const (
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// JobResult is the structured outcome of one reduction job.
type JobResult struct {
	JobID          string       `json:"job_id,omitempty"`
	RunNumber      int          `json:"run_number"`
	IPTSNumber     int          `json:"ipts_number"`
	Success        bool         `json:"success"`
	Steps          []StepResult `json:"steps"`
	GSASPath       string       `json:"gsas_path,omitempty"`
	NormalizedPath string       `json:"normalized_path,omitempty"`
	VanadiumRun    int          `json:"vanadium_run,omitempty"`
}

// Message joins the non-empty step messages into the aggregate report.
func (r *JobResult) Message() string {
	var lines []string
	for _, s := range r.Steps {
		if s.Message != "" {
			lines = append(lines, s.Message)
		}
	}
	return strings.Join(lines, "\n")
}

// Step returns the named step, if it ran.
func (r *JobResult) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Failure returns the step that failed the job: the first fatal failed step,
// else the last failed step.
func (r *JobResult) Failure() (StepResult, bool) {
	var last StepResult
	found := false
	for _, s := range r.Steps {
		if s.Status != StepStatusFailed {
			continue
		}
		if s.Fatal {
			return s, true
		}
		last, found = s, true
	}
	return last, found
}

// Job is a journaled reduction job.
type Job struct {
	ID         string       `json:"id"`
	RunNumber  int          `json:"run_number"`
	IPTSNumber int          `json:"ipts_number"`
	EventFile  string       `json:"event_file"`
	Status     JobStatus    `json:"status"`
	Message    string       `json:"message,omitempty"`
	Steps      []StepResult `json:"steps,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
