package tasks

import (
	"errors"
	"time"

	"enrollassist-backend/internal/scrapers/portal"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrNotPending      = errors.New("task is not pending")
	ErrInvalidSchedule = errors.New("scheduled time must be in the future and at most 24 hours ahead")
	ErrInvalidTask     = errors.New("invalid task")
)

// MaxScheduleAhead is how far in the future a task may be scheduled.
const MaxScheduleAhead = 24 * time.Hour

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal is true for statuses a task never leaves.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Kind string

const (
	// KindDirect tasks enroll into the listed courses.
	KindDirect Kind = "direct"
	// KindKeyword tasks search the catalog for the best match of their keywords first.
	KindKeyword Kind = "keyword"
)

// Result is recorded when a task completes.
type Result struct {
	Confirmed []portal.CourseRecord `json:"confirmed"`
	Verdict   portal.Verdict        `json:"verdict"`
}

// Task is a snapshot of a registry entry, the manager never hands out the
// instance it mutates.
type Task struct {
	ID       string                `json:"id"`
	Owner    string                `json:"owner"`
	Site     string                `json:"site"`
	Category portal.CategoryParams `json:"category"`
	Kind     Kind                  `json:"kind"`
	Courses  []portal.CourseRecord `json:"courses"`
	Keywords []string              `json:"keywords,omitempty"`
	// Credential is forwarded verbatim and never serialized.
	Credential string `json:"-"`

	Status     Status     `json:"status"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Attempts    int           `json:"attempts"`
	MaxAttempts *int          `json:"max_attempts,omitempty"`
	Interval    time.Duration `json:"interval"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`

	// Params are the parameters of keyword tasks, resolved once.
	Params    *portal.RequestParameters `json:"params,omitempty"`
	Target    *portal.CourseRecord      `json:"target,omitempty"`
	Confirmed []string                  `json:"confirmed,omitempty"`
	Result    *Result                   `json:"result,omitempty"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (t Task) clone() Task {
	out := t
	out.Courses = append([]portal.CourseRecord(nil), t.Courses...)
	out.Keywords = append([]string(nil), t.Keywords...)
	out.Confirmed = append([]string(nil), t.Confirmed...)
	out.StartedAt = clonePtr(t.StartedAt)
	out.FinishedAt = clonePtr(t.FinishedAt)
	out.MaxAttempts = clonePtr(t.MaxAttempts)
	out.ScheduledAt = clonePtr(t.ScheduledAt)
	out.Target = clonePtr(t.Target)
	if t.Params != nil {
		params := *t.Params
		params.Tokens = t.Params.Tokens.Clone()
		out.Params = &params
	}
	if t.Result != nil {
		result := *t.Result
		result.Confirmed = append([]portal.CourseRecord(nil), t.Result.Confirmed...)
		out.Result = &result
	}
	return out
}

// TaskSpec is what a caller supplies to create a task. Exactly one of
// Courses and Keywords must be non-empty.
type TaskSpec struct {
	Owner       string
	Site        string
	Category    portal.CategoryParams
	Courses     []portal.CourseRecord
	Keywords    []string
	Credential  string
	MaxAttempts *int
	// Interval overrides the manager's default delay between attempts.
	Interval    time.Duration
	ScheduledAt *time.Time
	// Params lets keyword tasks skip resolution on their first run.
	Params *portal.RequestParameters
}

// Stats counts tasks per status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
