package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"enrollassist-backend/internal/components/assert"
	"enrollassist-backend/internal/components/chrono"
	"enrollassist-backend/internal/components/telemetry"
	"enrollassist-backend/internal/scrapers/portal"

	"github.com/google/uuid"
)

const (
	report_manager_running = "manager.running"
	report_manager_resolve = "manager.resolve"
	report_manager_finish  = "manager.finish"
)

const (
	DefaultConcurrency     = 10
	DefaultInterval        = time.Second
	DefaultCatalogInterval = 10 * time.Second
	DefaultCatalogFailures = 5
)

// Backend is the portal as seen by the run loops.
type Backend interface {
	Resolve(ctx context.Context, site string, req portal.ResolveRequest) (portal.RequestParameters, error)
	Fetch(ctx context.Context, site, credential string, params portal.RequestParameters) (portal.CatalogResult, error)
	Enroll(ctx context.Context, site, credential string, course portal.CourseRecord) (portal.Verdict, error)
}

type entry struct {
	task  Task
	timer chrono.Timer
	done  chan struct{}
}

// Manager owns every task. All state lives behind one mutex and is only
// changed through the transition methods below, each of which refuses to
// touch a task that is already terminal.
type Manager struct {
	ctx     context.Context
	backend Backend
	clock   chrono.Clock
	tel     telemetry.API

	concurrency     int
	interval        time.Duration
	catalogInterval time.Duration
	catalogFailures int
	onFinish        func(Task)

	mutex   sync.Mutex
	entries map[string]*entry
	running int
}

type Option func(m *Manager)

// WithConcurrency sets the number of tasks that may run at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithInterval sets the default delay between enrollment attempts.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithCatalogRetry sets the delay between catalog fetches of keyword tasks
// and how many consecutive full failures fail the task.
func WithCatalogRetry(interval time.Duration, failures int) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.catalogInterval = interval
		}
		if failures > 0 {
			m.catalogFailures = failures
		}
	}
}

// WithOnFinish registers a callback invoked once for every task that reaches
// a terminal status.
func WithOnFinish(fn func(Task)) Option {
	return func(m *Manager) {
		m.onFinish = fn
	}
}

// NewManager creates a manager whose portal calls run on ctx. Cancelling a
// task never cancels ctx, in-flight calls run to completion.
func NewManager(ctx context.Context, backend Backend, clock chrono.Clock, tel telemetry.API, options ...Option) *Manager {
	assert.NotNil(ctx)
	assert.NotNil(backend)
	assert.NotNil(clock)
	assert.NotNil(tel)

	m := &Manager{
		ctx:             ctx,
		backend:         backend,
		clock:           clock,
		tel:             telemetry.NewScopedAPI("tasks", tel),
		concurrency:     DefaultConcurrency,
		interval:        DefaultInterval,
		catalogInterval: DefaultCatalogInterval,
		catalogFailures: DefaultCatalogFailures,
		entries:         map[string]*entry{},
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *Manager) Concurrency() int {
	return m.concurrency
}

func validate(spec TaskSpec) (Kind, error) {
	if spec.Owner == "" {
		return "", fmt.Errorf("%w: owner is required", ErrInvalidTask)
	}
	if spec.Site == "" {
		return "", fmt.Errorf("%w: site is required", ErrInvalidTask)
	}
	if spec.Credential == "" {
		return "", fmt.Errorf("%w: credential is required", ErrInvalidTask)
	}
	if spec.MaxAttempts != nil && *spec.MaxAttempts <= 0 {
		return "", fmt.Errorf("%w: max attempts must be positive", ErrInvalidTask)
	}
	switch {
	case len(spec.Courses) > 0 && len(spec.Keywords) > 0:
		return "", fmt.Errorf("%w: either courses or keywords, not both", ErrInvalidTask)
	case len(spec.Courses) > 0:
		for _, c := range spec.Courses {
			if c.CourseID == "" || c.ClassID == "" {
				return "", fmt.Errorf("%w: course %q lacks a course or class id", ErrInvalidTask, c.Title)
			}
		}
		return KindDirect, nil
	case len(spec.Keywords) > 0:
		return KindKeyword, nil
	}
	return "", fmt.Errorf("%w: courses or keywords are required", ErrInvalidTask)
}

// Create registers a pending task. A scheduled task arms a timer that starts
// it once its time comes.
func (m *Manager) Create(spec TaskSpec) (Task, error) {
	kind, err := validate(spec)
	if err != nil {
		return Task{}, err
	}

	now := m.clock.Now()
	var delay time.Duration
	if spec.ScheduledAt != nil {
		delay = spec.ScheduledAt.Sub(now)
		if delay <= 0 || delay > MaxScheduleAhead {
			return Task{}, ErrInvalidSchedule
		}
	}

	interval := spec.Interval
	if interval <= 0 {
		interval = m.interval
	}

	task := Task{
		ID:          uuid.NewString(),
		Owner:       spec.Owner,
		Site:        spec.Site,
		Category:    spec.Category,
		Kind:        kind,
		Courses:     spec.Courses,
		Keywords:    spec.Keywords,
		Credential:  spec.Credential,
		Status:      StatusPending,
		Message:     "waiting to start",
		CreatedAt:   now,
		MaxAttempts: spec.MaxAttempts,
		Interval:    interval,
		ScheduledAt: spec.ScheduledAt,
		Params:      spec.Params,
	}
	if spec.ScheduledAt != nil {
		task.Message = fmt.Sprintf("scheduled for %s", spec.ScheduledAt.Format(time.RFC3339))
	}
	task = task.clone()

	e := &entry{task: task, done: make(chan struct{})}
	m.mutex.Lock()
	m.entries[task.ID] = e
	m.mutex.Unlock()

	if spec.ScheduledAt != nil {
		id := task.ID
		timer := m.clock.AfterFunc(delay, func() {
			_, err := m.Start(id)
			if err != nil {
				m.tel.ReportDebug("scheduled start skipped", id, err)
			}
		})
		m.mutex.Lock()
		if e.task.Status == StatusPending {
			e.timer = timer
		} else {
			timer.Stop()
		}
		m.mutex.Unlock()
	}

	return task.clone(), nil
}

// Start moves a pending task to running. It returns false without an error
// when the concurrency cap is reached or the task is scheduled for later, the
// caller is expected to try again.
func (m *Manager) Start(id string) (bool, error) {
	m.mutex.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mutex.Unlock()
		return false, ErrNotFound
	}
	if e.task.Status != StatusPending {
		m.mutex.Unlock()
		return false, fmt.Errorf("%w: %s is %s", ErrNotPending, id, e.task.Status)
	}
	now := m.clock.Now()
	if e.task.ScheduledAt != nil && now.Before(*e.task.ScheduledAt) {
		m.mutex.Unlock()
		return false, nil
	}
	if m.running >= m.concurrency {
		m.mutex.Unlock()
		m.tel.ReportDebug("start deferred, at capacity", id, m.concurrency)
		return false, nil
	}

	m.running++
	running := m.running
	e.task.Status = StatusRunning
	e.task.StartedAt = &now
	e.task.Message = "running"
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	snapshot := e.task.clone()
	m.mutex.Unlock()

	m.tel.ReportCount(report_manager_running, int64(running))
	go m.run(snapshot, e.done)
	return true, nil
}

// Cancel cancels a pending or running task. Cancelling a terminal task is a
// no-op.
func (m *Manager) Cancel(id string) error {
	task, changed, err := m.finish(id, StatusCancelled, "cancelled", nil)
	if err != nil {
		return err
	}
	if changed {
		m.finished(task)
	}
	return nil
}

func (m *Manager) Get(id string) (Task, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return e.task.clone(), nil
}

// Done returns a channel that is closed once the task is terminal.
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.done, nil
}

func (m *Manager) collect(keep func(Task) bool) []Task {
	m.mutex.Lock()
	out := []Task{}
	for _, e := range m.entries {
		if keep(e.task) {
			out = append(out, e.task.clone())
		}
	}
	m.mutex.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListByOwner returns the tasks of owner, oldest first.
func (m *Manager) ListByOwner(owner string) []Task {
	return m.collect(func(t Task) bool { return t.Owner == owner })
}

// List returns every task, oldest first.
func (m *Manager) List() []Task {
	return m.collect(func(Task) bool { return true })
}

// Due returns the ids of pending tasks that may be started at now, oldest first.
func (m *Manager) Due(now time.Time) []string {
	due := m.collect(func(t Task) bool {
		return t.Status == StatusPending && (t.ScheduledAt == nil || !now.Before(*t.ScheduledAt))
	})
	ids := make([]string, len(due))
	for i, t := range due {
		ids[i] = t.ID
	}
	return ids
}

func (m *Manager) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var stats Stats
	for _, e := range m.entries {
		stats.Total++
		switch e.task.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// update applies fn to a task that is not terminal, it reports whether fn ran.
func (m *Manager) update(id string, fn func(t *Task)) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.entries[id]
	if !ok || e.task.Status.IsTerminal() {
		return false
	}
	fn(&e.task)
	return true
}

// recordAttempt counts one completed attempt. It returns the new attempt
// count, and false if the task went terminal in the meantime.
func (m *Manager) recordAttempt(id, message string) (int, bool) {
	attempts := 0
	ok := m.update(id, func(t *Task) {
		t.Attempts++
		t.Message = message
		attempts = t.Attempts
	})
	return attempts, ok
}

func (m *Manager) setMessage(id, message string) bool {
	return m.update(id, func(t *Task) {
		t.Message = message
	})
}

func (m *Manager) setParams(id string, params portal.RequestParameters) bool {
	return m.update(id, func(t *Task) {
		t.Params = &params
	})
}

func (m *Manager) setTarget(id string, target portal.CourseRecord) bool {
	return m.update(id, func(t *Task) {
		t.Target = &target
		t.Courses = []portal.CourseRecord{target}
	})
}

func (m *Manager) setConfirmed(id string, keys []string) bool {
	return m.update(id, func(t *Task) {
		t.Confirmed = append([]string(nil), keys...)
	})
}

// finish moves a task into a terminal status, releasing its slot and timer.
// changed is false when the task was already terminal.
func (m *Manager) finish(id string, status Status, message string, result *Result) (Task, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Task{}, false, ErrNotFound
	}
	if e.task.Status.IsTerminal() {
		return e.task.clone(), false, nil
	}

	if e.task.Status == StatusRunning {
		m.running--
	}
	now := m.clock.Now()
	e.task.Status = status
	e.task.Message = message
	e.task.FinishedAt = &now
	e.task.Result = result
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	close(e.done)
	return e.task.clone(), true, nil
}

func (m *Manager) finished(task Task) {
	m.mutex.Lock()
	running := m.running
	m.mutex.Unlock()

	m.tel.ReportCount(report_manager_running, int64(running))
	if task.Status == StatusFailed {
		m.tel.ReportWarning(report_manager_finish, fmt.Errorf("task failed: %s", task.Message), task.ID)
	} else {
		m.tel.ReportDebug("task finished", task.ID, task.Status, task.Attempts)
	}
	if m.onFinish != nil {
		m.onFinish(task)
	}
}

// complete and fail are the run loop's ways of finishing a task.
func (m *Manager) complete(id, message string, result *Result) {
	task, changed, err := m.finish(id, StatusCompleted, message, result)
	if err == nil && changed {
		m.finished(task)
	}
}

func (m *Manager) fail(id, message string) {
	task, changed, err := m.finish(id, StatusFailed, message, nil)
	if err == nil && changed {
		m.finished(task)
	}
}
