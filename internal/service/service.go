package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"enrollassist-backend/internal/components/assert"
	"enrollassist-backend/internal/components/chrono"
	"enrollassist-backend/internal/components/telemetry"
	"enrollassist-backend/internal/match"
	"enrollassist-backend/internal/notify"
	"enrollassist-backend/internal/scrapers/portal"
	"enrollassist-backend/internal/serviceutil"
	"enrollassist-backend/internal/tasks"

	"connectrpc.com/connect"
)

const (
	report_service_create_task = "service.create-task"
	report_service_activation  = "service.activation"
	report_service_notify      = "service.notify"
	report_service_stats       = "service.stats"
)

const (
	DefaultDispatchInterval = 500 * time.Millisecond
	DefaultStatsSpec        = "@every 1m"
)

// Portals is every configured site.
type Portals interface {
	tasks.Backend
	Sites() []portal.Site
}

// Gate decides which activation codes may create tasks.
type Gate interface {
	Admit(ctx context.Context, code string) error
	Consume(ctx context.Context, code string) error
}

type Options struct {
	// AdminToken protects ListAllTasks, an empty token rejects every caller.
	AdminToken string
	// Gate is optional, without it no activation code is required.
	Gate     Gate
	Notifier notify.Notifier
	// Cron runs the periodic stats job when set.
	Cron             chrono.CronAPI
	StatsSpec        string
	DispatchInterval time.Duration
	TaskOptions      []tasks.Option
}

// Service is the enrollment service. It owns the task manager and the
// dispatcher that starts tasks deferred at capacity.
type Service struct {
	ctx      context.Context
	portals  Portals
	manager  *tasks.Manager
	clock    chrono.Clock
	tel      telemetry.API
	gate     Gate
	notifier notify.Notifier

	adminToken       string
	dispatchInterval time.Duration

	mutex sync.Mutex
	// codes maps a task id to the activation code that admitted it.
	codes map[string]string
}

func NewService(ctx context.Context, portals Portals, clock chrono.Clock, tel telemetry.API, options Options) (*Service, error) {
	assert.NotNil(ctx)
	assert.NotNil(portals)
	assert.NotNil(clock)
	assert.NotNil(tel)

	s := &Service{
		ctx:              ctx,
		portals:          portals,
		clock:            clock,
		tel:              telemetry.NewScopedAPI("service", tel),
		gate:             options.Gate,
		notifier:         options.Notifier,
		adminToken:       options.AdminToken,
		dispatchInterval: options.DispatchInterval,
		codes:            map[string]string{},
	}
	if s.notifier == nil {
		s.notifier = notify.Noop{}
	}
	if s.dispatchInterval <= 0 {
		s.dispatchInterval = DefaultDispatchInterval
	}

	taskOptions := append([]tasks.Option{}, options.TaskOptions...)
	taskOptions = append(taskOptions, tasks.WithOnFinish(s.onFinish))
	s.manager = tasks.NewManager(ctx, portals, clock, tel, taskOptions...)

	if options.Cron != nil {
		spec := options.StatsSpec
		if spec == "" {
			spec = DefaultStatsSpec
		}
		err := options.Cron.Cron(spec, s.reportStats)
		if err != nil {
			return nil, fmt.Errorf("schedule stats job: %w", err)
		}
	}

	go s.dispatchDaemon(ctx)
	return s, nil
}

func (s *Service) Manager() *tasks.Manager {
	return s.manager
}

func (s *Service) onFinish(task tasks.Task) {
	s.mutex.Lock()
	code, ok := s.codes[task.ID]
	delete(s.codes, task.ID)
	s.mutex.Unlock()

	if ok && task.Status == tasks.StatusCompleted && s.gate != nil {
		err := s.gate.Consume(s.ctx, code)
		if err != nil {
			s.tel.ReportWarning(report_service_activation, err, task.ID)
		}
	}

	go func() {
		err := s.notifier.Notify(s.ctx, task)
		if err != nil {
			s.tel.ReportWarning(report_service_notify, err, task.ID)
		}
	}()
}

func (s *Service) reportStats() {
	stats := s.manager.Stats()
	s.tel.ReportCount(report_service_stats, int64(stats.Running))
	s.tel.ReportDebug(
		"task stats",
		stats.Total, stats.Pending, stats.Running,
		stats.Completed, stats.Failed, stats.Cancelled,
	)
}

func needsParams(courses []portal.CourseRecord) bool {
	for _, c := range courses {
		if len(c.Params.Tokens) == 0 {
			return true
		}
	}
	return false
}

func (s *Service) CreateTask(ctx context.Context, req *connect.Request[CreateTaskRequest]) (*connect.Response[CreateTaskResponse], error) {
	msg := req.Msg
	code := strings.TrimSpace(msg.ActivationCode)
	if s.gate != nil {
		err := s.gate.Admit(ctx, code)
		if err != nil {
			return nil, toConnectError(err)
		}
	}

	spec := tasks.TaskSpec{
		Owner:       strings.TrimSpace(msg.Owner),
		Site:        msg.Site,
		Category:    msg.Category,
		Courses:     append([]portal.CourseRecord(nil), msg.Courses...),
		Keywords:    msg.Keywords,
		Credential:  msg.Credential,
		MaxAttempts: msg.MaxAttempts,
		ScheduledAt: msg.ScheduledAt,
	}
	if msg.IntervalMs > 0 {
		spec.Interval = time.Duration(msg.IntervalMs) * time.Millisecond
	}

	// parameters are discovered up front so a bad session is reported to the
	// caller instead of failing the task later
	canResolve := spec.Site != "" && spec.Credential != ""
	if canResolve && (len(spec.Keywords) > 0 || needsParams(spec.Courses)) {
		params, err := s.portals.Resolve(ctx, spec.Site, portal.ResolveRequest{
			Credential: spec.Credential,
			Category:   spec.Category,
		})
		if err != nil {
			s.tel.ReportWarning(report_service_create_task, err, spec.Owner, spec.Site)
			return nil, toConnectError(err)
		}
		if len(spec.Keywords) > 0 {
			spec.Params = &params
		}
		for i := range spec.Courses {
			if len(spec.Courses[i].Params.Tokens) == 0 {
				spec.Courses[i].Params = params
			}
		}
	}

	task, err := s.manager.Create(spec)
	if err != nil {
		return nil, toConnectError(err)
	}
	if s.gate != nil {
		s.mutex.Lock()
		s.codes[task.ID] = code
		s.mutex.Unlock()
	}

	started := false
	if task.ScheduledAt == nil {
		started, err = s.manager.Start(task.ID)
		if err != nil && !errors.Is(err, tasks.ErrNotPending) {
			return nil, toConnectError(err)
		}
	}
	current, err := s.manager.Get(task.ID)
	if err == nil {
		task = current
	}

	return connect.NewResponse(&CreateTaskResponse{Task: task, Started: started}), nil
}

func (s *Service) GetTask(ctx context.Context, req *connect.Request[GetTaskRequest]) (*connect.Response[GetTaskResponse], error) {
	task, err := s.manager.Get(req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetTaskResponse{Task: task}), nil
}

func (s *Service) ListTasks(ctx context.Context, req *connect.Request[ListTasksRequest]) (*connect.Response[ListTasksResponse], error) {
	owner := strings.TrimSpace(req.Msg.Owner)
	if owner == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("owner is required"))
	}
	return connect.NewResponse(&ListTasksResponse{Tasks: s.manager.ListByOwner(owner)}), nil
}

func (s *Service) ListAllTasks(ctx context.Context, req *connect.Request[ListAllTasksRequest]) (*connect.Response[ListTasksResponse], error) {
	if !serviceutil.TokenMatches(serviceutil.BearerToken(req.Header()), s.adminToken) {
		return nil, connect.NewError(connect.CodePermissionDenied, fmt.Errorf("admin token required"))
	}
	return connect.NewResponse(&ListTasksResponse{Tasks: s.manager.List()}), nil
}

func (s *Service) CancelTask(ctx context.Context, req *connect.Request[CancelTaskRequest]) (*connect.Response[CancelTaskResponse], error) {
	err := s.manager.Cancel(req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	task, err := s.manager.Get(req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CancelTaskResponse{Task: task}), nil
}

func (s *Service) TaskStats(ctx context.Context, req *connect.Request[TaskStatsRequest]) (*connect.Response[TaskStatsResponse], error) {
	return connect.NewResponse(&TaskStatsResponse{
		Stats:       s.manager.Stats(),
		Concurrency: s.manager.Concurrency(),
	}), nil
}

func (s *Service) FetchCatalog(ctx context.Context, req *connect.Request[FetchCatalogRequest]) (*connect.Response[FetchCatalogResponse], error) {
	msg := req.Msg
	if msg.Credential == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("credential is required"))
	}

	params, err := s.portals.Resolve(ctx, msg.Site, portal.ResolveRequest{
		Credential: msg.Credential,
		Category:   msg.Category,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	result, err := s.portals.Fetch(ctx, msg.Site, msg.Credential, params)
	if err != nil {
		return nil, toConnectError(err)
	}

	res := &FetchCatalogResponse{
		Params:  params,
		Courses: result.Courses,
		Pages:   result.Pages,
	}
	if result.Err != nil {
		res.Warning = result.Err.Error()
	}
	if len(msg.Keywords) > 0 {
		threshold := match.Threshold
		if msg.Threshold != nil {
			threshold = *msg.Threshold
		}
		res.Ranked = match.Rank(result.Courses, msg.Keywords, threshold)
	}
	return connect.NewResponse(res), nil
}

func (s *Service) ListSites(ctx context.Context, req *connect.Request[ListSitesRequest]) (*connect.Response[ListSitesResponse], error) {
	sites := s.portals.Sites()
	res := &ListSitesResponse{Sites: make([]SiteInfo, len(sites))}
	for i, site := range sites {
		res.Sites[i] = SiteInfo{ID: site.ID, Name: site.Name}
	}
	return connect.NewResponse(res), nil
}
