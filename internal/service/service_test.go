package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"enrollassist-backend/internal/activation"
	"enrollassist-backend/internal/components/chrono"
	"enrollassist-backend/internal/components/telemetry"
	"enrollassist-backend/internal/scrapers/portal"
	"enrollassist-backend/internal/tasks"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/require"
)

type fakePortals struct {
	mutex      sync.Mutex
	resolveErr error
	resolves   int
	catalog    []portal.CourseRecord
	enroll     func(course portal.CourseRecord) (portal.Verdict, error)
	enrolled   []portal.CourseRecord
}

func (p *fakePortals) Sites() []portal.Site {
	return []portal.Site{{ID: "main", Name: "Main Campus"}}
}

func (p *fakePortals) Resolve(_ context.Context, site string, req portal.ResolveRequest) (portal.RequestParameters, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.resolves++
	if site != "main" {
		return portal.RequestParameters{}, fmt.Errorf("%w: %s", portal.ErrUnknownSite, site)
	}
	if p.resolveErr != nil {
		return portal.RequestParameters{}, p.resolveErr
	}
	return portal.RequestParameters{
		Site:     site,
		Category: req.Category,
		Tokens:   portal.TokenSet{"xkxnm": "2024", "xkxqm": "3"},
		PageSize: 10,
	}, nil
}

func (p *fakePortals) Fetch(context.Context, string, string, portal.RequestParameters) (portal.CatalogResult, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return portal.CatalogResult{Courses: p.catalog, Pages: 1}, nil
}

func (p *fakePortals) Enroll(_ context.Context, _, _ string, course portal.CourseRecord) (portal.Verdict, error) {
	p.mutex.Lock()
	p.enrolled = append(p.enrolled, course)
	enroll := p.enroll
	p.mutex.Unlock()
	if enroll == nil {
		return portal.Verdict{FlagOK: true, Confirmed: true}, nil
	}
	return enroll(course)
}

type fakeGate struct {
	mutex    sync.Mutex
	codes    map[string]int
	consumed []string
}

func (g *fakeGate) Admit(_ context.Context, code string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	remaining, ok := g.codes[code]
	if !ok {
		return activation.ErrUnknownCode
	}
	if remaining == 0 {
		return activation.ErrExhausted
	}
	return nil
}

func (g *fakeGate) Consume(_ context.Context, code string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.codes[code]--
	g.consumed = append(g.consumed, code)
	return nil
}

func (g *fakeGate) consumedCodes() []string {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]string(nil), g.consumed...)
}

type channelNotifier chan tasks.Task

func (n channelNotifier) Notify(_ context.Context, task tasks.Task) error {
	n <- task
	return nil
}

const adminToken = "admin-secret"

type fixture struct {
	service *Service
	client  *Client
	clock   *chrono.FakeClock
	portals *fakePortals
}

func setup(t *testing.T, portals *fakePortals, options Options) fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := chrono.NewFakeClock(time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC))
	if options.AdminToken == "" {
		options.AdminToken = adminToken
	}
	s, err := NewService(ctx, portals, clock, telemetry.NoopAPI{}, options)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle(NewHandler(s))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return fixture{
		service: s,
		client:  NewClient(server.Client(), server.URL),
		clock:   clock,
		portals: portals,
	}
}

func (f fixture) wait(t *testing.T, id string) tasks.Task {
	t.Helper()
	done, err := f.service.Manager().Done(id)
	require.NoError(t, err)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			task, err := f.service.Manager().Get(id)
			require.NoError(t, err)
			return task
		case <-deadline:
			t.Fatalf("task %s did not finish", id)
		case <-time.After(time.Millisecond):
			f.clock.Advance(DefaultDispatchInterval)
		}
	}
}

var course = portal.CourseRecord{CourseID: "K1", ClassID: "J1", DoID: "D1", Title: "高等数学"}

func TestDirectTaskRoundTrip(t *testing.T) {
	f := setup(t, &fakePortals{}, Options{})
	ctx := context.Background()

	sites, err := f.client.ListSites(ctx)
	require.NoError(t, err)
	require.Equal(t, []SiteInfo{{ID: "main", Name: "Main Campus"}}, sites.Sites)

	created, err := f.client.CreateTask(ctx, &CreateTaskRequest{
		Owner:      "20231234",
		Site:       "main",
		Credential: "JSESSIONID=abc",
		Courses:    []portal.CourseRecord{course},
	})
	require.NoError(t, err)
	require.True(t, created.Started)
	require.Equal(t, tasks.KindDirect, created.Task.Kind)

	task := f.wait(t, created.Task.ID)
	require.Equal(t, tasks.StatusCompleted, task.Status)

	// the course was enrolled with freshly resolved parameters
	f.portals.mutex.Lock()
	require.Len(t, f.portals.enrolled, 1)
	require.Equal(t, "2024", f.portals.enrolled[0].Params.Tokens.Get("xkxnm"))
	f.portals.mutex.Unlock()

	got, err := f.client.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, tasks.StatusCompleted, got.Task.Status)
	require.Empty(t, got.Task.Credential)

	owned, err := f.client.ListTasks(ctx, "20231234")
	require.NoError(t, err)
	require.Len(t, owned.Tasks, 1)

	none, err := f.client.ListTasks(ctx, "someone-else")
	require.NoError(t, err)
	require.Empty(t, none.Tasks)

	stats, err := f.client.TaskStats(ctx)
	require.NoError(t, err)
	require.Equal(t, tasks.Stats{Total: 1, Completed: 1}, stats.Stats)
	require.Equal(t, tasks.DefaultConcurrency, stats.Concurrency)
}

func TestListAllTasksRequiresAdmin(t *testing.T) {
	f := setup(t, &fakePortals{}, Options{})
	ctx := context.Background()

	_, err := f.client.ListAllTasks(ctx)
	require.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))

	_, err = f.client.WithAdminToken("wrong").ListAllTasks(ctx)
	require.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))

	res, err := f.client.WithAdminToken(adminToken).ListAllTasks(ctx)
	require.NoError(t, err)
	require.Empty(t, res.Tasks)
}

func TestErrorCodes(t *testing.T) {
	portals := &fakePortals{}
	f := setup(t, portals, Options{})
	ctx := context.Background()

	_, err := f.client.GetTask(ctx, "missing")
	require.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = f.client.CancelTask(ctx, "missing")
	require.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = f.client.ListTasks(ctx, "")
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = f.client.CreateTask(ctx, &CreateTaskRequest{Site: "main", Credential: "c", Courses: []portal.CourseRecord{course}})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	past := f.clock.Now().Add(-time.Hour)
	_, err = f.client.CreateTask(ctx, &CreateTaskRequest{
		Owner: "o", Site: "main", Credential: "c",
		Courses:     []portal.CourseRecord{course},
		ScheduledAt: &past,
	})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = f.client.CreateTask(ctx, &CreateTaskRequest{Owner: "o", Site: "elsewhere", Credential: "c", Keywords: []string{"数学"}})
	require.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	portals.mutex.Lock()
	portals.resolveErr = &portal.MissingParamsError{Keys: []string{"xkkz_id"}}
	portals.mutex.Unlock()
	_, err = f.client.CreateTask(ctx, &CreateTaskRequest{Owner: "o", Site: "main", Credential: "c", Keywords: []string{"数学"}})
	require.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
	require.Empty(t, f.service.Manager().List())
}

func TestKeywordTaskIsResolvedAtCreation(t *testing.T) {
	portals := &fakePortals{catalog: []portal.CourseRecord{
		{CourseID: "K9", ClassID: "J9", Title: "大学英语"},
		course,
	}}
	f := setup(t, portals, Options{})
	ctx := context.Background()

	created, err := f.client.CreateTask(ctx, &CreateTaskRequest{
		Owner:      "o",
		Site:       "main",
		Credential: "c",
		Category:   portal.CategoryParams{Code: "10"},
		Keywords:   []string{"数学"},
	})
	require.NoError(t, err)
	require.NotNil(t, created.Task.Params)
	require.Equal(t, "10", created.Task.Params.Category.Code)

	task := f.wait(t, created.Task.ID)
	require.Equal(t, tasks.StatusCompleted, task.Status)
	require.Equal(t, course.Key(), task.Target.Key())

	portals.mutex.Lock()
	require.Equal(t, 1, portals.resolves)
	portals.mutex.Unlock()
}

func TestActivationGate(t *testing.T) {
	gate := &fakeGate{codes: map[string]int{"good": 2, "spent": 0}}
	portals := &fakePortals{enroll: func(c portal.CourseRecord) (portal.Verdict, error) {
		if c.CourseID == "FULL" {
			return portal.Verdict{Message: "full"}, nil
		}
		return portal.Verdict{FlagOK: true, Confirmed: true}, nil
	}}
	f := setup(t, portals, Options{Gate: gate})
	ctx := context.Background()

	request := func(code string, c portal.CourseRecord) *CreateTaskRequest {
		one := 1
		return &CreateTaskRequest{
			Owner: "o", Site: "main", Credential: "c",
			ActivationCode: code,
			Courses:        []portal.CourseRecord{c},
			MaxAttempts:    &one,
		}
	}

	_, err := f.client.CreateTask(ctx, request("", course))
	require.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))
	_, err = f.client.CreateTask(ctx, request("unknown", course))
	require.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))
	_, err = f.client.CreateTask(ctx, request("spent", course))
	require.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))

	failed, err := f.client.CreateTask(ctx, request("good", portal.CourseRecord{CourseID: "FULL", ClassID: "J"}))
	require.NoError(t, err)
	require.Equal(t, tasks.StatusFailed, f.wait(t, failed.Task.ID).Status)
	require.Empty(t, gate.consumedCodes())

	created, err := f.client.CreateTask(ctx, request(" good ", course))
	require.NoError(t, err)
	require.Equal(t, tasks.StatusCompleted, f.wait(t, created.Task.ID).Status)
	require.Equal(t, []string{"good"}, gate.consumedCodes())
}

func TestDispatcherStartsDeferredTasks(t *testing.T) {
	release := make(chan struct{})
	portals := &fakePortals{enroll: func(c portal.CourseRecord) (portal.Verdict, error) {
		if c.CourseID == "SLOW" {
			<-release
		}
		return portal.Verdict{FlagOK: true, Confirmed: true}, nil
	}}
	f := setup(t, portals, Options{TaskOptions: []tasks.Option{tasks.WithConcurrency(1)}})
	ctx := context.Background()

	slow, err := f.client.CreateTask(ctx, &CreateTaskRequest{
		Owner: "o", Site: "main", Credential: "c",
		Courses: []portal.CourseRecord{{CourseID: "SLOW", ClassID: "J"}},
	})
	require.NoError(t, err)
	require.True(t, slow.Started)

	deferred, err := f.client.CreateTask(ctx, &CreateTaskRequest{
		Owner: "o", Site: "main", Credential: "c",
		Courses: []portal.CourseRecord{course},
	})
	require.NoError(t, err)
	require.False(t, deferred.Started)
	require.Equal(t, tasks.StatusPending, deferred.Task.Status)

	close(release)
	require.Equal(t, tasks.StatusCompleted, f.wait(t, slow.Task.ID).Status)
	require.Equal(t, tasks.StatusCompleted, f.wait(t, deferred.Task.ID).Status)
}

func TestNotifierReceivesFinishedTasks(t *testing.T) {
	notifications := make(channelNotifier, 1)
	f := setup(t, &fakePortals{}, Options{Notifier: notifications})
	ctx := context.Background()

	created, err := f.client.CreateTask(ctx, &CreateTaskRequest{
		Owner: "alice@example.edu", Site: "main", Credential: "c",
		Courses: []portal.CourseRecord{course},
	})
	require.NoError(t, err)

	select {
	case task := <-notifications:
		require.Equal(t, created.Task.ID, task.ID)
		require.Equal(t, tasks.StatusCompleted, task.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
}

func TestFetchCatalogRanks(t *testing.T) {
	portals := &fakePortals{catalog: []portal.CourseRecord{
		{CourseID: "K9", ClassID: "J9", Title: "大学英语"},
		course,
		{CourseID: "K2", ClassID: "J2", Title: "高等数学(下)"},
	}}
	f := setup(t, portals, Options{})
	ctx := context.Background()

	res, err := f.client.FetchCatalog(ctx, &FetchCatalogRequest{
		Site:       "main",
		Credential: "c",
		Keywords:   []string{"高等数学"},
	})
	require.NoError(t, err)
	require.Len(t, res.Courses, 3)
	require.Equal(t, 1, res.Pages)
	require.Len(t, res.Ranked, 2)
	require.Equal(t, course.Key(), res.Ranked[0].Course.Key())
	require.Equal(t, "2024", res.Params.Tokens.Get("xkxnm"))

	_, err = f.client.FetchCatalog(ctx, &FetchCatalogRequest{Site: "main"})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestToConnectError(t *testing.T) {
	table := []struct {
		err  error
		code connect.Code
	}{
		{err: tasks.ErrNotFound, code: connect.CodeNotFound},
		{err: fmt.Errorf("wrap: %w", portal.ErrUnknownSite), code: connect.CodeNotFound},
		{err: tasks.ErrInvalidSchedule, code: connect.CodeInvalidArgument},
		{err: tasks.ErrNotPending, code: connect.CodeFailedPrecondition},
		{err: portal.ErrSessionExpired, code: connect.CodeFailedPrecondition},
		{err: portal.ErrUnrecognizedPage, code: connect.CodeFailedPrecondition},
		{err: activation.ErrExhausted, code: connect.CodePermissionDenied},
		{err: errors.New("boom"), code: connect.CodeInternal},
	}
	for _, row := range table {
		require.Equal(t, row.code, connect.CodeOf(toConnectError(row.err)), row.err.Error())
	}
}
