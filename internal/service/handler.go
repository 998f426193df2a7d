package service

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

const ServiceName = "enrollassist.v1.EnrollService"

const (
	ProcedureCreateTask   = "/" + ServiceName + "/CreateTask"
	ProcedureGetTask      = "/" + ServiceName + "/GetTask"
	ProcedureListTasks    = "/" + ServiceName + "/ListTasks"
	ProcedureListAllTasks = "/" + ServiceName + "/ListAllTasks"
	ProcedureCancelTask   = "/" + ServiceName + "/CancelTask"
	ProcedureTaskStats    = "/" + ServiceName + "/TaskStats"
	ProcedureFetchCatalog = "/" + ServiceName + "/FetchCatalog"
	ProcedureListSites    = "/" + ServiceName + "/ListSites"
)

// NewHandler returns the path prefix and handler serving every procedure.
func NewHandler(s *Service, options ...connect.HandlerOption) (string, http.Handler) {
	options = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, options...)

	mux := http.NewServeMux()
	mux.Handle(ProcedureCreateTask, connect.NewUnaryHandler(ProcedureCreateTask, s.CreateTask, options...))
	mux.Handle(ProcedureGetTask, connect.NewUnaryHandler(ProcedureGetTask, s.GetTask, options...))
	mux.Handle(ProcedureListTasks, connect.NewUnaryHandler(ProcedureListTasks, s.ListTasks, options...))
	mux.Handle(ProcedureListAllTasks, connect.NewUnaryHandler(ProcedureListAllTasks, s.ListAllTasks, options...))
	mux.Handle(ProcedureCancelTask, connect.NewUnaryHandler(ProcedureCancelTask, s.CancelTask, options...))
	mux.Handle(ProcedureTaskStats, connect.NewUnaryHandler(ProcedureTaskStats, s.TaskStats, options...))
	mux.Handle(ProcedureFetchCatalog, connect.NewUnaryHandler(ProcedureFetchCatalog, s.FetchCatalog, options...))
	mux.Handle(ProcedureListSites, connect.NewUnaryHandler(ProcedureListSites, s.ListSites, options...))

	return "/" + ServiceName + "/", mux
}

// Client calls the service over connect with the json codec.
type Client struct {
	createTask   *connect.Client[CreateTaskRequest, CreateTaskResponse]
	getTask      *connect.Client[GetTaskRequest, GetTaskResponse]
	listTasks    *connect.Client[ListTasksRequest, ListTasksResponse]
	listAllTasks *connect.Client[ListAllTasksRequest, ListTasksResponse]
	cancelTask   *connect.Client[CancelTaskRequest, CancelTaskResponse]
	taskStats    *connect.Client[TaskStatsRequest, TaskStatsResponse]
	fetchCatalog *connect.Client[FetchCatalogRequest, FetchCatalogResponse]
	listSites    *connect.Client[ListSitesRequest, ListSitesResponse]

	adminToken string
}

func NewClient(httpClient connect.HTTPClient, baseURL string, options ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	options = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, options...)
	return &Client{
		createTask:   connect.NewClient[CreateTaskRequest, CreateTaskResponse](httpClient, baseURL+ProcedureCreateTask, options...),
		getTask:      connect.NewClient[GetTaskRequest, GetTaskResponse](httpClient, baseURL+ProcedureGetTask, options...),
		listTasks:    connect.NewClient[ListTasksRequest, ListTasksResponse](httpClient, baseURL+ProcedureListTasks, options...),
		listAllTasks: connect.NewClient[ListAllTasksRequest, ListTasksResponse](httpClient, baseURL+ProcedureListAllTasks, options...),
		cancelTask:   connect.NewClient[CancelTaskRequest, CancelTaskResponse](httpClient, baseURL+ProcedureCancelTask, options...),
		taskStats:    connect.NewClient[TaskStatsRequest, TaskStatsResponse](httpClient, baseURL+ProcedureTaskStats, options...),
		fetchCatalog: connect.NewClient[FetchCatalogRequest, FetchCatalogResponse](httpClient, baseURL+ProcedureFetchCatalog, options...),
		listSites:    connect.NewClient[ListSitesRequest, ListSitesResponse](httpClient, baseURL+ProcedureListSites, options...),
	}
}

// WithAdminToken returns a copy of the client that authenticates privileged calls.
func (c *Client) WithAdminToken(token string) *Client {
	copied := *c
	copied.adminToken = token
	return &copied
}

func (c *Client) CreateTask(ctx context.Context, req *CreateTaskRequest) (*CreateTaskResponse, error) {
	res, err := c.createTask.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*GetTaskResponse, error) {
	res, err := c.getTask.CallUnary(ctx, connect.NewRequest(&GetTaskRequest{ID: id}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) ListTasks(ctx context.Context, owner string) (*ListTasksResponse, error) {
	res, err := c.listTasks.CallUnary(ctx, connect.NewRequest(&ListTasksRequest{Owner: owner}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) ListAllTasks(ctx context.Context) (*ListTasksResponse, error) {
	req := connect.NewRequest(&ListAllTasksRequest{})
	if c.adminToken != "" {
		req.Header().Set("Authorization", "Bearer "+c.adminToken)
	}
	res, err := c.listAllTasks.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) CancelTask(ctx context.Context, id string) (*CancelTaskResponse, error) {
	res, err := c.cancelTask.CallUnary(ctx, connect.NewRequest(&CancelTaskRequest{ID: id}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) TaskStats(ctx context.Context) (*TaskStatsResponse, error) {
	res, err := c.taskStats.CallUnary(ctx, connect.NewRequest(&TaskStatsRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) FetchCatalog(ctx context.Context, req *FetchCatalogRequest) (*FetchCatalogResponse, error) {
	res, err := c.fetchCatalog.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) ListSites(ctx context.Context) (*ListSitesResponse, error) {
	res, err := c.listSites.CallUnary(ctx, connect.NewRequest(&ListSitesRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
