package service

import (
	"time"

	"enrollassist-backend/internal/match"
	"enrollassist-backend/internal/scrapers/portal"
	"enrollassist-backend/internal/tasks"
)

type CreateTaskRequest struct {
	Owner          string                `json:"owner"`
	Site           string                `json:"site"`
	Credential     string                `json:"credential"`
	ActivationCode string                `json:"activation_code"`
	Category       portal.CategoryParams `json:"category"`
	Courses        []portal.CourseRecord `json:"courses"`
	Keywords       []string              `json:"keywords"`
	MaxAttempts    *int                  `json:"max_attempts,omitempty"`
	// IntervalMs overrides the delay between enrollment attempts.
	IntervalMs  int        `json:"interval_ms,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

type CreateTaskResponse struct {
	Task tasks.Task `json:"task"`
	// Started is false when the task is scheduled or is waiting for a free slot.
	Started bool `json:"started"`
}

type GetTaskRequest struct {
	ID string `json:"id"`
}

type GetTaskResponse struct {
	Task tasks.Task `json:"task"`
}

type ListTasksRequest struct {
	Owner string `json:"owner"`
}

type ListTasksResponse struct {
	Tasks []tasks.Task `json:"tasks"`
}

type ListAllTasksRequest struct{}

type CancelTaskRequest struct {
	ID string `json:"id"`
}

type CancelTaskResponse struct {
	Task tasks.Task `json:"task"`
}

type TaskStatsRequest struct{}

type TaskStatsResponse struct {
	Stats       tasks.Stats `json:"stats"`
	Concurrency int         `json:"concurrency"`
}

type FetchCatalogRequest struct {
	Site       string                `json:"site"`
	Credential string                `json:"credential"`
	Category   portal.CategoryParams `json:"category"`
	// Keywords, when present, ranks the catalog with the matcher.
	Keywords  []string `json:"keywords,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type FetchCatalogResponse struct {
	Params  portal.RequestParameters `json:"params"`
	Courses []portal.CourseRecord    `json:"courses"`
	Ranked  []match.Result           `json:"ranked,omitempty"`
	Pages   int                      `json:"pages"`
	// Warning describes a partial failure, Courses is then incomplete.
	Warning string `json:"warning,omitempty"`
}

type ListSitesRequest struct{}

type SiteInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ListSitesResponse struct {
	Sites []SiteInfo `json:"sites"`
}
