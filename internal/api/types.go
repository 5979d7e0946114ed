package api

import (
	"time"

	"taskvault/internal/domain"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ScheduleTaskRequest struct {
	TaskType     string `json:"task_type"`
	RunDate      string `json:"run_date"` // RFC3339
	Title        string `json:"title,omitempty"`
	NotifyTarget string `json:"notify_target,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
}

type TaskResponse struct {
	ID           string `json:"id"`
	TaskType     string `json:"task_type"`
	RunDate      string `json:"run_date"`
	Status       string `json:"status"`
	Title        string `json:"title"`
	NotifyTarget string `json:"notify_target,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type ListTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

type HistoryEntryResponse struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	TaskType   string `json:"task_type"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
	ExecutedAt string `json:"executed_at"`
}

type HistoryResponse struct {
	History []HistoryEntryResponse `json:"history"`
}

type UploadResponse struct {
	ResourceID string `json:"resource_id"`
	Filename   string `json:"filename"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func taskResponseFrom(job domain.Job) TaskResponse {
	resp := TaskResponse{
		ID:           job.ID.String(),
		TaskType:     string(job.Type),
		RunDate:      formatTime(job.DueTime),
		Status:       string(job.Status),
		Title:        job.Title,
		NotifyTarget: job.NotifyTarget,
		CreatedAt:    formatTime(job.CreatedAt),
	}
	if job.ResourceID != nil {
		resp.ResourceID = job.ResourceID.String()
	}
	return resp
}

func historyResponseFrom(entry domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:         entry.ID.String(),
		TaskID:     entry.JobID.String(),
		TaskType:   string(entry.JobType),
		Status:     string(entry.Status),
		Detail:     entry.Detail,
		ExecutedAt: formatTime(entry.ExecutedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
