// Package api is the HTTP surface: auth, task scheduling, and uploads.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskvault/internal/auth"
	"taskvault/internal/domain"
	"taskvault/internal/filestore"
	"taskvault/internal/scheduling"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// maxRequestBodySize is the maximum allowed JSON request body size (1MB).
// File uploads have their own limit in the file store.
const maxRequestBodySize = 1 << 20

// Scheduler is the scheduling surface the handler exposes over HTTP.
type Scheduler interface {
	Schedule(ctx context.Context, ownerID uuid.UUID, req scheduling.ScheduleRequest) (domain.Job, error)
	List(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Job, error)
	Cancel(ctx context.Context, ownerID, jobID uuid.UUID) error
	Delete(ctx context.Context, ownerID, jobID uuid.UUID) error
	History(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.HistoryEntry, error)
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
}

// Uploader stores uploaded files and hands back resource ids.
type Uploader interface {
	Store(ownerID uuid.UUID, filename string, r io.Reader) (uuid.UUID, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// MetricsSink records per-request metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RequestCompleted(method, route string, status int, duration time.Duration)
}

type Handler struct {
	scheduler Scheduler
	users     UserStore
	uploads   Uploader
	jwt       *auth.JWT
	db        HealthChecker
	log       zerolog.Logger
	metrics   MetricsSink // optional, nil = disabled
	cors      []string
}

func NewHandler(scheduler Scheduler, users UserStore, uploads Uploader, jwt *auth.JWT, log zerolog.Logger) *Handler {
	return &Handler{
		scheduler: scheduler,
		users:     users,
		uploads:   uploads,
		jwt:       jwt,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithMetrics attaches a metrics sink to the handler.
func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

// WithCORS sets the allowed origins for browser clients.
func (h *Handler) WithCORS(origins []string) *Handler {
	h.cors = origins
	return h
}

// Router assembles the route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	if len(h.cors) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.cors,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(h.observe)

	r.Get("/health", h.health)
	r.Post("/auth/register", h.register)
	r.Post("/auth/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwt))

		r.Post("/tasks/schedule", h.scheduleTask)
		r.Get("/tasks/list_tasks", h.listTasks)
		r.Post("/tasks/cancel_task/{id}", h.cancelTask)
		r.Delete("/tasks/delete_task/{id}", h.deleteTask)
		r.Get("/tasks/task_history", h.taskHistory)
		r.Post("/files/upload", h.uploadFile)
	})

	return r
}

// observe records request metrics keyed by the chi route pattern, so
// /tasks/cancel_task/{id} stays one series regardless of the id.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.RequestCompleted(r.Method, route, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, resp)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		h.writeError(w, http.StatusBadRequest, "valid email required")
		return
	}
	if len(req.Password) < 8 {
		h.writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error().Err(err).Msg("password hash failed")
		h.writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	user := domain.User{
		ID:           uuid.New(),
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			h.writeError(w, http.StatusConflict, "email already registered")
			return
		}
		h.log.Error().Err(err).Msg("create user failed")
		h.writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	h.issueToken(w, user.ID, http.StatusCreated)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "email and password required")
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !auth.ComparePassword(user.PasswordHash, req.Password) {
		// Same response for unknown email and wrong password.
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.issueToken(w, user.ID, http.StatusOK)
}

func (h *Handler) issueToken(w http.ResponseWriter, userID uuid.UUID, status int) {
	token, err := h.jwt.Sign(userID)
	if err != nil {
		h.log.Error().Err(err).Msg("token sign failed")
		h.writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	h.writeJSON(w, status, TokenResponse{Token: token})
}

func (h *Handler) scheduleTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req ScheduleTaskRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	var runDate time.Time
	if req.RunDate != "" {
		var err error
		runDate, err = time.Parse(time.RFC3339, req.RunDate)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "run_date must be RFC3339")
			return
		}
	}

	var resourceID *uuid.UUID
	if req.ResourceID != "" {
		id, err := uuid.Parse(req.ResourceID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid resource_id")
			return
		}
		resourceID = &id
	}

	job, err := h.scheduler.Schedule(r.Context(), ownerID, scheduling.ScheduleRequest{
		Type:         domain.JobType(req.TaskType),
		DueTime:      runDate,
		Title:        req.Title,
		NotifyTarget: req.NotifyTarget,
		ResourceID:   resourceID,
	})
	if err != nil {
		h.writeServiceError(w, err, "schedule task")
		return
	}

	h.writeJSON(w, http.StatusCreated, taskResponseFrom(job))
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := h.scheduler.List(r.Context(), ownerID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "list tasks")
		return
	}

	resp := ListTasksResponse{Tasks: make([]TaskResponse, len(jobs))}
	for i, job := range jobs {
		resp.Tasks[i] = taskResponseFrom(job)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err := h.scheduler.Cancel(r.Context(), ownerID, jobID); err != nil {
		h.writeServiceError(w, err, "cancel task")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err := h.scheduler.Delete(r.Context(), ownerID, jobID); err != nil {
		h.writeServiceError(w, err, "delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) taskHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.scheduler.History(r.Context(), ownerID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "task history")
		return
	}

	resp := HistoryResponse{History: make([]HistoryEntryResponse, len(entries))}
	for i, entry := range entries {
		resp.History[i] = historyResponseFrom(entry)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, filestore.MaxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(filestore.MaxUploadSize); err != nil {
		h.writeError(w, http.StatusBadRequest, "multipart form required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	if header.Size > filestore.MaxUploadSize {
		h.writeError(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
		return
	}

	resourceID, err := h.uploads.Store(ownerID, header.Filename, file)
	if err != nil {
		h.log.Error().Err(err).Msg("upload failed")
		h.writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, UploadResponse{
		ResourceID: resourceID.String(),
		Filename:   header.Filename,
	})
}

// owner pulls the authenticated user out of the request context.
func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ownerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, false
	}
	return ownerID, true
}

// decodeJSON reads a bounded JSON body into v, writing the error response
// itself on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err.Error() == "http: request body too large" {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// writeServiceError maps scheduling errors onto status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case domain.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, "task is not in a cancellable state")
	default:
		h.log.Error().Err(err).Str("op", op).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("json encode failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
