package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/maltedev/price-updater/internal/batch"
)

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

// BatchRunner is the part of batch.Runner the API drives.
type BatchRunner interface {
	Run(ctx context.Context) (batch.Summary, error)
	Running() bool
	LastSummary() (batch.Summary, bool)
}

// OutboxBacklog reports unpublished and dead-lettered events.
type OutboxBacklog interface {
	Backlog(ctx context.Context) (pending, deadLetter int64, err error)
}

type Handlers struct {
	runner  BatchRunner
	backlog OutboxBacklog
	// runs outlive the request that started them
	baseCtx context.Context
	logger  *slog.Logger

	runs sync.WaitGroup
}

// NewHandlers builds the handlers. backlog may be nil when no database is
// configured.
func NewHandlers(baseCtx context.Context, runner BatchRunner, backlog OutboxBacklog, logger *slog.Logger) *Handlers {
	return &Handlers{
		runner:  runner,
		backlog: backlog,
		baseCtx: baseCtx,
		logger:  logger.With("component", "api"),
	}
}

type outboxStatus struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

type HealthResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Running bool           `json:"running"`
	LastRun *batch.Summary `json:"last_run,omitempty"`
	Outbox  *outboxStatus  `json:"outbox,omitempty"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Running: h.runner.Running(),
	}
	if last, ok := h.runner.LastSummary(); ok {
		resp.LastRun = &last
	}

	status := http.StatusOK
	if h.backlog != nil {
		pending, dead, err := h.backlog.Backlog(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox backlog", "error", err)
			resp.Status = "warning"
			resp.Message = "outbox status unavailable"
		} else {
			resp.Outbox = &outboxStatus{Pending: pending, DeadLetter: dead}
			if pending > pendingWarnThreshold {
				resp.Status = "warning"
				resp.Message = "high number of pending outbox events"
			}
			if dead > deadLetterErrorThreshold {
				resp.Status = "error"
				resp.Message = "high number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, resp)
}

type StartRunResponse struct {
	Status string `json:"status"`
}

// StartRun kicks off a batch in the background and returns immediately.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	if h.runner.Running() {
		h.respondError(w, http.StatusConflict, batch.ErrRunInProgress.Error())
		return
	}

	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		if _, err := h.runner.Run(h.baseCtx); err != nil {
			if errors.Is(err, batch.ErrRunInProgress) {
				h.logger.Warn("run request raced with another run")
				return
			}
			h.logger.Error("requested run failed", "error", err)
		}
	}()

	h.respondJSON(w, http.StatusAccepted, StartRunResponse{Status: "started"})
}

// Wait blocks until every run started through StartRun has returned.
func (h *Handlers) Wait() {
	h.runs.Wait()
}

func (h *Handlers) LastRun(w http.ResponseWriter, r *http.Request) {
	last, ok := h.runner.LastSummary()
	if !ok {
		h.respondError(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	h.respondJSON(w, http.StatusOK, last)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
