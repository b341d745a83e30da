// Package http contains the chi HTTP handlers for the batch trigger,
// status polling and exposure read APIs.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apierrors "sigmasight/internal/errors"

	"sigmasight/internal/batch"
	"sigmasight/internal/domain"
	"sigmasight/internal/services"
)

// BatchService is the service surface this handler depends on.
type BatchService interface {
	Trigger(ctx context.Context, req batch.BatchRequest) (*batch.Job, error)
	GetStatus() services.StatusResponse
	GetJob(id string) (*batch.Job, error)
	PortfolioExposures(ctx context.Context, portfolioID string, date time.Time) ([]domain.PortfolioFactorExposure, error)
	PositionExposures(ctx context.Context, portfolioID string, date time.Time) ([]domain.PositionFactorExposure, error)
}

// BatchHandler handles batch-related HTTP requests.
type BatchHandler struct {
	service  BatchService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewBatchHandler creates a batch handler.
func NewBatchHandler(service BatchService, logger *slog.Logger) *BatchHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchHandler{
		service:  service,
		logger:   logger.With(slog.String("handler", "batch")),
		validate: validator.New(),
	}
}

// Routes mounts the batch API.
func (h *BatchHandler) Routes(r chi.Router) {
	r.Post("/batch/run", h.StartRun)
	r.Get("/batch/status", h.GetStatus)
	r.Get("/batch/jobs/{jobID}", h.GetJob)
	r.Get("/portfolios/{portfolioID}/exposures", h.GetExposures)
}

// TriggerRequest is the trigger payload. portfolio_ids must be null (all
// active portfolios) or a non-empty JSON array; a bare identifier is a
// contract violation that two separate call sites have shipped before, so
// it is rejected by decoding, not caller discipline.
type TriggerRequest struct {
	CalculationDate string    `json:"calculation_date" validate:"required,datetime=2006-01-02"`
	PortfolioIDs    *[]string `json:"portfolio_ids" validate:"omitempty,min=1,dive,required"`
	TriggeredBy     string    `json:"triggered_by"`
}

// Bind implements render.Binder.
func (t *TriggerRequest) Bind(_ *http.Request) error {
	return nil
}

// TriggerResponse acknowledges an enqueued run.
type TriggerResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Render implements render.Renderer.
func (t *TriggerResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusAccepted)
	return nil
}

// StartRun enqueues a daily batch run and returns 202 immediately. The
// request is validated in full before any Run Tracker state can change.
func (h *BatchHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("sigmasight/transport").Start(r.Context(), "batch.trigger")
	defer span.End()

	var req TriggerRequest
	if err := render.Bind(r, &req); err != nil {
		span.SetStatus(codes.Error, "malformed trigger payload")
		h.logger.WarnContext(ctx, "malformed trigger payload", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidArguments(err.Error())))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		span.SetStatus(codes.Error, "trigger validation failed")
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidArguments(err.Error())))
		return
	}

	calculationDate, err := domain.ParseDay(req.CalculationDate)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidArguments(
			fmt.Sprintf("calculation_date must be YYYY-MM-DD: %v", err))))
		return
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	batchReq := batch.BatchRequest{
		CalculationDate: calculationDate,
		TriggeredBy:     triggeredBy,
	}
	if req.PortfolioIDs != nil {
		batchReq.PortfolioIDs = *req.PortfolioIDs
	}

	job, err := h.service.Trigger(ctx, batchReq)
	if err != nil {
		h.renderBatchError(w, r, err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetAttributes(attribute.String("batch.job_id", job.ID))
	h.logger.InfoContext(ctx, "batch run enqueued",
		slog.String("job_id", job.ID),
		slog.String("calculation_date", req.CalculationDate),
		slog.String("triggered_by", triggeredBy))

	render.Render(w, r, &TriggerResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		Message: "batch run enqueued",
	})
}

// GetStatus reports the current run state for polling. Clients should poll
// every 2-5 seconds while a run is active.
func (h *BatchHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.GetStatus())
}

// GetJob returns one queued or finished job.
func (h *BatchHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.service.GetJob(jobID)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.NotFoundError("job")))
		return
	}
	render.JSON(w, r, job)
}

// GetExposures returns exposure rows for a portfolio and date. The level
// query parameter selects portfolio (default) or position rows.
func (h *BatchHandler) GetExposures(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	dateParam := r.URL.Query().Get("date")
	if dateParam == "" {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidArguments("date query parameter is required")))
		return
	}
	date, err := domain.ParseDay(dateParam)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidArguments(
			fmt.Sprintf("date must be YYYY-MM-DD: %v", err))))
		return
	}

	switch r.URL.Query().Get("level") {
	case "position":
		rows, err := h.service.PositionExposures(r.Context(), portfolioID, date)
		if err != nil {
			render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
			return
		}
		render.JSON(w, r, map[string]interface{}{"portfolio_id": portfolioID, "date": dateParam, "exposures": rows})
	default:
		rows, err := h.service.PortfolioExposures(r.Context(), portfolioID, date)
		if err != nil {
			render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
			return
		}
		render.JSON(w, r, map[string]interface{}{"portfolio_id": portfolioID, "date": dateParam, "exposures": rows})
	}
}

func (h *BatchHandler) renderBatchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case batch.IsInvalidArguments(err):
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidArguments(err.Error())))
	case batch.IsAlreadyRunning(err):
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrBatchAlreadyRunning(err.Error())))
	case errors.Is(err, batch.ErrQueueFull):
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrQueueSaturated(err.Error())))
	default:
		h.logger.Error("batch trigger failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
	}
}
