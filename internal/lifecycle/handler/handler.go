// Package handler exposes the lifecycle service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	calmodels "caltrack/internal/calibration/models"
	eqmodels "caltrack/internal/equipment/models"
	invmodels "caltrack/internal/investigation/models"
	"caltrack/internal/lifecycle/service"
	"caltrack/internal/platform/middleware"
	"caltrack/internal/risk"
	"caltrack/internal/transport/http/shared"
	"caltrack/pkg/domain"
	dErrors "caltrack/pkg/domain-errors"
)

// Service is the slice of the orchestrator the HTTP layer consumes.
type Service interface {
	CreateEquipment(ctx context.Context, req service.CreateEquipmentRequest) (*eqmodels.Equipment, error)
	GetEquipment(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error)
	ListEquipment(ctx context.Context) ([]*eqmodels.Equipment, error)
	UpdateEquipment(ctx context.Context, id domain.EquipmentID, raw []byte) (*eqmodels.Equipment, error)
	QualifyEquipment(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error)
	RetireEquipment(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error)
	ApplyHold(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error)
	ReleaseHold(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error)
	OverrideInterval(ctx context.Context, id domain.EquipmentID, days int) (*eqmodels.Equipment, error)
	RiskProfile(ctx context.Context, id domain.EquipmentID) (*risk.Profile, error)

	CreateCalibrationTask(ctx context.Context, equipmentID domain.EquipmentID, taskType calmodels.TaskType, dueAt time.Time) (*calmodels.CalibrationTask, error)
	StartCalibration(ctx context.Context, taskID domain.CalibrationTaskID) (*calmodels.CalibrationTask, error)
	CancelCalibrationTask(ctx context.Context, taskID domain.CalibrationTaskID) (*calmodels.CalibrationTask, error)
	SubmitCalibration(ctx context.Context, taskID domain.CalibrationTaskID, measurements []calmodels.Measurement, spec calmodels.ToleranceSpec) (*service.CalibrationResult, error)
	ListCalibrationTasks(ctx context.Context, equipmentID domain.EquipmentID) ([]*calmodels.CalibrationTask, error)

	StartPM(ctx context.Context, taskID domain.PMTaskID) (*calmodels.PMTask, error)
	CompletePM(ctx context.Context, taskID domain.PMTaskID) (*calmodels.PMTask, error)
	ListPMTasks(ctx context.Context, equipmentID domain.EquipmentID) ([]*calmodels.PMTask, error)

	GetInvestigation(ctx context.Context, id domain.InvestigationID) (*invmodels.Investigation, error)
	AdvanceInvestigation(ctx context.Context, id domain.InvestigationID, event string, payload invmodels.Payload) (*invmodels.Investigation, error)
	ListInvestigations(ctx context.Context, equipmentID domain.EquipmentID) ([]*invmodels.Investigation, error)

	Tick(ctx context.Context) (*service.TickReport, error)
}

// Handler handles lifecycle endpoints.
type Handler struct {
	logger       *slog.Logger
	svc          Service
	jwtValidator middleware.JWTValidator
}

// New creates a lifecycle Handler.
func New(svc Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		svc:          svc,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the lifecycle routes.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Post("/equipment", h.handleCreateEquipment)
	router.Get("/equipment", h.handleListEquipment)
	router.Get("/equipment/{equipmentID}", h.handleGetEquipment)
	router.Patch("/equipment/{equipmentID}", h.handleUpdateEquipment)
	router.Post("/equipment/{equipmentID}/qualify", h.handleQualify)
	router.Post("/equipment/{equipmentID}/retire", h.handleRetire)
	router.Post("/equipment/{equipmentID}/hold", h.handleApplyHold)
	router.Delete("/equipment/{equipmentID}/hold", h.handleReleaseHold)
	router.Put("/equipment/{equipmentID}/interval", h.handleOverrideInterval)
	router.Get("/equipment/{equipmentID}/risk", h.handleRiskProfile)
	router.Get("/equipment/{equipmentID}/tasks", h.handleListTasks)
	router.Post("/equipment/{equipmentID}/tasks", h.handleCreateTask)
	router.Get("/equipment/{equipmentID}/pm-tasks", h.handleListPMTasks)
	router.Get("/equipment/{equipmentID}/investigations", h.handleListInvestigations)

	router.Post("/tasks/{taskID}/start", h.handleStartTask)
	router.Post("/tasks/{taskID}/cancel", h.handleCancelTask)
	router.Post("/tasks/{taskID}/submit", h.handleSubmitCalibration)

	router.Post("/pm-tasks/{taskID}/start", h.handleStartPM)
	router.Post("/pm-tasks/{taskID}/complete", h.handleCompletePM)

	router.Get("/investigations/{investigationID}", h.handleGetInvestigation)
	router.Post("/investigations/{investigationID}/events", h.handleAdvanceInvestigation)

	router.Post("/tick", h.handleTick)

	r.Mount("/v1", router)
}

func (h *Handler) handleCreateEquipment(w http.ResponseWriter, r *http.Request) {
	var req service.CreateEquipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	eq, err := h.svc.CreateEquipment(r.Context(), req)
	if err != nil {
		h.fail(r.Context(), w, "create equipment", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, eq)
}

func (h *Handler) handleListEquipment(w http.ResponseWriter, r *http.Request) {
	fleet, err := h.svc.ListEquipment(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "list equipment", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, fleet)
}

func (h *Handler) handleGetEquipment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.equipmentID(w, r)
	if !ok {
		return
	}
	eq, err := h.svc.GetEquipment(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "get equipment", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, eq)
}

func (h *Handler) handleUpdateEquipment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.equipmentID(w, r)
	if !ok {
		return
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	eq, err := h.svc.UpdateEquipment(r.Context(), id, raw)
	if err != nil {
		h.fail(r.Context(), w, "update equipment", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, eq)
}

func (h *Handler) handleQualify(w http.ResponseWriter, r *http.Request) {
	h.equipmentAction(w, r, h.svc.QualifyEquipment, "qualify equipment")
}

func (h *Handler) handleRetire(w http.ResponseWriter, r *http.Request) {
	h.equipmentAction(w, r, h.svc.RetireEquipment, "retire equipment")
}

func (h *Handler) handleApplyHold(w http.ResponseWriter, r *http.Request) {
	h.equipmentAction(w, r, h.svc.ApplyHold, "apply hold")
}

func (h *Handler) handleReleaseHold(w http.ResponseWriter, r *http.Request) {
	h.equipmentAction(w, r, h.svc.ReleaseHold, "release hold")
}

func (h *Handler) equipmentAction(w http.ResponseWriter, r *http.Request, action func(context.Context, domain.EquipmentID) (*eqmodels.Equipment, error), name string) {
	id, ok := h.equipmentID(w, r)
	if !ok {
		return
	}
	eq, err := action(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, name, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, eq)
}

func (h *Handler) handleOverrideInterval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.equipmentID(w, r)
	if !ok {
		return
	}
	var req struct {
		IntervalDays int `json:"interval_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	eq, err := h.svc.OverrideInterval(r.Context(), id, req.IntervalDays)
	if err != nil {
		h.fail(r.Context(), w, "override interval", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, eq)
}

func (h *Handler) handleRiskProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.equipmentID(w, r)
	if !ok {
		return
	}
	profile, err := h.svc.RiskProfile(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "risk profile", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.equipmentID(w, r)
	if !ok {
		return
	}
	tasks, err := h.svc.ListCalibrationTasks(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "list tasks", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, tasks)
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.equipmentID(w, r)
	if !ok {
		return
	}
	var req struct {
		TaskType calmodels.TaskType `json:"task_type"`
		DueAt    time.Time          `json:"due_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	task, err := h.svc.CreateCalibrationTask(r.Context(), id, req.TaskType, req.DueAt)
	if err != nil {
		h.fail(r.Context(), w, "create task", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, task)
}

func (h *Handler) handleListPMTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.equipmentID(w, r)
	if !ok {
		return
	}
	tasks, err := h.svc.ListPMTasks(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "list pm tasks", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, tasks)
}

func (h *Handler) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.equipmentID(w, r)
	if !ok {
		return
	}
	invs, err := h.svc.ListInvestigations(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "list investigations", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, invs)
}

func (h *Handler) handleStartTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}
	task, err := h.svc.StartCalibration(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "start task", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, task)
}

func (h *Handler) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}
	task, err := h.svc.CancelCalibrationTask(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "cancel task", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, task)
}

// SubmitCalibrationRequest carries the measured values and the bands they
// are judged against.
type SubmitCalibrationRequest struct {
	Measurements []calmodels.Measurement                `json:"measurements"`
	Tolerances   map[string]calmodels.ToleranceBand     `json:"tolerances"`
}

func (h *Handler) handleSubmitCalibration(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}
	var req SubmitCalibrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	result, err := h.svc.SubmitCalibration(r.Context(), id, req.Measurements, calmodels.ToleranceSpec{Bands: req.Tolerances})
	if err != nil {
		h.fail(r.Context(), w, "submit calibration", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStartPM(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pmTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.svc.StartPM(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "start pm task", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, task)
}

func (h *Handler) handleCompletePM(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pmTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.svc.CompletePM(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "complete pm task", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, task)
}

func (h *Handler) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.investigationID(w, r)
	if !ok {
		return
	}
	inv, err := h.svc.GetInvestigation(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "get investigation", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, inv)
}

// AdvanceInvestigationRequest names the workflow event and the fields
// entered alongside it.
type AdvanceInvestigationRequest struct {
	Event   string            `json:"event"`
	Payload invmodels.Payload `json:"payload"`
}

func (h *Handler) handleAdvanceInvestigation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.investigationID(w, r)
	if !ok {
		return
	}
	var req AdvanceInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	inv, err := h.svc.AdvanceInvestigation(r.Context(), id, req.Event, req.Payload)
	if err != nil {
		h.fail(r.Context(), w, "advance investigation", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleTick(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Tick(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "tick", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) equipmentID(w http.ResponseWriter, r *http.Request) (domain.EquipmentID, bool) {
	id, err := domain.ParseEquipmentID(chi.URLParam(r, "equipmentID"))
	if err != nil {
		shared.WriteError(w, err)
		return domain.EquipmentID{}, false
	}
	return id, true
}

func (h *Handler) taskID(w http.ResponseWriter, r *http.Request) (domain.CalibrationTaskID, bool) {
	id, err := domain.ParseCalibrationTaskID(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.WriteError(w, err)
		return domain.CalibrationTaskID{}, false
	}
	return id, true
}

func (h *Handler) pmTaskID(w http.ResponseWriter, r *http.Request) (domain.PMTaskID, bool) {
	id, err := domain.ParsePMTaskID(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.WriteError(w, err)
		return domain.PMTaskID{}, false
	}
	return id, true
}

func (h *Handler) investigationID(w http.ResponseWriter, r *http.Request) (domain.InvestigationID, bool) {
	id, err := domain.ParseInvestigationID(chi.URLParam(r, "investigationID"))
	if err != nil {
		shared.WriteError(w, err)
		return domain.InvestigationID{}, false
	}
	return id, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	requestID := middleware.GetRequestID(ctx)
	if dErrors.Is(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, operation+" failed", "request_id", requestID, "error", err.Error())
	} else {
		h.logger.WarnContext(ctx, operation+" rejected", "request_id", requestID, "error", err.Error())
	}
	shared.WriteError(w, err)
}
