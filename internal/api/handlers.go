package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/LeventeLantos/sms-tracker/internal/model"
	"github.com/LeventeLantos/sms-tracker/internal/scheduler"
	"github.com/LeventeLantos/sms-tracker/internal/service"
	"github.com/LeventeLantos/sms-tracker/internal/tracker"
	"github.com/go-playground/validator/v10"
)

type SubmissionTracker interface {
	GetSubmissionModel(ctx context.Context, instanceID string) (model.SubmissionRecord, error)
	SaveSubmission(ctx context.Context, rec model.SubmissionRecord) error
	MarkMessageAsSending(ctx context.Context, instanceID string, messageID int) error
	MarkMessageAsSent(ctx context.Context, instanceID string, messageID int) (bool, error)
	UpdateMessageStatus(ctx context.Context, resultCode int, instanceID string, messageID int) error
	CheckNextMessageResultCode(ctx context.Context, instanceID string) (int, error)
	Evaluate(ctx context.Context, instanceIDs []string) ([]tracker.Report, error)
	Reconcile(ctx context.Context) ([]tracker.Report, error)
	ForgetSubmission(ctx context.Context, instanceID string) error
	AcknowledgeSubmission(ctx context.Context, instanceID string) (bool, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, instanceID, phoneNumber string) (service.Result, error)
}

type Reconciler interface {
	Start() bool
	Stop() bool
	IsRunning() bool
	Stats() scheduler.Stats
}

type Handler struct {
	tracker    SubmissionTracker
	dispatcher Dispatcher
	reconciler Reconciler
	contentMax int
	validate   *validator.Validate
}

// NewHandler wires the API. dispatcher may be nil when no gateway is
// configured; the dispatch endpoint then answers 503.
func NewHandler(t SubmissionTracker, d Dispatcher, r Reconciler, contentMax int) *Handler {
	return &Handler{
		tracker:    t,
		dispatcher: d,
		reconciler: r,
		contentMax: contentMax,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

type createSubmissionRequest struct {
	InstanceID  string   `json:"instanceId" validate:"required,max=255"`
	FormID      string   `json:"formId" validate:"max=255"`
	DisplayName string   `json:"displayName" validate:"max=255"`
	Parts       []string `json:"parts" validate:"required_without=Payload,dive,required"`
	Payload     string   `json:"payload" validate:"required_without=Parts"`
}

type statusRequest struct {
	ResultCode *int `json:"resultCode" validate:"required"`
}

type dispatchRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,e164"`
}

type reconcileRequest struct {
	InstanceIDs []string `json:"instanceIds" validate:"dive,required"`
}

type submissionResponse struct {
	Submission model.SubmissionRecord `json:"submission"`
	Status     model.AggregateStatus  `json:"status"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req createSubmissionRequest
	if !h.decode(w, r, &req) {
		return
	}

	parts := req.Parts
	if len(parts) == 0 {
		parts = service.SplitPayload(req.Payload, h.contentMax)
	}

	rec := model.NewSubmission(req.InstanceID, req.FormID, req.DisplayName, parts, time.Now())
	if err := h.tracker.SaveSubmission(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}

	saved, err := h.tracker.GetSubmissionModel(r.Context(), req.InstanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submissionResponse{Submission: saved, Status: saved.Status()})
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	rec, err := h.tracker.GetSubmissionModel(r.Context(), r.PathValue("instanceId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submissionResponse{Submission: rec, Status: rec.Status()})
}

func (h *Handler) ForgetSubmission(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.ForgetSubmission(r.Context(), r.PathValue("instanceId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AcknowledgeSubmission(w http.ResponseWriter, r *http.Request) {
	ok, err := h.tracker.AcknowledgeSubmission(r.Context(), r.PathValue("instanceId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"acknowledged": false,
			"error":        "submission is not complete",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (h *Handler) NextResultCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.tracker.CheckNextMessageResultCode(r.Context(), r.PathValue("instanceId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resultCode": code,
		"pending":    code != model.ResultNoPending,
	})
}

func (h *Handler) MarkSending(w http.ResponseWriter, r *http.Request) {
	msgID, ok := messageID(w, r)
	if !ok {
		return
	}
	if err := h.tracker.MarkMessageAsSending(r.Context(), r.PathValue("instanceId"), msgID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkSent(w http.ResponseWriter, r *http.Request) {
	msgID, ok := messageID(w, r)
	if !ok {
		return
	}
	completed, err := h.tracker.MarkMessageAsSent(r.Context(), r.PathValue("instanceId"), msgID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completed": completed})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	msgID, ok := messageID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.tracker.UpdateMessageStatus(r.Context(), *req.ResultCode, r.PathValue("instanceId"), msgID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no SMS gateway configured"})
		return
	}
	var req dispatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), r.PathValue("instanceId"), req.PhoneNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reconcile re-evaluates stored submissions. It never changes part state.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	var (
		reports []tracker.Report
		err     error
	)
	if len(req.InstanceIDs) == 0 {
		reports, err = h.tracker.Reconcile(r.Context())
	} else {
		reports, err = h.tracker.Evaluate(r.Context(), req.InstanceIDs)
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "reconcile request failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (h *Handler) ReconcilerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reconciler.Stats())
}

func (h *Handler) ReconcilerStart(w http.ResponseWriter, r *http.Request) {
	h.reconciler.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.reconciler.IsRunning()})
}

func (h *Handler) ReconcilerStop(w http.ResponseWriter, r *http.Request) {
	h.reconciler.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.reconciler.IsRunning()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json: " + err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			details := make([]string, 0, len(ve))
			for _, fe := range ve {
				details = append(details, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": details})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func messageID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("messageId"))
	if err != nil || id < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "messageId must be a positive integer"})
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	// A record that fails validation on load is a store fault, not a bad request.
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tracker.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, tracker.ErrInvalidRecord):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
