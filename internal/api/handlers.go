// Package api is the HTTP surface: webhook ingestion, the staff task review
// API, the task export download and the unauthenticated member confirmation
// endpoints.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/auth"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/ingest"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/pack"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/task"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	Auth    auth.Authenticator
	Gateway *ingest.Gateway
	Tasks   *task.Service
	DB      *store.Store
	Log     *zap.Logger
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	channel := types.Channel(chi.URLParam(r, "channel"))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, errs.E(errs.KindValidation, "unreadable request body"))
		return
	}

	in, err := ingest.ParsePayload(channel, body, time.Now())
	if err != nil {
		h.writeError(w, err)
		return
	}

	outcome, err := h.Gateway.Ingest(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if outcome.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, outcome)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := store.TaskFilter{
		Status:     types.TaskStatus(q.Get("status")),
		Category:   types.TaskCategory(q.Get("category")),
		Priority:   types.Priority(q.Get("priority")),
		AssigneeID: q.Get("assignee_id"),
		CreatorID:  q.Get("creator_id"),
		Query:      q.Get("q"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = t
		}
	}

	tasks, err := h.Tasks.List(r.Context(), staff, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []types.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

type createTaskRequest struct {
	Category     types.TaskCategory `json:"category"`
	Subtype      types.TaskSubtype  `json:"subtype"`
	Priority     types.Priority     `json:"priority"`
	ContactID    string             `json:"contact_id"`
	ParentTaskID string             `json:"parent_task_id"`
	Payload      map[string]any     `json:"payload"`
	ReplyBody    string             `json:"reply_body"`
	ReplySubject string             `json:"reply_subject"`
	ReplyChannel types.Channel      `json:"reply_channel"`
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.Tasks.Create(r.Context(), staff, task.CreateInput{
		Category:     req.Category,
		Subtype:      req.Subtype,
		Priority:     req.Priority,
		ContactID:    req.ContactID,
		ParentTaskID: req.ParentTaskID,
		Payload:      req.Payload,
		ReplyBody:    req.ReplyBody,
		ReplySubject: req.ReplySubject,
		ReplyChannel: req.ReplyChannel,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	detail, err := h.Tasks.Get(r.Context(), staff, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type updateTaskRequest struct {
	Version      int64               `json:"version"`
	Status       *types.TaskStatus   `json:"status"`
	Category     *types.TaskCategory `json:"category"`
	Subtype      *types.TaskSubtype  `json:"subtype"`
	Priority     *types.Priority     `json:"priority"`
	AssigneeID   *string             `json:"assignee_id"`
	ParentTaskID *string             `json:"parent_task_id"`
	Payload      map[string]any      `json:"payload"`
	ReplyBody    *string             `json:"reply_body"`
	ReplySubject *string             `json:"reply_subject"`
	ReplyChannel *types.Channel      `json:"reply_channel"`
	Note         *string             `json:"note"`
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req updateTaskRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.Tasks.Update(r.Context(), staff, chi.URLParam(r, "id"), task.UpdateInput{
		Version:      req.Version,
		Status:       req.Status,
		Category:     req.Category,
		Subtype:      req.Subtype,
		Priority:     req.Priority,
		AssigneeID:   req.AssigneeID,
		ParentTaskID: req.ParentTaskID,
		Payload:      req.Payload,
		ReplyBody:    req.ReplyBody,
		ReplySubject: req.ReplySubject,
		ReplyChannel: req.ReplyChannel,
		Note:         req.Note,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) ExportTask(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	detail, err := h.Tasks.Get(ctx, staff, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	input := pack.Input{Task: detail.Task, Actions: detail.History}
	if detail.Task.ContactID != "" {
		if contact, found, err := h.DB.GetContact(ctx, staff.TenantID, detail.Task.ContactID); err == nil && found {
			input.Contact = &contact
			msgs, err := h.DB.ListMessagesForContact(ctx, staff.TenantID, contact.ID)
			if err == nil {
				input.Messages = msgs
			}
		}
	}

	data, err := pack.BuildZip(input)
	if err != nil {
		h.writeError(w, errs.Wrap(errs.KindInternal, err, "build export"))
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="task-`+detail.Task.ID+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) MemberView(w http.ResponseWriter, r *http.Request) {
	view, err := h.Tasks.MemberView(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type memberConfirmRequest struct {
	Override map[string]any `json:"override"`
}

func (h *Handler) MemberConfirm(w http.ResponseWriter, r *http.Request) {
	var req memberConfirmRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	result, err := h.Tasks.MemberConfirm(r.Context(), chi.URLParam(r, "token"), req.Override)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) staff(w http.ResponseWriter, r *http.Request) (types.Staff, bool) {
	staff, err := h.Auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
			Code:    "unauthorized",
			Message: err.Error(),
		}})
		return types.Staff{}, false
	}
	return staff, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, errs.E(errs.KindValidation, "malformed json body"))
		return false
	}
	return true
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation, errs.KindUnknownDestination, errs.KindInvalidStatusTransition,
		errs.KindIncompletePayload, errs.KindTokenExpired, errs.KindTokenAlreadyUsed:
		return http.StatusBadRequest
	case errs.KindNotFound, errs.KindTokenNotFound:
		return http.StatusNotFound
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a tagged error to its status. Internal errors are logged
// with a correlation id and the cause never reaches the response body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)

	detail := errorDetail{Code: string(kind), Message: errs.Message(err)}
	if status == http.StatusInternalServerError {
		detail.CorrelationID = uuid.NewString()
		detail.Message = "internal error"
		h.Log.Error("request failed",
			zap.String("correlation_id", detail.CorrelationID), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
