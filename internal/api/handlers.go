package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Didihazan/WhatsApp-Bot/internal/model"
	"github.com/Didihazan/WhatsApp-Bot/internal/schedule"
	"github.com/Didihazan/WhatsApp-Bot/internal/session"
)

type SessionService interface {
	Connect(ctx context.Context, tenantID string) model.Result
	Disconnect(ctx context.Context, tenantID string) model.Result
	Status(tenantID string) session.Status
	Groups(ctx context.Context, tenantID string) ([]model.Group, error)
	RefreshGroups(ctx context.Context, tenantID string) ([]model.Group, error)
}

type DispatchService interface {
	SendToGroup(ctx context.Context, tenantID, groupID, text, mediaPath string) error
	SendDirect(ctx context.Context, tenantID, number, text string) error
}

type ScheduleService interface {
	UpdateDailySchedule(ctx context.Context, tenantID, sendTime string, enabled bool) model.Result
	TriggerNow(ctx context.Context, tenantID string) model.Result
	TriggerAll(ctx context.Context) model.Result
	Tasks() []schedule.TaskStatus
}

type HistoryReader interface {
	ListSentMessages(ctx context.Context, tenantID string, limit, offset int) ([]model.SentMessageRecord, error)
}

type Handler struct {
	sessions SessionService
	dispatch DispatchService
	sched    ScheduleService
	history  HistoryReader
}

func NewHandler(s SessionService, d DispatchService, sc ScheduleService, h HistoryReader) *Handler {
	return &Handler{sessions: s, dispatch: d, sched: sc, history: h}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	res := h.sessions.Connect(r.Context(), r.PathValue("id"))
	writeResult(w, res)
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	res := h.sessions.Disconnect(r.Context(), r.PathValue("id"))
	writeResult(w, res)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Status(r.PathValue("id")))
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.sessions.Groups(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (h *Handler) RefreshGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.sessions.RefreshGroups(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

type directSendRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

func (h *Handler) SendDirect(w http.ResponseWriter, r *http.Request) {
	var req directSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Number == "" || req.Text == "" {
		http.Error(w, "number and text are required", http.StatusBadRequest)
		return
	}

	if err := h.dispatch.SendDirect(r.Context(), r.PathValue("id"), req.Number, req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Result{Success: true, Message: "Message sent successfully"})
}

type groupSendRequest struct {
	GroupID   string `json:"groupId"`
	Text      string `json:"text"`
	MediaPath string `json:"mediaPath"`
}

func (h *Handler) SendToGroup(w http.ResponseWriter, r *http.Request) {
	var req groupSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.GroupID == "" || req.Text == "" {
		http.Error(w, "groupId and text are required", http.StatusBadRequest)
		return
	}

	if err := h.dispatch.SendToGroup(r.Context(), r.PathValue("id"), req.GroupID, req.Text, req.MediaPath); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Result{Success: true, Message: "Message sent to group successfully"})
}

type scheduleUpdateRequest struct {
	Time    string `json:"time"`
	Enabled bool   `json:"enabled"`
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res := h.sched.UpdateDailySchedule(r.Context(), r.PathValue("id"), req.Time, req.Enabled)
	writeResult(w, res)
}

func (h *Handler) TriggerNow(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.sched.TriggerNow(r.Context(), r.PathValue("id")))
}

func (h *Handler) TriggerAll(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.sched.TriggerAll(r.Context()))
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": h.sched.Tasks()})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.history.ListSentMessages(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.SentMessageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func writeResult(w http.ResponseWriter, res model.Result) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, session.ErrNotConnected) {
		status = http.StatusConflict
	}
	writeJSON(w, status, model.Result{Success: false, Message: err.Error()})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
