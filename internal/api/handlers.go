package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jdc-telecom/smsgw/internal/bulk"
	"github.com/jdc-telecom/smsgw/internal/model"
	"github.com/jdc-telecom/smsgw/internal/pubsub"
	"github.com/jdc-telecom/smsgw/internal/repo"
	"github.com/jdc-telecom/smsgw/internal/scheduler"
	"github.com/jdc-telecom/smsgw/internal/validate"
)

// DirectSender sends one SMS immediately.
type DirectSender interface {
	Send(ctx context.Context, to, message string) (remoteMessageID string, err error)
}

// TokenService issues and verifies one-time codes.
type TokenService interface {
	Send(ctx context.Context, phoneNumber string) error
	Verify(ctx context.Context, phoneNumber, code string) (bool, error)
}

type Handler struct {
	engine       *bulk.Engine
	bus          *pubsub.Bus
	sched        *scheduler.Scheduler
	repo         repo.MessageRepository
	tokens       TokenService
	sender       DirectSender
	limiter      *rate.Limiter
	defaultDelay time.Duration
	log          *slog.Logger
}

type HandlerConfig struct {
	Engine       *bulk.Engine
	Bus          *pubsub.Bus
	Scheduler    *scheduler.Scheduler
	Repo         repo.MessageRepository
	Tokens       TokenService
	Sender       DirectSender
	Limiter      *rate.Limiter
	DefaultDelay time.Duration
	Log          *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		engine:       cfg.Engine,
		bus:          cfg.Bus,
		sched:        cfg.Scheduler,
		repo:         cfg.Repo,
		tokens:       cfg.Tokens,
		sender:       cfg.Sender,
		limiter:      cfg.Limiter,
		defaultDelay: cfg.DefaultDelay,
		log:          log,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- scheduler control ---

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  h.sched.IsRunning(),
		"interval": h.sched.Interval().String(),
	})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

// --- direct send ---

type sendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.To == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "to and message are required")
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "send rate limit exceeded")
		return
	}

	remoteID, err := h.sender.Send(r.Context(), req.To, req.Message)
	if err != nil {
		h.log.Warn("direct send failed", slog.String("to", req.To), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": remoteID,
		"timestamp": time.Now().UTC(),
	})
}

// --- tokens ---

type tokenSendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type tokenVerifyRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Token       string `json:"token"`
}

func (h *Handler) SendToken(w http.ResponseWriter, r *http.Request) {
	var req tokenSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}

	if err := h.tokens.Send(r.Context(), req.PhoneNumber); err != nil {
		h.log.Warn("token send failed", slog.String("phone", req.PhoneNumber), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "token sent by SMS",
	})
}

func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req tokenVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.PhoneNumber == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber and token are required")
		return
	}

	valid, err := h.tokens.Verify(r.Context(), req.PhoneNumber, req.Token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "valid": valid})
}

// --- scheduled messages ---

type scheduleRequest struct {
	To      string    `json:"to"`
	Message string    `json:"message"`
	SendAt  time.Time `json:"sendAt"`
}

func (h *Handler) CreateScheduled(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.To == "" || req.Message == "" || req.SendAt.IsZero() {
		writeError(w, http.StatusBadRequest, "to, message and sendAt are required")
		return
	}

	id, err := h.repo.Insert(r.Context(), model.Message{
		RecipientPhone: req.To,
		Content:        req.Message,
		SendAt:         req.SendAt,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "message scheduled",
		"id":      id,
	})
}

func (h *Handler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListScheduled(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) DeleteScheduled(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scheduled message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.repo.ListSent(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// --- bulk jobs ---

func (h *Handler) BulkValidate(w http.ResponseWriter, r *http.Request) {
	var rows []map[string]string
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	validated := validate.Rows(rows)
	valid := 0
	for _, v := range validated {
		if v.Valid {
			valid++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    validated,
		"stats": map[string]int{
			"total":   len(validated),
			"valid":   valid,
			"invalid": len(validated) - valid,
		},
	})
}

type bulkSendRequest struct {
	Recipients []model.Recipient `json:"recipients"`
	Delay      *int              `json:"delay"`
}

func (h *Handler) BulkSend(w http.ResponseWriter, r *http.Request) {
	var req bulkSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Recipients) == 0 {
		writeError(w, http.StatusBadRequest, "recipient list missing or empty")
		return
	}

	delay := h.defaultDelay
	if req.Delay != nil {
		if *req.Delay < 0 {
			writeError(w, http.StatusBadRequest, "delay must be >= 0")
			return
		}
		delay = time.Duration(*req.Delay) * time.Millisecond
	}

	jobID, err := h.engine.Create(req.Recipients, bulk.Options{Delay: delay})
	if err != nil {
		if errors.Is(err, bulk.ErrNoValidRecipients) {
			writeError(w, http.StatusBadRequest, "no valid recipients in list")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	total := 0
	for _, rc := range req.Recipients {
		if rc.Valid {
			total++
		}
	}

	// The job runs in the background; the caller follows progress over the
	// event stream or polls the status endpoint.
	go func() {
		if err := h.engine.Start(context.Background(), jobID); err != nil {
			h.log.Error("bulk job failed to start", slog.String("job", jobID), slog.Any("err", err))
		}
	}()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "bulk job created",
		"jobId":   jobID,
		"total":   total,
	})
}

func (h *Handler) BulkJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.engine.Jobs()})
}

func (h *Handler) BulkJobStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := h.engine.Status(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}

func (h *Handler) BulkJobResults(w http.ResponseWriter, r *http.Request) {
	results, ok := h.engine.Results(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

func (h *Handler) BulkJobPause(w http.ResponseWriter, r *http.Request) {
	h.controlJob(w, r, h.engine.Pause)
}

func (h *Handler) BulkJobResume(w http.ResponseWriter, r *http.Request) {
	h.controlJob(w, r, h.engine.Resume)
}

func (h *Handler) BulkJobStop(w http.ResponseWriter, r *http.Request) {
	h.controlJob(w, r, h.engine.Stop)
}

func (h *Handler) controlJob(w http.ResponseWriter, r *http.Request, op func(string) (bulk.Snapshot, error)) {
	snap, err := op(r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, bulk.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, bulk.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": snap})
}

func (h *Handler) BulkTemplate(w http.ResponseWriter, r *http.Request) {
	const template = "phone,message,name\n" +
		"+33612345678,\"Hello, this is a test message\",Jean Dupont\n" +
		"+33698765432,\"Second test message\",Marie Martin\n"

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=bulk_template.csv")
	_, _ = w.Write([]byte(template))
}

// --- helpers ---

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

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
