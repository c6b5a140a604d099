// Package api provides HTTP handlers for the dbqueue server REST API.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coregx/dbqueue"
	"github.com/coregx/dbqueue/cmd/dbqueue-server/internal/metrics"
	"github.com/coregx/dbqueue/model"
)

// maxListLimit bounds GET /v1/messages.
const maxListLimit = 1000

// Handler holds dependencies for API handlers.
type Handler struct {
	transport *dbqueue.Transport
	store     dbqueue.StatsStore
	cfg       dbqueue.Configuration
	logger    dbqueue.Logger
}

// NewHandler creates a new API handler.
// The transport must be built on store with a dbqueue.RawJSONSerializer.
func NewHandler(
	transport *dbqueue.Transport,
	store dbqueue.StatsStore,
	cfg dbqueue.Configuration,
	logger dbqueue.Logger,
) *Handler {
	return &Handler{
		transport: transport,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
}

// Routes returns the HTTP router of the API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", h.HandleSend)
		r.Get("/messages", h.HandleList)
		r.Delete("/messages", h.HandlePurge)
		r.Post("/messages:receive", h.HandleReceive)
		r.Get("/messages/{id}", h.HandleFind)
		r.Post("/messages/{id}:ack", h.HandleAck)
		r.Post("/messages/{id}:reject", h.HandleReject)
		r.Get("/stats", h.HandleStats)
		r.Post("/setup", h.HandleSetup)
	})

	return r
}

// SendRequest represents a send message request.
type SendRequest struct {
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
	DelayMS int64             `json:"delayMs,omitempty"`
}

// Validate implements validation.Validatable.
func (r SendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Body, validation.Required),
		validation.Field(&r.Headers, validation.Each(validation.Length(0, 4096))),
		validation.Field(&r.DelayMS, validation.Min(int64(0)), validation.Max(int64(7*24*time.Hour/time.Millisecond))),
	)
}

// MessageResponse is the API form of a queued message.
type MessageResponse struct {
	ID      int64             `json:"id"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandleSend handles POST /v1/messages
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}
	if err := req.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), dbqueue.ErrCodeValidation)
		return
	}

	env := model.NewEnvelope(req.Body).WithDelay(time.Duration(req.DelayMS) * time.Millisecond)
	for k, v := range req.Headers {
		env.Headers[k] = v
	}

	sent, err := h.transport.Send(r.Context(), env)
	if err != nil {
		h.respondQueueError(w, "send", err)
		return
	}

	metrics.MessagesSent.WithLabelValues(h.cfg.QueueName).Inc()
	h.respondSuccess(w, http.StatusCreated, map[string]int64{"id": sent.TransportID}, "Message sent")
}

// HandleReceive handles POST /v1/messages:receive
//
// Responds with a list of at most one claimed message. An undecodable message
// is rejected and reported with 422.
func (h *Handler) HandleReceive(w http.ResponseWriter, r *http.Request) {
	envs, err := h.transport.Get(r.Context())
	if err != nil {
		if dbqueue.IsCode(err, dbqueue.ErrCodeDecode) {
			metrics.PoisonMessages.WithLabelValues(h.cfg.QueueName).Inc()
		}
		h.respondQueueError(w, "receive", err)
		return
	}

	out := make([]MessageResponse, 0, len(envs))
	for _, env := range envs {
		out = append(out, toResponse(env))
	}

	metrics.MessagesReceived.WithLabelValues(h.cfg.QueueName).Add(float64(len(out)))
	h.respondSuccess(w, http.StatusOK, out, "")
}

// HandleAck handles POST /v1/messages/{id}:ack
func (h *Handler) HandleAck(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.transport.Ack(r.Context(), &model.Envelope{TransportID: id}); err != nil {
		h.respondQueueError(w, "ack", err)
		return
	}

	metrics.MessagesAcked.WithLabelValues(h.cfg.QueueName).Inc()
	h.respondSuccess(w, http.StatusOK, nil, "Message acknowledged")
}

// HandleReject handles POST /v1/messages/{id}:reject
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.transport.Reject(r.Context(), &model.Envelope{TransportID: id}); err != nil {
		h.respondQueueError(w, "reject", err)
		return
	}

	metrics.MessagesRejected.WithLabelValues(h.cfg.QueueName).Inc()
	h.respondSuccess(w, http.StatusOK, nil, "Message rejected")
}

// HandleList handles GET /v1/messages?limit=n
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err == nil {
			err = validation.Validate(n, validation.Min(1), validation.Max(maxListLimit))
		}
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000", dbqueue.ErrCodeValidation)
			return
		}
		limit = n
	}

	envs, err := h.transport.All(r.Context(), limit)
	if err != nil {
		h.respondQueueError(w, "list", err)
		return
	}

	out := make([]MessageResponse, 0, len(envs))
	for _, env := range envs {
		out = append(out, toResponse(env))
	}
	h.respondSuccess(w, http.StatusOK, out, "")
}

// HandleFind handles GET /v1/messages/{id}
func (h *Handler) HandleFind(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	env, err := h.transport.Find(r.Context(), id)
	if err != nil {
		h.respondQueueError(w, "find", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, toResponse(env), "")
}

// HandlePurge handles DELETE /v1/messages
func (h *Handler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Purge(r.Context())
	if err != nil {
		h.respondQueueError(w, "purge", err)
		return
	}

	h.logger.Warnf("Purged %d message(s) from queue %s via API", n, h.cfg.QueueName)
	h.respondSuccess(w, http.StatusOK, map[string]int{"purged": n}, "")
}

// HandleStats handles GET /v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	n, err := h.transport.MessageCount(r.Context())
	if err != nil {
		h.respondQueueError(w, "stats", err)
		return
	}

	h.respondSuccess(w, http.StatusOK, map[string]interface{}{
		"queue":            h.cfg.QueueName,
		"table":            h.cfg.TableName,
		"messageCount":     n,
		"redeliverTimeout": h.cfg.RedeliverTimeout.Seconds(),
		"autoSetup":        h.cfg.AutoSetup,
	}, "")
}

// HandleSetup handles POST /v1/setup
func (h *Handler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	if err := h.transport.Setup(r.Context()); err != nil {
		h.respondQueueError(w, "setup", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, nil, "Table is set up")
}

// HandleHealth handles GET /healthz
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	h.respondSuccess(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}, "")
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "Invalid message ID", "INVALID_ID")
		return 0, false
	}
	return id, true
}

// respondQueueError maps a dbqueue error to an HTTP status.
func (h *Handler) respondQueueError(w http.ResponseWriter, op string, err error) {
	switch {
	case dbqueue.IsNoData(err):
		h.respondError(w, http.StatusNotFound, "Message not found", dbqueue.ErrCodeNoData)
	case dbqueue.IsCode(err, dbqueue.ErrCodeValidation):
		h.respondError(w, http.StatusBadRequest, err.Error(), dbqueue.ErrCodeValidation)
	case dbqueue.IsCode(err, dbqueue.ErrCodeDecode):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), dbqueue.ErrCodeDecode)
	default:
		metrics.TransportErrors.WithLabelValues(op).Inc()
		h.logger.Errorf("Failed to %s: %v", op, err)
		h.respondError(w, http.StatusInternalServerError, "Failed to "+op, dbqueue.ErrCodeTransport)
	}
}

func toResponse(env *model.Envelope) MessageResponse {
	body, _ := env.Message.(json.RawMessage)
	return MessageResponse{ID: env.TransportID, Body: body, Headers: env.Headers}
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}
