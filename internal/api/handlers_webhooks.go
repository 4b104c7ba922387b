package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shohag/hookrunner/internal/manager"
	"github.com/shohag/hookrunner/internal/models"
)

const maxPayloadSize = 256 * 1024 // 256KB

type WebhookHandler struct {
	hooks Deliveries
	log   zerolog.Logger
}

func NewWebhookHandler(hooks Deliveries, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{hooks: hooks, log: log}
}

// policyRequest takes durations as Go duration strings ("1s", "5m").
type policyRequest struct {
	MaxAttempts       int     `json:"max_attempts"`
	BaseBackoff       string  `json:"base_backoff"`
	MaxBackoff        string  `json:"max_backoff"`
	Multiplier        float64 `json:"multiplier"`
	Timeout           string  `json:"timeout"`
	Jitter            float64 `json:"jitter"`
	RetryableStatuses []int   `json:"retryable_statuses"`
}

type registerRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Policy  *policyRequest    `json:"policy"`
}

func (r registerRequest) toModel() (models.WebhookRequest, error) {
	req := models.WebhookRequest{
		URL:     r.URL,
		Method:  r.Method,
		Headers: r.Headers,
	}
	if r.Body != "" {
		req.Body = []byte(r.Body)
	}
	if r.Policy == nil {
		return req, nil
	}

	p := models.DeliveryPolicy{
		MaxAttempts:       r.Policy.MaxAttempts,
		Multiplier:        r.Policy.Multiplier,
		Jitter:            r.Policy.Jitter,
		RetryableStatuses: r.Policy.RetryableStatuses,
	}
	var err error
	if p.BaseBackoff, err = parseDuration("policy.base_backoff", r.Policy.BaseBackoff); err != nil {
		return req, err
	}
	if p.MaxBackoff, err = parseDuration("policy.max_backoff", r.Policy.MaxBackoff); err != nil {
		return req, err
	}
	if p.Timeout, err = parseDuration("policy.timeout", r.Policy.Timeout); err != nil {
		return req, err
	}
	req.Policy = p
	return req, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &models.ValidationError{Field: field, Reason: "must be a duration such as 1s or 5m"}
	}
	return d, nil
}

type attemptResponse struct {
	ID            string    `json:"id"`
	AttemptNumber int       `json:"attempt_number"`
	StartedAt     time.Time `json:"started_at"`
	Duration      string    `json:"duration"`
	Outcome       string    `json:"outcome"`
	StatusCode    int       `json:"status_code,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

func newAttemptResponse(a models.Attempt) attemptResponse {
	return attemptResponse{
		ID:            a.ID,
		AttemptNumber: a.AttemptNumber,
		StartedAt:     a.StartedAt,
		Duration:      a.Duration.String(),
		Outcome:       a.Outcome.String(),
		StatusCode:    a.StatusCode,
		Detail:        a.Detail,
	}
}

type stateResponse struct {
	ID            models.WebhookID `json:"id"`
	URL           string           `json:"url"`
	Method        string           `json:"method"`
	Status        string           `json:"status"`
	AttemptsMade  int              `json:"attempts_made"`
	MaxAttempts   int              `json:"max_attempts"`
	NextAttemptAt *time.Time       `json:"next_attempt_at,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Detail        string           `json:"detail,omitempty"`
	LastAttempt   *attemptResponse `json:"last_attempt,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func newStateResponse(st models.DeliveryState) stateResponse {
	resp := stateResponse{
		ID:            st.Webhook.ID,
		URL:           st.Webhook.Request.URL,
		Method:        st.Webhook.Request.Method,
		Status:        string(st.Status),
		AttemptsMade:  st.AttemptsMade,
		MaxAttempts:   st.Webhook.Request.Policy.MaxAttempts,
		NextAttemptAt: st.NextAttemptAt,
		Reason:        st.Reason,
		Detail:        st.Detail,
		CreatedAt:     st.Webhook.CreatedAt,
		UpdatedAt:     st.UpdatedAt,
	}
	if st.LastAttempt != nil {
		a := newAttemptResponse(*st.LastAttempt)
		resp.LastAttempt = &a
	}
	return resp
}

func (h *WebhookHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	var body registerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := body.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.hooks.Register(req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String()})
	case errors.Is(err, models.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, manager.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		h.log.Error().Err(err).Msg("failed to register webhook")
		writeError(w, http.StatusInternalServerError, "failed to register webhook")
	}
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := webhookID(w, r)
	if !ok {
		return
	}
	st, err := h.hooks.Status(id)
	if err != nil {
		h.notFoundOr500(w, err, "failed to get webhook")
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(st))
}

func (h *WebhookHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := webhookID(w, r)
	if !ok {
		return
	}
	cancelled, err := h.hooks.Cancel(id)
	if err != nil {
		h.notFoundOr500(w, err, "failed to cancel webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (h *WebhookHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id, ok := webhookID(w, r)
	if !ok {
		return
	}
	attempts, err := h.hooks.Attempts(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, err, "failed to list attempts")
		return
	}

	out := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, newAttemptResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// webhookID answers 404 for ids that cannot have been issued.
func webhookID(w http.ResponseWriter, r *http.Request) (models.WebhookID, bool) {
	id, err := models.ParseWebhookID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "webhook not found")
		return "", false
	}
	return id, true
}

func (h *WebhookHandler) notFoundOr500(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, manager.ErrNotFound) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	h.log.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}
