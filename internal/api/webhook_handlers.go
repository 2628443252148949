package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/api/helpers"
	customMiddleware "github.com/wardline/authcore/internal/api/middleware"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/storage"
)

type webhookResponse struct {
	ID            uuid.UUID `json:"id"`
	TargetURL     string    `json:"target_url"`
	EventPatterns []string  `json:"event_patterns"`
	Active        bool      `json:"active"`
	Secret        string    `json:"secret,omitempty"`
}

func toWebhookResponse(w *domain.Webhook, includeSecret bool) webhookResponse {
	resp := webhookResponse{
		ID:            w.ID,
		TargetURL:     w.TargetURL,
		EventPatterns: w.EventPatterns,
		Active:        w.Active,
	}
	if includeSecret {
		resp.Secret = w.Secret
	}
	return resp
}

func generateWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type createWebhookRequest struct {
	TargetURL     string   `json:"target_url"`
	EventPatterns []string `json:"event_patterns"`
}

// CreateWebhook registers a subscriber endpoint. The secret is generated
// server-side and returned exactly once, in this response: it is never
// readable again afterward, same as an API key.
func (s *Server) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createWebhookRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetURL == "" || len(req.EventPatterns) == 0 {
		helpers.RespondError(w, http.StatusBadRequest, "target_url and event_patterns required")
		return
	}

	secret, err := generateWebhookSecret()
	if err != nil {
		s.Logger.Error("webhook secret generation failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := nowUTC()
	hook := &domain.Webhook{
		ID:                   uuid.New(),
		OwnerUserID:          userID,
		TargetURL:            req.TargetURL,
		Secret:               secret,
		EventPatterns:        req.EventPatterns,
		Active:               true,
		AutoDisableThreshold: domain.DefaultAutoDisableThreshold,
		Retry:                domain.DefaultRetryPolicy(),
		Timeout:              domain.DefaultWebhookTimeout,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.webhooks.Create(r.Context(), hook); err != nil {
		s.Logger.Error("create webhook failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, toWebhookResponse(hook, true))
}

func (s *Server) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	hooks, err := s.webhooks.ListByOwner(r.Context(), userID)
	if err != nil {
		s.Logger.Error("list webhooks failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]webhookResponse, 0, len(hooks))
	for i := range hooks {
		out = append(out, toWebhookResponse(&hooks[i], false))
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}

type updateWebhookRequest struct {
	TargetURL     *string   `json:"target_url"`
	EventPatterns *[]string `json:"event_patterns"`
	Active        *bool     `json:"active"`
}

func (s *Server) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(chiURLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid webhook id")
		return
	}

	hook, err := s.webhooks.GetByID(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			helpers.RespondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.Logger.Error("load webhook failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if hook.OwnerUserID != userID {
		helpers.RespondError(w, http.StatusNotFound, "webhook not found")
		return
	}

	var req updateWebhookRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetURL != nil {
		hook.TargetURL = *req.TargetURL
	}
	if req.EventPatterns != nil {
		hook.EventPatterns = *req.EventPatterns
	}
	if req.Active != nil {
		hook.Active = *req.Active
	}

	if err := s.webhooks.Update(r.Context(), hook); err != nil {
		s.Logger.Error("update webhook failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, toWebhookResponse(hook, false))
}

func (s *Server) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(chiURLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid webhook id")
		return
	}

	hook, err := s.webhooks.GetByID(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			helpers.RespondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if hook.OwnerUserID != userID {
		helpers.RespondError(w, http.StatusNotFound, "webhook not found")
		return
	}

	if err := s.webhooks.Delete(r.Context(), id); err != nil {
		s.Logger.Error("delete webhook failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deliveryResponse struct {
	ID            uuid.UUID `json:"id"`
	EventID       uuid.UUID `json:"event_id"`
	Status        string    `json:"status"`
	HTTPStatus    int       `json:"http_status,omitempty"`
	AttemptNumber int       `json:"attempt_number"`
	ScheduledFor  string    `json:"scheduled_for"`
}

// WebhookEvents returns the delivery history for a webhook, most recent
// first, so a subscriber can diagnose why their endpoint stopped receiving
// events without needing database access.
func (s *Server) WebhookEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(chiURLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid webhook id")
		return
	}

	hook, err := s.webhooks.GetByID(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			helpers.RespondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if hook.OwnerUserID != userID {
		helpers.RespondError(w, http.StatusNotFound, "webhook not found")
		return
	}

	deliveries, err := s.deliveries.ListByWebhook(r.Context(), id, 100)
	if err != nil {
		s.Logger.Error("list webhook deliveries failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, deliveryResponse{
			ID:            d.ID,
			EventID:       d.EventID,
			Status:        string(d.Status),
			HTTPStatus:    d.HTTPStatus,
			AttemptNumber: d.AttemptNumber,
			ScheduledFor:  d.ScheduledFor.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}
