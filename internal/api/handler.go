// Package api exposes the read/ack surface for notification clients,
// the preference endpoints, and the local producer ingress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/event"
	"github.com/ridelogic/motonotify/internal/metrics"
	"github.com/ridelogic/motonotify/internal/notify"
	"github.com/ridelogic/motonotify/internal/store"
)

// NotificationRepository is the slice of the store the API reads and
// acks through.
type NotificationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*notify.Notification, error)
	GetByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*notify.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	GetStats(ctx context.Context, userID uuid.UUID) (*store.Stats, error)
}

// PreferenceRepository is the preference side of the store.
type PreferenceRepository interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*notify.Preference, error)
	Update(ctx context.Context, p *notify.Preference) error
}

// EventPublisher accepts producer events from the ingress endpoint.
type EventPublisher interface {
	Publish(ctx context.Context, evt event.Event)
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger        *zap.Logger
	notifications NotificationRepository
	preferences   PreferenceRepository
	bus           EventPublisher
}

// NewHandler creates a new API handler.
func NewHandler(
	logger *zap.Logger,
	notifications NotificationRepository,
	preferences PreferenceRepository,
	bus EventPublisher,
) *Handler {
	return &Handler{
		logger:        logger,
		notifications: notifications,
		preferences:   preferences,
		bus:           bus,
	}
}

// Routes mounts every endpoint on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/notifications/{id}", h.GetNotification)
		r.Post("/notifications/{id}/read", h.MarkRead)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/notifications", h.ListNotifications)
			r.Post("/notifications/read-all", h.MarkAllRead)
			r.Get("/notifications/stats", h.GetStats)
			r.Get("/preferences", h.GetPreferences)
			r.Put("/preferences", h.UpdatePreferences)
		})

		r.Post("/events", h.PublishEvent)
	})
}

// GetNotification handles GET /v1/notifications/{id}.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	n, err := h.notifications.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("id", id.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get notification", "")
		return
	}

	h.writeJSON(w, http.StatusOK, n)
}

// ListNotifications handles GET /v1/users/{userID}/notifications.
// Query parameters: unread=true to restrict to the unread view,
// limit (default 20, max 100) and offset.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "user ID must be a valid UUID")
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	notifications, err := h.notifications.GetByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	if notifications == nil {
		notifications = []*notify.Notification{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// MarkRead handles POST /v1/notifications/{id}/read. Re-reading an
// already-read notification succeeds; anything else that is not in the
// sent state is reported as not found.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	ok, err := h.notifications.MarkRead(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to mark notification read",
			zap.Error(err),
			zap.String("id", id.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to mark notification read", "")
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_readable", "Notification not readable",
			"only sent notifications can be marked read")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"id":    id.String(),
		"state": string(notify.StateRead),
	})
}

// MarkAllRead handles POST /v1/users/{userID}/notifications/read-all.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "user ID must be a valid UUID")
		return
	}

	updated, err := h.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		h.logger.Error("failed to mark all read",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to mark notifications read", "")
		return
	}

	h.logger.Info("notifications marked read",
		zap.String("user_id", userID.String()),
		zap.Int64("updated", updated),
	)

	h.writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// GetStats handles GET /v1/users/{userID}/notifications/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "user ID must be a valid UUID")
		return
	}

	stats, err := h.notifications.GetStats(ctx, userID)
	if err != nil {
		h.logger.Error("failed to get notification stats",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get stats", "")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// PreferenceRequest is the incoming body for preference updates. Quiet
// hours are wall-clock "HH:MM" strings.
type PreferenceRequest struct {
	Channels   map[string]bool   `json:"channels_enabled"`
	Categories map[string]bool   `json:"categories_enabled"`
	QuietStart *string           `json:"quiet_hours_start"`
	QuietEnd   *string           `json:"quiet_hours_end"`
	Extra      map[string]string `json:"extra"`
}

// PreferenceResponse mirrors the stored preference with quiet hours
// rendered as "HH:MM".
type PreferenceResponse struct {
	UserID     string                   `json:"user_id"`
	Channels   map[notify.Channel]bool  `json:"channels_enabled"`
	Categories map[notify.Category]bool `json:"categories_enabled"`
	QuietStart *string                  `json:"quiet_hours_start,omitempty"`
	QuietEnd   *string                  `json:"quiet_hours_end,omitempty"`
	Extra      map[string]string        `json:"extra,omitempty"`
}

func preferenceResponse(p *notify.Preference) PreferenceResponse {
	resp := PreferenceResponse{
		UserID:     p.UserID.String(),
		Channels:   p.Channels,
		Categories: p.Categories,
		Extra:      p.Extra,
	}
	if p.QuietStart != nil {
		s := p.QuietStart.String()
		resp.QuietStart = &s
	}
	if p.QuietEnd != nil {
		s := p.QuietEnd.String()
		resp.QuietEnd = &s
	}
	return resp
}

// GetPreferences handles GET /v1/users/{userID}/preferences. First
// access lazily creates the default preference.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "user ID must be a valid UUID")
		return
	}

	p, err := h.preferences.GetOrCreate(ctx, userID)
	if err != nil {
		h.logger.Error("failed to get preferences",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get preferences", "")
		return
	}

	h.writeJSON(w, http.StatusOK, preferenceResponse(p))
}

// UpdatePreferences handles PUT /v1/users/{userID}/preferences. The
// body replaces the stored preference; malformed enum keys or
// half-configured quiet hours are rejected.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "user ID must be a valid UUID")
		return
	}

	var req PreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	current, err := h.preferences.GetOrCreate(ctx, userID)
	if err != nil {
		h.logger.Error("failed to load preferences for update",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update preferences", "")
		return
	}

	p, verr := applyPreferenceRequest(current, req)
	if verr != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid preference", verr.Error())
		return
	}

	if err := h.preferences.Update(ctx, p); err != nil {
		var ve *notify.ValidationError
		if errors.As(err, &ve) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid preference", ve.Error())
			return
		}
		h.logger.Error("failed to update preferences",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update preferences", "")
		return
	}

	h.logger.Info("preferences updated",
		zap.String("user_id", userID.String()),
	)

	h.writeJSON(w, http.StatusOK, preferenceResponse(p))
}

// applyPreferenceRequest merges a request body over the stored
// preference, validating every enum key and quiet-hours string.
func applyPreferenceRequest(current *notify.Preference, req PreferenceRequest) (*notify.Preference, error) {
	p := &notify.Preference{
		UserID:     current.UserID,
		Channels:   current.Channels,
		Categories: current.Categories,
		QuietStart: current.QuietStart,
		QuietEnd:   current.QuietEnd,
		Extra:      current.Extra,
		CreatedAt:  current.CreatedAt,
		UpdatedAt:  current.UpdatedAt,
	}

	if req.Channels != nil {
		channels := make(map[notify.Channel]bool, len(req.Channels))
		for raw, enabled := range req.Channels {
			ch, err := notify.ParseChannel(raw)
			if err != nil {
				return nil, err
			}
			channels[ch] = enabled
		}
		p.Channels = channels
	}

	if req.Categories != nil {
		categories := make(map[notify.Category]bool, len(req.Categories))
		for raw, enabled := range req.Categories {
			c, err := notify.ParseCategory(raw)
			if err != nil {
				return nil, err
			}
			categories[c] = enabled
		}
		p.Categories = categories
	}

	if (req.QuietStart == nil) != (req.QuietEnd == nil) {
		return nil, &notify.ValidationError{Field: "quiet_hours", Value: "", Reason: "start and end must be set together"}
	}
	if req.QuietStart != nil {
		start, err := notify.ParseTimeOfDay(*req.QuietStart)
		if err != nil {
			return nil, err
		}
		end, err := notify.ParseTimeOfDay(*req.QuietEnd)
		if err != nil {
			return nil, err
		}
		p.QuietStart = &start
		p.QuietEnd = &end
	} else {
		p.QuietStart = nil
		p.QuietEnd = nil
	}

	if req.Extra != nil {
		p.Extra = req.Extra
	}

	return p, nil
}

// EventRequest is the producer ingress body.
type EventRequest struct {
	Type    string            `json:"type"`
	Payload map[string]string `json:"payload"`
}

// PublishEvent handles POST /v1/events. In-process producer
// subsystems running elsewhere in the monolith post their domain
// events here; accepted events are handed to the bus and processed
// asynchronously.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	t := event.Type(req.Type)
	if !t.Valid() || t == event.TypeDeliveryFailed {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unknown event type",
			"type must be a producer event type")
		return
	}

	evt := event.New(t, req.Payload)
	h.bus.Publish(r.Context(), evt)
	metrics.RecordEventPublished(req.Type)

	h.logger.Info("event accepted",
		zap.String("event_type", req.Type),
		zap.String("correlation_id", evt.CorrelationID.String()),
	)

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"correlation_id": evt.CorrelationID.String(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
