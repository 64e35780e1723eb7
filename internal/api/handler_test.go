package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/event"
	"github.com/ridelogic/motonotify/internal/metrics"
	"github.com/ridelogic/motonotify/internal/notify"
	"github.com/ridelogic/motonotify/internal/store"
)

var errDatabase = errors.New("database error")

// mockNotifications is a fake notification store for handler tests.
type mockNotifications struct {
	notifications map[uuid.UUID]*notify.Notification
	stats         *store.Stats
	shouldFail    bool
}

func newMockNotifications() *mockNotifications {
	return &mockNotifications{
		notifications: make(map[uuid.UUID]*notify.Notification),
	}
}

func (m *mockNotifications) GetByID(ctx context.Context, id uuid.UUID) (*notify.Notification, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	n, ok := m.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return n, nil
}

func (m *mockNotifications) GetByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*notify.Notification, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	var out []*notify.Notification
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.State != notify.StatePending && n.State != notify.StateSent {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *mockNotifications) MarkRead(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.shouldFail {
		return false, errDatabase
	}
	n, ok := m.notifications[id]
	if !ok {
		return false, store.ErrNotFound
	}
	return n.MarkRead(time.Now()), nil
}

func (m *mockNotifications) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if m.shouldFail {
		return 0, errDatabase
	}
	var updated int64
	for _, n := range m.notifications {
		if n.UserID == userID && n.State == notify.StateSent {
			n.MarkRead(time.Now())
			updated++
		}
	}
	return updated, nil
}

func (m *mockNotifications) GetStats(ctx context.Context, userID uuid.UUID) (*store.Stats, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	return m.stats, nil
}

// mockPreferences is a fake preference store.
type mockPreferences struct {
	prefs      map[uuid.UUID]*notify.Preference
	shouldFail bool
}

func newMockPreferences() *mockPreferences {
	return &mockPreferences{prefs: make(map[uuid.UUID]*notify.Preference)}
}

func (m *mockPreferences) GetOrCreate(ctx context.Context, userID uuid.UUID) (*notify.Preference, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	if p, ok := m.prefs[userID]; ok {
		return p, nil
	}
	p := notify.DefaultPreference(userID)
	m.prefs[userID] = p
	return p, nil
}

func (m *mockPreferences) Update(ctx context.Context, p *notify.Preference) error {
	if m.shouldFail {
		return errDatabase
	}
	if err := p.Validate(); err != nil {
		return err
	}
	m.prefs[p.UserID] = p
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *recordingBus) Publish(ctx context.Context, evt event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func newTestRouter(notifications *mockNotifications, preferences *mockPreferences, bus *recordingBus) chi.Router {
	h := NewHandler(zap.NewNop(), notifications, preferences, bus)
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func sentNotification(t *testing.T, userID uuid.UUID) *notify.Notification {
	t.Helper()
	n, err := notify.New(userID, "Oil change due", "Your SV650 is due for an oil change", notify.CategoryWarning, notify.ChannelInApp, nil)
	if err != nil {
		t.Fatalf("new notification: %v", err)
	}
	if err := n.MarkSent(time.Now()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	return n
}

func TestGetNotification(t *testing.T) {
	notifications := newMockNotifications()
	userID := uuid.New()
	n := sentNotification(t, userID)
	notifications.notifications[n.ID] = n

	router := newTestRouter(notifications, newMockPreferences(), &recordingBus{})

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"found", "/v1/notifications/" + n.ID.String(), http.StatusOK},
		{"unknown id", "/v1/notifications/" + uuid.NewString(), http.StatusNotFound},
		{"malformed id", "/v1/notifications/not-a-uuid", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestListNotificationsUnreadFilter(t *testing.T) {
	notifications := newMockNotifications()
	userID := uuid.New()

	unread := sentNotification(t, userID)
	notifications.notifications[unread.ID] = unread

	read := sentNotification(t, userID)
	read.MarkRead(time.Now())
	notifications.notifications[read.ID] = read

	router := newTestRouter(notifications, newMockPreferences(), &recordingBus{})

	req := httptest.NewRequest(http.MethodGet, "/v1/users/"+userID.String()+"/notifications?unread=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
}

func TestMarkRead(t *testing.T) {
	notifications := newMockNotifications()
	userID := uuid.New()

	sent := sentNotification(t, userID)
	notifications.notifications[sent.ID] = sent

	pending, err := notify.New(userID, "Chain check", "Inspect chain tension", notify.CategoryInfo, notify.ChannelInApp, nil)
	if err != nil {
		t.Fatalf("new notification: %v", err)
	}
	notifications.notifications[pending.ID] = pending

	router := newTestRouter(notifications, newMockPreferences(), &recordingBus{})

	// Sent notification becomes read.
	req := httptest.NewRequest(http.MethodPost, "/v1/notifications/"+sent.ID.String()+"/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read status = %d, want 200", rec.Code)
	}
	if sent.State != notify.StateRead {
		t.Errorf("state = %s, want read", sent.State)
	}

	// Re-reading succeeds.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/notifications/"+sent.ID.String()+"/read", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("second mark read status = %d, want 200", rec.Code)
	}

	// Pending notification is not readable.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/notifications/"+pending.ID.String()+"/read", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pending mark read status = %d, want 404", rec.Code)
	}
	if pending.State != notify.StatePending {
		t.Errorf("pending state mutated to %s", pending.State)
	}
}

func TestMarkAllRead(t *testing.T) {
	notifications := newMockNotifications()
	userID := uuid.New()
	for i := 0; i < 3; i++ {
		n := sentNotification(t, userID)
		notifications.notifications[n.ID] = n
	}

	router := newTestRouter(notifications, newMockPreferences(), &recordingBus{})

	req := httptest.NewRequest(http.MethodPost, "/v1/users/"+userID.String()+"/notifications/read-all", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Updated int64 `json:"updated"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Updated != 3 {
		t.Errorf("updated = %d, want 3", resp.Updated)
	}
}

func TestGetPreferencesCreatesDefaults(t *testing.T) {
	preferences := newMockPreferences()
	router := newTestRouter(newMockNotifications(), preferences, &recordingBus{})

	userID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/users/"+userID.String()+"/preferences", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp PreferenceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Channels[notify.ChannelInApp] {
		t.Error("default preference should enable in_app")
	}
	if resp.Channels[notify.ChannelEmail] {
		t.Error("default preference should disable email")
	}
	if resp.QuietStart != nil {
		t.Error("default preference should have no quiet hours")
	}
}

func TestUpdatePreferences(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "enable email with quiet hours",
			body:       `{"channels_enabled":{"in_app":true,"email":true},"quiet_hours_start":"22:00","quiet_hours_end":"07:00"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown channel key",
			body:       `{"channels_enabled":{"carrier_pigeon":true}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown category key",
			body:       `{"categories_enabled":{"gossip":false}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "quiet start without end",
			body:       `{"quiet_hours_start":"22:00"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed quiet hours",
			body:       `{"quiet_hours_start":"25:99","quiet_hours_end":"07:00"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(newMockNotifications(), newMockPreferences(), &recordingBus{})

			req := httptest.NewRequest(http.MethodPut, "/v1/users/"+userID.String()+"/preferences", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestUpdatePreferencesRoundTrip(t *testing.T) {
	preferences := newMockPreferences()
	router := newTestRouter(newMockNotifications(), preferences, &recordingBus{})

	userID := uuid.New()
	body := `{"channels_enabled":{"in_app":true,"push":true},"quiet_hours_start":"23:00","quiet_hours_end":"06:30","extra":{"push_token":"tok-123"}}`

	req := httptest.NewRequest(http.MethodPut, "/v1/users/"+userID.String()+"/preferences", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}

	stored := preferences.prefs[userID]
	if stored == nil {
		t.Fatal("preference not stored")
	}
	if !stored.Channels[notify.ChannelPush] {
		t.Error("push channel not enabled")
	}
	if stored.QuietStart == nil || stored.QuietStart.String() != "23:00" {
		t.Errorf("quiet start = %v", stored.QuietStart)
	}
	if stored.QuietEnd == nil || stored.QuietEnd.String() != "06:30" {
		t.Errorf("quiet end = %v", stored.QuietEnd)
	}
	if stored.Extra["push_token"] != "tok-123" {
		t.Errorf("extra = %v", stored.Extra)
	}
}

func TestPublishEvent(t *testing.T) {
	userID := uuid.NewString()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantEvents int
	}{
		{
			name:       "valid producer event",
			body:       `{"type":"maintenance.due","payload":{"user_id":"` + userID + `","entity_type":"maintenance_record","entity_id":"7"}}`,
			wantStatus: http.StatusAccepted,
			wantEvents: 1,
		},
		{
			name:       "unknown type",
			body:       `{"type":"maintenance.cancelled","payload":{}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "internal type rejected",
			body:       `{"type":"notification.delivery_failed","payload":{}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"type":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &recordingBus{}
			router := newTestRouter(newMockNotifications(), newMockPreferences(), bus)

			req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if len(bus.events) != tt.wantEvents {
				t.Fatalf("published %d events, want %d", len(bus.events), tt.wantEvents)
			}
			if tt.wantEvents == 1 {
				if bus.events[0].Type != event.TypeMaintenanceDue {
					t.Errorf("event type = %s", bus.events[0].Type)
				}
				if got := bus.events[0].Payload[event.KeyUserID]; got != userID {
					t.Errorf("user_id = %s, want %s", got, userID)
				}
			}
		})
	}
}

func TestPublishEventCountsPublishedMetric(t *testing.T) {
	bus := &recordingBus{}
	router := newTestRouter(newMockNotifications(), newMockPreferences(), bus)

	body := `{"type":"sensor.anomaly","payload":{"user_id":"` + uuid.NewString() + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	scrape := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(scrape.Body.String(), `motonotify_events_published_total{event_type="sensor.anomaly"}`) {
		t.Error("published event not counted in motonotify_events_published_total")
	}
}

func TestPublishEventHandlerOutlivesRequest(t *testing.T) {
	bus := event.NewBus(zap.NewNop())

	var ctxErr atomic.Value
	bus.Subscribe(event.TypeMaintenanceOverdue, func(ctx context.Context, evt event.Event) {
		time.Sleep(50 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
	})

	h := NewHandler(zap.NewNop(), newMockNotifications(), newMockPreferences(), bus)
	router := chi.NewRouter()
	h.Routes(router)

	body := `{"type":"maintenance.overdue","payload":{"user_id":"` + uuid.NewString() + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// The handler must not inherit the request's cancellation; an
	// accepted event has to survive the response being written.
	if err := ctxErr.Load(); err != nil {
		t.Fatalf("handler context error after 202 response: %v", err)
	}
}

func TestDatabaseErrorsMapTo500(t *testing.T) {
	notifications := newMockNotifications()
	notifications.shouldFail = true
	router := newTestRouter(notifications, newMockPreferences(), &recordingBus{})

	req := httptest.NewRequest(http.MethodGet, "/v1/users/"+uuid.NewString()+"/notifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %s", ct)
	}
}
