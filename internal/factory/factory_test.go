package factory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/event"
	"github.com/ridelogic/motonotify/internal/notify"
)

type mockNotificationRepo struct {
	mu      sync.Mutex
	created []*notify.Notification
	fail    bool
}

func (m *mockNotificationRepo) CreateMany(ctx context.Context, notifications []*notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database error")
	}
	m.created = append(m.created, notifications...)
	return nil
}

func (m *mockNotificationRepo) all() []*notify.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*notify.Notification(nil), m.created...)
}

type mockPreferenceRepo struct {
	mu    sync.Mutex
	prefs map[uuid.UUID]*notify.Preference
	calls int
}

func newMockPreferenceRepo() *mockPreferenceRepo {
	return &mockPreferenceRepo{prefs: make(map[uuid.UUID]*notify.Preference)}
}

func (m *mockPreferenceRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (*notify.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if p, ok := m.prefs[userID]; ok {
		return p, nil
	}
	p := notify.DefaultPreference(userID)
	m.prefs[userID] = p
	return p, nil
}

func (m *mockPreferenceRepo) set(p *notify.Preference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.UserID] = p
}

// fixedFactory pins the factory clock to hour:minute on an arbitrary day.
func fixedFactory(repo *mockNotificationRepo, prefs *mockPreferenceRepo, hour, minute int) *Factory {
	f := New(repo, prefs, zap.NewNop())
	f.now = func() time.Time {
		return time.Date(2026, 3, 14, hour, minute, 0, 0, time.UTC)
	}
	return f
}

func quiet(t *testing.T, s string) *notify.TimeOfDay {
	t.Helper()
	tod, err := notify.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%s): %v", s, err)
	}
	return &tod
}

func overdueEvent(userID uuid.UUID) event.Event {
	return event.New(event.TypeMaintenanceOverdue, map[string]string{
		event.KeyUserID:     userID.String(),
		event.KeyEntityType: "maintenance",
		event.KeyEntityID:   uuid.NewString(),
		event.KeyDetail:     "oil change 500 km overdue",
	})
}

func TestHandle_FanOutRespectsChannels(t *testing.T) {
	// User with in_app enabled, email disabled, quiet hours 23:00-07:00,
	// event arriving at 10:00: exactly one in_app notification.
	userID := uuid.New()
	repo := &mockNotificationRepo{}
	prefs := newMockPreferenceRepo()

	pref := notify.DefaultPreference(userID)
	pref.Channels[notify.ChannelEmail] = false
	pref.QuietStart = quiet(t, "23:00")
	pref.QuietEnd = quiet(t, "07:00")
	prefs.set(pref)

	f := fixedFactory(repo, prefs, 10, 0)
	f.Handle(context.Background(), overdueEvent(userID))

	created := repo.all()
	if len(created) != 1 {
		t.Fatalf("created %d notifications, want 1", len(created))
	}
	n := created[0]
	if n.Channel != notify.ChannelInApp {
		t.Errorf("channel = %s, want in_app", n.Channel)
	}
	if n.State != notify.StatePending {
		t.Errorf("state = %s, want pending", n.State)
	}
	if n.Category != notify.CategoryAlert {
		t.Errorf("category = %s, want alert", n.Category)
	}
	if n.UserID != userID {
		t.Errorf("user = %s, want %s", n.UserID, userID)
	}
	if n.Ref == nil || n.Ref.Type != "maintenance" {
		t.Errorf("ref = %+v, want maintenance ref", n.Ref)
	}
}

func TestHandle_QuietHoursCreatesNothing(t *testing.T) {
	// Same event at 23:30: zero rows, not created-then-discarded.
	userID := uuid.New()
	repo := &mockNotificationRepo{}
	prefs := newMockPreferenceRepo()

	pref := notify.DefaultPreference(userID)
	pref.QuietStart = quiet(t, "23:00")
	pref.QuietEnd = quiet(t, "07:00")
	prefs.set(pref)

	f := fixedFactory(repo, prefs, 23, 30)
	f.Handle(context.Background(), overdueEvent(userID))

	if got := repo.all(); len(got) != 0 {
		t.Errorf("created %d notifications during quiet hours, want 0", len(got))
	}
}

func TestHandle_MultipleEnabledChannels(t *testing.T) {
	userID := uuid.New()
	repo := &mockNotificationRepo{}
	prefs := newMockPreferenceRepo()

	pref := notify.DefaultPreference(userID)
	pref.Channels[notify.ChannelEmail] = true
	pref.Channels[notify.ChannelPush] = true
	prefs.set(pref)

	f := fixedFactory(repo, prefs, 12, 0)
	f.Handle(context.Background(), overdueEvent(userID))

	created := repo.all()
	if len(created) != 3 {
		t.Fatalf("created %d notifications, want 3 (in_app, email, push)", len(created))
	}
	seen := make(map[notify.Channel]bool)
	for _, n := range created {
		seen[n.Channel] = true
	}
	for _, ch := range []notify.Channel{notify.ChannelInApp, notify.ChannelEmail, notify.ChannelPush} {
		if !seen[ch] {
			t.Errorf("missing notification for channel %s", ch)
		}
	}
}

func TestHandle_CategoryDisabled(t *testing.T) {
	userID := uuid.New()
	repo := &mockNotificationRepo{}
	prefs := newMockPreferenceRepo()

	pref := notify.DefaultPreference(userID)
	pref.Categories[notify.CategoryInfo] = false
	prefs.set(pref)

	f := fixedFactory(repo, prefs, 12, 0)
	f.Handle(context.Background(), event.New(event.TypeChatbotFeedback, map[string]string{
		event.KeyUserID: userID.String(),
		event.KeyDetail: "your last ride summary is ready",
	}))

	if got := repo.all(); len(got) != 0 {
		t.Errorf("created %d notifications for a disabled category, want 0", len(got))
	}
}

func TestHandle_LazyPreferenceDefaults(t *testing.T) {
	// First-seen user gets the documented defaults: in_app only.
	userID := uuid.New()
	repo := &mockNotificationRepo{}
	prefs := newMockPreferenceRepo()

	f := fixedFactory(repo, prefs, 12, 0)
	f.Handle(context.Background(), overdueEvent(userID))

	created := repo.all()
	if len(created) != 1 || created[0].Channel != notify.ChannelInApp {
		t.Fatalf("defaults should yield one in_app notification, got %v", created)
	}
	if prefs.calls != 1 {
		t.Errorf("preference lookups = %d, want 1", prefs.calls)
	}
}

func TestHandle_EventWithoutUserCreatesNothing(t *testing.T) {
	repo := &mockNotificationRepo{}
	prefs := newMockPreferenceRepo()

	f := fixedFactory(repo, prefs, 12, 0)
	f.Handle(context.Background(), event.New(event.TypeSensorAnomaly, map[string]string{
		event.KeyDetail: "orphan reading",
	}))

	if got := repo.all(); len(got) != 0 {
		t.Errorf("created %d notifications without a recipient, want 0", len(got))
	}
}

func TestHandle_IntentMapping(t *testing.T) {
	tests := []struct {
		eventType event.Type
		category  notify.Category
	}{
		{event.TypeMaintenanceDue, notify.CategoryWarning},
		{event.TypeMaintenanceOverdue, notify.CategoryAlert},
		{event.TypeMaintenanceCompleted, notify.CategorySuccess},
		{event.TypeFaultPredicted, notify.CategoryAlert},
		{event.TypeSensorAnomaly, notify.CategoryWarning},
		{event.TypeChatbotFeedback, notify.CategoryInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			userID := uuid.New()
			repo := &mockNotificationRepo{}
			prefs := newMockPreferenceRepo()

			f := fixedFactory(repo, prefs, 12, 0)
			f.Handle(context.Background(), event.New(tt.eventType, map[string]string{
				event.KeyUserID: userID.String(),
			}))

			created := repo.all()
			if len(created) != 1 {
				t.Fatalf("created %d notifications, want 1", len(created))
			}
			if created[0].Category != tt.category {
				t.Errorf("category = %s, want %s", created[0].Category, tt.category)
			}
			if created[0].Title == "" || created[0].Message == "" {
				t.Error("intent produced empty title or message")
			}
		})
	}
}

func TestSubscribeAll_EndToEnd(t *testing.T) {
	userID := uuid.New()
	repo := &mockNotificationRepo{}
	prefs := newMockPreferenceRepo()

	f := fixedFactory(repo, prefs, 12, 0)
	bus := event.NewBus(zap.NewNop())
	subs := f.SubscribeAll(bus, event.Validation(zap.NewNop(), []string{event.KeyUserID}, nil))
	if len(subs) != len(ProducerEventTypes()) {
		t.Fatalf("subscriptions = %d, want %d", len(subs), len(ProducerEventTypes()))
	}

	bus.Publish(context.Background(), overdueEvent(userID))
	// Event without a user id is dropped by the validation stage.
	bus.Publish(context.Background(), event.New(event.TypeSensorAnomaly, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if got := repo.all(); len(got) != 1 {
		t.Errorf("created %d notifications, want 1", len(got))
	}
}
