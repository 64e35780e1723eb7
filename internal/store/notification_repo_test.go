package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ridelogic/motonotify/internal/notify"
)

// fakeRow replays one row of column values into Scan destinations.
type fakeRow struct {
	vals []any
}

func (f *fakeRow) Scan(dest ...any) error {
	if len(dest) != len(f.vals) {
		return fmt.Errorf("scan arity %d, want %d", len(dest), len(f.vals))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *uuid.UUID:
			*p = f.vals[i].(uuid.UUID)
		case *string:
			*p = f.vals[i].(string)
		case **string:
			if f.vals[i] == nil {
				*p = nil
			} else {
				s := f.vals[i].(string)
				*p = &s
			}
		case *int:
			*p = f.vals[i].(int)
		case *time.Time:
			*p = f.vals[i].(time.Time)
		case **time.Time:
			if f.vals[i] == nil {
				*p = nil
			} else {
				ts := f.vals[i].(time.Time)
				*p = &ts
			}
		default:
			return fmt.Errorf("unexpected scan destination %T", d)
		}
	}
	return nil
}

func notificationRow(category, channel, state string) *fakeRow {
	now := time.Now().UTC()
	return &fakeRow{vals: []any{
		uuid.New(),            // id
		uuid.New(),            // user_id
		"Oil change due",      // title
		"Book a service slot", // message
		category,
		channel,
		state,
		"maintenance_record", // ref_type
		"42",                 // ref_id
		1,                    // attempts
		nil,                  // last_error
		now,                  // next_attempt_at
		now,                  // created_at
		now,                  // sent_at
		nil,                  // read_at
	}}
}

func TestScanNotificationValidRow(t *testing.T) {
	n, err := scanNotification(notificationRow("warning", "email", "sent"))
	if err != nil {
		t.Fatalf("scanNotification: %v", err)
	}

	if n.Category != notify.CategoryWarning {
		t.Errorf("category = %s, want warning", n.Category)
	}
	if n.Channel != notify.ChannelEmail {
		t.Errorf("channel = %s, want email", n.Channel)
	}
	if n.State != notify.StateSent {
		t.Errorf("state = %s, want sent", n.State)
	}
	if n.Ref == nil || n.Ref.Type != "maintenance_record" || n.Ref.ID != "42" {
		t.Errorf("ref = %+v", n.Ref)
	}
	if n.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", n.Attempts)
	}
}

func TestScanNotificationRejectsCorruptEnums(t *testing.T) {
	tests := []struct {
		name     string
		category string
		channel  string
		state    string
	}{
		{"unknown state", "warning", "email", "enqueued"},
		{"unknown channel", "warning", "fax", "sent"},
		{"unknown category", "urgent", "email", "sent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := scanNotification(notificationRow(tt.category, tt.channel, tt.state)); err == nil {
				t.Fatal("expected error for corrupt row")
			}
		})
	}
}
