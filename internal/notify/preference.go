package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h). Malformed input is rejected,
// never coerced.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, &ValidationError{Field: "time_of_day", Value: s, Reason: "want HH:MM"}
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, &ValidationError{Field: "time_of_day", Value: s, Reason: "hour out of range"}
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, &ValidationError{Field: "time_of_day", Value: s, Reason: "minute out of range"}
	}
	return TimeOfDay(h*60 + m), nil
}

// At extracts the time-of-day from a timestamp.
func At(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Preference is one user's notification configuration. Absent channel
// entries default to disabled; absent category entries default to
// enabled. Quiet hours are set both-or-neither.
type Preference struct {
	UserID     uuid.UUID         `json:"user_id"`
	Channels   map[Channel]bool  `json:"channels_enabled"`
	Categories map[Category]bool `json:"categories_enabled"`
	QuietStart *TimeOfDay        `json:"quiet_hours_start,omitempty"`
	QuietEnd   *TimeOfDay        `json:"quiet_hours_end,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// DefaultPreference is what a user gets on first access: in-app only,
// every category enabled, no quiet hours.
func DefaultPreference(userID uuid.UUID) *Preference {
	channels := map[Channel]bool{
		ChannelInApp: true,
		ChannelEmail: false,
		ChannelPush:  false,
		ChannelSMS:   false,
	}
	categories := make(map[Category]bool, len(Categories()))
	for _, c := range Categories() {
		categories[c] = true
	}
	now := time.Now().UTC()
	return &Preference{
		UserID:     userID,
		Channels:   channels,
		Categories: categories,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate rejects half-configured quiet hours and unknown enum keys.
func (p *Preference) Validate() error {
	if p.UserID == uuid.Nil {
		return &ValidationError{Field: "user_id", Value: "", Reason: "required"}
	}
	if (p.QuietStart == nil) != (p.QuietEnd == nil) {
		return &ValidationError{Field: "quiet_hours", Value: "", Reason: "start and end must be set together"}
	}
	for ch := range p.Channels {
		if !ch.Valid() {
			return &ValidationError{Field: "channels_enabled", Value: string(ch), Reason: "unknown channel"}
		}
	}
	for c := range p.Categories {
		if !c.Valid() {
			return &ValidationError{Field: "categories_enabled", Value: string(c), Reason: "unknown category"}
		}
	}
	return nil
}

// ChannelEnabled reports whether deliveries on ch are allowed. A
// channel missing from the map is disabled.
func (p *Preference) ChannelEnabled(ch Channel) bool {
	return p.Channels[ch]
}

// CategoryEnabled reports whether notifications of category c are
// allowed. A category missing from the map is enabled.
func (p *Preference) CategoryEnabled(c Category) bool {
	enabled, ok := p.Categories[c]
	if !ok {
		return true
	}
	return enabled
}

// EnabledChannels returns the channels a logical alert fans out to,
// in stable order.
func (p *Preference) EnabledChannels() []Channel {
	var out []Channel
	for _, ch := range Channels() {
		if p.Channels[ch] {
			out = append(out, ch)
		}
	}
	return out
}

// InQuietHours reports whether t falls inside the configured quiet
// window. The window end is exclusive. A window whose start is after
// its end wraps midnight: [start, 24:00) plus [00:00, end).
func (p *Preference) InQuietHours(t time.Time) bool {
	if p.QuietStart == nil || p.QuietEnd == nil {
		return false
	}
	now := At(t)
	start, end := *p.QuietStart, *p.QuietEnd
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}
