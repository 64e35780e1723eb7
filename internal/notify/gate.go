package notify

import "time"

// DenyReason explains why the gate refused to create a notification.
type DenyReason string

const (
	DenyQuietHours       DenyReason = "quiet_hours"
	DenyChannelDisabled  DenyReason = "channel_disabled"
	DenyCategoryDisabled DenyReason = "category_disabled"
)

// Decision is a gating outcome. A denial is not an error: the only
// observable effect is that no notification row is created.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Gate decides whether a notification may be created for a channel,
// category and moment in time given the user's preference snapshot.
// Pure function; rules are evaluated in fixed order and the first
// match wins: quiet hours, then channel enablement, then category
// enablement.
func Gate(pref *Preference, channel Channel, category Category, now time.Time) Decision {
	if pref.InQuietHours(now) {
		return deny(DenyQuietHours)
	}
	if !pref.ChannelEnabled(channel) {
		return deny(DenyChannelDisabled)
	}
	if !pref.CategoryEnabled(category) {
		return deny(DenyCategoryDisabled)
	}
	return allow()
}
