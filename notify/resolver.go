package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/goliatone/go-eventhooks/core"
)

// Resolution is the effective delivery policy for one (user, event type).
type Resolution struct {
	Mode          core.DeliveryMode
	Channel       core.Channel
	Quiet         QuietWindow
	Location      *time.Location
	DigestHour    int
	DigestWeekday time.Weekday
	// Matched is the preference row that decided the result; nil when the
	// configured defaults applied.
	Matched *core.NotificationPreference
}

// QuietAt reports whether now falls inside the recipient's quiet hours.
func (r Resolution) QuietAt(now time.Time) bool {
	return r.Quiet.Contains(now.In(r.location()))
}

func (r Resolution) NextAllowed(now time.Time) time.Time {
	return r.Quiet.NextAllowed(now, r.location())
}

func (r Resolution) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

type Resolver struct {
	preferences core.PreferenceStore
	defaults    Resolution
}

func NewResolver(
	preferences core.PreferenceStore,
	notifications core.NotificationsConfig,
	digest core.DigestConfig,
) (*Resolver, error) {
	if preferences == nil {
		return nil, fmt.Errorf("notify: preference store is required")
	}
	defaults := Resolution{
		Mode:          core.DeliveryMode(strings.TrimSpace(notifications.DefaultMode)),
		Channel:       core.Channel(strings.TrimSpace(notifications.DefaultChannel)),
		Location:      time.UTC,
		DigestHour:    digest.DailyHour,
		DigestWeekday: digest.WeeklyWeekday(),
	}
	if !defaults.Mode.Valid() {
		defaults.Mode = core.DeliveryModeImmediate
	}
	if !defaults.Channel.Valid() {
		defaults.Channel = core.ChannelEmail
	}
	if tz := strings.TrimSpace(notifications.DefaultTimezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("notify: default timezone %q: %w", tz, err)
		}
		defaults.Location = loc
	}
	if defaults.DigestHour < 0 || defaults.DigestHour > 23 {
		defaults.DigestHour = 8
	}
	return &Resolver{preferences: preferences, defaults: defaults}, nil
}

func (r *Resolver) Defaults() Resolution {
	return r.defaults
}

// Resolve returns the first preference row found along the chain
// (user,type), (user,*), (*,type), (*,*). Blank fields on the matched row
// fall back to the configured defaults.
func (r *Resolver) Resolve(ctx context.Context, userID string, eventType string) (Resolution, error) {
	for _, key := range lookupChain(userID, eventType) {
		pref, found, err := r.preferences.Get(ctx, key[0], key[1])
		if err != nil {
			return Resolution{}, err
		}
		if found {
			return r.apply(pref), nil
		}
	}
	return r.defaults, nil
}

// ResolveDigest picks the schedule for a user's digest of the given mode.
// The user's own rows with that mode win, (user,*) first and then by event
// type. Without one it falls back to Resolve(user, *).
func (r *Resolver) ResolveDigest(ctx context.Context, userID string, mode core.DeliveryMode) (Resolution, error) {
	rows, err := r.preferences.ListByUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return Resolution{}, err
	}
	var picked *core.NotificationPreference
	for i := range rows {
		if rows[i].Mode != mode {
			continue
		}
		if rows[i].EventType == core.Wildcard {
			picked = &rows[i]
			break
		}
		if picked == nil || rows[i].EventType < picked.EventType {
			picked = &rows[i]
		}
	}
	if picked != nil {
		return r.apply(*picked), nil
	}
	return r.Resolve(ctx, userID, core.Wildcard)
}

func (r *Resolver) apply(pref core.NotificationPreference) Resolution {
	out := r.defaults
	matched := pref
	out.Matched = &matched
	if pref.Mode.Valid() {
		out.Mode = pref.Mode
	}
	if pref.Channel.Valid() {
		out.Channel = pref.Channel
	}
	if quiet, err := ParseQuietWindow(pref.QuietHoursStart, pref.QuietHoursEnd); err == nil {
		out.Quiet = quiet
	}
	if tz := strings.TrimSpace(pref.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			out.Location = loc
		}
	}
	if pref.DigestHour != nil && *pref.DigestHour >= 0 && *pref.DigestHour <= 23 {
		out.DigestHour = *pref.DigestHour
	}
	if pref.DigestWeekday != nil && *pref.DigestWeekday >= time.Sunday && *pref.DigestWeekday <= time.Saturday {
		out.DigestWeekday = *pref.DigestWeekday
	}
	return out
}

func lookupChain(userID string, eventType string) [][2]string {
	userID = strings.TrimSpace(userID)
	eventType = strings.TrimSpace(eventType)
	candidates := [][2]string{
		{userID, eventType},
		{userID, core.Wildcard},
		{core.Wildcard, eventType},
		{core.Wildcard, core.Wildcard},
	}
	seen := make(map[[2]string]struct{}, len(candidates))
	chain := make([][2]string, 0, len(candidates))
	for _, key := range candidates {
		if key[0] == "" || key[1] == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		chain = append(chain, key)
	}
	return chain
}

// ValidatePreference normalizes a preference before it is stored.
func ValidatePreference(pref core.NotificationPreference) (core.NotificationPreference, error) {
	pref.UserID = strings.TrimSpace(pref.UserID)
	pref.EventType = strings.TrimSpace(pref.EventType)
	if pref.UserID == "" {
		return pref, core.BadInputError("preference user_id is required")
	}
	if pref.EventType == "" {
		pref.EventType = core.Wildcard
	}
	if !pref.Mode.Valid() {
		return pref, core.BadInputError(fmt.Sprintf("preference delivery mode %q is invalid", pref.Mode))
	}
	if pref.Channel == "" {
		pref.Channel = core.ChannelEmail
	}
	if !pref.Channel.Valid() {
		return pref, core.BadInputError(fmt.Sprintf("preference channel %q is invalid", pref.Channel))
	}
	if _, err := ParseQuietWindow(pref.QuietHoursStart, pref.QuietHoursEnd); err != nil {
		return pref, core.BadInputError(err.Error())
	}
	if tz := strings.TrimSpace(pref.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return pref, core.BadInputError(fmt.Sprintf("preference timezone %q is invalid", tz))
		}
		pref.Timezone = tz
	}
	if pref.DigestHour != nil && (*pref.DigestHour < 0 || *pref.DigestHour > 23) {
		return pref, core.BadInputError("preference digest_hour must be between 0 and 23")
	}
	if pref.DigestWeekday != nil && (*pref.DigestWeekday < time.Sunday || *pref.DigestWeekday > time.Saturday) {
		return pref, core.BadInputError("preference digest_weekday is invalid")
	}
	return pref, nil
}
