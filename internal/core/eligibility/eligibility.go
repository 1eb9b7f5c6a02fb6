// Package eligibility decides whether the auto-reply agent may answer an
// inbound message. Decide is a pure function of a settings snapshot and a
// wall-clock instant; it keeps no state and is recomputed per message.
package eligibility

import (
	"strconv"
	"strings"
	"time"
)

type Action string

const (
	ActionRespond  Action = "respond"
	ActionFallback Action = "fallback"
	ActionSilent   Action = "silent"
)

// Reasons attached to decisions, for logs and the settings status banner.
const (
	ReasonDisabled           = "auto_reply_disabled"
	ReasonNoTimeGating       = "no_time_gating"
	ReasonOutsideWorkingDays = "outside_working_days"
	ReasonOutsideWorkingHrs  = "outside_working_hours"
	ReasonWithinWorkingHrs   = "within_working_hours"
)

type Decision struct {
	Action   Action
	Fallback string // static text to send instead of a generated reply
	Reason   string
}

// Settings is an immutable snapshot of the merchant's bot configuration.
// Callers convert now into the merchant's timezone before calling Decide.
type Settings struct {
	AutoReplyEnabled    bool
	WorkingHoursEnabled bool
	WorkingHoursStart   string // "HH:MM"
	WorkingHoursEnd     string // "HH:MM"
	WorkingDays         map[time.Weekday]bool
	OutOfHoursMessage   string
}

// Decide evaluates the gating rules in order, first match wins:
// disabled, no gating, working day, working hours, respond.
func Decide(s Settings, now time.Time) Decision {
	if !s.AutoReplyEnabled {
		return Decision{Action: ActionSilent, Reason: ReasonDisabled}
	}
	if !s.WorkingHoursEnabled {
		return Decision{Action: ActionRespond, Reason: ReasonNoTimeGating}
	}
	if !s.WorkingDays[now.Weekday()] {
		return Decision{Action: ActionFallback, Fallback: s.OutOfHoursMessage, Reason: ReasonOutsideWorkingDays}
	}
	if !withinWindow(s.WorkingHoursStart, s.WorkingHoursEnd, now) {
		return Decision{Action: ActionFallback, Fallback: s.OutOfHoursMessage, Reason: ReasonOutsideWorkingHrs}
	}
	return Decision{Action: ActionRespond, Reason: ReasonWithinWorkingHrs}
}

// withinWindow reports whether now falls in [start, end), wrapping past
// midnight when end < start (e.g. 22:00-06:00). Unparseable bounds disable
// the gate rather than silencing the merchant's bot.
func withinWindow(start, end string, now time.Time) bool {
	startMin, okStart := parseMinutes(start)
	endMin, okEnd := parseMinutes(end)
	if !okStart || !okEnd {
		return true
	}

	nowMin := now.Hour()*60 + now.Minute()

	if startMin == endMin {
		// Degenerate zero-length window: never inside.
		return false
	}
	if startMin < endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	return nowMin >= startMin || nowMin < endMin
}

func parseMinutes(hhmm string) (int, bool) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
