// Package streak decides how a completion moves a user's consecutive-day
// streak.
package streak

import "time"

type State int

const (
	NoHistory State = iota
	ContinuedYesterday
	SameDayRepeat
	Broken
	FrozenProtected
)

func (s State) String() string {
	switch s {
	case NoHistory:
		return "no_history"
	case ContinuedYesterday:
		return "continued"
	case SameDayRepeat:
		return "same_day"
	case Broken:
		return "broken"
	case FrozenProtected:
		return "frozen"
	default:
		return "unknown"
	}
}

type Input struct {
	// LastQuestDate is a stored civil date; only its Y/M/D fields are read.
	LastQuestDate *time.Time
	Now           time.Time
	Location      *time.Location
	PriorStreak   int
	// FreezeActive must already be resolved by the modifier evaluator.
	FreezeActive bool
	LostAt       *time.Time
	LostCount    *int
}

type Outcome struct {
	State          State
	Streak         int
	Today          time.Time
	FreezeConsumed bool
	LostAt         *time.Time
	LostCount      *int
}

// CivilDate returns the calendar day of t in loc as midnight UTC, which is
// how date columns are stored and read back.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func storedDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Transition computes the streak after a completion at in.Now. Exactly one of
// continuation, freeze consumption or reset happens.
func Transition(in Input) Outcome {
	today := CivilDate(in.Now, in.Location)
	out := Outcome{Today: today}

	if in.LastQuestDate == nil {
		out.State = NoHistory
		out.Streak = 1
		return out
	}

	last := storedDate(*in.LastQuestDate)
	yesterday := today.AddDate(0, 0, -1)

	switch {
	case !last.Before(today):
		// Dates ahead of today (clock skew between zones) count as today.
		out.State = SameDayRepeat
		out.Streak = max(in.PriorStreak, 1)
		out.LostAt, out.LostCount = in.LostAt, in.LostCount
	case last.Equal(yesterday):
		out.State = ContinuedYesterday
		out.Streak = in.PriorStreak + 1
	case in.FreezeActive:
		out.State = FrozenProtected
		out.Streak = in.PriorStreak + 1
		out.FreezeConsumed = true
	default:
		out.State = Broken
		out.Streak = 1
		if in.PriorStreak > 1 {
			lostAt := in.Now
			count := in.PriorStreak
			out.LostAt, out.LostCount = &lostAt, &count
		}
	}
	return out
}
