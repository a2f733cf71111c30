package notification

import "time"

// Group labels used by GroupByDay.
const (
	GroupToday     = "Today"
	GroupYesterday = "Yesterday"
)

// DayGroup is a run of notifications created on the same calendar day.
type DayGroup struct {
	Label         string
	Day           time.Time
	Notifications []*Notification
}

// GroupByDay buckets notifications by the calendar day of CreatedAt in loc,
// preserving input order within each group. Groups appear in the order their
// first member appears. "Today" and "Yesterday" are relative to now; other
// days are labelled like "Mon Jan 2" (with the year when it differs from now).
func GroupByDay(list []*Notification, now time.Time, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	today := startOfDay(now.In(loc))
	yesterday := today.AddDate(0, 0, -1)

	var groups []DayGroup
	index := make(map[time.Time]int)

	for _, n := range list {
		day := startOfDay(n.CreatedAt.In(loc))
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, DayGroup{Label: dayLabel(day, today, yesterday), Day: day})
		}
		groups[i].Notifications = append(groups[i].Notifications, n)
	}
	return groups
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dayLabel(day, today, yesterday time.Time) string {
	switch {
	case day.Equal(today):
		return GroupToday
	case day.Equal(yesterday):
		return GroupYesterday
	case day.Year() == today.Year():
		return day.Format("Mon Jan 2")
	default:
		return day.Format("Mon Jan 2, 2006")
	}
}
