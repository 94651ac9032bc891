package services

import "time"

// Item is one row of the rendered timeline: a date separator or an entry.
type Item struct {
	Separator string
	Date      time.Time
	Entry     *Entry
}

func (i Item) IsSeparator() bool { return i.Entry == nil }

// WithDateSeparators inserts a labelled separator before the first entry of
// every calendar day, as seen in loc.
func WithDateSeparators(entries []Entry, now time.Time, loc *time.Location) []Item {
	if loc == nil {
		loc = time.Local
	}
	items := make([]Item, 0, len(entries)+4)

	var lastY, lastD int
	var lastM time.Month
	for i := range entries {
		at := entries[i].Message.CreatedAt.In(loc)
		y, m, d := at.Date()
		if i == 0 || y != lastY || m != lastM || d != lastD {
			day := time.Date(y, m, d, 0, 0, 0, 0, loc)
			items = append(items, Item{Separator: DayLabel(day, now, loc), Date: day})
			lastY, lastM, lastD = y, m, d
		}
		items = append(items, Item{Entry: &entries[i], Date: at})
	}
	return items
}

// DayLabel renders "Today", "Yesterday" or the long date.
func DayLabel(day, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := day.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	if y == ny && m == nm && d == nd {
		return "Today"
	}
	yy, ym, yd := now.In(loc).AddDate(0, 0, -1).Date()
	if y == yy && m == ym && d == yd {
		return "Yesterday"
	}
	return day.In(loc).Format("Monday, January 2, 2006")
}
