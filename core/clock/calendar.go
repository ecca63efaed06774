package clock

import "time"

// Season of the virtual calendar.
type Season int

const (
	Winter Season = iota
	Spring
	Summer
	Autumn
)

func (s Season) String() string {
	switch s {
	case Spring:
		return "spring"
	case Summer:
		return "summer"
	case Autumn:
		return "autumn"
	default:
		return "winter"
	}
}

// Time converts a virtual timestamp to a UTC time.
func Time(ts int64) time.Time { return time.Unix(ts, 0).UTC() }

// ISO formats a virtual timestamp as RFC 3339.
func ISO(ts int64) string { return Time(ts).Format(time.RFC3339) }

// SeasonOf returns the season of ts. April to June is spring.
func SeasonOf(ts int64) Season {
	m := int(Time(ts).Month()) - 1
	switch {
	case m >= 3 && m <= 5:
		return Spring
	case m >= 6 && m <= 8:
		return Summer
	case m >= 9 && m <= 11:
		return Autumn
	default:
		return Winter
	}
}

// TicksPerHour returns how many ticks cover one virtual hour, inclusive.
func (c *Clock) TicksPerHour() int64 {
	return 3600/c.increment + 1
}
