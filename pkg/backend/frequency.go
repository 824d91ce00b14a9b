package backend

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is a resampling interval: either a fixed duration (seconds,
// minutes, hours, days) or a calendar length (months, years). Calendar
// frequencies cannot be expressed as a time.Duration because month lengths
// vary; monthly resampling is the native cadence of plant energy
// assessment, so it is first class here.
type Frequency struct {
	// Dur is the fixed interval; zero when Months is set.
	Dur time.Duration
	// Months is the calendar interval in months; 12 means yearly.
	Months int
}

// ParseFrequency reads strings like "10m", "1h", "24h", "1d", "1mo", "1y".
func ParseFrequency(s string) (Frequency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasSuffix(s, "mo"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "mo"))
		if err != nil || n <= 0 {
			return Frequency{}, fmt.Errorf("invalid monthly frequency %q", s)
		}
		return Frequency{Months: n}, nil
	case strings.HasSuffix(s, "y"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "y"))
		if err != nil || n <= 0 {
			return Frequency{}, fmt.Errorf("invalid yearly frequency %q", s)
		}
		return Frequency{Months: 12 * n}, nil
	case strings.HasSuffix(s, "d"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n <= 0 {
			return Frequency{}, fmt.Errorf("invalid daily frequency %q", s)
		}
		return Frequency{Dur: time.Duration(n) * 24 * time.Hour}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return Frequency{}, fmt.Errorf("invalid frequency %q", s)
	}
	return Frequency{Dur: d}, nil
}

// MustFrequency is ParseFrequency for compile-time-constant strings.
func MustFrequency(s string) Frequency {
	f, err := ParseFrequency(s)
	if err != nil {
		panic(err)
	}
	return f
}

// IsZero reports an unset frequency.
func (f Frequency) IsZero() bool { return f.Dur == 0 && f.Months == 0 }

func (f Frequency) String() string {
	if f.Months > 0 {
		if f.Months%12 == 0 {
			return fmt.Sprintf("%dy", f.Months/12)
		}
		return fmt.Sprintf("%dmo", f.Months)
	}
	return f.Dur.String()
}

// Bucket returns the interval start containing t.
//
// Boundary policy (identical on every engine): intervals are left-closed,
// right-open [start, start+F); the bucket label is the interval start; all
// bucketing happens in UTC. Fixed intervals are aligned to multiples of F
// from the zero time, so whole minutes/hours/days land on clock boundaries.
// Calendar intervals are aligned to month starts counted from year 1.
func (f Frequency) Bucket(t time.Time) time.Time {
	t = t.UTC()
	if f.Months > 0 {
		months := (t.Year()-1)*12 + int(t.Month()) - 1
		months -= months % f.Months
		return time.Date(1+months/12, time.Month(months%12+1), 1, 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(f.Dur)
}

// Next returns the start of the interval after the one beginning at
// start. With Bucket, this brackets a bucket: [Bucket(t), Next(Bucket(t))).
func (f Frequency) Next(start time.Time) time.Time {
	if f.Months > 0 {
		return start.AddDate(0, f.Months, 0)
	}
	return start.Add(f.Dur)
}
