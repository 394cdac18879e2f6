package memocache

import "time"

// UTC8 is the fixed +08:00 offset many upstream feeds publish their dates in.
var UTC8 = time.FixedZone("UTC+8", 8*60*60)

// Policy can declare a cache hit stale regardless of its TTL. It is judged on
// the value's own timestamp, not on when the entry was written.
// IsStale must be pure.
type Policy[V any] interface {
	IsStale(v V, now time.Time) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc[V any] func(v V, now time.Time) bool

func (f PolicyFunc[V]) IsStale(v V, now time.Time) bool { return f(v, now) }

// TTLOnly never marks a value stale; expiry is left to the entry TTL.
type TTLOnly[V any] struct{}

func (TTLOnly[V]) IsStale(V, time.Time) bool { return false }

// CalendarDay marks a value stale once its date and now fall on different
// calendar days in Location. Use it for feeds that roll over once per day.
type CalendarDay[V any] struct {
	// Location defines the day boundary. nil => UTC.
	Location *time.Location
	// DateOf extracts the value's date. A zero date is always stale.
	DateOf func(V) time.Time
}

func (p CalendarDay[V]) IsStale(v V, now time.Time) bool {
	d := p.DateOf(v)
	if d.IsZero() {
		return true
	}
	return !sameDay(d, now, p.Location)
}

// Dated is implemented by values that carry their own date.
type Dated interface {
	Date() time.Time
}

// SameDay is CalendarDay for values implementing Dated.
func SameDay[V Dated](loc *time.Location) CalendarDay[V] {
	return CalendarDay[V]{Location: loc, DateOf: func(v V) time.Time { return v.Date() }}
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
