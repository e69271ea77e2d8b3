package catalog

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Strategy names accepted by the date selector.
const (
	StrategyByDate         = "by-date"
	StrategyWeekdaySpecial = "by-date-with-weekday-special"
)

// DayOfYear is the zero-based day offset of t within its calendar year, in t's
// location. Jan 1 is 0.
func DayOfYear(t time.Time) int { return t.YearDay() - 1 }

// SelectByDate maps a calendar date to a message: DayOfYear(date) mod Len.
// The same calendar date always yields the same message.
func (c *Catalog) SelectByDate(date time.Time) Message {
	return c.msgs[DayOfYear(date)%len(c.msgs)]
}

// SelectAvoidingRecent picks uniformly at random among messages whose id is not
// in recent. When every id is recent it falls back to the whole catalog.
func (c *Catalog) SelectAvoidingRecent(recent []int, rng *rand.Rand) Message {
	seen := make(map[int]struct{}, len(recent))
	for _, id := range recent {
		seen[id] = struct{}{}
	}
	available := make([]Message, 0, len(c.msgs))
	for _, m := range c.msgs {
		if _, ok := seen[m.ID]; !ok {
			available = append(available, m)
		}
	}
	if len(available) == 0 {
		available = c.msgs
	}
	return available[rng.IntN(len(available))]
}

// Selection is the outcome of a date-based pick.
type Selection struct {
	Message Message
	Special string
	Date    time.Time
}

// Selector applies a date strategy in a fixed location. It is safe for
// concurrent use; Update swaps settings on config reload.
type Selector struct {
	mu       sync.RWMutex
	cat      *Catalog
	strategy string
	specials map[time.Weekday]string
	loc      *time.Location
}

func NewSelector(cat *Catalog, strategy string, specials map[time.Weekday]string, loc *time.Location) *Selector {
	s := &Selector{}
	s.Update(cat, strategy, specials, loc)
	return s
}

func (s *Selector) Update(cat *Catalog, strategy string, specials map[time.Weekday]string, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	if strategy == "" {
		strategy = StrategyByDate
	}
	s.mu.Lock()
	if cat != nil {
		s.cat = cat
	}
	s.strategy = strategy
	s.specials = specials
	s.loc = loc
	s.mu.Unlock()
}

func (s *Selector) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cat
}

func (s *Selector) Location() *time.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loc
}

// Pick selects the message for the calendar date of t in the selector's location.
func (s *Selector) Pick(t time.Time) Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	local := t.In(s.loc)
	sel := Selection{Message: s.cat.SelectByDate(local), Date: local}
	if s.strategy == StrategyWeekdaySpecial {
		sel.Special = s.specials[local.Weekday()]
	}
	return sel
}

// ParseStrategy normalizes a strategy name.
func ParseStrategy(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", StrategyByDate:
		return StrategyByDate, nil
	case StrategyWeekdaySpecial:
		return StrategyWeekdaySpecial, nil
	default:
		return "", fmt.Errorf("unknown catalog strategy %q", v)
	}
}

// ParseWeekdaySpecials converts {"monday": "..."} style keys into weekdays.
// Keys may be full names or three-letter abbreviations, any case.
func ParseWeekdaySpecials(in map[string]string) (map[time.Weekday]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[time.Weekday]string, len(in))
	for k, v := range in {
		wd, err := parseWeekday(k)
		if err != nil {
			return nil, err
		}
		out[wd] = strings.TrimSpace(v)
	}
	return out, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
