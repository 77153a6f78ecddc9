// Package calendar decides working days from a weekly rest day and a
// country holiday rule set (fixed, Monday-shifted and Easter-relative dates).
package calendar

import (
	"sort"
	"sync"
	"time"
)

// Holiday is a named non-working date.
type Holiday struct {
	Date Date
	Name string
}

type Options struct {
	Rules   RuleSet
	RestDay time.Weekday
	// Extra are additional one-off holidays (company closures, decrees).
	Extra []Date
}

// Calendar decides working days. It is safe for concurrent use and caches one
// holiday table per year.
type Calendar struct {
	rules   RuleSet
	restDay time.Weekday
	extra   map[Date]struct{}

	mu    sync.Mutex
	years map[int]map[Date]string
}

func New(opts Options) *Calendar {
	c := &Calendar{
		rules:   opts.Rules,
		restDay: opts.RestDay,
		extra:   make(map[Date]struct{}, len(opts.Extra)),
		years:   make(map[int]map[Date]string),
	}
	for _, d := range opts.Extra {
		c.extra[d] = struct{}{}
	}
	return c
}

func (c *Calendar) RestDay() time.Weekday { return c.restDay }

func (c *Calendar) Country() string { return c.rules.Country }

func (c *Calendar) table(year int) map[Date]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.years[year]
	if !ok {
		t = c.rules.Holidays(year)
		for d := range c.extra {
			if d.Year == year {
				if _, dup := t[d]; !dup {
					t[d] = "Festivo adicional"
				}
			}
		}
		c.years[year] = t
	}
	return t
}

// HolidaysForYear returns the holidays of year sorted by date.
func (c *Calendar) HolidaysForYear(year int) []Holiday {
	t := c.table(year)
	out := make([]Holiday, 0, len(t))
	for d, name := range t {
		out = append(out, Holiday{Date: d, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Holiday reports whether d is a holiday and its name.
func (c *Calendar) Holiday(d Date) (string, bool) {
	name, ok := c.table(d.Year)[d]
	return name, ok
}

// IsWorkingDay is false on the weekly rest day and on holidays.
func (c *Calendar) IsWorkingDay(d Date) bool {
	if d.Weekday() == c.restDay {
		return false
	}
	_, holiday := c.Holiday(d)
	return !holiday
}

// NextWorkingDay returns the first working day strictly after d.
func (c *Calendar) NextWorkingDay(d Date) Date {
	next := d.AddDays(1)
	for !c.IsWorkingDay(next) {
		next = next.AddDays(1)
	}
	return next
}
