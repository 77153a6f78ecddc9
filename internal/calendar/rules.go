package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FixedRule is a holiday on the same month/day every year.
type FixedRule struct {
	Month time.Month
	Day   int
	Name  string
	// Monday moves the holiday to the next Monday when it does not fall on one.
	Monday bool
}

// EasterRule is a holiday at a fixed offset in days from Easter Sunday.
type EasterRule struct {
	Offset int
	Name   string
	Monday bool
}

// RuleSet is a country's holiday definition.
type RuleSet struct {
	Country string
	Fixed   []FixedRule
	Easter  []EasterRule
}

// Colombia follows Ley 51 de 1983 (Ley Emiliani): several religious and civic
// holidays are observed on the following Monday. Holy Thursday and Good Friday
// never move.
var Colombia = RuleSet{
	Country: "CO",
	Fixed: []FixedRule{
		{Month: time.January, Day: 1, Name: "Año Nuevo"},
		{Month: time.May, Day: 1, Name: "Día del Trabajo"},
		{Month: time.July, Day: 20, Name: "Día de la Independencia"},
		{Month: time.August, Day: 7, Name: "Batalla de Boyacá"},
		{Month: time.December, Day: 8, Name: "Inmaculada Concepción"},
		{Month: time.December, Day: 25, Name: "Navidad"},

		{Month: time.January, Day: 6, Name: "Reyes Magos", Monday: true},
		{Month: time.March, Day: 19, Name: "San José", Monday: true},
		{Month: time.June, Day: 29, Name: "San Pedro y San Pablo", Monday: true},
		{Month: time.August, Day: 15, Name: "Asunción de la Virgen", Monday: true},
		{Month: time.October, Day: 12, Name: "Día de la Raza", Monday: true},
		{Month: time.November, Day: 1, Name: "Todos los Santos", Monday: true},
		{Month: time.November, Day: 11, Name: "Independencia de Cartagena", Monday: true},
	},
	Easter: []EasterRule{
		{Offset: -3, Name: "Jueves Santo"},
		{Offset: -2, Name: "Viernes Santo"},
		{Offset: 39, Name: "Ascensión del Señor", Monday: true},
		{Offset: 60, Name: "Corpus Christi", Monday: true},
		{Offset: 68, Name: "Sagrado Corazón", Monday: true},
	},
}

// NoHolidays only observes the weekly rest day.
var NoHolidays = RuleSet{Country: "none"}

var ruleSets = map[string]RuleSet{
	"CO":   Colombia,
	"NONE": NoHolidays,
}

// LookupRuleSet returns the rule set for a country code (case-insensitive).
func LookupRuleSet(country string) (RuleSet, error) {
	c := strings.ToUpper(strings.TrimSpace(country))
	if c == "" {
		c = "CO"
	}
	rs, ok := ruleSets[c]
	if !ok {
		known := make([]string, 0, len(ruleSets))
		for k := range ruleSets {
			known = append(known, k)
		}
		sort.Strings(known)
		return RuleSet{}, fmt.Errorf("unknown calendar country %q (known: %s)", country, strings.Join(known, ", "))
	}
	return rs, nil
}

// ParseWeekday accepts English day names or three-letter abbreviations.
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday %q", s)
}

// Holidays computes the holidays of year. Two rules landing on the same date keep
// the first name.
func (rs RuleSet) Holidays(year int) map[Date]string {
	out := make(map[Date]string, len(rs.Fixed)+len(rs.Easter))
	add := func(d Date, name string, monday bool) {
		if monday {
			d = NextMonday(d)
		}
		if _, dup := out[d]; !dup {
			out[d] = name
		}
	}
	for _, r := range rs.Fixed {
		add(Date{Year: year, Month: r.Month, Day: r.Day}, r.Name, r.Monday)
	}
	if len(rs.Easter) > 0 {
		easter := Easter(year)
		for _, r := range rs.Easter {
			add(easter.AddDays(r.Offset), r.Name, r.Monday)
		}
	}
	return out
}
