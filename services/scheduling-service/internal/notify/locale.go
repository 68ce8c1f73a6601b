package notify

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/text/language"
)

var supported = []language.Tag{
	language.BritishEnglish,
	language.AmericanEnglish,
	language.German,
}

var matcher = language.NewMatcher(supported)

// Localizer formats interview times for one recipient.
type Localizer struct {
	loc  *time.Location
	lang language.Tag
}

// NewLocalizer resolves an IANA zone name and an Accept-Language style
// preference list. Unknown zones fall back to UTC, unknown languages to
// British English.
func NewLocalizer(timezone, acceptLanguage string) Localizer {
	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	tags, _, _ := language.ParseAcceptLanguage(acceptLanguage)
	_, idx, _ := matcher.Match(tags...)
	return Localizer{loc: loc, lang: supported[idx]}
}

func (l Localizer) Location() *time.Location { return l.loc }

func (l Localizer) Language() language.Tag { return l.lang }

func (l Localizer) Date(t time.Time) string {
	t = t.In(l.loc)
	switch l.lang {
	case language.AmericanEnglish:
		return t.Format("Monday, January 2, 2006")
	case language.German:
		return fmt.Sprintf("%s, %d. %s %d", germanWeekdays[t.Weekday()], t.Day(), germanMonths[t.Month()-1], t.Year())
	default:
		return t.Format("Monday 2 January 2006")
	}
}

func (l Localizer) Time(t time.Time) string {
	t = t.In(l.loc)
	switch l.lang {
	case language.AmericanEnglish:
		return t.Format("3:04 PM MST")
	case language.German:
		return t.Format("15:04") + " Uhr " + t.Format("MST")
	default:
		return t.Format("15:04 MST")
	}
}

// Range renders "date, start - end" for a half-open interval.
func (l Localizer) Range(start, end time.Time) string {
	return fmt.Sprintf("%s, %s - %s", l.Date(start), l.Time(start), l.Time(end))
}

var germanWeekdays = [...]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"}

var germanMonths = [...]string{
	"Januar", "Februar", "März", "April", "Mai", "Juni",
	"Juli", "August", "September", "Oktober", "November", "Dezember",
}
