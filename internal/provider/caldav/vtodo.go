package caldav

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/domain/recurrence"
	"github.com/phrazzld/tasksync/internal/provider"
)

const (
	prodID = "-//tasksync//caldav//EN"

	// recurrenceProp carries the local recurrence text verbatim so rules
	// written in the natural form survive a round trip.
	recurrenceProp = "X-TASKSYNC-RECURRENCE"

	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
	utcLayout      = "20060102T150405Z"

	maxLineOctets = 75
)

// ErrNoVTODO is returned for calendar objects that hold no task.
var ErrNoVTODO = errors.New("calendar object has no VTODO component")

type property struct {
	name   string
	params map[string]string
	value  string
}

// decodeVTODO reads the first VTODO of an iCalendar object.
func decodeVTODO(data []byte) (*provider.RemoteTask, string, error) {
	var (
		task      provider.RemoteTask
		uid       string
		rrule     string
		xRecur    string
		completed bool
		found     bool
		inTodo    bool
		depth     int
	)

	for _, line := range unfold(data) {
		prop, ok := parseLine(line)
		if !ok {
			continue
		}
		switch {
		case prop.name == "BEGIN" && strings.EqualFold(prop.value, "VTODO") && !found:
			inTodo, found = true, true
			continue
		case !inTodo:
			continue
		case prop.name == "BEGIN":
			depth++
			continue
		case prop.name == "END" && depth > 0:
			depth--
			continue
		case prop.name == "END" && strings.EqualFold(prop.value, "VTODO"):
			inTodo = false
			continue
		case depth > 0:
			// Nested components such as VALARM.
			continue
		}

		switch prop.name {
		case "UID":
			uid = prop.value
		case "SUMMARY":
			task.Title = unescapeText(prop.value)
		case "DESCRIPTION":
			task.Notes = unescapeText(prop.value)
		case "DUE":
			due, hasTime, err := parseDate(prop)
			if err != nil {
				return nil, "", fmt.Errorf("%w: DUE: %v", provider.ErrMalformed, err)
			}
			task.DueAt = &due
			task.DueHasTime = hasTime
		case "COMPLETED":
			at, _, err := parseDate(prop)
			if err != nil {
				return nil, "", fmt.Errorf("%w: COMPLETED: %v", provider.ErrMalformed, err)
			}
			task.CompletedAt = &at
		case "STATUS":
			completed = strings.EqualFold(prop.value, "COMPLETED")
		case "LAST-MODIFIED":
			at, _, err := parseDate(prop)
			if err == nil {
				task.ModifiedAt = at
			}
		case "PRIORITY":
			n, err := strconv.Atoi(prop.value)
			if err == nil {
				task.Priority = fromICalPriority(n)
			}
		case "RRULE":
			rrule = "RRULE:" + prop.value
		case recurrenceProp:
			xRecur = unescapeText(prop.value)
		}
	}

	if !found {
		return nil, "", ErrNoVTODO
	}
	if completed && task.CompletedAt == nil {
		at := task.ModifiedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		task.CompletedAt = &at
	}
	task.Recurrence = rrule
	if xRecur != "" {
		task.Recurrence = xRecur
	}
	return &task, uid, nil
}

// encodeVTODO renders a task as a complete iCalendar object.
func encodeVTODO(uid string, task *provider.RemoteTask, now time.Time) []byte {
	var b bytes.Buffer
	w := func(line string) {
		writeFolded(&b, line)
	}

	w("BEGIN:VCALENDAR")
	w("VERSION:2.0")
	w("PRODID:" + prodID)
	w("BEGIN:VTODO")
	w("UID:" + uid)
	w("DTSTAMP:" + now.UTC().Format(utcLayout))
	w("SUMMARY:" + escapeText(task.Title))
	if task.Notes != "" {
		w("DESCRIPTION:" + escapeText(task.Notes))
	}
	if task.DueAt != nil {
		if task.DueHasTime {
			w("DUE:" + task.DueAt.UTC().Format(utcLayout))
		} else {
			w("DUE;VALUE=DATE:" + task.DueAt.UTC().Format(dateLayout))
		}
	}
	if task.CompletedAt != nil {
		w("STATUS:COMPLETED")
		w("COMPLETED:" + task.CompletedAt.UTC().Format(utcLayout))
	} else {
		w("STATUS:NEEDS-ACTION")
	}
	if !task.ModifiedAt.IsZero() {
		w("LAST-MODIFIED:" + task.ModifiedAt.UTC().Format(utcLayout))
	}
	if p := toICalPriority(task.Priority); p != 0 {
		w("PRIORITY:" + strconv.Itoa(p))
	}
	if task.Recurrence != "" {
		if rule, err := recurrence.Parse(task.Recurrence); err == nil {
			w("RRULE:" + rule.RFC())
		}
		w(recurrenceProp + ":" + escapeText(task.Recurrence))
	}
	w("END:VTODO")
	w("END:VCALENDAR")
	return b.Bytes()
}

func unfold(data []byte) []string {
	raw := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if (strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += l[1:]
			continue
		}
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func parseLine(line string) (property, bool) {
	inQuote := false
	colon := -1
	for i, r := range line {
		if r == '"' {
			inQuote = !inQuote
		} else if r == ':' && !inQuote {
			colon = i
			break
		}
	}
	if colon <= 0 {
		return property{}, false
	}

	parts := strings.Split(line[:colon], ";")
	prop := property{
		name:   strings.ToUpper(parts[0]),
		params: make(map[string]string, len(parts)-1),
		value:  line[colon+1:],
	}
	for _, p := range parts[1:] {
		k, v, _ := strings.Cut(p, "=")
		prop.params[strings.ToUpper(k)] = strings.Trim(v, `"`)
	}
	return prop, true
}

// parseDate reads a DATE or DATE-TIME value and returns it in UTC along with
// whether it carried a time of day.
func parseDate(prop property) (time.Time, bool, error) {
	v := strings.TrimSpace(prop.value)
	if strings.EqualFold(prop.params["VALUE"], "DATE") || len(v) == len(dateLayout) {
		t, err := time.Parse(dateLayout, v)
		return t, false, err
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(utcLayout, v)
		return t, true, err
	}
	loc := time.UTC
	if tzid := prop.params["TZID"]; tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(dateTimeLayout, v, loc)
	return t.UTC(), true, err
}

func escapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)
	return r.Replace(s)
}

func unescapeText(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// writeFolded writes one content line, folded at 75 octets without
// splitting a UTF-8 sequence.
func writeFolded(b *bytes.Buffer, line string) {
	limit := maxLineOctets
	for len(line) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		b.WriteString(line[:cut])
		b.WriteString("\r\n ")
		line = line[cut:]
		limit = maxLineOctets - 1
	}
	b.WriteString(line)
	b.WriteString("\r\n")
}

// iCalendar priorities run 1 (highest) to 9 (lowest), 0 meaning undefined.
func toICalPriority(p int) int {
	switch p {
	case domain.PriorityHigh:
		return 1
	case domain.PriorityMedium:
		return 5
	case domain.PriorityLow:
		return 9
	default:
		return 0
	}
}

func fromICalPriority(p int) int {
	switch {
	case p >= 1 && p <= 4:
		return domain.PriorityHigh
	case p == 5:
		return domain.PriorityMedium
	case p >= 6 && p <= 9:
		return domain.PriorityLow
	default:
		return domain.PriorityNone
	}
}
