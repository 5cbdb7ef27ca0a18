package recurrence

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/teambition/rrule-go"
)

// Anchor selects which timestamp the next occurrence is computed from.
type Anchor string

// Anchor modes
const (
	// AnchorDueDate is the fixed-schedule mode: the next occurrence follows
	// the previous due date, even if that lands in the past.
	AnchorDueDate Anchor = "due_date"

	// AnchorCompletion is the floating mode: the next occurrence follows
	// the completion time.
	AnchorCompletion Anchor = "completion"
)

// maxInterval bounds the INTERVAL of any rule.
const maxInterval = 1000

// Rule parsing errors
var (
	ErrEmptyRule       = errors.New("recurrence rule cannot be empty")
	ErrUnsupportedRule = errors.New("unsupported recurrence rule")
	ErrInvalidInterval = errors.New("recurrence interval must be between 1 and 1000")
)

var naturalRule = regexp.MustCompile(
	`^every\s+(?:(\d+)\s+)?(day|days|week|weeks|month|months|year|years)` +
		`(?:\s+from\s+(due date|due|completion date|completion))?$`,
)

// Rule is a parsed recurrence rule. It wraps the RFC 5545 recurrence
// options together with the anchor mode, which RFC 5545 has no field for.
type Rule struct {
	Frequency rrule.Frequency
	Interval  int
	Anchor    Anchor

	options rrule.ROption
}

// Parse reads a textual recurrence rule. Two forms are accepted:
//
//   - natural: "every 2 weeks", "every day from completion",
//     "every 1 month from due date"
//   - RFC 5545: "RRULE:FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE" with an optional
//     "FROM=COMPLETION" or "FROM=DUE_DATE" part selecting the anchor
//
// Rules without an explicit anchor are fixed-schedule.
func Parse(text string) (*Rule, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, ErrEmptyRule
	}

	lower := strings.ToLower(strings.Join(strings.Fields(s), " "))
	if strings.HasPrefix(lower, "every") {
		return parseNatural(lower)
	}
	switch lower {
	case "daily":
		return newRule(rrule.DAILY, 1, AnchorDueDate)
	case "weekly":
		return newRule(rrule.WEEKLY, 1, AnchorDueDate)
	case "monthly":
		return newRule(rrule.MONTHLY, 1, AnchorDueDate)
	case "yearly":
		return newRule(rrule.YEARLY, 1, AnchorDueDate)
	}

	return parseRFC(s)
}

// String renders the rule in RFC 5545 form with the anchor extension.
func (r *Rule) String() string {
	opt := r.options
	s := "RRULE:" + opt.RRuleString()
	if r.Anchor == AnchorCompletion {
		s += ";FROM=COMPLETION"
	}
	return s
}

// RFC returns the bare RRULE value without the anchor extension.
func (r *Rule) RFC() string {
	return r.options.RRuleString()
}

// Count returns the occurrences left in the series, the current one
// included. Zero means the rule is unbounded by COUNT.
func (r *Rule) Count() int {
	return r.options.Count
}

// Consume returns the rule for the rest of the series once the current
// occurrence is done. Rules without COUNT are returned as is.
func (r *Rule) Consume() *Rule {
	if r.options.Count <= 1 {
		return r
	}
	next := *r
	next.options.Count--
	return &next
}

func parseNatural(s string) (*Rule, error) {
	m := naturalRule.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRule, s)
	}

	interval := 1
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidInterval, m[1])
		}
		interval = n
	}

	var freq rrule.Frequency
	switch strings.TrimSuffix(m[2], "s") {
	case "day":
		freq = rrule.DAILY
	case "week":
		freq = rrule.WEEKLY
	case "month":
		freq = rrule.MONTHLY
	default:
		freq = rrule.YEARLY
	}

	anchor := AnchorDueDate
	if strings.HasPrefix(m[3], "completion") {
		anchor = AnchorCompletion
	}

	return newRule(freq, interval, anchor)
}

func parseRFC(s string) (*Rule, error) {
	body := strings.TrimSpace(s)
	if len(body) >= 6 && strings.EqualFold(body[:6], "RRULE:") {
		body = body[6:]
	}

	anchor := AnchorDueDate
	kept := make([]string, 0, 4)
	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if strings.EqualFold(key, "FROM") {
			if strings.EqualFold(value, "COMPLETION") {
				anchor = AnchorCompletion
			}
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRule, s)
	}

	opt, err := rrule.StrToROption(strings.Join(kept, ";"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedRule, err)
	}

	switch opt.Freq {
	case rrule.DAILY, rrule.WEEKLY, rrule.MONTHLY, rrule.YEARLY:
	default:
		// Sub-daily rules make no sense for task due dates.
		return nil, fmt.Errorf("%w: frequency %s", ErrUnsupportedRule, opt.Freq)
	}

	if opt.Interval == 0 {
		opt.Interval = 1
	}
	if opt.Interval < 1 || opt.Interval > maxInterval {
		return nil, ErrInvalidInterval
	}

	return &Rule{
		Frequency: opt.Freq,
		Interval:  opt.Interval,
		Anchor:    anchor,
		options:   *opt,
	}, nil
}

func newRule(freq rrule.Frequency, interval int, anchor Anchor) (*Rule, error) {
	if interval < 1 || interval > maxInterval {
		return nil, ErrInvalidInterval
	}
	return &Rule{
		Frequency: freq,
		Interval:  interval,
		Anchor:    anchor,
		options: rrule.ROption{
			Freq:     freq,
			Interval: interval,
		},
	}, nil
}
