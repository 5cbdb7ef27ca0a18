package recurrence

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"
)

// Errors returned by NextOccurrence
var (
	ErrNilRule = errors.New("recurrence rule cannot be nil")

	// ErrMissingDueDate is returned for fixed-schedule rules when the task
	// has no previous due date to step from.
	ErrMissingDueDate = errors.New("fixed-schedule recurrence requires a previous due date")

	// ErrNoNextOccurrence is returned when UNTIL has passed or COUNT has no
	// occurrence left after the current one.
	ErrNoNextOccurrence = errors.New("recurrence has no further occurrences")
)

// NextOccurrence computes the due date of the next occurrence.
//
// It is a pure function: identical inputs always produce identical output and
// no clock is read.
//
// Parameters:
//   - rule: the parsed recurrence rule
//   - completedAt: when the previous occurrence was completed
//   - previousDueAt: the due date of the previous occurrence, or nil
//
// Returns:
//   - The next due date, in the location of the anchor timestamp
//
// Algorithm behavior:
//   - Fixed-schedule rules (AnchorDueDate) step exactly one occurrence past
//     previousDueAt and never look at completedAt. Missed occurrences are not
//     skipped, so the result may lie in the past.
//   - Floating rules (AnchorCompletion) step one occurrence past completedAt.
//     When the task had a due date, its time of day is kept so a 09:00 task
//     stays a 09:00 task.
//   - BYDAY/BYMONTHDAY and similar parts follow RFC 5545 expansion from the
//     anchor.
//   - COUNT counts the occurrences left with the current one included, so
//     COUNT=1 has no next occurrence. Callers advancing a task store
//     Rule.Consume so the series shrinks by one per completion.
func NextOccurrence(rule *Rule, completedAt time.Time, previousDueAt *time.Time) (time.Time, error) {
	if rule == nil {
		return time.Time{}, ErrNilRule
	}

	var anchor time.Time
	switch rule.Anchor {
	case AnchorCompletion:
		anchor = floatingAnchor(completedAt, previousDueAt)
	default:
		if previousDueAt == nil {
			return time.Time{}, ErrMissingDueDate
		}
		anchor = *previousDueAt
	}

	opt := rule.options
	opt.Dtstart = anchor

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}, err
	}

	next := r.After(anchor, false)
	if next.IsZero() {
		return time.Time{}, ErrNoNextOccurrence
	}

	return next, nil
}

// floatingAnchor combines the completion date with the previous due time of
// day, so that floating rules keep their clock time.
func floatingAnchor(completedAt time.Time, previousDueAt *time.Time) time.Time {
	if previousDueAt == nil {
		return completedAt
	}

	loc := previousDueAt.Location()
	c := completedAt.In(loc)
	h, m, s := previousDueAt.Clock()
	return time.Date(c.Year(), c.Month(), c.Day(), h, m, s, 0, loc)
}
