package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SortMode selects the ordering of a task listing.
type SortMode string

// Sort modes
const (
	// SortAuto orders incomplete tasks first, then by due date, then priority.
	SortAuto     SortMode = "auto"
	SortDue      SortMode = "due"
	SortPriority SortMode = "priority"
	SortAlpha    SortMode = "alpha"
	SortModified SortMode = "modified"
	SortCreated  SortMode = "created"
)

// ParseSortMode maps user input to a SortMode. Empty input means SortAuto.
func ParseSortMode(s string) (SortMode, error) {
	switch SortMode(s) {
	case "":
		return SortAuto, nil
	case SortAuto, SortDue, SortPriority, SortAlpha, SortModified, SortCreated:
		return SortMode(s), nil
	default:
		return "", fmt.Errorf("%w: sort mode %q", ErrInvalidFormat, s)
	}
}

// SortTasks orders tasks in place. Ties always fall back to creation time
// and then id, so the order is stable across calls.
func SortTasks(tasks []*Task, mode SortMode) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if c := compareBy(a, b, mode); c != 0 {
			return c < 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func compareBy(a, b *Task, mode SortMode) int {
	switch mode {
	case SortDue:
		return compareDue(a.DueAt, b.DueAt)
	case SortPriority:
		if c := b.Priority - a.Priority; c != 0 {
			return c
		}
		return compareDue(a.DueAt, b.DueAt)
	case SortAlpha:
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case SortModified:
		return -a.ModifiedAt.Compare(b.ModifiedAt)
	case SortCreated:
		return 0
	default:
		if a.IsCompleted() != b.IsCompleted() {
			if a.IsCompleted() {
				return 1
			}
			return -1
		}
		if c := compareDue(a.DueAt, b.DueAt); c != 0 {
			return c
		}
		return b.Priority - a.Priority
	}
}

// compareDue orders earlier due dates first and tasks without one last.
func compareDue(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}
