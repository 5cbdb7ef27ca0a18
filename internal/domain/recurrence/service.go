package recurrence

import (
	"errors"
	"time"

	"github.com/phrazzld/tasksync/internal/domain"
)

// ErrNotRecurring is returned when a task carries no recurrence rule.
var ErrNotRecurring = errors.New("task is not recurring")

// Service defines the interface for recurrence operations
type Service interface {
	// Parse validates and parses a textual rule
	Parse(text string) (*Rule, error)

	// NextOccurrence computes the next due date for a textual rule
	NextOccurrence(rule string, completedAt time.Time, previousDueAt *time.Time) (time.Time, error)

	// Advance returns a copy of task moved to its next occurrence: the due
	// date is replaced, completion is cleared and the reminder is shifted by
	// the same offset. A COUNT-bounded rule is stored with one occurrence
	// fewer. The input task is not modified.
	Advance(task *domain.Task, completedAt time.Time) (*domain.Task, error)
}

// defaultService is the standard implementation of the Service interface
type defaultService struct{}

// NewDefaultService creates a new recurrence service
func NewDefaultService() Service {
	return &defaultService{}
}

// Parse implements Service.
func (s *defaultService) Parse(text string) (*Rule, error) {
	return Parse(text)
}

// NextOccurrence implements Service.
func (s *defaultService) NextOccurrence(
	rule string,
	completedAt time.Time,
	previousDueAt *time.Time,
) (time.Time, error) {
	parsed, err := Parse(rule)
	if err != nil {
		return time.Time{}, err
	}
	return NextOccurrence(parsed, completedAt, previousDueAt)
}

// Advance implements Service.
func (s *defaultService) Advance(task *domain.Task, completedAt time.Time) (*domain.Task, error) {
	if task == nil || task.Recurrence == "" {
		return nil, ErrNotRecurring
	}

	rule, err := Parse(task.Recurrence)
	if err != nil {
		return nil, err
	}

	next, err := NextOccurrence(rule, completedAt, task.DueAt)
	if err != nil {
		return nil, err
	}

	advanced := task.Clone()
	if task.RemindAt != nil && task.DueAt != nil {
		remind := next.Add(task.RemindAt.Sub(*task.DueAt))
		advanced.RemindAt = &remind
	}
	if !task.DueHasTime {
		next = domain.DateOnly(next)
	}
	advanced.DueAt = &next
	advanced.CompletedAt = nil
	if rule.Count() > 0 {
		advanced.Recurrence = rule.Consume().String()
	}

	return &advanced, nil
}
