package task

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"taskpilot/app/pkg/types"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

const (
	maxTitleRunes       = 200
	maxDescriptionRunes = 1000
)

// ErrInvalid wraps field validation failures so callers can map them to
// a 400-class response.
var ErrInvalid = errors.New("invalid task field")

type Task struct {
	ID          int64
	OwnerID     types.OwnerID
	Title       string
	Description string
	Completed   bool
	Priority    int   // 0 means unset, otherwise 1 (high) .. 3 (low)
	DueDate     int64 // unix seconds, 0 means unset
	Status      string
	CreatedAt   int64
	UpdatedAt   int64
}

type CreateInput struct {
	Title       string
	Description string
	Status      string
	Priority    int
	DueDate     int64
}

// UpdateInput carries a partial update; nil fields are left untouched.
type UpdateInput struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *int
	DueDate     *int64
	Completed   *bool
}

type Filter struct {
	Status    string
	Priority  int
	Search    string
	SortBy    string
	SortOrder string
}

// NormalizeStatus canonicalizes the common spoken forms and otherwise
// passes the value through lowercased and trimmed. Idempotent.
func NormalizeStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "in progress", "in_progress":
		return StatusInProgress
	case "to do", "todo":
		return StatusPending
	case "done":
		return StatusCompleted
	}
	return s
}

func validateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n < 1 || n > maxTitleRunes {
		return fmt.Errorf("%w: title must be 1-%d characters", ErrInvalid, maxTitleRunes)
	}
	return nil
}

func validateDescription(description string) error {
	if utf8.RuneCountInString(description) > maxDescriptionRunes {
		return fmt.Errorf("%w: description must be at most %d characters", ErrInvalid, maxDescriptionRunes)
	}
	return nil
}

func validatePriority(priority int) error {
	if priority < 0 || priority > 3 {
		return fmt.Errorf("%w: priority must be between 1 and 3", ErrInvalid)
	}
	return nil
}
