package progress

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrEmptyUserID   = errors.New("user ID cannot be empty")
	ErrEmptyLessonID = errors.New("lesson ID cannot be empty")
)

// LessonProgress marks a lesson as completed. Absence means not completed.
type LessonProgress struct {
	UserID    string
	LessonID  string
	CreatedAt time.Time
}

// Validate checks if the LessonProgress has valid data.
// PRE: LessonProgress struct is populated
// POST: Returns nil if valid, error otherwise
func (p *LessonProgress) Validate() error {
	if p.UserID == "" {
		return ErrEmptyUserID
	}
	if p.LessonID == "" {
		return ErrEmptyLessonID
	}
	return nil
}

// Percent returns completed/total as a whole percentage, 0 for empty courses.
func Percent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	if completed > total {
		completed = total
	}
	return completed * 100 / total
}
