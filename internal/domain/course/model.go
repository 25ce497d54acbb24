package course

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Publication status constants.
const (
	StatusDraft    = "draft"
	StatusPreorder = "preorder"
	StatusSelling  = "selling"
)

// Course type constants.
const (
	TypeStandard = "standard"
	TypeDrip     = "drip"
)

// Max length constants for user-editable fields.
const (
	MaxNameLength    = 255
	MaxTaglineLength = 255
	MaxTitleLength   = 255
)

// DefaultCurrency is applied to prices and purchases that do not carry one.
const DefaultCurrency = "TWD"

// Domain errors
var (
	ErrEmptyName            = errors.New("course name cannot be empty")
	ErrNegativePrice        = errors.New("price cannot be negative")
	ErrInvalidStatus        = errors.New("status must be one of: draft, preorder, selling")
	ErrInvalidCourseType    = errors.New("course type must be one of: standard, drip")
	ErrDripIntervalRequired = errors.New("drip courses require drip_interval_days greater than zero")
	ErrDripIntervalOnly     = errors.New("drip_interval_days is only allowed on drip courses")
	ErrEmptyTitle           = errors.New("title cannot be empty")
	ErrEmptyCourseID        = errors.New("course ID cannot be empty")
	ErrNegativeSortOrder    = errors.New("sort order cannot be negative")
	ErrDeleted              = errors.New("course has been deleted")
)

// Course is a catalog entry.
type Course struct {
	ID               string
	Name             string
	Tagline          string
	Description      string // Markdown
	Price            int64  // whole currency units
	OriginalPrice    int64  // 0 when there is no strike-through price
	PromoEndsAt      time.Time
	Thumbnail        string
	InstructorName   string
	IsPublished      bool
	Status           string // draft, preorder, selling
	SaleAt           time.Time
	SortOrder        int
	CourseType       string // standard, drip
	DripIntervalDays int
	PortalyURL       string
	PortalyProductID string
	DurationMinutes  int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        time.Time
}

// Validate checks if the Course has valid data.
// PRE: Course struct is populated
// POST: Returns nil if valid, error otherwise
// INVARIANT: DripIntervalDays > 0 exactly when CourseType is drip
func (c *Course) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if len(c.Name) > MaxNameLength {
		return fmt.Errorf("course name cannot exceed %d characters", MaxNameLength)
	}
	if len(c.Tagline) > MaxTaglineLength {
		return fmt.Errorf("tagline cannot exceed %d characters", MaxTaglineLength)
	}
	if c.Price < 0 || c.OriginalPrice < 0 {
		return ErrNegativePrice
	}
	switch c.Status {
	case StatusDraft, StatusPreorder, StatusSelling:
	default:
		return ErrInvalidStatus
	}
	switch c.CourseType {
	case TypeDrip:
		if c.DripIntervalDays <= 0 {
			return ErrDripIntervalRequired
		}
	case TypeStandard:
		if c.DripIntervalDays != 0 {
			return ErrDripIntervalOnly
		}
	default:
		return ErrInvalidCourseType
	}
	return nil
}

// IsDrip returns true for progressively unlocked courses.
// INVARIANT: Course fields are not mutated
func (c *Course) IsDrip() bool {
	return c.CourseType == TypeDrip
}

// IsDeleted returns true once the course has been soft-deleted.
// INVARIANT: Course fields are not mutated
func (c *Course) IsDeleted() bool {
	return !c.DeletedAt.IsZero()
}

// IsListed returns true when members may see the course in the catalog.
// INVARIANT: Course fields are not mutated
func (c *Course) IsListed() bool {
	return c.IsPublished && c.Status != StatusDraft && !c.IsDeleted()
}

// IsPromoActive returns true while the strike-through price is being advertised.
// INVARIANT: Course fields are not mutated
func (c *Course) IsPromoActive(now time.Time) bool {
	if c.OriginalPrice <= c.Price {
		return false
	}
	return c.PromoEndsAt.IsZero() || now.Before(c.PromoEndsAt)
}

// DisplayOriginalPrice returns the strike-through price while the promo runs, otherwise 0.
func (c *Course) DisplayOriginalPrice(now time.Time) int64 {
	if !c.IsPromoActive(now) {
		return 0
	}
	return c.OriginalPrice
}

// SetCourseType switches the course type, clearing the drip cadence on standard courses.
// PRE: courseType is standard or drip
// POST: DripIntervalDays is 0 for standard courses
func (c *Course) SetCourseType(courseType string, intervalDays int) error {
	switch courseType {
	case TypeStandard:
		c.CourseType = TypeStandard
		c.DripIntervalDays = 0
	case TypeDrip:
		if intervalDays <= 0 {
			return ErrDripIntervalRequired
		}
		c.CourseType = TypeDrip
		c.DripIntervalDays = intervalDays
	default:
		return ErrInvalidCourseType
	}
	return nil
}

// Publish lists the course, selling immediately unless a future sale date is set.
// PRE: course is not deleted
// POST: IsPublished is true; Status is preorder or selling
func (c *Course) Publish(now time.Time) error {
	if c.IsDeleted() {
		return ErrDeleted
	}
	c.IsPublished = true
	if !c.SaleAt.IsZero() && c.SaleAt.After(now) {
		c.Status = StatusPreorder
	} else {
		c.Status = StatusSelling
	}
	c.UpdatedAt = now
	return nil
}

// Unpublish returns the course to draft and hides it.
// POST: IsPublished is false; Status is draft
func (c *Course) Unpublish(now time.Time) {
	c.IsPublished = false
	c.Status = StatusDraft
	c.UpdatedAt = now
}

// IsDueForSale returns true for preorder courses whose sale date has passed.
// INVARIANT: Course fields are not mutated
func (c *Course) IsDueForSale(now time.Time) bool {
	return c.Status == StatusPreorder && !c.SaleAt.IsZero() && !c.SaleAt.After(now)
}

// SoftDelete hides the course while keeping the row for existing purchases.
// POST: DeletedAt is set, IsPublished is false
func (c *Course) SoftDelete(now time.Time) {
	c.DeletedAt = now
	c.IsPublished = false
	c.UpdatedAt = now
}

// Chapter groups lessons within a course.
type Chapter struct {
	ID        string
	CourseID  string
	Title     string
	SortOrder int
}

// Validate checks if the Chapter has valid data.
// PRE: Chapter struct is populated
// POST: Returns nil if valid, error otherwise
func (c *Chapter) Validate() error {
	if c.CourseID == "" {
		return ErrEmptyCourseID
	}
	if strings.TrimSpace(c.Title) == "" {
		return ErrEmptyTitle
	}
	if c.SortOrder < 0 {
		return ErrNegativeSortOrder
	}
	return nil
}

// Lesson is one ordered unit of content. SortOrder doubles as the drip unlock rank.
type Lesson struct {
	ID                string
	CourseID          string
	ChapterID         string // empty for standalone lessons
	Title             string
	VideoPlatform     string // vimeo, youtube or empty
	VideoID           string
	VideoURL          string
	Body              string // Markdown
	PromoDelaySeconds int    // -1 when no promo block is configured
	PromoHTML         string
	DurationSeconds   int
	SortOrder         int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate checks if the Lesson has valid data.
// PRE: Lesson struct is populated
// POST: Returns nil if valid, error otherwise
func (l *Lesson) Validate() error {
	if l.CourseID == "" {
		return ErrEmptyCourseID
	}
	if strings.TrimSpace(l.Title) == "" {
		return ErrEmptyTitle
	}
	if len(l.Title) > MaxTitleLength {
		return fmt.Errorf("title cannot exceed %d characters", MaxTitleLength)
	}
	if l.SortOrder < 0 {
		return ErrNegativeSortOrder
	}
	if l.DurationSeconds < 0 {
		return errors.New("duration cannot be negative")
	}
	return nil
}

// HasVideo returns true when a video reference is attached.
func (l *Lesson) HasVideo() bool {
	return l.VideoID != ""
}

// HasPromoBlock returns true when a delayed promo block is configured.
func (l *Lesson) HasPromoBlock() bool {
	return l.PromoDelaySeconds >= 0 && strings.TrimSpace(l.PromoHTML) != ""
}

// DurationFormatted renders the duration as m:ss.
func (l *Lesson) DurationFormatted() string {
	return fmt.Sprintf("%d:%02d", l.DurationSeconds/60, l.DurationSeconds%60)
}
