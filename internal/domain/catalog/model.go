package catalog

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
)

// Service is a bookable clinic service such as "Dermatology".
type Service struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Keys returns the canonical keys a doctor's services entry may use to
// name this service.
func (s *Service) Keys() []string {
	return []string{s.ID.String(), s.Slug, s.Title}
}

// Ref is the embedded form stored on doctor accounts.
func (s *Service) Ref() matching.ServiceRef {
	return matching.EmbeddedRef(s.ID.String(), s.Title, s.Title, s.Slug)
}

var (
	ErrNotFound  = apperr.NotFound("service not found")
	ErrSlugTaken = apperr.Conflict("Service slug already exists")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidSlug reports whether s is lower-case words joined by single hyphens.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// Slugify derives a slug from a title: "Skin & Hair Care" -> "skin-hair-care".
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
