package account

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
	"github.com/clinicbook/clinic/internal/platform/auth"
)

// Account is a patient, doctor or admin login. Doctor-only fields stay
// zero for other roles.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`

	// Services entries may be plain ids, titles, or embedded service
	// objects. They are matched through matching.ServiceKeys only.
	Services              []matching.ServiceRef `json:"services"`
	Specialization        string                `json:"specialization,omitempty"`
	Experience            int                   `json:"experience,omitempty"`
	Qualification         string                `json:"qualification,omitempty"`
	AvgRating             float64               `json:"avgRating"`
	RatingCount           int                   `json:"ratingCount"`
	CompletedAppointments int                   `json:"completedAppointments"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (a *Account) OfferedServices() []matching.ServiceRef {
	return a.Services
}

func (a *Account) IsDoctor() bool { return a.Role == auth.RoleDoctor }

func (a *Account) Principal() auth.Principal {
	return auth.Principal{ID: a.ID, Email: a.Email, Role: a.Role}
}

// ApplyCompletion folds one finished appointment into the doctor's
// counters. Unrated completions leave the average untouched.
func (a *Account) ApplyCompletion(rating *float64) {
	a.CompletedAppointments++
	if rating == nil {
		return
	}
	a.AvgRating = NextAverage(a.AvgRating, a.RatingCount, *rating)
	a.RatingCount++
}

// NextAverage is the incremental mean rounded to one decimal.
func NextAverage(avg float64, count int, rating float64) float64 {
	return Round1((avg*float64(count) + rating) / float64(count+1))
}

func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// NormalizeEmail is the stored and compared form of an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var (
	ErrNotFound        = apperr.NotFound("User not found")
	ErrDoctorNotFound  = apperr.NotFound("doctor not found")
	ErrPatientNotFound = apperr.NotFound("patient not found")
	ErrEmailTaken      = apperr.Conflict("Email already registered")
	ErrBadCredentials  = apperr.Unauthorized("Invalid credentials")
	ErrBadAdminKey     = apperr.Forbidden("Invalid admin key")
)
