package auth

import "strings"

// Role is the closed set of account roles.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// ParseRole accepts a case-insensitive role name. Empty input yields patient.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RolePatient:
		return RolePatient, true
	case RoleDoctor:
		return RoleDoctor, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Capability names an action checked at the access-control boundary.
type Capability string

const (
	CapManageSlots     Capability = "slots:write"
	CapCompleteBooking Capability = "bookings:complete"
	CapClaimBooking    Capability = "bookings:claim"
	CapViewAllBookings Capability = "bookings:read-all"
	CapDeleteBooking   Capability = "bookings:delete"
	CapManageCatalog   Capability = "services:write"
	CapManageAccounts  Capability = "accounts:write"
)

var capabilities = map[Role]map[Capability]bool{
	RolePatient: {},
	RoleDoctor: {
		CapManageSlots:     true,
		CapCompleteBooking: true,
		CapClaimBooking:    true,
	},
}

// Can reports whether the role holds cap. Admins hold every capability.
func (r Role) Can(cap Capability) bool {
	if r == RoleAdmin {
		return true
	}
	return capabilities[r][cap]
}
