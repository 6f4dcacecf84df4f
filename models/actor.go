package models

type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleOrganizer UserRole = "organizer"
	RolePlayer    UserRole = "player"
)

// Actor is the caller identity recorded in audit fields.
type Actor struct {
	ID   int      `json:"id"`
	Role UserRole `json:"role"`
}
