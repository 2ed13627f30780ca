package auth

import "time"

type Role string

const (
	RoleAdmin        Role = "Admin"
	RoleHR           Role = "HR"
	RoleTeamLead     Role = "TeamLead"
	RoleEmployee     Role = "Employee"
	RoleProductOwner Role = "ProductOwner"
)

// Identity is the verified content of a bearer token.
type Identity struct {
	Subject   string    `json:"sub"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}
