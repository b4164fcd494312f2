package entity

import "strings"

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleVendor   Role = "VENDOR"
)

type User struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Session is issued by the authentication collaborator. The engine only reads it.
type Session struct {
	Token string `json:"-"`
	User  User   `json:"user"`
}

// ParseRole accepts a role claim in any case ("vendor", "VENDOR").
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleCustomer:
		return RoleCustomer, true
	case RoleVendor:
		return RoleVendor, true
	}
	return "", false
}
