package models

import "errors"

// Role is the marketplace side an identity acts for.
type Role string

const (
	RoleBakery  Role = "bakery"
	RoleCharity Role = "charity"
)

var ErrUnsupportedRole = errors.New("unsupported role")

// ParseRole accepts the roles the messenger knows how to serve.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleBakery, RoleCharity:
		return Role(s), nil
	}
	return "", ErrUnsupportedRole
}

// Identity is who the signed-in session acts as. It never changes for the
// lifetime of a session.
type Identity struct {
	ID    ID     `json:"id"`
	Role  Role   `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Peer is the subset of an identity shown in conversation lists.
type Peer struct {
	ID    ID     `json:"id"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

// AsPeer drops nothing but the type.
func (i Identity) AsPeer() Peer {
	return Peer{ID: i.ID, Name: i.Name, Role: i.Role, Email: i.Email}
}
