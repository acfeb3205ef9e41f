package domain

import (
	"encoding/json"
	"slices"
	"strings"
)

const (
	// RolePrefix is the local authority namespace. Remote backends never see it.
	RolePrefix = "ROLE_"

	// RoleAdministrator may purge the account cache.
	RoleAdministrator = RolePrefix + "ims-administrators"
)

// Principal is the resolved identity of a user, independent of the backend that produced it.
// It is rebuilt on every successful lookup and never persisted.
type Principal struct {
	// ID is the backend-native identifier (Keycloak user id). The legacy directory has none.
	ID          string
	Login       string
	DisplayName string
	FirstName   string
	LastName    string
	Email       string
	LangKey     string
	Active      bool
	// Roles are always prefixed with RolePrefix.
	Roles []string
	// Clients lists the OIDC clients/audiences the principal is entitled to.
	Clients []string
}

// Equal reports whether both principals denote the same login.
func (p *Principal) Equal(other *Principal) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Login == other.Login
}

// Clone returns a deep copy so cached values cannot be mutated by callers.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = slices.Clone(p.Roles)
	c.Clients = slices.Clone(p.Clients)
	return &c
}

// Public returns a copy without the email address, used for roster listings.
func (p *Principal) Public() *Principal {
	c := p.Clone()
	if c != nil {
		c.Email = ""
	}
	return c
}

// HasRole reports whether the principal holds role (prefixed or not).
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Roles, PrefixRole(role))
}

// principalView is the wire shape exposed to callers. The backend id is never serialized and
// "username" duplicates "login" for older clients.
type principalView struct {
	Login       string   `json:"login,omitempty"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
	Active      bool     `json:"active"`
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Clients     []string `json:"clients,omitempty"`
}

func (p Principal) MarshalJSON() ([]byte, error) {
	return json.Marshal(principalView{
		Login:       p.Login,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Active:      p.Active,
		Username:    p.Login,
		Roles:       p.Roles,
		Clients:     p.Clients,
	})
}

// PrefixRole applies RolePrefix unless the name already carries it.
func PrefixRole(name string) string {
	if strings.HasPrefix(name, RolePrefix) {
		return name
	}
	return RolePrefix + name
}

// StripRolePrefix turns a local authority back into the name known by the remote graph.
func StripRolePrefix(name string) string {
	return strings.TrimPrefix(name, RolePrefix)
}

// UpdateRequest carries the profile fields a user may change. Nil means unchanged.
type UpdateRequest struct {
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}
