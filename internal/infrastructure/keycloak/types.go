package keycloak

import (
	"slices"
	"strings"

	"vn.io.arda/identity/internal/domain"
)

// Config holds the realm coordinates and both client registrations.
type Config struct {
	URL          string // e.g. "http://keycloak:8080"
	Realm        string
	ClientID     string
	ClientSecret string

	// Admin client, used with the client-credentials grant for /admin/realms calls.
	AdminClientID     string
	AdminClientSecret string
}

func (c Config) missing() []string {
	var out []string
	for name, v := range map[string]string{
		"url":                 c.URL,
		"realm":               c.Realm,
		"client_id":           c.ClientID,
		"client_secret":       c.ClientSecret,
		"admin_client_id":     c.AdminClientID,
		"admin_client_secret": c.AdminClientSecret,
	} {
		if v == "" {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// kcUser is the admin API user representation.
type kcUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Enabled   bool   `json:"enabled"`
}

func (u kcUser) principal() *domain.Principal {
	return &domain.Principal{
		ID:          u.ID,
		Login:       u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Email:       u.Email,
		Active:      u.Enabled,
	}
}

// identity is the dedupe key: id, or username when the id is absent.
func (u kcUser) identity() string {
	if u.ID != "" {
		return u.ID
	}
	return u.Username
}

type kcGroup struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SubGroups []kcGroup `json:"subGroups"`
}

type kcRole struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Composite   bool   `json:"composite"`
	ClientRole  bool   `json:"clientRole"`
	ContainerID string `json:"containerId"` // realm id, or the client's internal id for client roles
}

// key identifies a role across realm and client namespaces.
func (r kcRole) key() string {
	if r.ID != "" {
		return r.ID
	}
	if r.ClientRole {
		return r.ContainerID + "/" + r.Name
	}
	return "realm/" + r.Name
}

type kcClient struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
}

type kcRoleMappings struct {
	RealmMappings  []kcRole                   `json:"realmMappings"`
	ClientMappings map[string]kcClientMapping `json:"clientMappings"`
}

type kcClientMapping struct {
	Client   string   `json:"client"`
	Mappings []kcRole `json:"mappings"`
}
