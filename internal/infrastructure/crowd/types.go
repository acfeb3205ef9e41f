package crowd

import "vn.io.arda/identity/internal/domain"

// Config points at the Crowd REST root (…/crowd/rest/usermanagement/1) and the application
// credentials used for HTTP Basic authentication.
type Config struct {
	URL         string
	AppName     string
	AppPassword string
}

type crowdUser struct {
	Name        string `json:"name"`
	Key         string `json:"key,omitempty"`
	Active      *bool  `json:"active,omitempty"`
	FirstName   string `json:"first-name,omitempty"`
	LastName    string `json:"last-name,omitempty"`
	DisplayName string `json:"display-name,omitempty"`
	Email       string `json:"email,omitempty"`
}

func (u crowdUser) principal() *domain.Principal {
	return &domain.Principal{
		Login:       u.Name,
		LangKey:     u.Key,
		Active:      u.Active != nil && *u.Active,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: u.DisplayName,
		Email:       u.Email,
	}
}

type session struct {
	Token       string     `json:"token"`
	User        *crowdUser `json:"user"`
	CreatedDate int64      `json:"created-date"`
	ExpiryDate  int64      `json:"expiry-date"`
}

type groupsCollection struct {
	Groups []struct {
		Name string `json:"name"`
	} `json:"groups"`
}

// usersCollection is the roster response. A single member is sometimes returned as a bare
// top-level name with no users array.
type usersCollection struct {
	Users []crowdUser `json:"users"`
	Name  string      `json:"name"`
}

func (c usersCollection) logins() []string {
	if len(c.Users) == 0 && c.Name != "" {
		return []string{c.Name}
	}
	out := make([]string, 0, len(c.Users))
	for _, u := range c.Users {
		out = append(out, u.Name)
	}
	return out
}
