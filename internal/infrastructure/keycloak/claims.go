package keycloak

import (
	"slices"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"vn.io.arda/identity/internal/domain"
)

// Claim extractors return the zero value when a claim is absent or has an unexpected type.
// Introspection layouts differ between Keycloak versions and client mappers.

func claimString(c jwt.MapClaims, key string) string {
	s, _ := c[key].(string)
	return s
}

func claimBool(c jwt.MapClaims, key string) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func claimStrings(c jwt.MapClaims, key string) []string {
	switch v := c[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func claimMap(c jwt.MapClaims, key string) jwt.MapClaims {
	m, _ := c[key].(map[string]any)
	return m
}

// principalFromClaims builds a principal from an introspection response. Nil unless the token
// is active and names a user.
func principalFromClaims(c jwt.MapClaims) *domain.Principal {
	if !claimBool(c, "active") {
		return nil
	}
	login := claimString(c, "preferred_username")
	if login == "" {
		login = claimString(c, "username")
	}
	if login == "" {
		return nil
	}

	p := &domain.Principal{
		Login:     login,
		Email:     claimString(c, "email"),
		FirstName: claimString(c, "given_name"),
		LastName:  claimString(c, "family_name"),
		Active:    true,
		Roles:     rolesFromClaims(c),
		Clients:   clientsFromClaims(c),
	}
	p.ID, _ = c.GetSubject()
	p.DisplayName = claimString(c, "name")
	if p.DisplayName == "" {
		p.DisplayName = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	return p
}

// rolesFromClaims unions realm_access.roles, resource_access.*.roles and a top-level roles claim.
func rolesFromClaims(c jwt.MapClaims) []string {
	var roles []string
	roles = append(roles, claimStrings(claimMap(c, "realm_access"), "roles")...)

	access := claimMap(c, "resource_access")
	for _, client := range sortedKeys(access) {
		roles = append(roles, claimStrings(claimMap(access, client), "roles")...)
	}
	roles = append(roles, claimStrings(c, "roles")...)

	return lo.Uniq(lo.Map(roles, func(r string, _ int) string { return domain.PrefixRole(r) }))
}

// clientsFromClaims lists the resource_access clients followed by any extra audiences.
func clientsFromClaims(c jwt.MapClaims) []string {
	clients := sortedKeys(claimMap(c, "resource_access"))
	if aud, err := c.GetAudience(); err == nil {
		clients = append(clients, aud...)
	}
	return lo.Uniq(clients)
}

func sortedKeys(m jwt.MapClaims) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
