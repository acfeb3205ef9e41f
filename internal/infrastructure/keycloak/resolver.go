package keycloak

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"vn.io.arda/identity/internal/domain"
)

const clientPageSize = 100

// search is one "who holds X" question. Term is already stripped of the local role prefix.
type search struct {
	actingID string
	term     string
}

// strategy is one step of the fallback chain. A failed remote call yields an empty result.
type strategy struct {
	name string
	run  func(ctx context.Context, s *adminSession, q search) []kcUser
}

// strategies answers a search by trying, in order: group, realm role, primary-client role,
// any client's role and finally the groups the role is mapped to.
func (p *Provider) strategies() []strategy {
	return []strategy{
		{"group", groupMembers},
		{"realm-role", realmRoleHolders},
		{"client-role", p.clientRoleHolders},
		{"cross-client-role", p.crossClientRoleHolders},
		{"group-mapping", p.roleGroupMembers},
	}
}

// resolve runs the chain until one strategy yields enabled users. Remaining strategies are
// skipped. A step whose holders are all disabled counts as empty.
func (p *Provider) resolve(ctx context.Context, s *adminSession, q search) []kcUser {
	for _, st := range p.strategies() {
		if users := usable(st.run(ctx, s, q)); len(users) > 0 {
			log.Debug().Str("term", q.term).Str("strategy", st.name).Int("users", len(users)).Msg("keycloak group search resolved")
			p.metrics.ResolverHit(st.name)
			return users
		}
	}
	log.Debug().Str("term", q.term).Msg("keycloak group search found nothing")
	return nil
}

// --- group strategy ---

func groupMembers(ctx context.Context, s *adminSession, q search) []kcUser {
	groups := s.actingUserGroups(ctx, q)
	if len(groups) == 0 {
		var found []kcGroup
		if err := s.get(ctx, "groups", "groups", url.Values{"search": {q.term}, "exact": {"true"}}, &found); err != nil {
			log.Error().Err(err).Str("group", q.term).Msg("keycloak group search failed")
			return nil
		}
		groups = findGroups(found, q.term)
	}

	var users []kcUser
	for _, g := range groups {
		users = append(users, s.members(ctx, g.ID)...)
	}
	return users
}

// actingUserGroups returns the acting user's own groups named term.
func (s *adminSession) actingUserGroups(ctx context.Context, q search) []kcGroup {
	if q.actingID == "" {
		return nil
	}
	var groups []kcGroup
	if err := s.get(ctx, "user_groups", "users/"+url.PathEscape(q.actingID)+"/groups", nil, &groups); err != nil {
		log.Warn().Err(err).Str("acting_id", q.actingID).Msg("keycloak acting user groups failed")
		return nil
	}
	return lo.Filter(groups, func(g kcGroup, _ int) bool { return g.Name == q.term })
}

// findGroups walks the returned tree, since exact search still returns ancestors of a match.
func findGroups(groups []kcGroup, name string) []kcGroup {
	var out []kcGroup
	for _, g := range groups {
		if g.Name == name {
			out = append(out, g)
		}
		out = append(out, findGroups(g.SubGroups, name)...)
	}
	return out
}

func (s *adminSession) members(ctx context.Context, groupID string) []kcUser {
	var users []kcUser
	if err := s.get(ctx, "group_members", "groups/"+url.PathEscape(groupID)+"/members", url.Values{"max": {"-1"}}, &users); err != nil {
		log.Error().Err(err).Str("group_id", groupID).Msg("keycloak group members failed")
		return nil
	}
	return users
}

// --- role strategies ---

func realmRoleHolders(ctx context.Context, s *adminSession, q search) []kcUser {
	role, ok := s.findRealmRole(ctx, q.term)
	if !ok {
		return nil
	}
	return s.holders(ctx, role, map[string]bool{})
}

func (p *Provider) clientRoleHolders(ctx context.Context, s *adminSession, q search) []kcUser {
	client, ok := s.findClient(ctx, p.cfg.ClientID)
	if !ok {
		return nil
	}
	role, ok := s.findClientRole(ctx, client, q.term)
	if !ok {
		return nil
	}
	return s.holders(ctx, role, map[string]bool{})
}

// crossClientRoleHolders pages through every client. The first exact match yielding users wins.
func (p *Provider) crossClientRoleHolders(ctx context.Context, s *adminSession, q search) []kcUser {
	var users []kcUser
	s.eachClient(ctx, func(c kcClient) bool {
		if c.ClientID == p.cfg.ClientID {
			return true
		}
		role, ok := s.findClientRole(ctx, c, q.term)
		if !ok {
			return true
		}
		users = usable(s.holders(ctx, role, map[string]bool{}))
		return len(users) == 0
	})
	return users
}

// roleGroupMembers collects the members of every group the role is mapped to, including all
// descendant subgroups.
func (p *Provider) roleGroupMembers(ctx context.Context, s *adminSession, q search) []kcUser {
	var roles []kcRole
	if role, ok := s.findRealmRole(ctx, q.term); ok {
		roles = append(roles, role)
	}
	s.eachClient(ctx, func(c kcClient) bool {
		if role, ok := s.findClientRole(ctx, c, q.term); ok {
			roles = append(roles, role)
		}
		return true
	})

	visited := map[string]bool{}
	var users []kcUser
	for _, role := range roles {
		var groups []kcGroup
		if err := s.get(ctx, "role_groups", rolePath(role)+"/groups", nil, &groups); err != nil {
			log.Error().Err(err).Str("role", role.Name).Msg("keycloak role groups failed")
			continue
		}
		for _, g := range groups {
			users = append(users, s.groupTreeMembers(ctx, g, visited)...)
		}
	}
	return users
}

// groupTreeMembers returns the members of g and of every descendant group.
func (s *adminSession) groupTreeMembers(ctx context.Context, g kcGroup, visited map[string]bool) []kcUser {
	if g.ID == "" || visited[g.ID] {
		return nil
	}
	visited[g.ID] = true

	users := s.members(ctx, g.ID)

	children := g.SubGroups
	var fetched []kcGroup
	if err := s.get(ctx, "group_children", "groups/"+url.PathEscape(g.ID)+"/children", url.Values{"max": {"-1"}}, &fetched); err != nil {
		log.Debug().Err(err).Str("group_id", g.ID).Msg("keycloak group children unavailable")
	}
	children = append(children, fetched...)

	for _, child := range children {
		users = append(users, s.groupTreeMembers(ctx, child, visited)...)
	}
	return users
}

// holders returns the users directly assigned to role. A composite role without enabled direct
// users is expanded into its children, recursively. visited keeps cyclic graphs finite.
func (s *adminSession) holders(ctx context.Context, role kcRole, visited map[string]bool) []kcUser {
	if visited[role.key()] {
		return nil
	}
	visited[role.key()] = true

	var users []kcUser
	if err := s.get(ctx, "role_users", rolePath(role)+"/users", url.Values{"max": {"-1"}}, &users); err != nil {
		log.Error().Err(err).Str("role", role.Name).Msg("keycloak role users failed")
	}
	if len(usable(users)) > 0 || !role.Composite || role.ID == "" {
		return users
	}

	var children []kcRole
	if err := s.get(ctx, "role_composites", "roles-by-id/"+url.PathEscape(role.ID)+"/composites", nil, &children); err != nil {
		log.Error().Err(err).Str("role", role.Name).Msg("keycloak role composites failed")
		return nil
	}
	for _, child := range children {
		users = append(users, s.holders(ctx, child, visited)...)
	}
	return users
}

func rolePath(r kcRole) string {
	if r.ClientRole {
		return "clients/" + url.PathEscape(r.ContainerID) + "/roles/" + url.PathEscape(r.Name)
	}
	return "roles/" + url.PathEscape(r.Name)
}

func (s *adminSession) findRealmRole(ctx context.Context, name string) (kcRole, bool) {
	var roles []kcRole
	if err := s.get(ctx, "roles", "roles", url.Values{"search": {name}}, &roles); err != nil {
		log.Error().Err(err).Str("role", name).Msg("keycloak realm role search failed")
		return kcRole{}, false
	}
	role, ok := lo.Find(roles, func(r kcRole) bool { return r.Name == name })
	role.ClientRole = false
	return role, ok
}

func (s *adminSession) findClientRole(ctx context.Context, c kcClient, name string) (kcRole, bool) {
	var roles []kcRole
	if err := s.get(ctx, "client_roles", "clients/"+url.PathEscape(c.ID)+"/roles", url.Values{"search": {name}}, &roles); err != nil {
		log.Error().Err(err).Str("client", c.ClientID).Str("role", name).Msg("keycloak client role search failed")
		return kcRole{}, false
	}
	role, ok := lo.Find(roles, func(r kcRole) bool { return r.Name == name })
	role.ClientRole = true
	role.ContainerID = c.ID
	return role, ok
}

func (s *adminSession) findClient(ctx context.Context, clientID string) (kcClient, bool) {
	if clientID == "" {
		return kcClient{}, false
	}
	var clients []kcClient
	if err := s.get(ctx, "clients", "clients", url.Values{"clientId": {clientID}}, &clients); err != nil {
		log.Error().Err(err).Str("client", clientID).Msg("keycloak client lookup failed")
		return kcClient{}, false
	}
	return lo.Find(clients, func(c kcClient) bool { return c.ClientID == clientID })
}

// eachClient pages through all clients until fn returns false or a short page is seen.
func (s *adminSession) eachClient(ctx context.Context, fn func(kcClient) bool) {
	for first := 0; ; first += clientPageSize {
		var page []kcClient
		q := url.Values{"first": {strconv.Itoa(first)}, "max": {strconv.Itoa(clientPageSize)}}
		if err := s.get(ctx, "clients", "clients", q, &page); err != nil {
			log.Error().Err(err).Int("first", first).Msg("keycloak client listing failed")
			return
		}
		for _, c := range page {
			if !fn(c) {
				return
			}
		}
		if len(page) < clientPageSize {
			return
		}
	}
}

// usable keeps enabled users, deduplicated by id.
func usable(users []kcUser) []kcUser {
	users = lo.Filter(users, func(u kcUser, _ int) bool { return u.Enabled })
	return lo.UniqBy(users, kcUser.identity)
}

// refine applies the caller-facing post-processing to the aggregate: username substring
// filter, then the page window.
func refine(users []kcUser, usernameFilter string, pageSize, offset int) []kcUser {
	needle := strings.ToLower(usernameFilter)
	users = lo.Filter(users, func(u kcUser, _ int) bool {
		return strings.Contains(strings.ToLower(u.Username), needle)
	})
	return domain.Page(users, pageSize, offset)
}
