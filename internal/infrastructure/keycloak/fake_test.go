package keycloak

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vn.io.arda/identity/internal/accountcache"
)

const (
	realm        = "test"
	adminToken   = "admin-token-0123456789"
	primaryID    = "ims"
	primaryUUID  = "uuid-ims"
	adminClient  = "admin-cli"
	adminSecret  = "admin-secret"
	goodCode     = "good-code"
	passwordUser = "alice"
	passwordPass = "correct horse"
)

// fakeKeycloak serves the subset of the Keycloak API the provider uses. hits counts requests by
// route pattern; token grants are counted as "grant:<type>".
type fakeKeycloak struct {
	srv *httptest.Server

	mu   sync.Mutex
	hits map[string]int

	claims      map[string]map[string]any // token → introspection JSON
	jwts        map[string]string         // token → compact JWT served as application/jwt
	users       []kcUser
	groups      []kcGroup            // search results for groups?search=
	children    map[string][]kcGroup // group id → children
	members     map[string][]string  // group id → user ids
	userGroups  map[string][]kcGroup // user id → groups
	realmRoles  []kcRole
	clients     []kcClient
	clientRoles map[string][]kcRole       // client uuid → roles
	roleUsers   map[string][]string       // role path → user ids
	roleGroups  map[string][]kcGroup      // role path → groups
	composites  map[string][]kcRole       // role id → children
	mappings    map[string]kcRoleMappings // user id → role mappings
	failing     map[string]bool           // route pattern → answer 500
	resets      map[string]map[string]any // user id → reset-password body
	accounts    []map[string]string       // bodies posted to the account endpoint
	accountAuth []string                  // Authorization headers seen by the account endpoint
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()
	f := &fakeKeycloak{
		hits:        map[string]int{},
		claims:      map[string]map[string]any{},
		jwts:        map[string]string{},
		children:    map[string][]kcGroup{},
		members:     map[string][]string{},
		userGroups:  map[string][]kcGroup{},
		clients:     []kcClient{{ID: primaryUUID, ClientID: primaryID}},
		clientRoles: map[string][]kcRole{},
		roleUsers:   map[string][]string{},
		roleGroups:  map[string][]kcGroup{},
		composites:  map[string][]kcRole{},
		mappings:    map[string]kcRoleMappings{},
		failing:     map[string]bool{},
		resets:      map[string]map[string]any{},
	}

	mux := http.NewServeMux()
	oidc := "/realms/" + realm + "/protocol/openid-connect"
	admin := "/admin/realms/" + realm

	f.handle(mux, "POST "+oidc+"/token", f.token)
	f.handle(mux, "POST "+oidc+"/token/introspect", f.introspect)
	f.handle(mux, "POST "+oidc+"/revoke", func(w http.ResponseWriter, r *http.Request) {})
	f.handle(mux, "POST /realms/"+realm+"/account/{$}", f.account)

	f.adminRoute(mux, "GET "+admin+"/users", func(w http.ResponseWriter, r *http.Request) {
		var out []kcUser
		for _, u := range f.users {
			if u.Username == r.URL.Query().Get("username") {
				out = append(out, u)
			}
		}
		writeJSON(w, out)
	})
	f.adminRoute(mux, "GET "+admin+"/users/{id}/groups", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.userGroups[r.PathValue("id")])
	})
	f.adminRoute(mux, "GET "+admin+"/users/{id}/role-mappings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.mappings[r.PathValue("id")])
	})
	f.adminRoute(mux, "PUT "+admin+"/users/{id}/reset-password", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.resets[r.PathValue("id")] = body
		w.WriteHeader(http.StatusNoContent)
	})
	f.adminRoute(mux, "GET "+admin+"/groups", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.groups)
	})
	f.adminRoute(mux, "GET "+admin+"/groups/{id}/members", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.usersByID(f.members[r.PathValue("id")]))
	})
	f.adminRoute(mux, "GET "+admin+"/groups/{id}/children", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.children[r.PathValue("id")])
	})
	f.adminRoute(mux, "GET "+admin+"/roles", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, searchRoles(f.realmRoles, r.URL.Query().Get("search")))
	})
	f.adminRoute(mux, "GET "+admin+"/roles/{name}/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.usersByID(f.roleUsers["roles/"+r.PathValue("name")]))
	})
	f.adminRoute(mux, "GET "+admin+"/roles/{name}/groups", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.roleGroups["roles/"+r.PathValue("name")])
	})
	f.adminRoute(mux, "GET "+admin+"/clients", f.listClients)
	f.adminRoute(mux, "GET "+admin+"/clients/{id}/roles", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, searchRoles(f.clientRoles[r.PathValue("id")], r.URL.Query().Get("search")))
	})
	f.adminRoute(mux, "GET "+admin+"/clients/{id}/roles/{name}/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.usersByID(f.roleUsers[clientRolePath(r.PathValue("id"), r.PathValue("name"))]))
	})
	f.adminRoute(mux, "GET "+admin+"/clients/{id}/roles/{name}/groups", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.roleGroups[clientRolePath(r.PathValue("id"), r.PathValue("name"))])
	})
	f.adminRoute(mux, "GET "+admin+"/roles-by-id/{id}/composites", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.composites[r.PathValue("id")])
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeKeycloak) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.hits[pattern]++
		if f.failing[pattern] {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		h(w, r)
	})
}

func (f *fakeKeycloak) adminRoute(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	f.handle(mux, pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+adminToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	})
}

// hit returns the request count of the route whose pattern ends with suffix.
func (f *fakeKeycloak) hit(suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for pattern, c := range f.hits {
		if strings.HasSuffix(pattern, suffix) {
			n += c
		}
	}
	return n
}

// total counts every request received.
func (f *fakeKeycloak) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key, c := range f.hits {
		if !strings.HasPrefix(key, "grant:") {
			n += c
		}
	}
	return n
}

func (f *fakeKeycloak) fail(suffix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range []string{"GET ", "POST ", "PUT "} {
		for _, prefix := range []string{"/admin/realms/" + realm, "/realms/" + realm + "/protocol/openid-connect"} {
			f.failing[p+prefix+suffix] = true
		}
	}
}

func (f *fakeKeycloak) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	grant := r.PostForm.Get("grant_type")
	f.hits["grant:"+grant]++

	var tok string
	switch grant {
	case "client_credentials":
		if r.PostForm.Get("client_id") == adminClient && r.PostForm.Get("client_secret") == adminSecret {
			tok = adminToken
		}
	case "password":
		if r.PostForm.Get("username") == passwordUser && r.PostForm.Get("password") == passwordPass {
			tok = "password-token"
		}
	case "authorization_code":
		if r.PostForm.Get("code") == goodCode && r.PostForm.Get("redirect_uri") != "" {
			tok = "code-token"
		}
	}
	if tok == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	writeJSON(w, map[string]any{"access_token": tok, "token_type": "Bearer", "expires_in": 300})
}

func (f *fakeKeycloak) introspect(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	token := r.PostForm.Get("token")
	if compact, ok := f.jwts[token]; ok {
		w.Header().Set("Content-Type", "application/jwt")
		_, _ = w.Write([]byte(compact))
		return
	}
	if c, ok := f.claims[token]; ok {
		writeJSON(w, c)
		return
	}
	writeJSON(w, map[string]any{"active": false})
}

func (f *fakeKeycloak) account(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.accounts = append(f.accounts, body)
	f.accountAuth = append(f.accountAuth, r.Header.Get("Authorization"))
	for i, u := range f.users {
		if u.Email == body["email"] {
			if v, ok := body["firstName"]; ok {
				f.users[i].FirstName = v
			}
			if v, ok := body["lastName"]; ok {
				f.users[i].LastName = v
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeKeycloak) listClients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if id := q.Get("clientId"); id != "" {
		var out []kcClient
		for _, c := range f.clients {
			if c.ClientID == id {
				out = append(out, c)
			}
		}
		writeJSON(w, out)
		return
	}
	first, _ := strconv.Atoi(q.Get("first"))
	limit, err := strconv.Atoi(q.Get("max"))
	if err != nil {
		limit = len(f.clients)
	}
	if first >= len(f.clients) {
		writeJSON(w, []kcClient{})
		return
	}
	end := min(first+limit, len(f.clients))
	writeJSON(w, f.clients[first:end])
}

func (f *fakeKeycloak) usersByID(ids []string) []kcUser {
	out := []kcUser{}
	for _, id := range ids {
		for _, u := range f.users {
			if u.ID == id {
				out = append(out, u)
			}
		}
	}
	return out
}

// addClientRole registers a client with one role and returns the role.
func (f *fakeKeycloak) addClientRole(clientUUID, clientID string, role kcRole) kcRole {
	if clientID != "" {
		f.clients = append(f.clients, kcClient{ID: clientUUID, ClientID: clientID})
	}
	role.ClientRole = true
	role.ContainerID = clientUUID
	f.clientRoles[clientUUID] = append(f.clientRoles[clientUUID], role)
	return role
}

func clientRolePath(clientUUID, name string) string {
	return "clients/" + clientUUID + "/roles/" + name
}

func searchRoles(roles []kcRole, term string) []kcRole {
	out := []kcRole{}
	for _, r := range roles {
		if strings.Contains(strings.ToLower(r.Name), strings.ToLower(term)) {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(url string) Config {
	return Config{
		URL:               url,
		Realm:             realm,
		ClientID:          primaryID,
		ClientSecret:      "ims-secret",
		AdminClientID:     adminClient,
		AdminClientSecret: adminSecret,
	}
}

func newTestProvider(t *testing.T, f *fakeKeycloak) *Provider {
	t.Helper()
	p := New(testConfig(f.srv.URL), f.srv.Client(), accountcache.New(100, time.Minute, nil), nil)
	require.NotNil(t, p)
	return p
}

func user(id, username string, enabled bool) kcUser {
	return kcUser{
		ID:        id,
		Username:  username,
		FirstName: strings.ToUpper(username[:1]) + username[1:],
		LastName:  "Tester",
		Email:     username + "@example.org",
		Enabled:   enabled,
	}
}
