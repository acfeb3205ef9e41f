package keycloak

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/identity/internal/accountcache"
	"vn.io.arda/identity/internal/domain"
)

func TestGetUser(t *testing.T) {
	f := newFakeKeycloak(t)
	seedUsers(f)
	p := newTestProvider(t, f)
	ctx := context.Background()

	got := p.GetUser(ctx, "alice")
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "Alice Tester", got.DisplayName)
	assert.Equal(t, "alice@example.org", got.Email)
	assert.True(t, got.Active)

	assert.Nil(t, p.GetUser(ctx, "nobody"))
	assert.Nil(t, p.GetUser(ctx, ""))
}

func TestGetUser_MissingAdminClientDegrades(t *testing.T) {
	f := newFakeKeycloak(t)
	seedUsers(f)
	cfg := testConfig(f.srv.URL)
	cfg.AdminClientID = ""
	p := New(cfg, f.srv.Client(), accountcache.New(10, time.Minute, nil), nil)

	assert.Nil(t, p.GetUser(context.Background(), "alice"))
	assert.Equal(t, []string{}, p.GetUserRoles(context.Background(), "alice"))
	assert.Zero(t, f.total())
}

func TestGetUserRoles_UnionsRealmAndClientMappings(t *testing.T) {
	f := newFakeKeycloak(t)
	seedUsers(f)
	m := kcRoleMappings{RealmMappings: []kcRole{{Name: "offline_access"}, {Name: "author"}}}
	m.ClientMappings = map[string]kcClientMapping{
		"ims":    {Client: "ims", Mappings: []kcRole{{Name: "ims-administrators"}, {Name: "author"}}},
		"browse": {Client: "browse", Mappings: []kcRole{{Name: "viewer"}}},
	}
	f.mappings["u1"] = m
	p := newTestProvider(t, f)

	got := p.GetUserRoles(context.Background(), "alice")

	assert.Equal(t, []string{"ROLE_offline_access", "ROLE_author", "ROLE_viewer", "ROLE_ims-administrators"}, got)
}

func TestGetUserRoles_UnknownUserIsEmpty(t *testing.T) {
	f := newFakeKeycloak(t)
	p := newTestProvider(t, f)

	got := p.GetUserRoles(context.Background(), "ghost")

	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestUpdateUser(t *testing.T) {
	f := newFakeKeycloak(t)
	seedUsers(f)
	f.claims["user-token"] = map[string]any{"active": true, "sub": "u1", "preferred_username": "alice", "roles": []string{"author"}}
	p := newTestProvider(t, f)
	ctx := context.Background()

	current := p.GetUserByToken(ctx, "user-token")
	require.NotNil(t, current)
	current.Email = "alice@example.org"
	first := "Alicia"

	updated, err := p.UpdateUser(ctx, current, domain.UpdateRequest{FirstName: &first}, "user-token")

	require.NoError(t, err)
	assert.Equal(t, "Alicia", updated.FirstName)
	require.Len(t, f.accounts, 1)
	assert.Equal(t, map[string]string{"email": "alice@example.org", "firstName": "Alicia"}, f.accounts[0])
	assert.Equal(t, "Bearer user-token", f.accountAuth[0])

	p.GetUserByToken(ctx, "user-token")
	assert.Equal(t, 2, f.hit("/token/introspect"), "update evicts the cached principal")
}

func TestUpdateUser_DisplayNameFollowsNames(t *testing.T) {
	f := newFakeKeycloak(t)
	seedUsers(f)
	p := newTestProvider(t, f)
	first, last, display := "Alicia", "Liddell", "Ally"

	updated, err := p.UpdateUser(context.Background(),
		&domain.Principal{Login: "alice", Email: "alice@example.org"},
		domain.UpdateRequest{FirstName: &first, LastName: &last, DisplayName: &display},
		"user-token")

	require.NoError(t, err)
	require.Len(t, f.accounts, 1)
	assert.NotContains(t, f.accounts[0], "displayName")
	assert.Equal(t, "Alicia Liddell", updated.DisplayName)
}

func TestUpdateUser_Rejected(t *testing.T) {
	f := newFakeKeycloak(t)
	seedUsers(f)
	f.failing["POST /realms/"+realm+"/account/{$}"] = true
	p := newTestProvider(t, f)

	_, err := p.UpdateUser(context.Background(), &domain.Principal{Login: "alice"}, domain.UpdateRequest{}, "user-token")
	assert.ErrorIs(t, err, domain.ErrUpdateFailed)

	_, err = p.UpdateUser(context.Background(), nil, domain.UpdateRequest{}, "user-token")
	assert.ErrorIs(t, err, domain.ErrUpdateFailed)
}

func TestResetUserPassword(t *testing.T) {
	f := newFakeKeycloak(t)
	seedUsers(f)
	f.claims["t1"] = map[string]any{"active": true, "preferred_username": "alice", "roles": []string{"author"}}
	p := newTestProvider(t, f)
	ctx := context.Background()
	p.GetUserByToken(ctx, "t1")

	require.NoError(t, p.ResetUserPassword(ctx, "alice", "n3w-passw0rd"))

	assert.Equal(t, map[string]any{"type": "password", "value": "n3w-passw0rd", "temporary": false}, f.resets["u1"])
	p.GetUserByToken(ctx, "t1")
	assert.Equal(t, 2, f.hit("/token/introspect"), "reset evicts every token of the user")
}

func TestResetUserPassword_Failures(t *testing.T) {
	f := newFakeKeycloak(t)
	seedUsers(f)
	p := newTestProvider(t, f)
	ctx := context.Background()

	assert.ErrorIs(t, p.ResetUserPassword(ctx, "ghost", "pw"), domain.ErrUpdateFailed)
	assert.ErrorIs(t, p.ResetUserPassword(ctx, "alice", ""), domain.ErrUpdateFailed)

	f.fail("/users/{id}/reset-password")
	assert.ErrorIs(t, p.ResetUserPassword(ctx, "alice", "pw"), domain.ErrUpdateFailed)
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	cfg := testConfig("http://kc.local:8080/")
	p := New(cfg, nil, nil, nil)

	assert.Equal(t, "http://kc.local:8080/realms/test/protocol/openid-connect/token", p.endpoint("token"))
	assert.Equal(t, "http://kc.local:8080/admin/realms/test/users", p.adminURL("users"))
	assert.Equal(t, []string{"admin_client_secret", "client_id"}, Config{URL: "u", Realm: "r", ClientSecret: "s", AdminClientID: "a"}.missing())
}
