// Package file is an offline identity backend reading users.txt (username=password) and
// user-groups.txt (username=group1,group2) from a directory. Files are reloaded whenever their
// modification time changes. Tokens live in memory only.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/magiconair/properties"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"vn.io.arda/identity/internal/domain"
	"vn.io.arda/identity/internal/redact"
)

const (
	UsersFile  = "users.txt"
	GroupsFile = "user-groups.txt"
)

var _ domain.IdentityProvider = (*Provider)(nil)

type source struct {
	path    string
	modTime time.Time
}

func (s *source) changed() bool {
	fi, err := os.Stat(s.path)
	if err != nil {
		return true
	}
	return !fi.ModTime().Equal(s.modTime)
}

func (s *source) load() (*properties.Properties, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	props, err := l.LoadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	s.modTime = fi.ModTime()
	return props, nil
}

type Provider struct {
	// loadMu serializes change detection and reloads.
	loadMu sync.Mutex
	users  source
	groups source

	mu        sync.RWMutex
	principal map[string]*domain.Principal
	passwords map[string]string
	// tokens maps a token to a login; a user keeps one token until it is invalidated.
	tokens map[string]string
}

// New loads both files from dir. Missing or malformed files are an error.
func New(dir string) (*Provider, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("user file directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("user file directory %s is not a directory", dir)
	}
	p := &Provider{
		users:  source{path: filepath.Join(dir, UsersFile)},
		groups: source{path: filepath.Join(dir, GroupsFile)},
		tokens: map[string]string{},
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) reload() error {
	users, err := p.users.load()
	if err != nil {
		return err
	}
	groups, err := p.groups.load()
	if err != nil {
		return err
	}

	principals := make(map[string]*domain.Principal, users.Len())
	passwords := make(map[string]string, users.Len())
	for _, login := range users.Keys() {
		passwords[login], _ = users.Get(login)
		principals[login] = &domain.Principal{Login: login, Active: true, Roles: []string{}}
	}
	for _, login := range groups.Keys() {
		u, ok := principals[login]
		if !ok {
			return fmt.Errorf("user %q is listed in %s but not in %s", login, GroupsFile, UsersFile)
		}
		list, _ := groups.Get(login)
		for _, g := range strings.Split(list, ",") {
			if g = strings.TrimSpace(g); g != "" {
				u.Roles = append(u.Roles, domain.PrefixRole(g))
			}
		}
		u.Roles = lo.Uniq(u.Roles)
	}

	p.mu.Lock()
	p.principal = principals
	p.passwords = passwords
	for token, login := range p.tokens {
		if _, ok := principals[login]; !ok {
			delete(p.tokens, token)
		}
	}
	p.mu.Unlock()

	log.Info().Int("users", len(principals)).Msg("loaded users and groups from files")
	return nil
}

// refresh reloads when either file changed. A failed reload keeps the previous state.
func (p *Provider) refresh() {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if !p.users.changed() && !p.groups.changed() {
		return
	}
	if err := p.reload(); err != nil {
		log.Error().Err(err).Msg("failed to reload user files")
	}
}

func (p *Provider) lookup(login string) *domain.Principal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.principal[login].Clone()
}

func (p *Provider) Authenticate(_ context.Context, username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	p.refresh()

	p.mu.Lock()
	defer p.mu.Unlock()
	stored, ok := p.passwords[username]
	if !ok || stored != password {
		return ""
	}
	for token, login := range p.tokens {
		if login == username {
			return token
		}
	}
	token := uuid.NewString()
	p.tokens[token] = username
	return token
}

func (p *Provider) GetUser(_ context.Context, username string) *domain.Principal {
	if username == "" {
		return nil
	}
	p.refresh()
	return p.lookup(username)
}

func (p *Provider) GetUserByToken(_ context.Context, token string) *domain.Principal {
	if token == "" {
		return nil
	}
	p.refresh()

	p.mu.RLock()
	login, ok := p.tokens[token]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.lookup(login)
}

func (p *Provider) GetUserRoles(_ context.Context, username string) []string {
	p.refresh()
	if u := p.lookup(username); u != nil {
		return u.Roles
	}
	return []string{}
}

// SearchUsersByGroup matches the username filter exactly, as the files hold no display data.
func (p *Provider) SearchUsersByGroup(_ context.Context, _ string, groupName, usernameFilter string, pageSize, offset int) []*domain.Principal {
	role := domain.StripRolePrefix(groupName)
	if role == "" {
		return []*domain.Principal{}
	}
	role = domain.PrefixRole(role)
	p.refresh()

	p.mu.RLock()
	var out []*domain.Principal
	for _, u := range p.principal {
		if usernameFilter != "" && u.Login != usernameFilter {
			continue
		}
		if u.Active && slices.Contains(u.Roles, role) {
			out = append(out, u.Public())
		}
	}
	p.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.Principal) int { return strings.Compare(a.Login, b.Login) })
	return domain.Page(out, pageSize, offset)
}

// InvalidateToken forgets the token. Unknown tokens are not an error.
func (p *Provider) InvalidateToken(_ context.Context, token string) bool {
	if token == "" {
		return false
	}
	p.mu.Lock()
	delete(p.tokens, token)
	p.mu.Unlock()
	log.Debug().Str("token", redact.Token(token)).Msg("file token invalidated")
	return true
}

func (p *Provider) UpdateUser(context.Context, *domain.Principal, domain.UpdateRequest, string) (*domain.Principal, error) {
	return nil, domain.ErrUnsupported
}

func (p *Provider) ResetUserPassword(context.Context, string, string) error {
	return domain.ErrUnsupported
}
