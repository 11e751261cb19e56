package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"qazna.org/authcore/internal/ids"
)

// MemoryStore is an in-process Store. Transactions run against a private copy
// of the state that replaces the shared state on commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	identities map[string]Identity
	byEmail    map[string]string
	sessions   map[string]RefreshSession // keyed by token hash
	roles      map[string][]string       // role name -> permission names
	userRoles  map[string][]string
	userPerms  map[string][]string
}

func newMemState() *memState {
	return &memState{
		identities: map[string]Identity{},
		byEmail:    map[string]string{},
		sessions:   map[string]RefreshSession{},
		roles:      map[string][]string{},
		userRoles:  map[string][]string{},
		userPerms:  map[string][]string{},
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	for k, v := range s.identities {
		out.identities[k] = v
	}
	for k, v := range s.byEmail {
		out.byEmail[k] = v
	}
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	cloneLists(out.roles, s.roles)
	cloneLists(out.userRoles, s.userRoles)
	cloneLists(out.userPerms, s.userPerms)
	return out
}

func cloneLists(dst, src map[string][]string) {
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
}

// NewMemoryStore returns an empty store. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{state: newMemState(), now: now}
}

func (m *MemoryStore) Identities(context.Context) IdentityRepository {
	return memIdentities{memView{m: m}}
}

func (m *MemoryStore) RefreshSessions(context.Context) RefreshSessionStore {
	return memSessions{memView{m: m}}
}

func (m *MemoryStore) Roles(context.Context) RoleRepository {
	return memRoles{memView{m: m}}
}

// InTx serializes fn with every other store call.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, memTx{memView{m: m, tx: work}}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// DefineRole creates or replaces role with the given permissions.
func (m *MemoryStore) DefineRole(role string, permissions ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.roles[role] = append([]string(nil), permissions...)
}

// AssignRole grants role to the identity.
func (m *MemoryStore) AssignRole(identityID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.roles[role]; !ok {
		return errors.New("auth: unknown role " + role)
	}
	if _, ok := m.state.identities[identityID]; !ok {
		return ErrIdentityNotFound
	}
	m.state.userRoles[identityID] = append(m.state.userRoles[identityID], role)
	return nil
}

// GrantPermission grants a permission directly to the identity.
func (m *MemoryStore) GrantPermission(identityID, permission string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.identities[identityID]; !ok {
		return ErrIdentityNotFound
	}
	m.state.userPerms[identityID] = append(m.state.userPerms[identityID], permission)
	return nil
}

// Sessions returns a copy of every stored session of the identity.
func (m *MemoryStore) Sessions(identityID string) []RefreshSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RefreshSession
	for _, s := range m.state.sessions {
		if s.IdentityID == identityID {
			out = append(out, s)
		}
	}
	return out
}

// memView runs against the transaction copy when tx is set, otherwise against
// the shared state under the store mutex.
type memView struct {
	m  *MemoryStore
	tx *memState
}

func (v memView) with(fn func(*memState) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return fn(v.m.state)
}

type memTx struct{ memView }

func (t memTx) Identities(context.Context) IdentityRepository { return memIdentities{t.memView} }
func (t memTx) RefreshSessions(context.Context) RefreshSessionStore { return memSessions{t.memView} }
func (t memTx) Roles(context.Context) RoleRepository { return memRoles{t.memView} }
func (t memTx) InTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return fn(ctx, t)
}

type memIdentities struct{ memView }

func (r memIdentities) Create(_ context.Context, identity *Identity) error {
	if identity == nil || strings.TrimSpace(identity.Email) == "" {
		return ErrInvalidInput
	}
	return r.with(func(s *memState) error {
		if _, taken := s.byEmail[identity.Email]; taken {
			return ErrDuplicateEmail
		}
		if identity.ID == "" {
			identity.ID = ids.NewIdentityID()
		}
		now := r.m.now().UTC()
		identity.CreatedAt, identity.UpdatedAt = now, now
		s.identities[identity.ID] = *identity
		s.byEmail[identity.Email] = identity.ID
		return nil
	})
}

func (r memIdentities) FindByID(_ context.Context, id string) (*Identity, error) {
	var out Identity
	err := r.with(func(s *memState) error {
		found, ok := s.identities[id]
		if !ok {
			return ErrIdentityNotFound
		}
		out = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r memIdentities) FindByEmail(_ context.Context, email string) (*Identity, error) {
	var out Identity
	err := r.with(func(s *memState) error {
		id, ok := s.byEmail[email]
		if !ok {
			return ErrIdentityNotFound
		}
		out = s.identities[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r memIdentities) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return r.with(func(s *memState) error {
		found, ok := s.identities[id]
		if !ok {
			return ErrIdentityNotFound
		}
		found.PasswordHash = passwordHash
		found.UpdatedAt = r.m.now().UTC()
		s.identities[id] = found
		return nil
	})
}

type memSessions struct{ memView }

func (r memSessions) Rotate(_ context.Context, identityID, tokenHash string, expiresAt time.Time) error {
	return r.with(func(s *memState) error {
		if _, ok := s.identities[identityID]; !ok {
			return ErrIdentityNotFound
		}
		revokeAll(s, identityID)
		s.sessions[tokenHash] = RefreshSession{
			ID:         ids.New(),
			IdentityID: identityID,
			TokenHash:  tokenHash,
			ExpiresAt:  expiresAt.UTC(),
			CreatedAt:  r.m.now().UTC(),
		}
		return nil
	})
}

func (r memSessions) RevokeAll(_ context.Context, identityID string) error {
	return r.with(func(s *memState) error {
		revokeAll(s, identityID)
		return nil
	})
}

func revokeAll(s *memState, identityID string) {
	for hash, sess := range s.sessions {
		if sess.IdentityID == identityID && !sess.Revoked {
			sess.Revoked = true
			s.sessions[hash] = sess
		}
	}
}

func (r memSessions) IsActive(_ context.Context, tokenHash string) (bool, error) {
	var active bool
	err := r.with(func(s *memState) error {
		sess, ok := s.sessions[tokenHash]
		active = ok && sess.Active(r.m.now())
		return nil
	})
	return active, err
}

func (r memSessions) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.with(func(s *memState) error {
		for hash, sess := range s.sessions {
			if !sess.ExpiresAt.After(before) {
				delete(s.sessions, hash)
				n++
			}
		}
		return nil
	})
	return n, err
}

type memRoles struct{ memView }

func (r memRoles) RoleNames(_ context.Context, identityID string) ([]string, error) {
	var out []string
	err := r.with(func(s *memState) error {
		out = append(out, s.userRoles[identityID]...)
		return nil
	})
	return out, err
}

func (r memRoles) PermissionNames(_ context.Context, identityID string) ([]string, error) {
	var out []string
	err := r.with(func(s *memState) error {
		out = append(out, s.userPerms[identityID]...)
		for _, role := range s.userRoles[identityID] {
			out = append(out, s.roles[role]...)
		}
		return nil
	})
	return out, err
}
