package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/userdir/internal/common"
)

// Identity is an account that may authenticate against the server.
type Identity interface {
	Subject() string
	PasswordHash() string
	Roles() []string
}

// StaticIdentity is an Identity held in memory.
type StaticIdentity struct {
	Username  string
	Hash      string
	RoleNames []string
}

func (s StaticIdentity) Subject() string      { return s.Username }
func (s StaticIdentity) PasswordHash() string { return s.Hash }
func (s StaticIdentity) Roles() []string      { return append([]string(nil), s.RoleNames...) }

// IdentitySource resolves usernames to identities. Implementations match
// usernames case-insensitively and return common.ErrorNotFound when there is
// no such account.
type IdentitySource interface {
	FindIdentity(ctx context.Context, username string) (Identity, error)
}

// MemoryIdentitySource is an IdentitySource backed by a map.
type MemoryIdentitySource struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

func NewMemoryIdentitySource(ids ...Identity) *MemoryIdentitySource {
	s := &MemoryIdentitySource{identities: make(map[string]Identity, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add registers id, replacing any identity with the same subject.
func (s *MemoryIdentitySource) Add(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[strings.ToLower(id.Subject())] = id
}

func (s *MemoryIdentitySource) FindIdentity(_ context.Context, username string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.identities[strings.ToLower(username)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return id, nil
}

// SeedAdmin builds a MemoryIdentitySource holding a single ADMIN account.
func SeedAdmin(username, password string, cost int) (*MemoryIdentitySource, error) {
	hash, err := HashPassword(password, cost)
	if err != nil {
		return nil, err
	}
	return NewMemoryIdentitySource(StaticIdentity{
		Username:  username,
		Hash:      hash,
		RoleNames: []string{"ADMIN"},
	}), nil
}

// CredentialVerifier resolves usernames and checks passwords.
type CredentialVerifier struct {
	source IdentitySource
}

func NewCredentialVerifier(source IdentitySource) *CredentialVerifier {
	return &CredentialVerifier{source: source}
}

// Lookup returns the identity registered under username.
func (v *CredentialVerifier) Lookup(ctx context.Context, username string) (Identity, error) {
	if strings.TrimSpace(username) == "" {
		return nil, common.ErrorNotFound
	}
	id, err := v.source.FindIdentity(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	return id, nil
}

// VerifyPassword compares raw with the identity's stored hash.
func (v *CredentialVerifier) VerifyPassword(id Identity, raw string) bool {
	if id == nil {
		return false
	}
	return passwordMatches(id.PasswordHash(), raw)
}

// Authenticate returns the identity when username and password match.
// An unknown user and a wrong password both yield common.ErrorUnauthorized.
func (v *CredentialVerifier) Authenticate(ctx context.Context, username, raw string) (Identity, error) {
	id, err := v.Lookup(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}
	if !v.VerifyPassword(id, raw) {
		return nil, common.ErrorUnauthorized
	}
	return id, nil
}
