package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TokenStore looks up API tokens
type TokenStore interface {
	// ValidateToken returns the token registered for secret
	ValidateToken(secret string) (*Token, error)
	// CreateToken registers a generated secret and returns it with its token
	CreateToken(name string, perms []Permission, expiresAt int64) (string, *Token, error)
	// DeleteToken removes the token with the given hash
	DeleteToken(hash string) error
}

// MemoryStore keeps tokens in a map keyed by hash. rnrd registers its
// configured token here at startup.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
	now    func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*Token), now: time.Now}
}

// HashSecret returns the hex sha256 of a token secret
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func (s *MemoryStore) ValidateToken(secret string) (*Token, error) {
	hash := HashSecret(secret)

	s.mu.RLock()
	tok, ok := s.tokens[hash]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrTokenNotFound
	}
	if tok.Expired(s.now().Unix()) {
		return nil, UnauthorizedError{Reason: "token expired"}
	}
	return tok, nil
}

func (s *MemoryStore) CreateToken(name string, perms []Permission, expiresAt int64) (string, *Token, error) {
	secret := uuid.NewString()
	return secret, s.AddToken(name, secret, perms, expiresAt), nil
}

// AddToken registers a caller supplied secret, such as the auth_token
// setting of rnrd
func (s *MemoryStore) AddToken(name, secret string, perms []Permission, expiresAt int64) *Token {
	tok := &Token{
		Hash:        HashSecret(secret),
		Name:        name,
		Permissions: perms,
		CreatedAt:   s.now().Unix(),
		ExpiresAt:   expiresAt,
	}

	s.mu.Lock()
	s.tokens[tok.Hash] = tok
	s.mu.Unlock()

	log.Info().Str("name", name).Strs("permissions", permissionNames(perms)).Msg("API token registered")
	return tok
}

func (s *MemoryStore) DeleteToken(hash string) error {
	s.mu.Lock()
	tok, ok := s.tokens[hash]
	delete(s.tokens, hash)
	s.mu.Unlock()

	if !ok {
		return ErrTokenNotFound
	}
	log.Info().Str("name", tok.Name).Msg("API token deleted")
	return nil
}

func permissionNames(perms []Permission) []string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return names
}
