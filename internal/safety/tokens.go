package safety

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

// Token consumption failures. Each is a distinct denial cause the caller can
// report precisely; none of them is retryable with the same token.
var (
	ErrTokenNotFound    = errors.New("override token not found")
	ErrTokenWrongAction = errors.New("override token minted for a different action")
	ErrTokenExpired     = errors.New("override token expired")
	ErrTokenUsed        = errors.New("override token already used")
)

// TokenStore mints and consumes one-time override tokens.
type TokenStore interface {
	Mint(action, createdBy string, ttl time.Duration) (domain.OverrideToken, error)
	Consume(token, action string, now time.Time) (domain.OverrideToken, error)
}

const defaultTokenTTL = 15 * time.Minute

// MemoryTokenStore keeps tokens in process memory. Tokens are short-lived
// capabilities, so losing them on restart is acceptable: the mentor mints a
// fresh one.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*domain.OverrideToken
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*domain.OverrideToken)}
}

func (s *MemoryTokenStore) Mint(action, createdBy string, ttl time.Duration) (domain.OverrideToken, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return domain.OverrideToken{}, errors.New("token action is required")
	}
	if strings.TrimSpace(createdBy) == "" {
		return domain.OverrideToken{}, errors.New("token created_by is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now().UTC()
	token := domain.OverrideToken{
		Token:     uuid.NewString(),
		Action:    action,
		CreatedBy: strings.TrimSpace(createdBy),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := token.Validate(); err != nil {
		return domain.OverrideToken{}, err
	}

	s.mu.Lock()
	s.tokens[token.Token] = &token
	s.mu.Unlock()
	return token, nil
}

// Consume checks existence, action match, expiry and prior use, then flips
// used exactly once. The whole check-and-flip runs under the store lock so
// two concurrent consumers of one token get exactly one success.
func (s *MemoryTokenStore) Consume(token, action string, now time.Time) (domain.OverrideToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.OverrideToken{}, ErrTokenNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tokens[token]
	if !ok {
		return domain.OverrideToken{}, ErrTokenNotFound
	}
	if !strings.EqualFold(stored.Action, strings.TrimSpace(action)) {
		return domain.OverrideToken{}, ErrTokenWrongAction
	}
	if stored.Expired(now) {
		return domain.OverrideToken{}, ErrTokenExpired
	}
	if stored.Used {
		return domain.OverrideToken{}, ErrTokenUsed
	}

	stored.Used = true
	return *stored, nil
}
