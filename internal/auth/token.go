package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role constants.
const (
	RoleOperator = "operator"
	RoleObserver = "observer"
)

// Scope constants.
const (
	ScopeControl = "control"
	ScopeCamera  = "camera"
	ScopeSpeech  = "speech"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// Minter issues HS256 operator tokens and caches each one until half its TTL has elapsed.
type Minter struct {
	secret  []byte
	subject string
	roles   []string
	scopes  []string
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
}

// NewMinter creates a minter for an operator with all scopes.
func NewMinter(secret, subject string, ttl time.Duration) (*Minter, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("HS256 requires secret key")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token TTL must be positive, got %v", ttl)
	}
	if subject == "" {
		subject = RoleOperator
	}

	return &Minter{
		secret:  []byte(secret),
		subject: subject,
		roles:   []string{RoleOperator},
		scopes:  []string{ScopeControl, ScopeCamera, ScopeSpeech},
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Token returns a valid signed token, minting a new one when the cached token is past half-life.
func (m *Minter) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.cached != "" && now.Sub(m.cachedAt) < m.ttl/2 {
		return m.cached, nil
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    m.subject,
		"roles":  m.roles,
		"scopes": m.scopes,
		"iat":    now.Unix(),
		"exp":    now.Add(m.ttl).Unix(),
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	m.cached = signed
	m.cachedAt = now
	return signed, nil
}

// Subject returns the operator identity the minter signs for.
func (m *Minter) Subject() string {
	return m.subject
}
