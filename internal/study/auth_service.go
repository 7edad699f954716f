package study

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kfilewski/conversbot/internal/models"
)

// TokenSigner signs an access token for a researcher account.
type TokenSigner func(uid, email string, ttl time.Duration) (string, error)

// AuthService manages researcher accounts for the export endpoint.
// Accounts are held in memory: the researcher roster is tiny and
// re-registering after a restart is acceptable for a study deployment.
type AuthService struct {
	signToken TokenSigner
	tokenTTL  time.Duration
	now       func() time.Time
	idGen     func() string

	mu    sync.Mutex
	users map[string]*models.Researcher // keyed by email
}

type AuthResult struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func NewAuthService(signer TokenSigner) *AuthService {
	return &AuthService{
		signToken: signer,
		tokenTTL:  30 * 24 * time.Hour,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     func() string { return "r" + shortID(7) },
		users:     make(map[string]*models.Researcher),
	}
}

func (s *AuthService) Register(email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, ok := s.users[email]; ok {
		s.mu.Unlock()
		return nil, NewConflictError("email exists")
	}
	u := &models.Researcher{ID: s.idGen(), Email: email, PassHash: hash, CreatedAt: s.now()}
	s.users[email] = u
	s.mu.Unlock()

	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.ID, u.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, UserID: u.ID}, nil
}

func (s *AuthService) Login(email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}

	s.mu.Lock()
	u, ok := s.users[email]
	s.mu.Unlock()
	if !ok {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(u.PassHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.ID, u.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, UserID: u.ID}, nil
}
