package credstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokengate/tokengate"
)

// Memory is a map-backed CredentialStore for tests and local development.
// Accounts do not survive a restart.
type Memory struct {
	mu      sync.Mutex
	byID    map[string]*tokengate.UserRecord
	byEmail map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*tokengate.UserRecord),
		byEmail: make(map[string]string),
	}
}

func (s *Memory) Create(ctx context.Context, email, passwordHash string) (*tokengate.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return nil, tokengate.ErrAccountExists
	}

	user := &tokengate.UserRecord{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	s.byID[user.ID] = user
	s.byEmail[email] = user.ID

	clone := *user
	return &clone, nil
}

func (s *Memory) FindByEmail(ctx context.Context, email string) (*tokengate.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, tokengate.ErrUserNotFound
	}
	clone := *s.byID[id]
	return &clone, nil
}

func (s *Memory) FindByID(ctx context.Context, id string) (*tokengate.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, tokengate.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *Memory) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return tokengate.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *Memory) MarkVerified(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return tokengate.ErrUserNotFound
	}
	user.Verified = true
	return nil
}
