package auth

import (
	"context"
	"sync"
	"time"

	"github.com/xtrntr/blockmarket/internal/models"
)

// MemoryUserStore keeps users in process for demo mode and tests
type MemoryUserStore struct {
	mu     sync.RWMutex
	byID   map[int]*models.User
	byName map[string]int
	nextID int
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byID: map[int]*models.User{}, byName: map[string]int{}, nextID: 1}
}

func (m *MemoryUserStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[username]; ok {
		return nil, models.ErrUsernameTaken
	}
	u := &models.User{
		ID:           m.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Profile:      models.Profile{AccountTypes: []models.AccountType{}},
		CreatedAt:    time.Now(),
	}
	m.nextID++
	m.byID[u.ID] = u
	m.byName[username] = u.ID
	out := *u
	return &out, nil
}

func (m *MemoryUserStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	id, ok := m.byName[username]
	m.mu.RUnlock()
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return m.GetUser(ctx, id)
}

func (m *MemoryUserStore) GetUser(ctx context.Context, id int) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (m *MemoryUserStore) UpdateProfile(ctx context.Context, id int, p models.Profile) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	u.Profile = p
	out := *u
	return &out, nil
}
