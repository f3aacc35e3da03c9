package handler

import (
	"errors"
	"strings"
	"sync"

	"mailportal/internal/auth"
	"mailportal/internal/models"
)

var (
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
)

type account struct {
	profile      models.UserProfile
	passwordHash string
}

// Accounts is the in-memory user table of the mock backend.
type Accounts struct {
	mu     sync.RWMutex
	byID   map[int64]*account
	nextID int64
}

func NewAccounts() *Accounts {
	return &Accounts{
		byID:   make(map[int64]*account),
		nextID: 1,
	}
}

// Add registers profile with password and returns the stored profile with its id.
func (a *Accounts) Add(profile models.UserProfile, password string) (models.UserProfile, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.UserProfile{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, acc := range a.byID {
		if strings.EqualFold(acc.profile.Username, profile.Username) {
			return models.UserProfile{}, ErrAccountExists
		}
	}

	profile.ID = a.nextID
	a.nextID++
	if profile.IsActive == "" {
		profile.IsActive = "1"
	}
	if profile.Role == "" {
		profile.Role = "user"
	}

	a.byID[profile.ID] = &account{profile: profile, passwordHash: hash}

	return profile, nil
}

// Authenticate matches identifier against username or external email.
func (a *Accounts) Authenticate(identifier, password string) (models.UserProfile, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, acc := range a.byID {
		if !strings.EqualFold(acc.profile.Username, identifier) && !strings.EqualFold(acc.profile.ExtEmail, identifier) {
			continue
		}
		if auth.CheckPasswordHash(acc.passwordHash, password) {
			return acc.profile, true
		}
		return models.UserProfile{}, false
	}

	return models.UserProfile{}, false
}

func (a *Accounts) Get(id int64) (models.UserProfile, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	acc, ok := a.byID[id]
	if !ok {
		return models.UserProfile{}, ErrAccountNotFound
	}

	return acc.profile, nil
}

func (a *Accounts) CheckPassword(id int64, password string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	acc, ok := a.byID[id]
	return ok && auth.CheckPasswordHash(acc.passwordHash, password)
}

func (a *Accounts) Update(id int64, mutate func(p *models.UserProfile)) (models.UserProfile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, ok := a.byID[id]
	if !ok {
		return models.UserProfile{}, ErrAccountNotFound
	}

	mutate(&acc.profile)

	return acc.profile, nil
}

func (a *Accounts) SetPassword(id int64, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	acc, ok := a.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	acc.passwordHash = hash

	return nil
}
