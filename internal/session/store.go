// Package session owns the logged-in user: it persists the token and profile,
// rehydrates them at start-up, keeps the gateway's bearer token in step and
// publishes every change to subscribers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"mailportal/internal/models"
	"mailportal/internal/storage"
)

// Gateway is the part of the portal client the store drives.
type Gateway interface {
	SetToken(token string)
	ClearToken()
	Token() string

	Login(ctx context.Context, identifier, secret string) (models.LoginResult, error)
	FetchAndRenewProfile(ctx context.Context) (models.ProfileRenewal, error)
	UpdateProfile(ctx context.Context, upd models.ProfileUpdate) error
	ChangePassword(ctx context.Context, pc models.PasswordChange) error
	Logout(ctx context.Context)
}

type Store struct {
	api     Gateway
	storage storage.Storage
	log     *slog.Logger

	initOnce sync.Once

	mu        sync.RWMutex
	state     State
	listeners map[uint64]Listener
	nextID    uint64
}

func New(api Gateway, st storage.Storage, lgr *slog.Logger) *Store {
	if lgr == nil {
		lgr = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Store{
		api:       api,
		storage:   st,
		log:       lgr,
		state:     State{Loading: true},
		listeners: make(map[uint64]Listener),
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.clone()
}

func (s *Store) IsAuthenticated() bool {
	return s.State().IsAuthenticated()
}

// Subscribe registers l for every later state change. The returned func
// removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// apply replaces the state, mirrors the token into the gateway and notifies
// listeners with the new snapshot.
func (s *Store) apply(user *models.UserProfile, creds *models.Credentials) {
	s.mu.Lock()
	s.state = State{
		User:        user,
		Credentials: creds,
		Loading:     false,
		Generation:  s.state.Generation + 1,
	}
	if creds != nil {
		s.api.SetToken(creds.Token)
	} else {
		s.api.ClearToken()
	}

	snapshot := s.state
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot.clone())
	}
}

// Initialize rehydrates the session from storage. Only the first call does
// anything; Loading is false once it returns, whatever storage held.
func (s *Store) Initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		s.initialize(ctx)
	})
}

func (s *Store) initialize(ctx context.Context) {
	const op = "session.Initialize"

	log := s.log.With(slog.String("op", op))

	var (
		user  *models.UserProfile
		creds *models.Credentials
	)
	defer func() {
		s.apply(user, creds)
	}()

	var token, rawUser string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		token, err = s.storage.GetItem(gctx, storage.TokenKey)
		return err
	})
	g.Go(func() error {
		var err error
		rawUser, err = s.storage.GetItem(gctx, storage.UserKey)
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Debug("no stored session")
		} else {
			log.Error("failed to read stored session", slog.Any("error", err))
		}
		return
	}
	if token == "" || rawUser == "" {
		log.Debug("no stored session")
		return
	}

	var profile models.UserProfile
	if err := json.Unmarshal([]byte(rawUser), &profile); err != nil {
		log.Error("stored user info is corrupt", slog.Any("error", err))
		return
	}

	user = &profile
	creds = &models.Credentials{Token: token}

	log.Info("session restored", slog.Int64("user_id", profile.ID))
}

// persist writes token and profile as a pair. Both writes finish before it
// returns; there is no rollback if only one succeeds.
func (s *Store) persist(ctx context.Context, token string, user models.UserProfile) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}

	if batch, ok := s.storage.(storage.BatchStorage); ok {
		return batch.SetItems(ctx, map[string]string{
			storage.TokenKey: token,
			storage.UserKey:  string(data),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.storage.SetItem(gctx, storage.TokenKey, token)
	})
	g.Go(func() error {
		return s.storage.SetItem(gctx, storage.UserKey, string(data))
	})

	return g.Wait()
}

func (s *Store) clearStorage(ctx context.Context) error {
	if batch, ok := s.storage.(storage.BatchStorage); ok {
		return batch.RemoveItems(ctx, storage.TokenKey, storage.UserKey)
	}

	// A failed key must not cancel removal of the other one.
	var g errgroup.Group
	g.Go(func() error {
		return s.storage.RemoveItem(ctx, storage.TokenKey)
	})
	g.Go(func() error {
		return s.storage.RemoveItem(ctx, storage.UserKey)
	})

	return g.Wait()
}

// restoreToken puts the gateway back on the token held before a failed
// operation.
func (s *Store) restoreToken() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.Credentials != nil {
		s.api.SetToken(s.state.Credentials.Token)
	} else {
		s.api.ClearToken()
	}
}

// Login authenticates, persists the session and adopts it. Gateway errors
// are returned as they are; on any failure the state is left untouched.
func (s *Store) Login(ctx context.Context, identifier, secret string) error {
	const op = "session.Login"

	log := s.log.With(slog.String("op", op))

	res, err := s.api.Login(ctx, identifier, secret)
	if err != nil {
		s.restoreToken()
		log.Info("login failed", slog.Any("error", err))

		return err
	}

	if err := s.persist(ctx, res.Credentials.Token, res.User); err != nil {
		s.restoreToken()
		log.Error("failed to persist session", slog.Any("error", err))

		return fmt.Errorf("%s: %w", op, err)
	}

	user, creds := res.User, res.Credentials
	s.apply(&user, &creds)

	log.Info("user logged in", slog.Int64("user_id", user.ID))

	return nil
}

// Logout always ends anonymous with storage cleared, even when ctx is already
// done. Storage failures are logged, not returned.
func (s *Store) Logout(ctx context.Context) {
	const op = "session.Logout"

	log := s.log.With(slog.String("op", op))

	s.api.Logout(ctx)

	if err := s.clearStorage(context.WithoutCancel(ctx)); err != nil {
		log.Error("failed to clear stored session", slog.Any("error", err))
	}

	s.apply(nil, nil)

	log.Info("user logged out")
}

// Refresh reloads the profile with a renewed token and adopts both at once.
func (s *Store) Refresh(ctx context.Context) error {
	const op = "session.Refresh"

	log := s.log.With(slog.String("op", op))

	renewal, err := s.api.FetchAndRenewProfile(ctx)
	if err != nil {
		s.restoreToken()
		log.Info("refresh failed", slog.Any("error", err))

		return err
	}

	if err := s.persist(ctx, renewal.Credentials.Token, renewal.User); err != nil {
		s.restoreToken()
		log.Error("failed to persist session", slog.Any("error", err))

		return fmt.Errorf("%s: %w", op, err)
	}

	user, creds := renewal.User, renewal.Credentials
	s.apply(&user, &creds)

	log.Debug("session refreshed", slog.Int64("user_id", user.ID))

	return nil
}

// UpdateProfile sends the edit and then refreshes, since the update response
// does not carry the new profile.
func (s *Store) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) error {
	if err := s.api.UpdateProfile(ctx, upd); err != nil {
		return err
	}

	return s.Refresh(ctx)
}

// ChangePassword leaves the session as it is; the token stays valid.
func (s *Store) ChangePassword(ctx context.Context, current, newPassword, confirm string) error {
	return s.api.ChangePassword(ctx, models.PasswordChange{
		Current: current,
		New:     newPassword,
		Confirm: confirm,
	})
}
