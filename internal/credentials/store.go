package credentials

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"carechat/pkg/interfaces"
)

// Keys under which the session is persisted.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUserID       = "userId"
)

// Credentials is the persisted session of the local user.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	UserID       int64
}

// Store reads and writes the session through a key-value backend.
// FUNCTIONAL DISCOVERY: Writes are serialized so a refresh replacing the
// access token can never interleave with a logout clearing it.
type Store struct {
	kv interfaces.KeyValueStore
	mu sync.Mutex
}

func NewStore(kv interfaces.KeyValueStore) *Store {
	return &Store{kv: kv}
}

// Load returns whatever credentials are stored. Missing values are zero.
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	var c Credentials
	var err error
	if c.AccessToken, err = s.get(ctx, KeyAccessToken); err != nil {
		return Credentials{}, err
	}
	if c.RefreshToken, err = s.get(ctx, KeyRefreshToken); err != nil {
		return Credentials{}, err
	}
	if c.UserID, err = s.UserID(ctx); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// Save persists c. A zero UserID leaves the stored user id untouched.
func (s *Store) Save(ctx context.Context, c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Set(ctx, KeyAccessToken, c.AccessToken); err != nil {
		return fmt.Errorf("save access token: %w", err)
	}
	if err := s.kv.Set(ctx, KeyRefreshToken, c.RefreshToken); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	if c.UserID > 0 {
		if err := s.kv.Set(ctx, KeyUserID, strconv.FormatInt(c.UserID, 10)); err != nil {
			return fmt.Errorf("save user id: %w", err)
		}
	}
	return nil
}

func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyAccessToken)
}

func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyRefreshToken)
}

// UserID returns the stored user id, falling back to the access token's
// user_id claim. It returns 0 when neither is available.
func (s *Store) UserID(ctx context.Context) (int64, error) {
	raw, err := s.get(ctx, KeyUserID)
	if err != nil {
		return 0, err
	}
	if raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("stored user id %q: %w", raw, err)
		}
		return id, nil
	}

	token, err := s.get(ctx, KeyAccessToken)
	if err != nil || token == "" {
		return 0, err
	}
	id, err := UserIDFromToken(token)
	if err != nil {
		return 0, nil
	}
	return id, nil
}

// ReplaceAccessToken swaps the access token, leaving everything else as is.
func (s *Store) ReplaceAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, KeyAccessToken, token); err != nil {
		return fmt.Errorf("replace access token: %w", err)
	}
	return nil
}

// ReplaceRefreshToken stores a rotated refresh token.
func (s *Store) ReplaceRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, KeyRefreshToken, token); err != nil {
		return fmt.Errorf("replace refresh token: %w", err)
	}
	return nil
}

// Clear removes the whole session.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, KeyAccessToken, KeyRefreshToken, KeyUserID); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	value, _, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}
