// Package store holds the in-memory persistence used for local development and
// tests. SQLite and Redis implementations live in the sub-packages.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/favorites"
	"github.com/i474232898/weather-dashboard/internal/users"
	"github.com/i474232898/weather-dashboard/internal/weathercache"
)

type cacheKey struct {
	entityID string
	kind     weathercache.Kind
}

// MemoryStore is a concurrency-safe in-memory implementation of
// favorites.Store, users.Repository and weathercache.Repository.
type MemoryStore struct {
	mu sync.RWMutex

	// key: user id, value: favorite id -> favorite
	favorites map[string]map[string]favorites.Favorite

	records map[cacheKey]weathercache.Record

	accounts map[string]users.User
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		favorites: make(map[string]map[string]favorites.Favorite),
		records:   make(map[cacheKey]weathercache.Record),
		accounts:  make(map[string]users.User),
	}
}

// List returns the user's favorites sorted by order.
func (s *MemoryStore) List(ctx context.Context, userID string) ([]favorites.Favorite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSorted(s.favorites[userID]), nil
}

// Atomically runs fn against a private copy of the favorites and swaps the
// copy in only when fn succeeds.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx favorites.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{data: cloneFavorites(s.favorites)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.favorites = tx.data
	return nil
}

type memoryTx struct {
	data map[string]map[string]favorites.Favorite
}

func (tx *memoryTx) List(_ context.Context, userID string) ([]favorites.Favorite, error) {
	return listSorted(tx.data[userID]), nil
}

func (tx *memoryTx) GetByID(_ context.Context, userID, id string) (favorites.Favorite, error) {
	f, ok := tx.data[userID][id]
	if !ok {
		return favorites.Favorite{}, apperr.ErrNotFound
	}
	return f, nil
}

func (tx *memoryTx) GetByCity(_ context.Context, userID, cityID string) (favorites.Favorite, error) {
	for _, f := range tx.data[userID] {
		if f.CityID == cityID {
			return f, nil
		}
	}
	return favorites.Favorite{}, apperr.ErrNotFound
}

func (tx *memoryTx) Insert(ctx context.Context, fav favorites.Favorite) error {
	if _, err := tx.GetByCity(ctx, fav.UserID, fav.CityID); err == nil {
		return apperr.Conflict("City already in favorites")
	}
	user, ok := tx.data[fav.UserID]
	if !ok {
		user = make(map[string]favorites.Favorite)
		tx.data[fav.UserID] = user
	}
	if _, exists := user[fav.ID]; exists {
		return apperr.Conflict("favorite id already exists")
	}
	user[fav.ID] = fav
	return nil
}

func (tx *memoryTx) Delete(_ context.Context, userID, id string) error {
	user := tx.data[userID]
	if _, ok := user[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(user, id)
	if len(user) == 0 {
		delete(tx.data, userID)
	}
	return nil
}

func (tx *memoryTx) ShiftOrders(_ context.Context, userID string, from, to, delta int, at time.Time) error {
	for id, f := range tx.data[userID] {
		if f.Order >= from && f.Order <= to {
			f.Order += delta
			f.UpdatedAt = at
			tx.data[userID][id] = f
		}
	}
	return nil
}

func (tx *memoryTx) SetOrder(_ context.Context, userID, id string, order int, at time.Time) error {
	f, ok := tx.data[userID][id]
	if !ok {
		return apperr.ErrNotFound
	}
	f.Order = order
	f.UpdatedAt = at
	tx.data[userID][id] = f
	return nil
}

// FindLive returns the record for (entityID, kind) if it expires after now.
func (s *MemoryStore) FindLive(ctx context.Context, entityID string, kind weathercache.Kind, now time.Time) (weathercache.Record, error) {
	if err := ctx.Err(); err != nil {
		return weathercache.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[cacheKey{entityID, kind}]
	if !ok || !rec.ExpiresAt.After(now) {
		return weathercache.Record{}, apperr.ErrNotFound
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return rec, nil
}

// Upsert replaces any record with the same (entity, kind).
func (s *MemoryStore) Upsert(ctx context.Context, rec weathercache.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.Payload = append([]byte(nil), rec.Payload...)

	s.mu.Lock()
	s.records[cacheKey{rec.EntityID, rec.Kind}] = rec
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes records whose expiry is at or before now.
func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// RecordCount returns the number of stored cache records, expired included.
func (s *MemoryStore) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.accounts[id]
	if !ok {
		return users.User{}, apperr.ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetUserByGoogleID(_ context.Context, googleID string) (users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.accounts {
		if googleID != "" && u.GoogleID == googleID {
			return u, nil
		}
	}
	return users.User{}, apperr.ErrNotFound
}

func (s *MemoryStore) CreateUser(_ context.Context, u users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[u.ID]; exists {
		return apperr.Conflict("user already exists")
	}
	if err := s.checkUnique(u); err != nil {
		return err
	}
	s.accounts[u.ID] = u
	return nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[u.ID]; !exists {
		return apperr.ErrNotFound
	}
	if err := s.checkUnique(u); err != nil {
		return err
	}
	s.accounts[u.ID] = u
	return nil
}

// checkUnique enforces unique email and google id across other accounts.
func (s *MemoryStore) checkUnique(u users.User) error {
	for id, other := range s.accounts {
		if id == u.ID {
			continue
		}
		if strings.EqualFold(other.Email, u.Email) {
			return apperr.Conflict("email already registered")
		}
		if u.GoogleID != "" && other.GoogleID == u.GoogleID {
			return apperr.Conflict("google account already linked")
		}
	}
	return nil
}

func listSorted(m map[string]favorites.Favorite) []favorites.Favorite {
	out := make([]favorites.Favorite, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneFavorites(src map[string]map[string]favorites.Favorite) map[string]map[string]favorites.Favorite {
	dst := make(map[string]map[string]favorites.Favorite, len(src))
	for user, favs := range src {
		inner := make(map[string]favorites.Favorite, len(favs))
		for id, f := range favs {
			inner[id] = f
		}
		dst[user] = inner
	}
	return dst
}
