// Package favorites maintains each user's ordered list of favorite cities.
//
// Every mutation runs under a per-user lock and inside one store transaction,
// so concurrent requests for the same user are serialized within a process and
// the store's transaction isolation covers other instances. After any mutation
// completes, a user's orders are exactly 0..N-1.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/apperr"
)

var validate = validator.New()

// Operation labels used for metrics.
const (
	OpAppend      = "append"
	OpRemove      = "remove"
	OpReorder     = "reorder"
	OpBulkReorder = "bulk_reorder"
)

// Observer receives the outcome of every mutation.
type Observer interface {
	ObserveFavorites(op string, err error)
}

// Service implements the favorites operations on top of a Store.
type Service struct {
	store    Store
	locks    *userLocks
	now      func() time.Time
	newID    func() string
	log      zerolog.Logger
	observer Observer
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log.With().Str("component", "favorites").Logger() }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService creates a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		locks: newUserLocks(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the user's favorites sorted by order.
func (s *Service) List(ctx context.Context, userID string) ([]Favorite, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.BadRequest("user id is required")
	}
	favs, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "failed to get favorites", err)
	}
	sortByOrder(favs)
	return favs, nil
}

// Append adds city at the end of the user's list.
func (s *Service) Append(ctx context.Context, userID string, city City) (fav Favorite, err error) {
	defer func() { s.observe(OpAppend, err) }()

	if strings.TrimSpace(userID) == "" {
		return Favorite{}, apperr.BadRequest("user id is required")
	}
	city.CityID = strings.TrimSpace(city.CityID)
	city.CityName = strings.TrimSpace(city.CityName)
	city.Country = strings.TrimSpace(city.Country)
	if err := validate.Struct(city); err != nil {
		return Favorite{}, apperr.Wrap(apperr.ErrBadRequest, "invalid favorite city", err)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	err = s.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetByCity(ctx, userID, city.CityID); err == nil {
			return apperr.Conflict("City already in favorites")
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		existing, err := tx.List(ctx, userID)
		if err != nil {
			return err
		}
		order := 0
		for _, f := range existing {
			if f.Order+1 > order {
				order = f.Order + 1
			}
		}

		now := s.now()
		fav = Favorite{
			ID:          s.newID(),
			UserID:      userID,
			CityID:      city.CityID,
			CityName:    city.CityName,
			Country:     city.Country,
			Coordinates: *city.Coordinates,
			Order:       order,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.Insert(ctx, fav)
	})
	if err != nil {
		return Favorite{}, s.classify(err, "failed to add favorite")
	}

	s.log.Info().Str("user", userID).Str("city", fav.CityID).Int("order", fav.Order).Msg("favorite added")
	return fav, nil
}

// Remove deletes the favorite and closes the gap it leaves in the ordering.
// A favorite owned by another user is reported as not found.
func (s *Service) Remove(ctx context.Context, userID, favoriteID string) (err error) {
	defer func() { s.observe(OpRemove, err) }()

	if strings.TrimSpace(userID) == "" || strings.TrimSpace(favoriteID) == "" {
		return apperr.BadRequest("user id and favorite id are required")
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	err = s.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		fav, err := tx.GetByID(ctx, userID, favoriteID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.NotFound("Favorite not found")
			}
			return err
		}
		if err := tx.Delete(ctx, userID, fav.ID); err != nil {
			return err
		}

		favs, err := tx.List(ctx, userID)
		if err != nil {
			return err
		}
		maxOrder := maxOrderOf(favs)
		if maxOrder > fav.Order {
			return tx.ShiftOrders(ctx, userID, fav.Order+1, maxOrder, -1, s.now())
		}
		return nil
	})
	if err != nil {
		return s.classify(err, "failed to remove favorite")
	}

	s.log.Info().Str("user", userID).Str("favorite", favoriteID).Msg("favorite removed")
	return nil
}

// Reorder moves the favorite for cityID to newOrder, shifting the entries in
// between by one to keep the ordering dense.
func (s *Service) Reorder(ctx context.Context, userID, cityID string, newOrder int) (favs []Favorite, err error) {
	defer func() { s.observe(OpReorder, err) }()

	if strings.TrimSpace(userID) == "" || strings.TrimSpace(cityID) == "" {
		return nil, apperr.BadRequest("user id and city id are required")
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	err = s.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		target, err := tx.GetByCity(ctx, userID, cityID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.NotFound("Favorite not found")
			}
			return err
		}

		all, err := tx.List(ctx, userID)
		if err != nil {
			return err
		}
		if newOrder < 0 || newOrder >= len(all) {
			return apperr.BadRequest(fmt.Sprintf("order must be between 0 and %d", len(all)-1))
		}

		oldOrder := target.Order
		now := s.now()
		switch {
		case newOrder > oldOrder:
			if err := tx.ShiftOrders(ctx, userID, oldOrder+1, newOrder, -1, now); err != nil {
				return err
			}
		case newOrder < oldOrder:
			if err := tx.ShiftOrders(ctx, userID, newOrder, oldOrder-1, +1, now); err != nil {
				return err
			}
		default:
			favs = all
			return nil
		}
		if err := tx.SetOrder(ctx, userID, target.ID, newOrder, now); err != nil {
			return err
		}

		favs, err = tx.List(ctx, userID)
		return err
	})
	if err != nil {
		return nil, s.classify(err, "failed to reorder favorites")
	}

	sortByOrder(favs)
	return favs, nil
}

// BulkReorder assigns every favorite its order from items. items must name
// exactly the user's cities, once each, and the orders must be a permutation
// of 0..N-1; otherwise nothing is changed.
func (s *Service) BulkReorder(ctx context.Context, userID string, items []OrderItem) (favs []Favorite, err error) {
	defer func() { s.observe(OpBulkReorder, err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, apperr.BadRequest("user id is required")
	}
	if len(items) == 0 {
		return nil, apperr.BadRequest("Favorites must be a non-empty array")
	}
	for _, it := range items {
		if err := validate.Struct(it); err != nil {
			return nil, apperr.Wrap(apperr.ErrBadRequest, "Invalid favorites list", err)
		}
	}
	if err := checkPermutation(items); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	err = s.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.List(ctx, userID)
		if err != nil {
			return err
		}
		if len(current) != len(items) {
			return apperr.BadRequest("Invalid favorites list")
		}
		byCity := make(map[string]Favorite, len(current))
		for _, f := range current {
			byCity[f.CityID] = f
		}

		now := s.now()
		for _, it := range items {
			f, ok := byCity[it.CityID]
			if !ok {
				return apperr.BadRequest("Invalid favorites list")
			}
			if f.Order == it.Order {
				continue
			}
			if err := tx.SetOrder(ctx, userID, f.ID, it.Order, now); err != nil {
				return err
			}
		}

		favs, err = tx.List(ctx, userID)
		return err
	})
	if err != nil {
		return nil, s.classify(err, "failed to update favorites order")
	}

	sortByOrder(favs)
	return favs, nil
}

// checkPermutation rejects duplicate cities and orders that are not exactly
// 0..len(items)-1.
func checkPermutation(items []OrderItem) error {
	cities := make(map[string]struct{}, len(items))
	seen := make([]bool, len(items))
	for _, it := range items {
		if _, dup := cities[it.CityID]; dup {
			return apperr.BadRequest(fmt.Sprintf("duplicate cityId %q in favorites list", it.CityID))
		}
		cities[it.CityID] = struct{}{}

		if it.Order < 0 || it.Order >= len(items) || seen[it.Order] {
			return apperr.BadRequest(fmt.Sprintf("orders must be a permutation of 0..%d", len(items)-1))
		}
		seen[it.Order] = true
	}
	return nil
}

// classify keeps taxonomy errors as they are and wraps anything else as internal.
func (s *Service) classify(err error, msg string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if kind := apperr.KindOf(err); kind != apperr.ErrInternal {
		return apperr.Wrap(kind, msg, err)
	}
	s.log.Error().Err(err).Msg(msg)
	return apperr.Wrap(apperr.ErrInternal, msg, err)
}

func (s *Service) observe(op string, err error) {
	if s.observer != nil {
		s.observer.ObserveFavorites(op, err)
	}
}

func maxOrderOf(favs []Favorite) int {
	m := -1
	for _, f := range favs {
		if f.Order > m {
			m = f.Order
		}
	}
	return m
}

func sortByOrder(favs []Favorite) {
	sort.SliceStable(favs, func(i, j int) bool { return favs[i].Order < favs[j].Order })
}
