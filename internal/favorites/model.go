package favorites

import (
	"context"
	"time"
)

// Coordinates of a favorite city.
type Coordinates struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Favorite is one entry of a user's ordered list. Order is dense per user:
// the orders of a user's favorites are always exactly 0..N-1.
type Favorite struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	CityID      string      `json:"cityId"`
	CityName    string      `json:"cityName"`
	Country     string      `json:"country,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
	Order       int         `json:"order"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// City is the input to Append. Coordinates are mandatory.
type City struct {
	CityID      string       `json:"cityId" validate:"required,max=64"`
	CityName    string       `json:"cityName" validate:"required,min=2,max=50"`
	Country     string       `json:"country" validate:"omitempty,max=64"`
	Coordinates *Coordinates `json:"coordinates" validate:"required"`
}

// OrderItem assigns an order to a city in BulkReorder.
type OrderItem struct {
	CityID string `json:"cityId" validate:"required"`
	Order  int    `json:"order" validate:"gte=0"`
}

// Store persists favorites. Atomically runs fn in one transaction: either all
// of fn's writes become visible or none do.
type Store interface {
	List(ctx context.Context, userID string) ([]Favorite, error)
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of primitives available inside Atomically. Lookups return
// apperr.ErrNotFound; Insert returns apperr.ErrConflict on a duplicate
// (userID, cityID).
type Tx interface {
	List(ctx context.Context, userID string) ([]Favorite, error)
	GetByID(ctx context.Context, userID, id string) (Favorite, error)
	GetByCity(ctx context.Context, userID, cityID string) (Favorite, error)
	Insert(ctx context.Context, fav Favorite) error
	Delete(ctx context.Context, userID, id string) error
	// ShiftOrders adds delta to the order of every favorite of userID whose
	// order lies in [from, to].
	ShiftOrders(ctx context.Context, userID string, from, to, delta int, at time.Time) error
	SetOrder(ctx context.Context, userID, id string, order int, at time.Time) error
}
