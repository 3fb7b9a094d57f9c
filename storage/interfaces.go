package storage

import (
	"context"
	"errors"

	"yad2-watcher/models"
)

// ErrTargetNotFound is returned for operations on an unknown target ID.
var ErrTargetNotFound = errors.New("target not found")

// ListingStore is the persistence contract the scan pipeline consumes.
type ListingStore interface {
	// SeenTokens returns every token recorded for the target.
	SeenTokens(ctx context.Context, targetID int64) ([]string, error)
	// AppendSeenListing records a first sighting. It reports false, and
	// changes nothing, when the token is already recorded for the target.
	AppendSeenListing(ctx context.Context, targetID int64, rec models.ListingRecord) (bool, error)
	// AllListings returns the target's listings, newest first.
	AllListings(ctx context.Context, targetID int64) ([]*models.SeenListing, error)
	// ListingsBelowThreshold returns listings with a defined price per sqm at
	// or below maxPricePerSqm, cheapest first.
	ListingsBelowThreshold(ctx context.Context, targetID int64, maxPricePerSqm float64) ([]*models.SeenListing, error)
}

// TargetStore manages tracked targets. Changing a target's URL or removing
// it deletes its seen listings.
type TargetStore interface {
	ListTargets(ctx context.Context) ([]models.TrackedTarget, error)
	GetTarget(ctx context.Context, id int64) (models.TrackedTarget, error)
	AddTarget(ctx context.Context, t models.TrackedTarget) (models.TrackedTarget, error)
	UpdateTarget(ctx context.Context, id int64, u TargetUpdate) error
	RemoveTarget(ctx context.Context, id int64) error
}

// TargetUpdate lists the fields to change; nil fields are left as they are.
// ClearThreshold removes the threshold and wins over MaxPricePerSqm.
type TargetUpdate struct {
	Name           *string
	URL            *string
	MaxPricePerSqm *float64
	ClearThreshold bool
	Disabled       *bool
}

// Store is a complete backend.
type Store interface {
	ListingStore
	TargetStore
	Close() error
}

// belowThreshold filters and orders listings the way ListingsBelowThreshold
// promises. Shared by backends that cannot push the query down.
func belowThreshold(all []*models.SeenListing, max float64) []*models.SeenListing {
	out := make([]*models.SeenListing, 0)
	for _, l := range all {
		if l.PricePerSqm != nil && *l.PricePerSqm <= max {
			out = append(out, l)
		}
	}
	sortByPricePerSqm(out)
	return out
}
