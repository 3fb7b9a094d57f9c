package models

import "time"

// ItemBaseURL is the detail-page prefix a listing token is appended to.
const ItemBaseURL = "https://www.yad2.co.il/realestate/item/"

// TrackedTarget is one saved search the watcher re-scans.
type TrackedTarget struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	MaxPricePerSqm *float64  `json:"max_price_per_sqm"`
	Disabled       bool      `json:"disabled"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListingRecord is a normalized advertisement extracted from a results page.
// Numeric fields are nil when the page did not carry them.
type ListingRecord struct {
	Token        string   `json:"token"`
	Price        *float64 `json:"price"`
	SquareMeters *float64 `json:"sqm"`
	Rooms        *float64 `json:"rooms"`
	Address      string   `json:"address"`
	PropertyType string   `json:"propertyType"`
	AdType       string   `json:"adType"`
	Link         string   `json:"link"`
}

// PricePerSqm returns price divided by area, or false when it cannot be computed.
func (r ListingRecord) PricePerSqm() (float64, bool) {
	return pricePerSqm(r.Price, r.SquareMeters)
}

// SeenListing is the permanent first-seen snapshot of a token for one target.
type SeenListing struct {
	ID           int64     `json:"id"`
	TargetID     int64     `json:"link_id"`
	Token        string    `json:"token"`
	Price        *float64  `json:"price"`
	SquareMeters *float64  `json:"sqm"`
	PricePerSqm  *float64  `json:"price_per_sqm"`
	Address      string    `json:"address"`
	Rooms        *float64  `json:"rooms"`
	PropertyType string    `json:"property_type"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
}

// Link derives the detail-page URL from the token.
func (s SeenListing) Link() string {
	return ItemBaseURL + s.Token
}

// NewSeenListing snapshots a record for a target at the given time.
func NewSeenListing(targetID int64, r ListingRecord, at time.Time) *SeenListing {
	s := &SeenListing{
		TargetID:     targetID,
		Token:        r.Token,
		Price:        r.Price,
		SquareMeters: r.SquareMeters,
		Address:      r.Address,
		Rooms:        r.Rooms,
		PropertyType: r.PropertyType,
		FirstSeenAt:  at,
	}
	if ppsm, ok := r.PricePerSqm(); ok {
		s.PricePerSqm = &ppsm
	}
	return s
}

// Stats is the price-per-sqm summary over every persisted listing of a target.
// All pointers are nil when Count is zero.
type Stats struct {
	Count  int      `json:"total"`
	Min    *float64 `json:"min_ppsm"`
	Max    *float64 `json:"max_ppsm"`
	Mean   *float64 `json:"avg_ppsm"`
	Median *float64 `json:"median_ppsm"`
}

// ListingView is the denormalized listing shape returned to callers.
type ListingView struct {
	Price        *float64 `json:"price"`
	SquareMeters *float64 `json:"sqm"`
	PricePerSqm  *float64 `json:"price_per_sqm"`
	Address      string   `json:"address"`
	Rooms        *float64 `json:"rooms"`
	PropertyType string   `json:"propertyType"`
	Link         string   `json:"link"`
}

// ViewOfRecord builds a ListingView from a freshly extracted record.
func ViewOfRecord(r ListingRecord) ListingView {
	v := ListingView{
		Price:        r.Price,
		SquareMeters: r.SquareMeters,
		Address:      r.Address,
		Rooms:        r.Rooms,
		PropertyType: r.PropertyType,
		Link:         r.Link,
	}
	if ppsm, ok := r.PricePerSqm(); ok {
		v.PricePerSqm = &ppsm
	}
	return v
}

// ViewOfSeen builds a ListingView from a persisted listing.
func ViewOfSeen(s *SeenListing) ListingView {
	return ListingView{
		Price:        s.Price,
		SquareMeters: s.SquareMeters,
		PricePerSqm:  s.PricePerSqm,
		Address:      s.Address,
		Rooms:        s.Rooms,
		PropertyType: s.PropertyType,
		Link:         s.Link(),
	}
}

func pricePerSqm(price, sqm *float64) (float64, bool) {
	// a zero price is "price on request" on the site, not a free apartment
	if price == nil || sqm == nil || *price <= 0 || *sqm <= 0 {
		return 0, false
	}
	return *price / *sqm, true
}
