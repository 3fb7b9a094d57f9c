package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"yad2-watcher/models"
	"yad2-watcher/utils"
)

const (
	targetSequence  = "tracked_targets"
	listingSequence = "seen_listings"
)

// sequence is a persisted counter handing out numeric IDs.
type sequence struct {
	Name  string
	Value int64
}

// BadgerStore is an embedded single-process Store backed by BadgerDB.
type BadgerStore struct {
	store  *badgerhold.Store
	logger *utils.Logger
	now    func() time.Time

	// serializes read-modify-write sequences; badger transactions alone
	// would surface them as conflicts
	mu sync.Mutex
}

// NewBadgerStore opens (or creates) a database under dir.
func NewBadgerStore(dir string, logger *utils.Logger) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("badger: create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", dir, err)
	}
	logger.Debug("[store] Badger database opened at %s", dir)

	return &BadgerStore{store: store, logger: logger, now: time.Now}, nil
}

func (b *BadgerStore) Close() error {
	return b.store.Close()
}

func (b *BadgerStore) next(name string) (int64, error) {
	var seq sequence
	err := b.store.Get(name, &seq)
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return 0, fmt.Errorf("badger: read sequence %s: %w", name, err)
	}
	seq.Name = name
	seq.Value++
	if err := b.store.Upsert(name, &seq); err != nil {
		return 0, fmt.Errorf("badger: bump sequence %s: %w", name, err)
	}
	return seq.Value, nil
}

func listingKey(targetID int64, token string) string {
	return fmt.Sprintf("%d/%s", targetID, token)
}

// ── listings ───────────────────────────────────────────────────────────────

func (b *BadgerStore) SeenTokens(ctx context.Context, targetID int64) ([]string, error) {
	ls, err := b.listings(ctx, targetID)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, len(ls))
	for i, l := range ls {
		tokens[i] = l.Token
	}
	return tokens, nil
}

func (b *BadgerStore) AppendSeenListing(ctx context.Context, targetID int64, rec models.ListingRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := listingKey(targetID, rec.Token)
	var existing models.SeenListing
	err := b.store.Get(key, &existing)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, badgerhold.ErrNotFound) {
		return false, fmt.Errorf("badger: look up listing %s: %w", key, err)
	}

	id, err := b.next(listingSequence)
	if err != nil {
		return false, err
	}
	l := models.NewSeenListing(targetID, rec, b.now())
	l.ID = id
	if err := b.store.Insert(key, l); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("badger: insert listing %s: %w", key, err)
	}
	return true, nil
}

func (b *BadgerStore) AllListings(ctx context.Context, targetID int64) ([]*models.SeenListing, error) {
	ls, err := b.listings(ctx, targetID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(ls)
	return ls, nil
}

func (b *BadgerStore) ListingsBelowThreshold(ctx context.Context, targetID int64, maxPricePerSqm float64) ([]*models.SeenListing, error) {
	ls, err := b.listings(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return belowThreshold(ls, maxPricePerSqm), nil
}

func (b *BadgerStore) listings(ctx context.Context, targetID int64) ([]*models.SeenListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var found []models.SeenListing
	if err := b.store.Find(&found, badgerhold.Where("TargetID").Eq(targetID)); err != nil {
		return nil, fmt.Errorf("badger: find listings of %d: %w", targetID, err)
	}
	out := make([]*models.SeenListing, len(found))
	for i := range found {
		out[i] = &found[i]
	}
	return out, nil
}

func (b *BadgerStore) deleteListings(targetID int64) error {
	err := b.store.DeleteMatching(&models.SeenListing{}, badgerhold.Where("TargetID").Eq(targetID))
	if err != nil {
		return fmt.Errorf("badger: delete listings of %d: %w", targetID, err)
	}
	return nil
}

// ── targets ────────────────────────────────────────────────────────────────

func (b *BadgerStore) ListTargets(ctx context.Context) ([]models.TrackedTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var targets []models.TrackedTarget
	query := badgerhold.Where("ID").Gt(int64(0)).SortBy("CreatedAt", "ID").Reverse()
	if err := b.store.Find(&targets, query); err != nil {
		return nil, fmt.Errorf("badger: list targets: %w", err)
	}
	if targets == nil {
		targets = make([]models.TrackedTarget, 0)
	}
	return targets, nil
}

func (b *BadgerStore) GetTarget(ctx context.Context, id int64) (models.TrackedTarget, error) {
	var t models.TrackedTarget
	if err := ctx.Err(); err != nil {
		return t, err
	}
	if err := b.store.Get(id, &t); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return t, fmt.Errorf("%w: %d", ErrTargetNotFound, id)
		}
		return t, fmt.Errorf("badger: get target %d: %w", id, err)
	}
	return t, nil
}

func (b *BadgerStore) AddTarget(ctx context.Context, t models.TrackedTarget) (models.TrackedTarget, error) {
	if err := ctx.Err(); err != nil {
		return t, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id, err := b.next(targetSequence)
	if err != nil {
		return t, err
	}
	t.ID = id
	t.CreatedAt = b.now()
	if err := b.store.Insert(id, &t); err != nil {
		return t, fmt.Errorf("badger: add target: %w", err)
	}
	return t, nil
}

func (b *BadgerStore) UpdateTarget(ctx context.Context, id int64, u TargetUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var t models.TrackedTarget
	if err := b.store.Get(id, &t); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrTargetNotFound, id)
		}
		return fmt.Errorf("badger: get target %d: %w", id, err)
	}

	if u.URL != nil && *u.URL != t.URL {
		if err := b.deleteListings(id); err != nil {
			return err
		}
		t.URL = *u.URL
	}
	if u.Name != nil {
		t.Name = *u.Name
	}
	if u.ClearThreshold {
		t.MaxPricePerSqm = nil
	} else if u.MaxPricePerSqm != nil {
		v := *u.MaxPricePerSqm
		t.MaxPricePerSqm = &v
	}
	if u.Disabled != nil {
		t.Disabled = *u.Disabled
	}

	if err := b.store.Update(id, &t); err != nil {
		return fmt.Errorf("badger: update target %d: %w", id, err)
	}
	return nil
}

func (b *BadgerStore) RemoveTarget(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.Delete(id, &models.TrackedTarget{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrTargetNotFound, id)
		}
		return fmt.Errorf("badger: remove target %d: %w", id, err)
	}
	return b.deleteListings(id)
}
