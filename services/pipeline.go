package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"yad2-watcher/models"
	"yad2-watcher/scraper/yad2"
	"yad2-watcher/storage"
	"yad2-watcher/utils"
)

// PageFetcher retrieves a results page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*yad2.Page, error)
}

// ListingExtractor turns a fetched page into listing records.
type ListingExtractor interface {
	ExtractPage(p *yad2.Page) ([]models.ListingRecord, error)
}

// ScanRecorder receives every record set a scan extracted.
type ScanRecorder interface {
	Record(target models.TrackedTarget, records []models.ListingRecord) error
}

// PipelineConfig wires the pipeline's collaborators.
type PipelineConfig struct {
	Fetcher     PageFetcher
	Extractor   ListingExtractor
	Store       storage.ListingStore
	Notifier    *Notifier
	Recorder    ScanRecorder // optional
	Concurrency int
}

// Pipeline scans targets: fetch, extract, deduplicate, persist, filter and
// notify. Scans of the same target never overlap.
type Pipeline struct {
	fetcher     PageFetcher
	extractor   ListingExtractor
	store       storage.ListingStore
	notifier    *Notifier
	recorder    ScanRecorder
	concurrency int
	logger      *utils.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg PipelineConfig, logger *utils.Logger) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Pipeline{
		fetcher:     cfg.Fetcher,
		extractor:   cfg.Extractor,
		store:       cfg.Store,
		notifier:    cfg.Notifier,
		recorder:    cfg.Recorder,
		concurrency: cfg.Concurrency,
		logger:      logger,
		locks:       make(map[int64]*sync.Mutex),
	}
}

// RunScanCycle scans every enabled target and returns one outcome per scanned
// target, in input order. A failing target never affects the others.
func (p *Pipeline) RunScanCycle(ctx context.Context, targets []models.TrackedTarget) []*models.ScanOutcome {
	cycleID := uuid.NewString()

	active := make([]models.TrackedTarget, 0, len(targets))
	for _, t := range targets {
		if t.Disabled {
			p.logger.Debug("[pipeline] cycle %s: skipping disabled target %q", cycleID, t.Name)
			continue
		}
		active = append(active, t)
	}
	p.logger.Info("[pipeline] cycle %s: scanning %d target(s)", cycleID, len(active))

	outcomes := make([]*models.ScanOutcome, len(active))
	pool := utils.NewWorkerPool(p.concurrency, 0)
	for i, t := range active {
		i, t := i, t
		pool.Submit(func() {
			outcomes[i] = p.scan(ctx, cycleID, t)
		})
	}
	pool.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	p.logger.Info("[pipeline] cycle %s: done, %d ok, %d failed", cycleID, len(outcomes)-failed, failed)
	return outcomes
}

// RunScanForOne scans a single target on demand.
func (p *Pipeline) RunScanForOne(ctx context.Context, target models.TrackedTarget) *models.ScanOutcome {
	return p.scan(ctx, uuid.NewString(), target)
}

func (p *Pipeline) targetLock(id int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.locks[id]
	if !ok {
		l = &sync.Mutex{}
		p.locks[id] = l
	}
	return l
}

func (p *Pipeline) scan(ctx context.Context, cycleID string, target models.TrackedTarget) (out *models.ScanOutcome) {
	lock := p.targetLock(target.ID)
	lock.Lock()
	defer lock.Unlock()

	out = &models.ScanOutcome{
		CycleID:          cycleID,
		TargetID:         target.ID,
		Name:             target.Name,
		Notification:     models.NotifySkipped,
		NotifiedListings: []models.ListingView{},
		BelowThreshold:   []models.ListingView{},
	}

	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, target, out, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := p.run(ctx, target, out); err != nil {
		p.fail(ctx, target, out, err)
		return out
	}
	out.Stage = models.StageDone
	p.logger.Info("[pipeline] %q: %d scraped, %d new, %d notified (%s)",
		target.Name, out.TotalScraped, out.NewFound, out.Notified, out.Notification)
	return out
}

// fail marks out as failed and alerts the chat. An undeliverable alert is
// only logged.
func (p *Pipeline) fail(ctx context.Context, target models.TrackedTarget, out *models.ScanOutcome, err error) {
	out.FailedAt = out.Stage
	out.Stage = models.StageFailed
	out.FailureKind = models.ClassifyFailure(err)
	out.Error = err.Error()
	p.logger.Error("[pipeline] %q failed while %s (%s): %v", out.Name, out.FailedAt, out.FailureKind, err)

	if err := p.notifier.NotifyFailure(ctx, target, out); err != nil {
		p.logger.Warn("[pipeline] %q: failure alert not delivered: %v", out.Name, err)
	}
}

func (p *Pipeline) run(ctx context.Context, target models.TrackedTarget, out *models.ScanOutcome) error {
	out.Stage = models.StageFetching
	page, err := p.fetcher.Fetch(ctx, target.URL)
	if err != nil {
		return err
	}

	out.Stage = models.StageExtracting
	records, err := p.extractor.ExtractPage(page)
	if err != nil {
		return err
	}
	out.TotalScraped = len(records)
	if p.recorder != nil {
		if err := p.recorder.Record(target, records); err != nil {
			p.logger.Warn("[pipeline] %q: recording scan: %v", target.Name, err)
		}
	}

	out.Stage = models.StageDeduplicating
	tokens, err := p.store.SeenTokens(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrPersistFailure, err)
	}
	firstScan := len(tokens) == 0
	fresh, _ := Partition(records, utils.NewTokenSet(tokens...))

	out.Stage = models.StagePersisting
	inserted := make([]models.ListingRecord, 0, len(fresh))
	for _, r := range fresh {
		ok, err := p.store.AppendSeenListing(ctx, target.ID, r)
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrPersistFailure, err)
		}
		// a concurrent writer may have recorded it first
		if ok {
			inserted = append(inserted, r)
		}
	}
	out.NewFound = len(inserted)

	all, err := p.store.AllListings(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrPersistFailure, err)
	}
	out.Stats = ComputeStats(all)

	out.Stage = models.StageFiltering
	if t := target.MaxPricePerSqm; t != nil && *t > 0 {
		below, err := p.store.ListingsBelowThreshold(ctx, target.ID, *t)
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrPersistFailure, err)
		}
		for _, l := range below {
			out.BelowThreshold = append(out.BelowThreshold, models.ViewOfSeen(l))
		}
	}

	out.Stage = models.StageNotifying
	delivery := p.notifier.Notify(ctx, target, inserted, firstScan)
	out.Notification = delivery.Status
	out.Notified = len(delivery.Listings)
	for _, r := range delivery.Listings {
		out.NotifiedListings = append(out.NotifiedListings, models.ViewOfRecord(r))
	}
	return nil
}
