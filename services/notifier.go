package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/time/rate"

	"yad2-watcher/messaging"
	"yad2-watcher/models"
	"yad2-watcher/utils"
)

const (
	// DefaultMaxMessageLength stays under Telegram's 4096 character cap.
	DefaultMaxMessageLength = 3500
	batchSeparator          = "\n----------\n"
)

var numberPrinter = message.NewPrinter(language.English)

// NotifierConfig bounds message size and send rate.
type NotifierConfig struct {
	MaxMessageLength  int
	MessagesPerSecond float64
}

// Notifier renders new listings and sends them in size-bounded batches.
type Notifier struct {
	sender  messaging.Sender
	limiter *rate.Limiter
	maxLen  int
	logger  *utils.Logger
}

// Delivery is the result of one Notify call. Listings are the records that
// passed the filter and were handed to the channel.
type Delivery struct {
	Listings []models.ListingRecord
	Status   string
}

// NewNotifier creates a Notifier sending through sender.
func NewNotifier(sender messaging.Sender, cfg NotifierConfig, logger *utils.Logger) *Notifier {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	return &Notifier{
		sender:  sender,
		limiter: rate.NewLimiter(limit, 1),
		maxLen:  cfg.MaxMessageLength,
		logger:  logger,
	}
}

// FilterByThreshold keeps records priced at or below threshold per sqm.
// Records whose price per sqm cannot be computed are kept. A nil or
// non-positive threshold keeps everything.
func FilterByThreshold(records []models.ListingRecord, threshold *float64) []models.ListingRecord {
	if threshold == nil || *threshold <= 0 {
		return records
	}
	out := make([]models.ListingRecord, 0, len(records))
	for _, r := range records {
		ppsm, ok := r.PricePerSqm()
		if !ok || ppsm <= *threshold {
			out = append(out, r)
		}
	}
	return out
}

// Notify filters fresh listings against the target threshold and sends them.
// Nothing is sent on a target's first scan. A delivery error is reported in
// the returned status, never as an error: the listings are already recorded.
func (n *Notifier) Notify(ctx context.Context, target models.TrackedTarget, fresh []models.ListingRecord, firstScan bool) Delivery {
	passing := FilterByThreshold(fresh, target.MaxPricePerSqm)

	if firstScan {
		n.logger.Info("[notify] %q: first scan, not notifying %d listing(s)", target.Name, len(passing))
		return Delivery{Status: models.NotifySkipped}
	}
	if len(passing) == 0 {
		return Delivery{Status: models.NotifySkipped}
	}

	blocks := make([]string, len(passing))
	for i, r := range passing {
		blocks[i] = FormatListing(r)
	}
	header := fmt.Sprintf("🏠 %d new listing(s) for %q:", len(passing), target.Name)
	messages := append([]string{truncateRunes(header, n.maxLen)}, Batch(blocks, n.maxLen)...)

	n.logger.Info("[notify] %q: sending %d listing(s) in %d message(s)", target.Name, len(passing), len(messages))
	if err := n.dispatch(ctx, messages); err != nil {
		n.logger.Error("[notify] %q: %v", target.Name, err)
		return Delivery{Listings: passing, Status: "error: " + err.Error()}
	}
	return Delivery{Listings: passing, Status: models.NotifySent}
}

// NotifyFailure tells the chat that a target's scan failed. It shares the
// rate limit with listing messages.
func (n *Notifier) NotifyFailure(ctx context.Context, target models.TrackedTarget, outcome *models.ScanOutcome) error {
	text := fmt.Sprintf("Scan workflow failed for %q while %s 😥\nError: %s", target.Name, outcome.FailedAt, outcome.Error)
	return n.dispatch(ctx, []string{truncateRunes(text, n.maxLen)})
}

func (n *Notifier) dispatch(ctx context.Context, messages []string) error {
	for i, msg := range messages {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: message %d/%d: %v", models.ErrDeliveryFailure, i+1, len(messages), err)
		}
		if err := n.sender.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Batch joins blocks with a separator into messages no longer than max
// characters. A block longer than max on its own is truncated.
func Batch(blocks []string, max int) []string {
	var batches []string
	var cur strings.Builder
	curLen := 0
	sepLen := utf8.RuneCountInString(batchSeparator)

	for _, b := range blocks {
		b = truncateRunes(b, max)
		bLen := utf8.RuneCountInString(b)

		if curLen > 0 && curLen+sepLen+bLen > max {
			batches = append(batches, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteString(batchSeparator)
			curLen += sepLen
		}
		cur.WriteString(b)
		curLen += bLen
	}
	if curLen > 0 {
		batches = append(batches, cur.String())
	}
	return batches
}

// FormatListing renders a listing as three lines: price and address, details,
// and the detail link.
func FormatListing(r models.ListingRecord) string {
	price := "N/A"
	if r.Price != nil && *r.Price > 0 {
		price = "₪" + groupThousands(*r.Price)
	}

	var details []string
	if r.PropertyType != "" {
		details = append(details, r.PropertyType)
	}
	if r.Rooms != nil && *r.Rooms > 0 {
		details = append(details, trimFloat(*r.Rooms)+" rooms")
	}
	if r.SquareMeters != nil && *r.SquareMeters > 0 {
		details = append(details, trimFloat(*r.SquareMeters)+"m²")
	}
	if ppsm, ok := r.PricePerSqm(); ok {
		details = append(details, "₪"+groupThousands(ppsm)+"/m²")
	}

	return fmt.Sprintf("%s - %s\n%s\n%s", price, r.Address, strings.Join(details, " | "), r.Link)
}

func groupThousands(f float64) string {
	return numberPrinter.Sprintf("%d", int64(math.Round(f)))
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(round2(f), 'f', -1, 64)
}

func round2(f float64) float64 {
	if f < 0 {
		return -round2(-f)
	}
	return float64(int64(f*100+0.5)) / 100
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
