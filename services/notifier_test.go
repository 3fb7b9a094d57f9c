package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"yad2-watcher/models"
	"yad2-watcher/utils"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func record(token string, price, sqm *float64) models.ListingRecord {
	return models.ListingRecord{
		Token:        token,
		Price:        price,
		SquareMeters: sqm,
		Address:      "Herzl 5, Florentin, Tel Aviv",
		PropertyType: "Apartment",
		Link:         models.ItemBaseURL + token,
	}
}

func TestFilterByThreshold(t *testing.T) {
	threshold := ptr(5000)
	tests := []struct {
		name string
		rec  models.ListingRecord
		want bool
	}{
		{"unknown area is notified", record("a", ptr(1_000_000), nil), true},
		{"unknown price is notified", record("b", nil, ptr(80)), true},
		{"above threshold", record("c", ptr(600_000), ptr(100)), false},
		{"exactly at threshold", record("d", ptr(500_000), ptr(100)), true},
		{"below threshold", record("e", ptr(300_000), ptr(100)), true},
		{"zero area is notified", record("f", ptr(900_000), ptr(0)), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FilterByThreshold([]models.ListingRecord{tc.rec}, threshold)
			if (len(got) == 1) != tc.want {
				t.Errorf("passed: got %v, want %v", len(got) == 1, tc.want)
			}
		})
	}
}

func TestFilterByThresholdWithoutThreshold(t *testing.T) {
	in := []models.ListingRecord{
		record("a", ptr(9_000_000), ptr(10)),
		record("b", nil, nil),
	}
	for _, th := range []*float64{nil, ptr(0)} {
		if got := FilterByThreshold(in, th); len(got) != len(in) {
			t.Errorf("threshold %v: got %d records, want %d", th, len(got), len(in))
		}
	}
}

func TestBatchNeverExceedsMax(t *testing.T) {
	blocks := []string{
		strings.Repeat("a", 2000),
		strings.Repeat("b", 2000),
		strings.Repeat("c", 2000),
	}
	batches := Batch(blocks, 3500)

	if len(batches) != 3 {
		t.Errorf("batches: got %d, want 3", len(batches))
	}
	for i, b := range batches {
		if n := utf8.RuneCountInString(b); n > 3500 {
			t.Errorf("batch %d: %d characters exceeds 3500", i, n)
		}
	}
	if got := strings.Join(batches, batchSeparator); got != strings.Join(blocks, batchSeparator) {
		t.Error("batches do not reassemble into the original block sequence")
	}
}

func TestBatchPacksSmallBlocks(t *testing.T) {
	blocks := []string{
		strings.Repeat("a", 1000),
		strings.Repeat("b", 1000),
		strings.Repeat("c", 1000),
		strings.Repeat("d", 1000),
	}
	batches := Batch(blocks, 3500)

	if len(batches) != 2 {
		t.Fatalf("batches: got %d, want 2", len(batches))
	}
	want := strings.Join(blocks[:3], batchSeparator)
	if batches[0] != want {
		t.Errorf("first batch should hold three blocks, got %d characters", len(batches[0]))
	}
	if batches[1] != blocks[3] {
		t.Error("final partial batch not flushed")
	}
}

func TestBatchTruncatesOversizedBlock(t *testing.T) {
	batches := Batch([]string{strings.Repeat("ש", 5000)}, 3500)
	if len(batches) != 1 {
		t.Fatalf("batches: got %d, want 1", len(batches))
	}
	if n := utf8.RuneCountInString(batches[0]); n != 3500 {
		t.Errorf("length: got %d, want 3500", n)
	}
}

func TestBatchEmpty(t *testing.T) {
	if got := Batch(nil, 3500); len(got) != 0 {
		t.Errorf("got %d batches for no blocks", len(got))
	}
}

func TestFormatListing(t *testing.T) {
	r := record("abc123", ptr(1_500_000), ptr(75))
	r.Rooms = ptr(3.5)

	got := FormatListing(r)
	want := "₪1,500,000 - Herzl 5, Florentin, Tel Aviv\n" +
		"Apartment | 3.5 rooms | 75m² | ₪20,000/m²\n" +
		models.ItemBaseURL + "abc123"
	if got != want {
		t.Errorf("FormatListing:\ngot  %q\nwant %q", got, want)
	}
}

func TestFormatListingMissingPrice(t *testing.T) {
	got := FormatListing(record("x", nil, nil))
	if !strings.HasPrefix(got, "N/A - ") {
		t.Errorf("got %q, want N/A price", got)
	}
}

func TestNotifyFirstScanIsSkipped(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{}, utils.Discard())
	target := models.TrackedTarget{ID: 1, Name: "Florentin"}

	d := n.Notify(context.Background(), target, []models.ListingRecord{record("a", ptr(1), ptr(1))}, true)
	if d.Status != models.NotifySkipped {
		t.Errorf("Status: got %q, want %q", d.Status, models.NotifySkipped)
	}
	if len(d.Listings) != 0 {
		t.Errorf("Listings: got %d, want 0", len(d.Listings))
	}
	if got := len(sender.messages()); got != 0 {
		t.Errorf("messages sent: got %d, want 0", got)
	}
}

func TestNotifyNothingPassing(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{}, utils.Discard())
	target := models.TrackedTarget{ID: 1, Name: "Florentin", MaxPricePerSqm: ptr(10_000)}

	d := n.Notify(context.Background(), target, []models.ListingRecord{record("a", ptr(5_000_000), ptr(50))}, false)
	if d.Status != models.NotifySkipped {
		t.Errorf("Status: got %q, want %q", d.Status, models.NotifySkipped)
	}
	if got := len(sender.messages()); got != 0 {
		t.Errorf("messages sent: got %d, want 0", got)
	}
}

func TestNotifySendsHeaderAndBatches(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{MaxMessageLength: 3500}, utils.Discard())
	target := models.TrackedTarget{ID: 1, Name: "Florentin", MaxPricePerSqm: ptr(30_000)}

	fresh := []models.ListingRecord{
		record("a", ptr(1_500_000), ptr(75)),
		record("b", ptr(9_000_000), ptr(75)), // filtered out
		record("c", ptr(2_000_000), nil),
	}
	d := n.Notify(context.Background(), target, fresh, false)

	if d.Status != models.NotifySent {
		t.Errorf("Status: got %q, want %q", d.Status, models.NotifySent)
	}
	if len(d.Listings) != 2 {
		t.Errorf("Listings: got %d, want 2", len(d.Listings))
	}

	msgs := sender.messages()
	if len(msgs) != 2 {
		t.Fatalf("messages sent: got %d, want 2", len(msgs))
	}
	if want := fmt.Sprintf("🏠 2 new listing(s) for %q:", "Florentin"); msgs[0] != want {
		t.Errorf("header: got %q, want %q", msgs[0], want)
	}
	if strings.Contains(msgs[1], models.ItemBaseURL+"b") {
		t.Error("filtered listing was sent")
	}
	if !strings.Contains(msgs[1], models.ItemBaseURL+"a") || !strings.Contains(msgs[1], models.ItemBaseURL+"c") {
		t.Error("passing listings missing from batch")
	}
}

func TestNotifyDeliveryError(t *testing.T) {
	sender := &fakeSender{err: fmt.Errorf("%w: 429 Too Many Requests", models.ErrDeliveryFailure)}
	n := NewNotifier(sender, NotifierConfig{}, utils.Discard())
	target := models.TrackedTarget{ID: 1, Name: "Florentin"}

	d := n.Notify(context.Background(), target, []models.ListingRecord{record("a", ptr(1_000_000), ptr(50))}, false)
	if !strings.HasPrefix(d.Status, "error: ") {
		t.Errorf("Status: got %q, want error: prefix", d.Status)
	}
	if !strings.Contains(d.Status, "429") {
		t.Errorf("Status %q lost the channel's message", d.Status)
	}
	if len(d.Listings) != 1 {
		t.Errorf("Listings: got %d, want 1", len(d.Listings))
	}
}

func TestNotifyCancelledContext(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{MessagesPerSecond: 0.001}, utils.Discard())
	target := models.TrackedTarget{ID: 1, Name: "Florentin"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := n.Notify(ctx, target, []models.ListingRecord{record("a", ptr(1), ptr(1))}, false)
	if !strings.HasPrefix(d.Status, "error: ") {
		t.Errorf("Status: got %q, want error: prefix", d.Status)
	}
	if got := len(sender.messages()); got != 0 {
		t.Errorf("messages sent: got %d, want 0", got)
	}
}

func TestNotifyFailure(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{}, utils.Discard())
	target := models.TrackedTarget{ID: 1, Name: "Florentin"}
	out := &models.ScanOutcome{Stage: models.StageFailed, FailedAt: models.StageExtracting, Error: "parse failure: no __NEXT_DATA__"}

	if err := n.NotifyFailure(context.Background(), target, out); err != nil {
		t.Fatalf("NotifyFailure: %v", err)
	}
	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("messages sent: got %d, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0], "while extracting") || !strings.HasSuffix(msgs[0], "Error: parse failure: no __NEXT_DATA__") {
		t.Errorf("alert: got %q", msgs[0])
	}
}

func TestNotifyFailureHonoursRateLimit(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{MessagesPerSecond: 0.001}, utils.Discard())
	target := models.TrackedTarget{ID: 1, Name: "Florentin"}
	out := &models.ScanOutcome{Stage: models.StageFailed, FailedAt: models.StageFetching, Error: "boom"}

	if err := n.NotifyFailure(context.Background(), target, out); err != nil {
		t.Fatalf("first alert: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.NotifyFailure(ctx, target, out); !errors.Is(err, models.ErrDeliveryFailure) {
		t.Errorf("second alert: got %v, want ErrDeliveryFailure", err)
	}
	if got := len(sender.messages()); got != 1 {
		t.Errorf("messages sent: got %d, want 1", got)
	}
}

func TestTrimFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{3, "3"},
		{3.5, "3.5"},
		{75.456, "75.46"},
		{-2.5, "-2.5"},
	}
	for _, tc := range tests {
		if got := trimFloat(tc.in); got != tc.want {
			t.Errorf("trimFloat(%v): got %q, want %q", tc.in, got, tc.want)
		}
	}
}
