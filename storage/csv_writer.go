package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"yad2-watcher/models"
)

var unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)

var csvHeader = []string{
	"token", "price", "sqm", "price_per_sqm", "rooms", "address", "property_type", "ad_type", "link", "scraped_at",
}

// CSVWriter snapshots every scraped page of a target to a CSV file under dir,
// one file per target, rewritten on each scan. It is safe for concurrent use.
type CSVWriter struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewCSVWriter creates dir if needed and returns a writer exporting into it.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}
	return &CSVWriter{dir: dir, now: time.Now}, nil
}

// PathFor returns the file a target's snapshot is written to.
func (c *CSVWriter) PathFor(target models.TrackedTarget) string {
	name := strings.Trim(unsafeFileChars.ReplaceAllString(target.Name, "_"), "_")
	if name == "" {
		name = "target"
	}
	return filepath.Join(c.dir, fmt.Sprintf("%d_%s.csv", target.ID, name))
}

// Record truncates the target's file and writes every record of the scan.
func (c *CSVWriter) Record(target models.TrackedTarget, records []models.ListingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.PathFor(target)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	scrapedAt := c.now().Format(time.RFC3339)
	for _, r := range records {
		ppsm := ""
		if v, ok := r.PricePerSqm(); ok {
			ppsm = formatNumber(&v)
		}
		row := []string{
			r.Token,
			formatNumber(r.Price),
			formatNumber(r.SquareMeters),
			ppsm,
			formatNumber(r.Rooms),
			r.Address,
			r.PropertyType,
			r.AdType,
			r.Link,
			scrapedAt,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func formatNumber(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
