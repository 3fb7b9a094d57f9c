package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"yad2-watcher/models"
	"yad2-watcher/storage"
	"yad2-watcher/utils"
)

type fakeScanner struct {
	mu     sync.Mutex
	cycles [][]models.TrackedTarget
	single []models.TrackedTarget
}

func (f *fakeScanner) RunScanCycle(_ context.Context, targets []models.TrackedTarget) []*models.ScanOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, targets)
	out := make([]*models.ScanOutcome, len(targets))
	for i, t := range targets {
		out[i] = &models.ScanOutcome{TargetID: t.ID, Name: t.Name, Stage: models.StageDone}
	}
	return out
}

func (f *fakeScanner) RunScanForOne(_ context.Context, t models.TrackedTarget) *models.ScanOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.single = append(f.single, t)
	return &models.ScanOutcome{TargetID: t.ID, Name: t.Name, Stage: models.StageDone}
}

func newTestServer(t *testing.T) (*Server, *fakeScanner, *storage.BadgerStore) {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir(), utils.Discard())
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	scanner := &fakeScanner{}
	return NewServer(scanner, store, utils.Discard()), scanner, store
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestAddAndListTargets(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/targets", `{"name":"Florentin","url":"https://www.yad2.co.il/realestate/forsale?city=5000","max_price_per_sqm":45000}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d (%s)", rec.Code, http.StatusCreated, rec.Body)
	}
	var created models.TrackedTarget
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 {
		t.Error("created target has no ID")
	}
	if created.MaxPricePerSqm == nil || *created.MaxPricePerSqm != 45000 {
		t.Errorf("MaxPricePerSqm: got %v, want 45000", created.MaxPricePerSqm)
	}

	rec = do(t, s, http.MethodGet, "/api/targets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	var views []targetView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Name != "Florentin" {
		t.Errorf("targets: got %+v", views)
	}
	if views[0].Stats.Count != 0 || views[0].Stats.Median != nil {
		t.Errorf("stats of a new target: got %+v", views[0].Stats)
	}
}

func TestAddTargetValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{"name":"x"}`},
		{"blank name", `{"name":"  ","url":"https://example.test"}`},
		{"bad json", `{`},
		{"not a url", `{"name":"x","url":"yad2 florentin"}`},
		{"bad threshold", `{"name":"x","url":"https://example.test","max_price_per_sqm":"cheap"}`},
		{"NaN threshold", `{"name":"x","url":"https://example.test","max_price_per_sqm":"NaN"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/targets", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestUpdateTarget(t *testing.T) {
	s, _, store := newTestServer(t)
	ctx := context.Background()
	threshold := 30000.0
	tg, err := store.AddTarget(ctx, models.TrackedTarget{Name: "a", URL: "https://example.test/a", MaxPricePerSqm: &threshold})
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	rec := do(t, s, http.MethodPut, "/api/targets/"+itoa(tg.ID), `{"name":"renamed","max_price_per_sqm":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body)
	}

	got, err := store.GetTarget(ctx, tg.ID)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if got.Name != "renamed" {
		t.Errorf("Name: got %q, want %q", got.Name, "renamed")
	}
	if got.MaxPricePerSqm != nil {
		t.Errorf("MaxPricePerSqm: got %v, want nil", *got.MaxPricePerSqm)
	}
	if got.URL != tg.URL {
		t.Errorf("URL changed: got %q", got.URL)
	}
}

func TestUnknownTarget(t *testing.T) {
	s, scanner, _ := newTestServer(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPut, "/api/targets/99", `{"name":"x"}`},
		{http.MethodDelete, "/api/targets/99", ""},
		{http.MethodGet, "/api/targets/99/listings", ""},
		{http.MethodPost, "/api/scan/99", ""},
	} {
		rec := do(t, s, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: got %d, want %d", tc.method, tc.path, rec.Code, http.StatusNotFound)
		}
	}
	if len(scanner.single) != 0 {
		t.Error("scan ran for an unknown target")
	}
}

func TestScanEndpoints(t *testing.T) {
	s, scanner, store := newTestServer(t)
	ctx := context.Background()
	a, _ := store.AddTarget(ctx, models.TrackedTarget{Name: "a", URL: "https://example.test/a"})
	store.AddTarget(ctx, models.TrackedTarget{Name: "b", URL: "https://example.test/b"})

	rec := do(t, s, http.MethodPost, "/api/scan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	var outcomes []models.ScanOutcome
	if err := json.NewDecoder(rec.Body).Decode(&outcomes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(outcomes) != 2 {
		t.Errorf("outcomes: got %d, want 2", len(outcomes))
	}

	rec = do(t, s, http.MethodPost, "/api/scan/"+itoa(a.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	if len(scanner.single) != 1 || scanner.single[0].ID != a.ID {
		t.Errorf("single scans: got %+v", scanner.single)
	}
}

func TestListingsAndRemove(t *testing.T) {
	s, _, store := newTestServer(t)
	ctx := context.Background()
	tg, _ := store.AddTarget(ctx, models.TrackedTarget{Name: "a", URL: "https://example.test/a"})
	price, sqm := 2_000_000.0, 80.0
	store.AppendSeenListing(ctx, tg.ID, models.ListingRecord{Token: "x1", Price: &price, SquareMeters: &sqm})

	rec := do(t, s, http.MethodGet, "/api/targets/"+itoa(tg.ID)+"/listings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	var view listingsView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Listings) != 1 || view.Stats.Count != 1 {
		t.Errorf("listings/stats: got %d/%d, want 1/1", len(view.Listings), view.Stats.Count)
	}
	if view.Stats.Median == nil || *view.Stats.Median != 25000 {
		t.Errorf("Median: got %v, want 25000", view.Stats.Median)
	}

	rec = do(t, s, http.MethodDelete, "/api/targets/"+itoa(tg.ID), "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	tokens, err := store.SeenTokens(ctx, tg.ID)
	if err != nil {
		t.Fatalf("SeenTokens: %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("listings survived target removal: %v", tokens)
	}
}

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		raw       string
		wantValue float64
		wantSet   bool
		wantClear bool
		wantErr   bool
	}{
		{"", 0, false, false, false},
		{"null", 0, false, true, false},
		{`""`, 0, false, true, false},
		{"0", 0, false, true, false},
		{"45000", 45000, true, false, false},
		{`"32000.5"`, 32000.5, true, false, false},
		{"-1", 0, false, false, true},
		{"true", 0, false, false, true},
		{`"NaN"`, 0, false, false, true},
		{`"Inf"`, 0, false, false, true},
		{`"-Infinity"`, 0, false, false, true},
	}
	for _, tc := range tests {
		v, clear, err := parseThreshold(json.RawMessage(tc.raw))
		if (err != nil) != tc.wantErr {
			t.Errorf("%q: err got %v, wantErr %v", tc.raw, err, tc.wantErr)
			continue
		}
		if clear != tc.wantClear {
			t.Errorf("%q: clear got %v, want %v", tc.raw, clear, tc.wantClear)
		}
		if (v != nil) != tc.wantSet || (v != nil && *v != tc.wantValue) {
			t.Errorf("%q: value got %v, want %v", tc.raw, v, tc.wantValue)
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
