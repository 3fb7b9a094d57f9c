package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"MAX_RETRIES", "MAX_MESSAGE_LENGTH", "NAVIGATION_TIMEOUT_SEC", "CHALLENGE_MARKERS", "STORE_BACKEND"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries: got %d, want 3", cfg.MaxRetries)
	}
	if cfg.MaxMessageLength != 3500 {
		t.Errorf("MaxMessageLength: got %d, want 3500", cfg.MaxMessageLength)
	}
	if cfg.NavigationTimeout != 45*time.Second {
		t.Errorf("NavigationTimeout: got %v, want 45s", cfg.NavigationTimeout)
	}
	if len(cfg.ChallengeMarkers) != 1 || cfg.ChallengeMarkers[0] != "ShieldSquare Captcha" {
		t.Errorf("ChallengeMarkers: got %v", cfg.ChallengeMarkers)
	}
	if cfg.StoreBackend != "postgres" {
		t.Errorf("StoreBackend: got %q, want postgres", cfg.StoreBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("CHALLENGE_MARKERS", "Captcha, Access Denied ,")
	t.Setenv("HEADLESS", "false")
	t.Setenv("MESSAGES_PER_SECOND", "0.5")
	t.Setenv("MAX_CONCURRENCY", "not-a-number")

	cfg := Load()
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries: got %d, want 5", cfg.MaxRetries)
	}
	if len(cfg.ChallengeMarkers) != 2 || cfg.ChallengeMarkers[1] != "Access Denied" {
		t.Errorf("ChallengeMarkers: got %v", cfg.ChallengeMarkers)
	}
	if cfg.Headless {
		t.Error("Headless should be false")
	}
	if cfg.MessagesPerSecond != 0.5 {
		t.Errorf("MessagesPerSecond: got %v, want 0.5", cfg.MessagesPerSecond)
	}
	if cfg.MaxConcurrency != 2 {
		t.Errorf("MaxConcurrency should fall back to 2 on bad input, got %d", cfg.MaxConcurrency)
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{PostgresHost: "db", PostgresPort: "5432", PostgresUser: "u",
		PostgresPassword: "p", PostgresDB: "d", PostgresSSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=d sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN: got %q, want %q", got, want)
	}
}

func TestLoadTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	body := `projects:
  - topic: center
    url: https://www.yad2.co.il/realestate/forsale?city=5000
    max_price_per_sqm: 45000
  - topic: north
    url: https://www.yad2.co.il/realestate/forsale?city=4000
    disabled: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadTargets(path)
	if err != nil {
		t.Fatalf("LoadTargets: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("projects: got %d, want 2", len(got))
	}
	if got[0].MaxPricePerSqm == nil || *got[0].MaxPricePerSqm != 45000 {
		t.Errorf("threshold of first project: got %v", got[0].MaxPricePerSqm)
	}
	if got[1].MaxPricePerSqm != nil {
		t.Errorf("second project should have no threshold")
	}
	if !got[1].Disabled {
		t.Errorf("second project should be disabled")
	}
}

func TestLoadTargetsRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte("projects:\n  - topic: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTargets(path); err == nil {
		t.Error("expected error for project without url")
	}
}
