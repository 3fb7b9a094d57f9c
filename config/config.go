package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	StoreBackend string
	BadgerPath   string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxConcurrency    int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	NavigationTimeout time.Duration
	ChallengeMarkers  []string
	ItemBaseURL       string
	ChromeBin         string
	Headless          bool

	TelegramAPIToken  string
	TelegramChatID    string
	MaxMessageLength  int
	MessagesPerSecond float64

	ScanSchedule string
	HTTPAddr     string
	TargetsFile  string
	CSVExportDir string
	LogLevel     string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		BadgerPath:   getEnv("BADGER_PATH", "./data/badger"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "watcher"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "watcher123"),
		PostgresDB:       getEnv("POSTGRES_DB", "yad2_watcher"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MaxConcurrency:    getEnvInt("MAX_CONCURRENCY", 2),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:    time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 2000)) * time.Millisecond,
		NavigationTimeout: time.Duration(getEnvInt("NAVIGATION_TIMEOUT_SEC", 45)) * time.Second,
		ChallengeMarkers:  getEnvList("CHALLENGE_MARKERS", []string{"ShieldSquare Captcha"}),
		ItemBaseURL:       getEnv("ITEM_BASE_URL", "https://www.yad2.co.il/realestate/item/"),
		ChromeBin:         getEnv("CHROME_BIN", ""),
		Headless:          getEnvBool("HEADLESS", true),

		TelegramAPIToken:  getEnv("API_TOKEN", ""),
		TelegramChatID:    getEnv("CHAT_ID", ""),
		MaxMessageLength:  getEnvInt("MAX_MESSAGE_LENGTH", 3500),
		MessagesPerSecond: getEnvFloat("MESSAGES_PER_SECOND", 1),

		ScanSchedule: getEnv("SCAN_SCHEDULE", "*/15 * * * *"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":"+getEnv("PORT", "3000")),
		TargetsFile:  getEnv("TARGETS_FILE", ""),
		CSVExportDir: getEnv("CSV_EXPORT_DIR", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
