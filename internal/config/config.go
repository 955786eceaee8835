package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Mode string

const (
	// ModeKiosk talks to the REST backend; carts of signed-in users stay on the device.
	ModeKiosk Mode = "kiosk"
	// ModeStorefront reads and writes the sharded MySQL database directly.
	ModeStorefront Mode = "storefront"
)

type DBConfig struct {
	Host string
	Port string
	User string
	Pass string
	Name string
}

// DSN enables ClientFoundRows so an UPDATE that matches a row but changes
// nothing still reports it as affected.
func (d DBConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Pass
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(d.Host, d.Port)
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

type Config struct {
	Mode            Mode
	Port            string
	BackendURL      string
	DBShards        []DBConfig
	RedisAddr       string
	KafkaBrokers    []string
	JWTSecret       string
	TaxRate         decimal.Decimal
	DebounceWindow  time.Duration
	ReconcileWindow time.Duration
	RemoteTimeout   time.Duration
	CatalogTTL      time.Duration
	MirrorSize      int
	FallbackEnabled bool
	DeviceID        string
	PrintCommand    string
	LogLevel        zerolog.Level
}

// Load reads the configuration from the environment, after loading a .env
// file from the working directory when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	cfg := &Config{
		Mode:            Mode(getenv("MODE", string(ModeKiosk))),
		Port:            getenv("PORT", "8090"),
		BackendURL:      getenv("BACKEND_URL", "http://localhost:8082"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:    getKafkaBrokerURLs(),
		JWTSecret:       getenv("JWT_SECRET", "secret"),
		DeviceID:        getenv("DEVICE_ID", hostname),
		PrintCommand:    getenv("PRINT_COMMAND", "lp"),
		FallbackEnabled: getenv("FALLBACK_ENABLED", "true") != "false",
	}

	var err error
	if cfg.TaxRate, err = decimal.NewFromString(getenv("TAX_RATE", "0.085")); err != nil {
		return nil, fmt.Errorf("TAX_RATE: %w", err)
	}
	if cfg.TaxRate.IsNegative() || cfg.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("TAX_RATE must be a fraction between 0 and 1, got %s", cfg.TaxRate)
	}
	if cfg.DebounceWindow, err = time.ParseDuration(getenv("DEBOUNCE_WINDOW", "500ms")); err != nil {
		return nil, fmt.Errorf("DEBOUNCE_WINDOW: %w", err)
	}
	if cfg.ReconcileWindow, err = time.ParseDuration(getenv("RECONCILE_WINDOW", "250ms")); err != nil {
		return nil, fmt.Errorf("RECONCILE_WINDOW: %w", err)
	}
	if cfg.RemoteTimeout, err = time.ParseDuration(getenv("REMOTE_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("REMOTE_TIMEOUT: %w", err)
	}
	if cfg.CatalogTTL, err = time.ParseDuration(getenv("CATALOG_TTL", "5m")); err != nil {
		return nil, fmt.Errorf("CATALOG_TTL: %w", err)
	}
	if cfg.MirrorSize, err = strconv.Atoi(getenv("MIRROR_SIZE", "64")); err != nil {
		return nil, fmt.Errorf("MIRROR_SIZE: %w", err)
	}
	if cfg.LogLevel, err = zerolog.ParseLevel(getenv("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	// DB1_HOST, DB2_HOST, ... one entry per shard until the first gap.
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("DB%d_", i)
		host := os.Getenv(prefix + "HOST")
		if host == "" {
			break
		}
		cfg.DBShards = append(cfg.DBShards, DBConfig{
			Host: host,
			Port: getenv(prefix+"PORT", "3306"),
			User: getenv(prefix+"USER", "root"),
			Pass: os.Getenv(prefix + "PASS"),
			Name: getenv(prefix+"NAME", "restaurant"),
		})
	}

	switch cfg.Mode {
	case ModeKiosk:
	case ModeStorefront:
		if len(cfg.DBShards) == 0 {
			return nil, fmt.Errorf("storefront mode needs at least DB1_HOST")
		}
	default:
		return nil, fmt.Errorf("unknown MODE %q", cfg.Mode)
	}
	return cfg, nil
}

// Logger builds the root logger every component derives its own from.
func (c *Config) Logger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(c.LogLevel).With().Timestamp().Str("device", c.DeviceID).Logger()
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
