package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Browser   BrowserConfig
	Stealth   StealthConfig
	Challenge ChallengeConfig
	Solver    SolverConfig
	Extract   ExtractConfig
	Pipeline  PipelineConfig
	Batch     BatchConfig
	Catalog   CatalogConfig
	Notify    NotifyConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Server    ServerConfig
	Schedule  ScheduleConfig
	Watch     WatchConfig
	Logging   LoggingConfig
}

type BrowserConfig struct {
	Headless    bool
	UserDataDir string
	Timeout     time.Duration
}

type StealthConfig struct {
	UserAgent         string
	Locale            string
	TimezoneID        string
	AcceptLanguage    string
	ViewportWidth     int
	ViewportHeight    int
	DeviceScaleFactor float64
	Languages         []string
}

type ChallengeConfig struct {
	HostPattern        string
	ModeMarkers        []string
	MarkerSelectors    []string
	SiteKeyAttributes  []string
	MaxCycles          int
	MaxDetectionPasses int
	SettleInterval     time.Duration
	RetryDelay         time.Duration
}

type SolverConfig struct {
	APIKey         string
	BaseURL        string
	TaskType       string
	Action         string
	PollInterval   time.Duration
	Timeout        time.Duration
	RequestTimeout time.Duration
	RetryDelay     time.Duration
}

type ExtractConfig struct {
	Selectors      []string
	MaxAttempts    int
	SettleInterval time.Duration
}

type PipelineConfig struct {
	NavigationTimeout  time.Duration
	NavigationAttempts int
	NavigationDelay    time.Duration
	DOMReadyTimeout    time.Duration
	SkuParam           string
}

type BatchConfig struct {
	ProductAttempts int
	RetryDelay      time.Duration
	PaceDelay       time.Duration
	PaceJitter      time.Duration
}

type CatalogConfig struct {
	BaseURL string
	Timeout time.Duration
}

type NotifyConfig struct {
	VonageAPIKey    string
	VonageAPISecret string
	Sender          string
	Recipients      []string
	Message         string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type ServerConfig struct {
	Enabled bool
	Port    int
}

type ScheduleConfig struct {
	Cron       string
	RunOnStart bool
}

// WatchConfig drives the price stream consumer.
type WatchConfig struct {
	Group          string
	Consumer       string
	AlertThreshold float64
	Block          time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Browser: BrowserConfig{
			Headless:    getEnvBool("BROWSER_HEADLESS", true),
			UserDataDir: getEnv("BROWSER_USER_DATA_DIR", "./browser-data"),
			Timeout:     getEnvDuration("BROWSER_TIMEOUT", 30*time.Second),
		},
		Stealth: StealthConfig{
			UserAgent:         getEnv("STEALTH_USER_AGENT", defaultUserAgent),
			Locale:            getEnv("STEALTH_LOCALE", "pt-BR"),
			TimezoneID:        getEnv("STEALTH_TIMEZONE", "America/Sao_Paulo"),
			AcceptLanguage:    getEnv("STEALTH_ACCEPT_LANGUAGE", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"),
			ViewportWidth:     getEnvInt("STEALTH_VIEWPORT_WIDTH", 1920),
			ViewportHeight:    getEnvInt("STEALTH_VIEWPORT_HEIGHT", 1080),
			DeviceScaleFactor: getEnvFloat("STEALTH_DEVICE_SCALE_FACTOR", 1),
			Languages:         getEnvSlice("STEALTH_LANGUAGES", []string{"pt-BR", "pt", "en-US", "en"}),
		},
		Challenge: ChallengeConfig{
			HostPattern:        getEnv("CHALLENGE_HOST_PATTERN", `(?i)^https?://(www\.)?(google\.com|recaptcha\.net)/recaptcha/`),
			ModeMarkers:        getEnvSlice("CHALLENGE_MODE_MARKERS", []string{"/anchor", "size=invisible"}),
			MarkerSelectors:    getEnvSlice("CHALLENGE_MARKERS", []string{"#nocaptcha", ".g-recaptcha", "[data-sitekey]"}),
			SiteKeyAttributes:  getEnvSlice("CHALLENGE_SITEKEY_ATTRIBUTES", []string{"data-sitekey"}),
			MaxCycles:          getEnvInt("CHALLENGE_MAX_CYCLES", 3),
			MaxDetectionPasses: getEnvInt("CHALLENGE_MAX_DETECTION_PASSES", 3),
			SettleInterval:     getEnvDuration("CHALLENGE_SETTLE_INTERVAL", 3*time.Second),
			RetryDelay:         getEnvDuration("CHALLENGE_RETRY_DELAY", 2*time.Second),
		},
		Solver: SolverConfig{
			APIKey:         getEnv("SOLVER_API_KEY", ""),
			BaseURL:        getEnv("SOLVER_BASE_URL", "https://api.2captcha.com"),
			TaskType:       getEnv("SOLVER_TASK_TYPE", "RecaptchaV2TaskProxyless"),
			Action:         getEnv("SOLVER_ACTION", "verify"),
			PollInterval:   getEnvDuration("SOLVER_POLL_INTERVAL", 5*time.Second),
			Timeout:        getEnvDuration("SOLVER_TIMEOUT", 180*time.Second),
			RequestTimeout: getEnvDuration("SOLVER_REQUEST_TIMEOUT", 30*time.Second),
			RetryDelay:     getEnvDuration("SOLVER_RETRY_DELAY", 2*time.Second),
		},
		Extract: ExtractConfig{
			Selectors: getEnvSlice("EXTRACT_SELECTORS", []string{
				"span.product-price-value",
				".uniform-banner-box-price",
				"[class*='Price_uniformBannerBoxPrice']",
				"[class*='Price_promotion']",
			}),
			MaxAttempts:    getEnvInt("EXTRACT_MAX_ATTEMPTS", 3),
			SettleInterval: getEnvDuration("EXTRACT_SETTLE_INTERVAL", 2*time.Second),
		},
		Pipeline: PipelineConfig{
			NavigationTimeout:  getEnvDuration("PIPELINE_NAVIGATION_TIMEOUT", 30*time.Second),
			NavigationAttempts: getEnvInt("PIPELINE_NAVIGATION_ATTEMPTS", 2),
			NavigationDelay:    getEnvDuration("PIPELINE_NAVIGATION_DELAY", 3*time.Second),
			DOMReadyTimeout:    getEnvDuration("PIPELINE_DOM_READY_TIMEOUT", 30*time.Second),
			SkuParam:           getEnv("PIPELINE_SKU_PARAM", "skuId"),
		},
		Batch: BatchConfig{
			ProductAttempts: getEnvInt("BATCH_PRODUCT_ATTEMPTS", 3),
			RetryDelay:      getEnvDuration("BATCH_RETRY_DELAY", 5*time.Second),
			PaceDelay:       getEnvDuration("BATCH_PACE_DELAY", 5*time.Second),
			PaceJitter:      getEnvDuration("BATCH_PACE_JITTER", 0),
		},
		Catalog: CatalogConfig{
			BaseURL: strings.TrimSpace(getEnv("CATALOG_BASE_URL", "http://localhost:8080")),
			Timeout: getEnvDuration("CATALOG_TIMEOUT", 30*time.Second),
		},
		Notify: NotifyConfig{
			VonageAPIKey:    getEnv("VONAGE_API_KEY", ""),
			VonageAPISecret: getEnv("VONAGE_API_SECRET", ""),
			Sender:          getEnv("NOTIFY_SENDER", "PriceUpdater"),
			Recipients:      getEnvSlice("NOTIFY_RECIPIENTS", nil),
			Message:         getEnv("NOTIFY_MESSAGE", "Price update run failed for a product, please take a look."),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "price_updater"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 4)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Stream:   getEnv("REDIS_STREAM", "stream:price_updates"),
		},
		Server: ServerConfig{
			Enabled: getEnvBool("SERVER_ENABLED", false),
			Port:    getEnvInt("PORT", 8085),
		},
		Schedule: ScheduleConfig{
			Cron:       getEnv("SCHEDULE", ""),
			RunOnStart: getEnvBool("SCHEDULE_RUN_ON_START", true),
		},
		Watch: WatchConfig{
			Group:          getEnv("WATCH_GROUP", "price-watch"),
			Consumer:       getEnv("WATCH_CONSUMER", "price-watch-1"),
			AlertThreshold: getEnvFloat("WATCH_ALERT_PERCENT", 20),
			Block:          getEnvDuration("WATCH_BLOCK", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Browser.UserDataDir == "" {
		return fmt.Errorf("BROWSER_USER_DATA_DIR is required")
	}

	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("CATALOG_BASE_URL is required")
	}

	if c.Challenge.MaxCycles < 1 {
		return fmt.Errorf("CHALLENGE_MAX_CYCLES must be at least 1")
	}

	if c.Challenge.MaxDetectionPasses < 1 {
		return fmt.Errorf("CHALLENGE_MAX_DETECTION_PASSES must be at least 1")
	}

	if c.Extract.MaxAttempts < 1 {
		return fmt.Errorf("EXTRACT_MAX_ATTEMPTS must be at least 1")
	}

	if len(c.Extract.Selectors) == 0 {
		return fmt.Errorf("EXTRACT_SELECTORS must not be empty")
	}

	if c.Pipeline.NavigationAttempts < 1 {
		return fmt.Errorf("PIPELINE_NAVIGATION_ATTEMPTS must be at least 1")
	}

	if c.Batch.ProductAttempts < 1 {
		return fmt.Errorf("BATCH_PRODUCT_ATTEMPTS must be at least 1")
	}

	if c.Batch.PaceJitter < 0 || c.Batch.PaceDelay < 0 {
		return fmt.Errorf("BATCH_PACE_DELAY and BATCH_PACE_JITTER cannot be negative")
	}

	if c.Notify.VonageAPIKey != "" && len(c.Notify.Recipients) == 0 {
		return fmt.Errorf("NOTIFY_RECIPIENTS is required when VONAGE_API_KEY is set")
	}

	if c.Watch.AlertThreshold < 0 {
		return fmt.Errorf("WATCH_ALERT_PERCENT cannot be negative")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// DatabaseEnabled reports whether the observation ledger should be used.
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != ""
}

// RedisEnabled reports whether outbox events should be relayed to Redis.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
