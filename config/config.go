package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sjsage522/suumoworker/helpers"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

// Registry backends
const (
	RegistryExcel    = "excel"
	RegistryRedis    = "redis"
	RegistryPostgres = "postgres"
	RegistryMemory   = "memory"
)

// Schedules
const (
	DefaultSchedule = "0 6,18 * * *"
	ScheduleOnce    = "once"
)

// Page fetchers
const (
	FetcherChrome = "chrome"
	FetcherHTTP   = "http"
)

// Config represents the application configuration
type Config struct {
	// Catalog
	CatalogURL       string
	CatalogOrigin    string
	SearchParamsFile string
	Timezone         string

	// Page fetching
	Fetcher      string
	ChromeBin    string
	PageTimeout  time.Duration
	SettleDelay  time.Duration
	MaxPages     int
	RunTimeout   time.Duration
	BlockTime    time.Duration
	MemcacheAddr string

	// Run registry
	RegistryBackend string
	WorkbookPath    string

	// Redis configuration
	RedisAddr      string
	RedisDB        int
	RedisKeyPrefix string

	// Postgres configuration
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Notification
	NotifyStream          string
	NotifyStreamMaxLength int
	NotifyMaxListings     int

	// Schedule is a cron spec, or ScheduleOnce to run once and exit
	Schedule string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		CatalogURL:       getEnv("CATALOG_URL", "https://suumo.jp/jj/chintai/ichiran/FR301FC001/"),
		CatalogOrigin:    getEnv("CATALOG_ORIGIN", "https://suumo.jp"),
		SearchParamsFile: getEnv("SEARCH_PARAMS_FILE", "params.json"),
		Timezone:         getEnv("TIMEZONE", "Asia/Tokyo"),

		Fetcher:      getEnv("FETCHER", FetcherChrome),
		ChromeBin:    getEnv("CHROME_BIN", ""),
		PageTimeout:  time.Duration(getEnvInt("PAGE_TIMEOUT_SECONDS", 30)) * time.Second,
		SettleDelay:  time.Duration(getEnvInt("SETTLE_DELAY_SECONDS", 5)) * time.Second,
		MaxPages:     getEnvInt("MAX_PAGES", 0),
		RunTimeout:   time.Duration(getEnvInt("RUN_TIMEOUT_MINUTES", 0)) * time.Minute,
		BlockTime:    time.Duration(getEnvInt("BLOCK_TIME_SECONDS", 500)) * time.Second,
		MemcacheAddr: getEnv("MEMCACHE_ADDR", ""),

		RegistryBackend: getEnv("REGISTRY_BACKEND", RegistryExcel),
		WorkbookPath:    getEnv("WORKBOOK_PATH", "runs.xlsx"),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "suumo:runs"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "suumo"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "suumo"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		NotifyStream:          getEnv("NOTIFY_STREAM", ""),
		NotifyStreamMaxLength: getEnvInt("NOTIFY_STREAM_MAX_LENGTH", 1000),
		NotifyMaxListings:     getEnvInt("NOTIFY_MAX_LISTINGS", 5),

		Schedule:    getEnv("SCHEDULE", DefaultSchedule),
		Environment: getEnv("APP_ENVIRONMENT", "development"),
	}
}

// RunsOnce reports whether the worker should run a single time and exit
func (c *Config) RunsOnce() bool {
	return strings.EqualFold(c.Schedule, ScheduleOnce)
}

// Validate checks that everything a run needs is present. It runs before any
// network activity; every problem is reported as a configuration error.
func (c *Config) Validate() error {
	var problems []string

	if c.CatalogURL == "" {
		problems = append(problems, "CATALOG_URL is required")
	}
	if c.CatalogOrigin == "" && helpers.Origin(c.CatalogURL) == "" {
		problems = append(problems, "CATALOG_ORIGIN is required when CATALOG_URL has no host")
	}
	if c.SearchParamsFile == "" {
		problems = append(problems, "SEARCH_PARAMS_FILE is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("TIMEZONE %q is invalid", c.Timezone))
	}
	if c.PageTimeout <= 0 {
		problems = append(problems, "PAGE_TIMEOUT_SECONDS must be positive")
	}
	if c.SettleDelay < 0 {
		problems = append(problems, "SETTLE_DELAY_SECONDS must not be negative")
	}
	if c.MaxPages < 0 {
		problems = append(problems, "MAX_PAGES must not be negative")
	}
	if c.NotifyMaxListings < 1 {
		problems = append(problems, "NOTIFY_MAX_LISTINGS must be at least 1")
	}

	switch c.Fetcher {
	case FetcherChrome, FetcherHTTP:
	default:
		problems = append(problems, fmt.Sprintf("FETCHER %q is not one of chrome, http", c.Fetcher))
	}

	switch c.RegistryBackend {
	case RegistryExcel:
		if c.WorkbookPath == "" {
			problems = append(problems, "WORKBOOK_PATH is required for the excel registry")
		}
	case RegistryRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "REDIS_ADDR is required for the redis registry")
		}
	case RegistryPostgres:
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			problems = append(problems, "POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required for the postgres registry")
		}
	case RegistryMemory:
	default:
		problems = append(problems, fmt.Sprintf("REGISTRY_BACKEND %q is not one of excel, redis, postgres, memory", c.RegistryBackend))
	}

	if c.NotifyStream != "" && c.RedisAddr == "" {
		problems = append(problems, "REDIS_ADDR is required when NOTIFY_STREAM is set")
	}

	if len(problems) > 0 {
		return scrapeerrors.NewConfiguration(strings.Join(problems, "; "), nil)
	}
	return nil
}

// Location returns the time zone that defines the AM/PM slot boundary
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// PostgresDSN returns the PostgreSQL connection string
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}

// LoadSearchParams reads the flat search-parameter mapping from path. Files
// ending in .json are decoded as JSON, anything else as YAML. Scalar values
// are kept as their literal text; null becomes an empty (omitted) value.
func LoadSearchParams(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, scrapeerrors.NewConfiguration(fmt.Sprintf("cannot read search params file %s", path), err)
	}

	var params map[string]string
	if strings.EqualFold(filepath.Ext(path), ".json") {
		params, err = decodeJSONParams(data)
	} else {
		params, err = decodeYAMLParams(data)
	}
	if err != nil {
		return nil, scrapeerrors.NewConfiguration(fmt.Sprintf("search params file %s is malformed", path), err)
	}

	if len(params) == 0 {
		return nil, scrapeerrors.NewConfiguration(fmt.Sprintf("search params file %s is empty", path), nil)
	}
	return params, nil
}

func decodeJSONParams(data []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	params := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			params[key] = ""
		case string:
			params[key] = v
		case json.Number, bool:
			params[key] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("search param %q must be a scalar", key)
		}
	}
	return params, nil
}

func decodeYAMLParams(data []byte) (map[string]string, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	params := make(map[string]string, len(raw))
	for key, node := range raw {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("search param %q must be a scalar", key)
		}
		if node.Tag == "!!null" {
			params[key] = ""
			continue
		}
		params[key] = node.Value
	}
	return params, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}
