package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the configuration is missing required
// values or contains malformed ones. It is always fatal at startup.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the root configuration structure for stolenwatch.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Knox     KnoxConfig     `yaml:"knox"`
	Watch    WatchConfig    `yaml:"watch"`
	Alert    AlertConfig    `yaml:"alert"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Redis    RedisConfig    `yaml:"redis"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// KnoxConfig contains the device-directory API settings.
type KnoxConfig struct {
	// BaseURL is the tenant API root, e.g. "https://eu01.manage.samsungknox.com/emm".
	BaseURL string `yaml:"base_url"`

	// TokenURL is the OAuth2 token endpoint. Defaults to BaseURL + "/oauth/token".
	TokenURL string `yaml:"token_url"`

	// ClientID is the "user@tenant" identifier used for the client-credentials grant.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// PageSize is the number of devices requested per selectDeviceList call.
	PageSize int `yaml:"page_size"`

	// DeviceStatus filters the device list. "A" selects active devices.
	DeviceStatus string `yaml:"device_status"`

	// RequestTimeout bounds every outbound call (seconds).
	RequestTimeout int `yaml:"request_timeout"`
}

// WatchConfig describes which devices are watched and the geofence they are tested against.
//
// Latitude and Longitude are pointers so that a missing key can be told
// apart from a legitimate 0 coordinate.
type WatchConfig struct {
	Tag            string   `yaml:"tag"`
	Latitude       *float64 `yaml:"latitude"`
	Longitude      *float64 `yaml:"longitude"`
	RadiusKm       float64  `yaml:"radius_km"`
	RefreshSeconds int      `yaml:"refresh_seconds"`

	// AreaName is the human label of the geofence used in notifications.
	AreaName string `yaml:"area_name"`
}

// AlertConfig contains notification formatting settings.
type AlertConfig struct {
	// UTCOffsetHours is the fixed offset used to render local times (no DST).
	UTCOffsetHours int `yaml:"utc_offset_hours"`

	// MapURLTemplate receives latitude and longitude as two %.6f verbs.
	MapURLTemplate string `yaml:"map_url_template"`
}

// SMTPConfig contains the mail relay settings used for alert delivery.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// From defaults to Username when empty.
	From string `yaml:"from"`
	To   string `yaml:"to"`

	// Timeout bounds a single delivery attempt (seconds).
	Timeout int `yaml:"timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig contains the optional Redis fan-out settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// APIConfig contains the read-only operations HTTP API settings.
type APIConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Timeouts APITimeoutsConfig `yaml:"timeouts"`
}

// APITimeoutsConfig contains HTTP server timeouts (seconds).
type APITimeoutsConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. Optional .env file (exported into the process environment)
//  3. YAML file values (override defaults)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: STOLENWATCH_SECTION_KEY
// For example: STOLENWATCH_KNOX_CLIENT_SECRET, STOLENWATCH_SMTP_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %w", ErrInvalidConfig, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadEnvFile exports variables from the .env file, if present.
// Variables already set in the environment win over the file.
func loadEnvFile() error {
	path := os.Getenv("STOLENWATCH_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: loading env file %s: %w", ErrInvalidConfig, path, err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Knox: KnoxConfig{
			BaseURL:        "https://eu01.manage.samsungknox.com/emm",
			PageSize:       1000,
			DeviceStatus:   "A",
			RequestTimeout: 30,
		},
		Watch: WatchConfig{
			AreaName: "the watched area",
		},
		Alert: AlertConfig{
			UTCOffsetHours: 2,
			MapURLTemplate: "https://www.google.com/maps/search/?api=1&query=%.6f,%.6f",
		},
		SMTP: SMTPConfig{
			Port:    587,
			Timeout: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/stolenwatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "stolenwatch",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutsConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyDerivedDefaults fills values that depend on other settings.
func (c *Config) applyDerivedDefaults() {
	if c.Knox.TokenURL == "" && c.Knox.BaseURL != "" {
		c.Knox.TokenURL = strings.TrimRight(c.Knox.BaseURL, "/") + "/oauth/token"
	}
	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.Username
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: STOLENWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"STOLENWATCH_KNOX_BASE_URL":      &cfg.Knox.BaseURL,
		"STOLENWATCH_KNOX_TOKEN_URL":     &cfg.Knox.TokenURL,
		"STOLENWATCH_KNOX_CLIENT_ID":     &cfg.Knox.ClientID,
		"STOLENWATCH_KNOX_CLIENT_SECRET": &cfg.Knox.ClientSecret,
		"STOLENWATCH_WATCH_TAG":          &cfg.Watch.Tag,
		"STOLENWATCH_SMTP_HOST":          &cfg.SMTP.Host,
		"STOLENWATCH_SMTP_USERNAME":      &cfg.SMTP.Username,
		"STOLENWATCH_SMTP_PASSWORD":      &cfg.SMTP.Password,
		"STOLENWATCH_SMTP_TO":            &cfg.SMTP.To,
		"STOLENWATCH_DATABASE_PATH":      &cfg.Database.Path,
		"STOLENWATCH_MQTT_HOST":          &cfg.MQTT.Broker.Host,
		"STOLENWATCH_MQTT_USERNAME":      &cfg.MQTT.Auth.Username,
		"STOLENWATCH_MQTT_PASSWORD":      &cfg.MQTT.Auth.Password,
		"STOLENWATCH_INFLUXDB_URL":       &cfg.InfluxDB.URL,
		"STOLENWATCH_INFLUXDB_TOKEN":     &cfg.InfluxDB.Token,
		"STOLENWATCH_REDIS_ADDR":         &cfg.Redis.Addr,
		"STOLENWATCH_REDIS_PASSWORD":     &cfg.Redis.Password,
		"STOLENWATCH_LOG_LEVEL":          &cfg.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"STOLENWATCH_WATCH_REFRESH_SECONDS": &cfg.Watch.RefreshSeconds,
		"STOLENWATCH_SMTP_PORT":             &cfg.SMTP.Port,
		"STOLENWATCH_MQTT_PORT":             &cfg.MQTT.Broker.Port,
		"STOLENWATCH_API_PORT":              &cfg.API.Port,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer: %q", ErrInvalidConfig, key, v)
		}
		*dst = n
	}

	floats := map[string]**float64{
		"STOLENWATCH_WATCH_LATITUDE":  &cfg.Watch.Latitude,
		"STOLENWATCH_WATCH_LONGITUDE": &cfg.Watch.Longitude,
	}
	for key, dst := range floats {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be a number: %q", ErrInvalidConfig, key, v)
		}
		*dst = &f
	}

	if v := os.Getenv("STOLENWATCH_WATCH_RADIUS_KM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: STOLENWATCH_WATCH_RADIUS_KM must be a number: %q", ErrInvalidConfig, v)
		}
		cfg.Watch.RadiusKm = f
	}

	return nil
}

// Validate checks the configuration for missing or malformed values.
//
// Returns:
//   - error: Wraps ErrInvalidConfig with every problem found, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Watch: everything here is required, there are no safe defaults.
	if strings.TrimSpace(c.Watch.Tag) == "" {
		errs = append(errs, "watch.tag is required")
	}
	switch {
	case c.Watch.Latitude == nil:
		errs = append(errs, "watch.latitude is required")
	case *c.Watch.Latitude < -90 || *c.Watch.Latitude > 90:
		errs = append(errs, "watch.latitude must be between -90 and 90")
	}
	switch {
	case c.Watch.Longitude == nil:
		errs = append(errs, "watch.longitude is required")
	case *c.Watch.Longitude < -180 || *c.Watch.Longitude > 180:
		errs = append(errs, "watch.longitude must be between -180 and 180")
	}
	if c.Watch.RadiusKm <= 0 {
		errs = append(errs, "watch.radius_km is required and must be positive")
	}
	if c.Watch.RefreshSeconds <= 0 {
		errs = append(errs, "watch.refresh_seconds is required and must be positive")
	}

	// Knox
	if c.Knox.BaseURL == "" {
		errs = append(errs, "knox.base_url is required")
	}
	if c.Knox.ClientID == "" || c.Knox.ClientSecret == "" {
		errs = append(errs, "knox.client_id and knox.client_secret are required (set STOLENWATCH_KNOX_CLIENT_SECRET)")
	}
	if c.Knox.PageSize <= 0 {
		errs = append(errs, "knox.page_size must be positive")
	}
	if c.Knox.RequestTimeout <= 0 {
		errs = append(errs, "knox.request_timeout must be positive")
	}

	// SMTP
	if c.SMTP.Host == "" {
		errs = append(errs, "smtp.host is required")
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		errs = append(errs, "smtp.port must be between 1 and 65535")
	}
	if c.SMTP.To == "" {
		errs = append(errs, "smtp.to is required")
	}
	if c.SMTP.From == "" && c.SMTP.Username == "" {
		errs = append(errs, "smtp.from or smtp.username is required")
	}

	// Alert
	if c.Alert.UTCOffsetHours < -12 || c.Alert.UTCOffsetHours > 14 {
		errs = append(errs, "alert.utc_offset_hours must be between -12 and 14")
	}
	if strings.Count(c.Alert.MapURLTemplate, "%") != 2 {
		errs = append(errs, "alert.map_url_template must contain exactly two format verbs")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// RefreshInterval returns the poll interval as a Duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Watch.RefreshSeconds) * time.Second
}

// RequestTimeout returns the per-call upstream timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Knox.RequestTimeout) * time.Second
}

// SMTPTimeout returns the mail delivery timeout as a Duration.
func (c *Config) SMTPTimeout() time.Duration {
	return time.Duration(c.SMTP.Timeout) * time.Second
}
