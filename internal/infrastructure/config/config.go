package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxPumpChannels is the number of pump channels wired on the dispenser board.
const MaxPumpChannels = 12

// Config is the root configuration structure for Pourwell Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Machine   MachineConfig   `yaml:"machine"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Dispenser DispenserConfig `yaml:"dispenser"`
	GPIO      GPIOConfig      `yaml:"gpio"`
}

// MachineConfig identifies this dispenser.
type MachineConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for pour telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DispenserConfig holds the pour tunables and the collaborator file locations.
type DispenserConfig struct {
	// OzCoefficient is the number of seconds a pump runs to move one ounce.
	OzCoefficient float64 `yaml:"oz_coefficient"`

	// Concurrency caps how many pumps may run at the same time.
	// The pumps share one power supply; raising this risks brown-outs.
	Concurrency int `yaml:"concurrency"`

	// RetractionSeconds is the reverse pulse after each pour. 0 disables it.
	RetractionSeconds float64 `yaml:"retraction_seconds"`

	// InvertPumpPins swaps forward and reverse to correct wiring polarity.
	InvertPumpPins bool `yaml:"invert_pump_pins"`

	// Debug runs pumps in dry-run mode: timing is real, GPIO is never touched.
	Debug bool `yaml:"debug"`

	PrimeSeconds   float64 `yaml:"prime_seconds"`
	CleanSeconds   float64 `yaml:"clean_seconds"`
	PumpConfigFile string  `yaml:"pump_config_file"`
	CocktailsFile  string  `yaml:"cocktails_file"`
}

// GPIOConfig describes how pump channels are wired to GPIO lines.
type GPIOConfig struct {
	Chip     string          `yaml:"chip"`
	Consumer string          `yaml:"consumer"`
	Pumps    []PumpPinConfig `yaml:"pumps"`
}

// PumpPinConfig binds one pump channel to its H-bridge input pair.
type PumpPinConfig struct {
	Channel int `yaml:"channel"`
	LineA   int `yaml:"line_a"`
	LineB   int `yaml:"line_b"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern POURWELL_SECTION_KEY, plus the
// historical dispenser names (POURWELL_OZ_COEFFICIENT, POURWELL_PUMP_CONCURRENCY, ...).
// A malformed numeric or boolean override is ignored and the file value kept.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the dispenser's factory defaults.
// The GPIO table matches the reference twelve-pump board.
func Default() *Config {
	return &Config{
		Machine: MachineConfig{
			ID:   "pourwell-001",
			Name: "Pourwell",
		},
		Database: DatabaseConfig{
			Path:        "./data/pourwell.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pourwell-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Dispenser: DispenserConfig{
			OzCoefficient:  3.0,
			Concurrency:    5,
			InvertPumpPins: true,
			PrimeSeconds:   10,
			CleanSeconds:   10,
			PumpConfigFile: "pump_config.json",
			CocktailsFile:  "cocktails.json",
		},
		GPIO: GPIOConfig{
			Chip:     "gpiochip0",
			Consumer: "pourwell",
			Pumps:    defaultPumpPins(),
		},
	}
}

func defaultPumpPins() []PumpPinConfig {
	pairs := [MaxPumpChannels][2]int{
		{17, 4}, {22, 27}, {9, 10}, {5, 11}, {13, 6}, {26, 19},
		{20, 21}, {16, 12}, {7, 8}, {25, 24}, {23, 18}, {15, 14},
	}
	pins := make([]PumpPinConfig, 0, len(pairs))
	for i, p := range pairs {
		pins = append(pins, PumpPinConfig{Channel: i + 1, LineA: p[0], LineB: p[1]})
	}
	return pins
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POURWELL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("POURWELL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("POURWELL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("POURWELL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("POURWELL_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("POURWELL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Dispenser tunables
	envFloat("POURWELL_OZ_COEFFICIENT", &cfg.Dispenser.OzCoefficient)
	envInt("POURWELL_PUMP_CONCURRENCY", &cfg.Dispenser.Concurrency)
	envFloat("POURWELL_RETRACTION_TIME", &cfg.Dispenser.RetractionSeconds)
	envBool("POURWELL_INVERT_PUMP_PINS", &cfg.Dispenser.InvertPumpPins)
	envBool("POURWELL_DEBUG", &cfg.Dispenser.Debug)
	if v := os.Getenv("POURWELL_PUMP_CONFIG_FILE"); v != "" {
		cfg.Dispenser.PumpConfigFile = v
	}
	if v := os.Getenv("POURWELL_COCKTAILS_FILE"); v != "" {
		cfg.Dispenser.CocktailsFile = v
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

// Validate checks the configuration for errors.
//
// All problems are reported together so an operator can fix the file in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Machine.ID == "" {
		errs = append(errs, "machine.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	d := c.Dispenser
	if d.OzCoefficient <= 0 {
		errs = append(errs, "dispenser.oz_coefficient must be positive")
	}
	if d.Concurrency < 1 {
		errs = append(errs, "dispenser.concurrency must be at least 1")
	}
	if d.RetractionSeconds < 0 {
		errs = append(errs, "dispenser.retraction_seconds cannot be negative")
	}
	if d.PumpConfigFile == "" {
		errs = append(errs, "dispenser.pump_config_file is required")
	}

	errs = append(errs, c.GPIO.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks the pump wiring table: channels in range, no channel or
// line wired twice.
func (g GPIOConfig) validate() []string {
	var errs []string

	if len(g.Pumps) == 0 {
		errs = append(errs, "gpio.pumps must list at least one pump")
	}

	channels := make(map[int]bool, len(g.Pumps))
	lines := make(map[int]int, len(g.Pumps)*2)
	for _, p := range g.Pumps {
		if p.Channel < 1 || p.Channel > MaxPumpChannels {
			errs = append(errs, fmt.Sprintf("gpio.pumps: channel %d out of range 1..%d", p.Channel, MaxPumpChannels))
			continue
		}
		if channels[p.Channel] {
			errs = append(errs, fmt.Sprintf("gpio.pumps: channel %d listed twice", p.Channel))
		}
		channels[p.Channel] = true

		if p.LineA == p.LineB {
			errs = append(errs, fmt.Sprintf("gpio.pumps: channel %d uses line %d for both inputs", p.Channel, p.LineA))
		}
		for _, line := range []int{p.LineA, p.LineB} {
			if other, ok := lines[line]; ok && other != p.Channel {
				errs = append(errs, fmt.Sprintf("gpio.pumps: line %d shared by channels %d and %d", line, other, p.Channel))
			}
			lines[line] = p.Channel
		}
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
