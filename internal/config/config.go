package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of the lane router binaries.
type Config struct {
	// HTTPAddress is the listen address of the JSON API used by the operator UI.
	HTTPAddress string `yaml:"http_addr"`
	// GRPCAddress is the listen address of the gRPC timing service.
	// Client binaries dial it, so a host part is allowed.
	GRPCAddress string `yaml:"grpc_addr"`
	// LogLevel is the minimum level of the application log.
	LogLevel string `yaml:"log_level"`
	// AccessLogLevel is the level HTTP access log entries are written at or above.
	AccessLogLevel string `yaml:"access_log_level"`
	// DefaultMaxLane is used while the start cards carry no usable lane count.
	DefaultMaxLane int `yaml:"default_max_lane"`
	// StaleAfter marks a taster stale when its last heartbeat is older.
	StaleAfter time.Duration `yaml:"stale_after"`
	// Timeout is the duration for network operations and RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// StartCards configures the start card export source.
	StartCards StartCardsConfig `yaml:"startcards"`
	// MQTT configures the broker the tasters publish to.
	MQTT MQTTConfig `yaml:"mqtt"`
	// Services lists process names reported by the system status endpoint.
	Services []string `yaml:"services"`
	// Tasters are registered, and optionally bound, at start-up.
	Tasters []TasterSeed `yaml:"tasters"`
}

// StartCardsConfig describes where the start card CSV export lives.
type StartCardsConfig struct {
	// BaseURL is the address of the meet software, e.g. http://192.168.0.10:8080.
	BaseURL string `yaml:"base_url"`
	// Suffix is appended to BaseURL to form the CSV address.
	Suffix string `yaml:"suffix"`
	// RefreshSchedule is an optional 5-field cron expression for periodic reloads.
	RefreshSchedule string `yaml:"refresh_schedule"`
}

// MQTTConfig describes the broker connection used for taster heartbeats and presses.
type MQTTConfig struct {
	// Enabled turns the MQTT consumer on.
	Enabled bool `yaml:"enabled"`
	// Broker is the broker URL, e.g. tcp://127.0.0.1:1883.
	Broker string `yaml:"broker"`
	// ClientID identifies the router on the broker.
	ClientID string `yaml:"client_id"`
	// Username and Password are optional broker credentials.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TopicPrefix is the root of all taster topics.
	TopicPrefix string `yaml:"topic_prefix"`
	// QoS is the subscription and publish quality of service (0, 1 or 2).
	QoS byte `yaml:"qos"`
}

// TasterSeed pre-registers a taster and optionally binds it.
type TasterSeed struct {
	// MAC is the hardware address of the taster.
	MAC string `yaml:"mac"`
	// Name is the display label, usually a single letter.
	Name string `yaml:"name"`
	// Lane binds the taster to a lane when greater than zero.
	Lane int `yaml:"lane"`
	// Starter binds the taster to the starter slot.
	Starter bool `yaml:"starter"`
}

const (
	// DefaultConfigFilename is the default filename for router settings.
	DefaultConfigFilename = "stoppuhr-settings.yaml"

	// DefaultHTTPAddress is the default listen address of the JSON API.
	DefaultHTTPAddress = ":8000"

	// DefaultGRPCAddress is the default address of the gRPC timing service.
	DefaultGRPCAddress = "127.0.0.1:50051"

	// DefaultMaxLane is the lane count used until start cards say otherwise.
	DefaultMaxLane = 10

	// DefaultStaleAfter is the heartbeat age after which a taster is stale.
	DefaultStaleAfter = 30 * time.Second

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultStartCardsSuffix is the export path of the meet software.
	DefaultStartCardsSuffix = "/export/CSV/Startkarten.csv"

	// DefaultTopicPrefix is the root MQTT topic.
	DefaultTopicPrefix = "stoppuhr"

	// DefaultClientID is the MQTT client id of the router.
	DefaultClientID = "stoppuhr-router"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// maxQoS is the highest MQTT quality of service level.
	maxQoS = 2
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidMaxLane is returned for a negative lane count.
	errInvalidMaxLane = errors.New("default_max_lane must be positive")
	// errInvalidQoS is returned for QoS values above 2.
	errInvalidQoS = errors.New("mqtt qos must be 0, 1 or 2")
	// errBrokerRequired is returned when MQTT is enabled without a broker.
	errBrokerRequired = errors.New("mqtt broker must be provided when mqtt is enabled")
	// errSeedMACRequired is returned for a taster seed without MAC.
	errSeedMACRequired = errors.New("taster seed needs a mac")
)

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := new(Config)

	// Validate only fills defaults on an empty config, it cannot fail.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
// A missing file at the default path yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may hold broker credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the settings and fills defaults for missing values.
//
//nolint:cyclop // A flat list of checks reads better than helpers here.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.HTTPAddress == "" {
		settings.HTTPAddress = DefaultHTTPAddress
	}

	if settings.GRPCAddress == "" {
		settings.GRPCAddress = DefaultGRPCAddress
	}

	for _, addr := range []string{settings.HTTPAddress, settings.GRPCAddress} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
	}

	if settings.LogLevel == "" {
		settings.LogLevel = "info"
	}

	if settings.AccessLogLevel == "" {
		settings.AccessLogLevel = "info"
	}

	switch {
	case settings.DefaultMaxLane < 0:
		return errInvalidMaxLane
	case settings.DefaultMaxLane == 0:
		settings.DefaultMaxLane = DefaultMaxLane
	}

	if settings.StaleAfter <= 0 {
		settings.StaleAfter = DefaultStaleAfter
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if err := validateStartCards(&settings.StartCards); err != nil {
		return err
	}

	if err := validateMQTT(&settings.MQTT); err != nil {
		return err
	}

	for i := range settings.Tasters {
		if strings.TrimSpace(settings.Tasters[i].MAC) == "" {
			return fmt.Errorf("taster seed %d: %w", i, errSeedMACRequired)
		}
	}

	return nil
}

// validateStartCards fills the suffix and checks the base URL and schedule.
func validateStartCards(sc *StartCardsConfig) error {
	if sc.Suffix == "" {
		sc.Suffix = DefaultStartCardsSuffix
	}

	if sc.BaseURL != "" {
		if _, err := url.ParseRequestURI(sc.BaseURL); err != nil {
			return fmt.Errorf("invalid start cards base url: %w", err)
		}
	}

	if sc.RefreshSchedule != "" {
		if _, err := cronParser.Parse(sc.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid start cards refresh schedule: %w", err)
		}
	}

	return nil
}

// validateMQTT fills MQTT defaults and checks the broker settings.
func validateMQTT(m *MQTTConfig) error {
	if m.TopicPrefix == "" {
		m.TopicPrefix = DefaultTopicPrefix
	}

	m.TopicPrefix = strings.Trim(m.TopicPrefix, "/")

	if m.ClientID == "" {
		m.ClientID = DefaultClientID
	}

	if m.QoS > maxQoS {
		return errInvalidQoS
	}

	if !m.Enabled {
		return nil
	}

	if m.Broker == "" {
		return errBrokerRequired
	}

	if _, err := url.Parse(m.Broker); err != nil {
		return fmt.Errorf("invalid mqtt broker: %w", err)
	}

	return nil
}
