package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// System names the protocol family a gateway instance bridges.
type System string

// Supported protocol families.
const (
	SystemProton System = "Proton"
	SystemMirazh System = "Mirazh"
	SystemTandem System = "Tandem"
)

// Config holds everything one gateway process needs.
type Config struct {
	// System selects the protocol adapter.
	System System `yaml:"system"`
	// Namespace, Region and GatewayID form the MQTT topic prefix and the cache key prefix.
	Namespace string `yaml:"namespace"`
	Region    string `yaml:"region"`
	GatewayID string `yaml:"gateway_id"`
	// LogLevel is parsed by logger.ParseLogLevel.
	LogLevel string `yaml:"log_level"`

	// Connection describes the panel-side endpoint.
	Connection Connection `yaml:"connection"`
	// Timing holds every protocol timer.
	Timing Timing `yaml:"timing"`

	// AllowedUsers extends the built-in list of users that may arm or disarm.
	AllowedUsers []int `yaml:"allowed_users"`

	MQTT  MQTT  `yaml:"mqtt"`
	Redis Redis `yaml:"redis"`
	// StateFile keeps the in-memory cache across restarts when Redis is not configured.
	StateFile string `yaml:"state_file"`

	// GRPCListen enables the gRPC control service when set, e.g. ":50051".
	GRPCListen string `yaml:"grpc_listen"`
}

// Connection describes the panel-side endpoints.
type Connection struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Login and Password authenticate the Proton session (8 bytes each on the wire).
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
	// SystemNumber is the Proton system number put into control packets.
	SystemNumber int `yaml:"system_number"`
	// PostgresDSN is the Mirazh event database.
	PostgresDSN string `yaml:"postgres_dsn"`
	// UDPPort is the local port the Tandem peer listens on.
	UDPPort int `yaml:"udp_port"`
	// RMOID and KRTID address the Tandem operator workstation and subsystem.
	RMOID int `yaml:"rmo_id"`
	KRTID int `yaml:"krt_id"`
}

// Timing holds protocol timers.
type Timing struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	RequestRetry    time.Duration `yaml:"request_retry"`
	RequestAttempts int           `yaml:"request_attempts"`
	ReconnectPeriod time.Duration `yaml:"reconnect_period"`
	PingPeriod      time.Duration `yaml:"ping_period"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	OfflineTimeout  time.Duration `yaml:"offline_timeout"`
	BatchWindow     time.Duration `yaml:"batch_window"`
	RetestDelay     time.Duration `yaml:"retest_delay"`
	DefaultInterval time.Duration `yaml:"default_interval"`
	DedupWindow     time.Duration `yaml:"dedup_window"`
}

// MQTT holds broker settings.
type MQTT struct {
	Servers    []string      `yaml:"servers"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	ClientID   string        `yaml:"client_id"`
	KeepAlive  time.Duration `yaml:"keep_alive"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Redis holds cache settings. An empty Addr selects the in-memory cache.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

const (
	// DefaultConfigFilename is the default filename for gateway settings.
	DefaultConfigFilename = "alarm-bridge.yaml"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// DefaultTandemUDPPort is the Tandem datagram port.
	DefaultTandemUDPPort = 1200
)

// Protocol timer defaults.
const (
	DefaultRequestTimeout  = 45 * time.Second
	DefaultRequestRetry    = time.Second
	DefaultRequestAttempts = 3
	DefaultReconnectPeriod = time.Second
	DefaultPingPeriod      = 60 * time.Second
	DefaultPingTimeout     = 3 * time.Second
	DefaultOfflineTimeout  = 300 * time.Second
	DefaultBatchWindow     = time.Second
	DefaultRetestDelay     = 30 * time.Second
	DefaultInterval        = 2 * time.Hour
	DefaultDedupWindow     = 45 * time.Second
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownSystem is returned for an unsupported protocol family.
	errUnknownSystem = errors.New("system must be one of Proton, Mirazh, Tandem")
	// errGatewayIDRequired is returned when the gateway id is missing.
	errGatewayIDRequired = errors.New("gateway_id must be provided")
	// errConnectionRequired is returned when the panel endpoint is incomplete.
	errConnectionRequired = errors.New("connection host and port must be provided")
	// errPostgresRequired is returned when Mirazh runs without its event database.
	errPostgresRequired = errors.New("connection.postgres_dsn must be provided for Mirazh")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
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

// Save writes Settings to the provided path.
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

	// Restrict permissions, the file holds panel and broker credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills in defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	switch settings.System {
	case SystemProton, SystemMirazh, SystemTandem:
	default:
		return fmt.Errorf("%w: %q", errUnknownSystem, settings.System)
	}

	if settings.GatewayID == "" {
		return errGatewayIDRequired
	}

	if err := validateConnection(settings); err != nil {
		return err
	}

	if settings.GRPCListen != "" {
		if _, _, err := net.SplitHostPort(settings.GRPCListen); err != nil {
			return fmt.Errorf("invalid grpc_listen: %w", err)
		}
	}

	setTimingDefaults(&settings.Timing)

	if settings.Connection.SystemNumber <= 0 {
		settings.Connection.SystemNumber = 1
	}

	if settings.MQTT.KeepAlive <= 0 {
		settings.MQTT.KeepAlive = 20 * time.Second
	}

	if settings.MQTT.RetryDelay <= 0 {
		settings.MQTT.RetryDelay = 2 * time.Second
	}

	if settings.MQTT.ClientID == "" {
		settings.MQTT.ClientID = settings.Namespace + "_" + string(settings.System) + "_" +
			settings.Region + "_" + settings.GatewayID
	}

	return nil
}

// KeyPrefix returns the prefix shared by every cache key of this gateway.
func (c *Config) KeyPrefix() string {
	return c.Namespace + "_" + string(c.System) + "_" + c.Region + "_" + c.GatewayID + "_"
}

// Address returns the panel endpoint as host:port.
func (c Connection) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func validateConnection(settings *Config) error {
	conn := &settings.Connection

	switch settings.System {
	case SystemTandem:
		if conn.UDPPort <= 0 {
			conn.UDPPort = DefaultTandemUDPPort
		}

		if conn.Host == "" {
			return errConnectionRequired
		}

		if conn.Port <= 0 {
			conn.Port = DefaultTandemUDPPort
		}
	case SystemMirazh:
		if conn.PostgresDSN == "" {
			return errPostgresRequired
		}

		fallthrough
	default:
		if conn.Host == "" || conn.Port <= 0 {
			return errConnectionRequired
		}
	}

	return nil
}

func setTimingDefaults(t *Timing) {
	setDuration(&t.RequestTimeout, DefaultRequestTimeout)
	setDuration(&t.RequestRetry, DefaultRequestRetry)
	setDuration(&t.ReconnectPeriod, DefaultReconnectPeriod)
	setDuration(&t.PingPeriod, DefaultPingPeriod)
	setDuration(&t.PingTimeout, DefaultPingTimeout)
	setDuration(&t.OfflineTimeout, DefaultOfflineTimeout)
	setDuration(&t.BatchWindow, DefaultBatchWindow)
	setDuration(&t.RetestDelay, DefaultRetestDelay)
	setDuration(&t.DefaultInterval, DefaultInterval)
	setDuration(&t.DedupWindow, DefaultDedupWindow)

	if t.RequestAttempts <= 0 {
		t.RequestAttempts = DefaultRequestAttempts
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}
