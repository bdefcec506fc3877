package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Chrome     ChromeConfig     `mapstructure:"chrome"`
	Sidecar    SidecarConfig    `mapstructure:"sidecar"`
	Driver     DriverConfig     `mapstructure:"driver"`
	Injection  InjectionConfig  `mapstructure:"injection"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Hooks      HooksConfig      `mapstructure:"hooks"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port        string        `mapstructure:"port"`
	Host        string        `mapstructure:"host"`
	Mode        string        `mapstructure:"mode"`
	BasePath    string        `mapstructure:"base_path"`
	PublicURL   string        `mapstructure:"public_url"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type ChromeConfig struct {
	HeadlessMode bool   `mapstructure:"headless"`
	MaxInstances int    `mapstructure:"max_instances"`
	Path         string `mapstructure:"path"`
	RemoteURL    string `mapstructure:"remote_url"`
	UserDataDir  string `mapstructure:"user_data_dir"`
}

type SidecarConfig struct {
	URL            string        `mapstructure:"url"`
	Command        string        `mapstructure:"command"`
	Args           []string      `mapstructure:"args"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	Browsers       []string      `mapstructure:"browsers"`
	Listen         string        `mapstructure:"listen"`
}

type DriverConfig struct {
	DefaultBrowser    string        `mapstructure:"default_browser"`
	StartTimeout      time.Duration `mapstructure:"start_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ScriptTimeout     time.Duration `mapstructure:"script_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
}

type InjectionConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	AssetDir    string        `mapstructure:"asset_dir"`
}

type SupervisorConfig struct {
	HealthInterval       time.Duration `mapstructure:"health_interval"`
	HealthMaxRuns        int           `mapstructure:"health_max_runs"`
	DomainInterval       time.Duration `mapstructure:"domain_interval"`
	DomainFullCheckEvery int           `mapstructure:"domain_full_check_every"`
	DomainMaxRuns        int           `mapstructure:"domain_max_runs"`
}

type HooksConfig struct {
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`
}

type ArchiveConfig struct {
	Retention          time.Duration `mapstructure:"retention"`
	SessionMaxDuration time.Duration `mapstructure:"session_max_duration"`
	JanitorSchedule    string        `mapstructure:"janitor_schedule"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// setting ties a config key to its environment variable and default.
type setting struct {
	key string
	env string
	def interface{}
}

var settings = []setting{
	{"server.port", "SERVER_PORT", "8080"},
	{"server.host", "SERVER_HOST", "0.0.0.0"},
	{"server.mode", "SERVER_MODE", "debug"},
	{"server.base_path", "SERVER_BASE_PATH", ""},
	{"server.public_url", "SERVER_PUBLIC_URL", ""},
	{"server.read_timeout", "SERVER_READ_TIMEOUT", 30 * time.Second},

	{"chrome.headless", "CHROME_HEADLESS", false},
	{"chrome.max_instances", "CHROME_MAX_INSTANCES", 20},
	{"chrome.path", "CHROME_PATH", ""},
	{"chrome.remote_url", "CHROME_REMOTE_URL", ""},
	{"chrome.user_data_dir", "CHROME_USER_DATA_DIR", ""},

	{"sidecar.url", "SIDECAR_URL", "http://127.0.0.1:9515"},
	{"sidecar.command", "SIDECAR_COMMAND", ""},
	{"sidecar.args", "SIDECAR_ARGS", []string{}},
	{"sidecar.startup_timeout", "SIDECAR_STARTUP_TIMEOUT", 15 * time.Second},
	{"sidecar.browsers", "SIDECAR_BROWSERS", []string{"firefox", "webkit", "safari"}},
	{"sidecar.listen", "SIDECAR_LISTEN", "127.0.0.1:9515"},

	{"driver.default_browser", "DRIVER_DEFAULT_BROWSER", "chrome"},
	{"driver.start_timeout", "DRIVER_START_TIMEOUT", 30 * time.Second},
	{"driver.navigation_timeout", "DRIVER_NAVIGATION_TIMEOUT", 30 * time.Second},
	{"driver.script_timeout", "DRIVER_SCRIPT_TIMEOUT", 10 * time.Second},
	{"driver.probe_timeout", "DRIVER_PROBE_TIMEOUT", 2 * time.Second},

	{"injection.max_attempts", "INJECTION_MAX_ATTEMPTS", 3},
	{"injection.retry_delay", "INJECTION_RETRY_DELAY", time.Second},
	{"injection.settle_delay", "INJECTION_SETTLE_DELAY", 300 * time.Millisecond},
	{"injection.asset_dir", "INJECTION_ASSET_DIR", ""},

	{"supervisor.health_interval", "SUPERVISOR_HEALTH_INTERVAL", 5 * time.Second},
	{"supervisor.health_max_runs", "SUPERVISOR_HEALTH_MAX_RUNS", 8640},
	{"supervisor.domain_interval", "SUPERVISOR_DOMAIN_INTERVAL", time.Second},
	{"supervisor.domain_full_check_every", "SUPERVISOR_DOMAIN_FULL_CHECK_EVERY", 10},
	{"supervisor.domain_max_runs", "SUPERVISOR_DOMAIN_MAX_RUNS", 43200},

	{"hooks.token_secret", "HOOKS_TOKEN_SECRET", ""},
	{"hooks.token_ttl", "HOOKS_TOKEN_TTL", 12 * time.Hour},
	{"hooks.rate_limit", "HOOKS_RATE_LIMIT", 50.0},
	{"hooks.rate_burst", "HOOKS_RATE_BURST", 100},

	{"archive.retention", "ARCHIVE_RETENTION", 24 * time.Hour},
	{"archive.session_max_duration", "SESSION_MAX_DURATION", 12 * time.Hour},
	{"archive.janitor_schedule", "JANITOR_SCHEDULE", "@every 1m"},

	{"log.level", "LOG_LEVEL", "info"},
	{"log.format", "LOG_FORMAT", "console"},
	{"log.file", "LOG_FILE", ""},
	{"log.max_size", "LOG_MAX_SIZE", 100},
	{"log.max_backups", "LOG_MAX_BACKUPS", 5},
	{"log.max_age", "LOG_MAX_AGE", 30},
	{"log.compress", "LOG_COMPRESS", true},
}

// SetDefaults registers every default and environment binding on v.
func SetDefaults(v *viper.Viper) {
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		_ = v.BindEnv(s.key, s.env)
	}
}

// LoadConfig reads defaults, then the optional file at path, then the
// environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return NewConfigFromViper(v)
}

func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Server.BasePath = normalizeBasePath(cfg.Server.BasePath)
	cfg.Sidecar.Args = splitList(cfg.Sidecar.Args)
	cfg.Sidecar.Browsers = splitList(cfg.Sidecar.Browsers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList flattens values that arrived as one space or comma separated
// environment string.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, f := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, f)
		}
	}
	return out
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	return "/" + strings.Trim(p, "/")
}

func (c *Config) Validate() error {
	var errs []error
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: invalid port %q", c.Server.Port))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode: must be debug, release or test, got %q", c.Server.Mode))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be console or json, got %q", c.Log.Format))
	}
	if c.Injection.MaxAttempts < 1 {
		errs = append(errs, errors.New("injection.max_attempts: must be at least 1"))
	}
	positive := map[string]time.Duration{
		"driver.start_timeout":       c.Driver.StartTimeout,
		"driver.navigation_timeout":  c.Driver.NavigationTimeout,
		"driver.script_timeout":      c.Driver.ScriptTimeout,
		"driver.probe_timeout":       c.Driver.ProbeTimeout,
		"supervisor.health_interval": c.Supervisor.HealthInterval,
		"supervisor.domain_interval": c.Supervisor.DomainInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive", key))
		}
	}
	if c.Hooks.TokenSecret != "" && c.Hooks.TokenTTL <= 0 {
		errs = append(errs, errors.New("hooks.token_ttl: must be positive when a token secret is set"))
	}
	return errors.Join(errs...)
}

// Address is the listen address of the HTTP server.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// CallbackURL is the absolute base under which the recorded page reaches
// the hook routes.
func (c *Config) CallbackURL() string {
	if c.Server.PublicURL != "" {
		return strings.TrimRight(c.Server.PublicURL, "/") + c.Server.BasePath
	}
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, c.Server.Port) + c.Server.BasePath
}
