package smoke

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	selenium "github.com/wanmail/hubcheck"
	"github.com/wanmail/hubcheck/firefox"
)

// Environment variables read by LoadConfig.
const (
	EnvHubHost          = "HUB_HOST"
	EnvGameHost         = "GAME_HOST"
	EnvHubPort          = "HUB_PORT"
	EnvHubPath          = "HUB_PATH"
	EnvHubProxy         = "HUB_PROXY"
	EnvBrowser          = "BROWSER"
	EnvFirefoxArgs      = "FIREFOX_ARGS"
	EnvFirefoxLogLevel  = "FIREFOX_LOG_LEVEL"
	EnvPageLoadTimeout  = "PAGE_LOAD_TIMEOUT"
	EnvStrict           = "HUBCHECK_STRICT"
	EnvReleaseOnFailure = "HUBCHECK_RELEASE_ON_FAILURE"
)

// Defaults for the optional settings.
const (
	DefaultHubPort = 4444
	DefaultHubPath = "/wd/hub"
	DefaultBrowser = "firefox"
)

var (
	// ErrMissingHubHost is returned by Validate when HUB_HOST is unset.
	ErrMissingHubHost = errors.New(EnvHubHost + " is not set")
	// ErrMissingGameHost is returned by Validate when GAME_HOST is unset.
	ErrMissingGameHost = errors.New(EnvGameHost + " is not set")
)

// Config holds the settings of one smoke check run.
type Config struct {
	// HubHost is the host name or IP of the Selenium hub.
	HubHost string `mapstructure:"hub_host"`
	// GameHost is the host (optionally host:port) serving the page under test.
	GameHost string `mapstructure:"game_host"`

	HubPort  int    `mapstructure:"hub_port"`
	HubPath  string `mapstructure:"hub_path"`
	HubProxy string `mapstructure:"hub_proxy"`

	Browser         string        `mapstructure:"browser"`
	FirefoxArgs     string        `mapstructure:"firefox_args"`
	FirefoxLogLevel string        `mapstructure:"firefox_log_level"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`

	// Strict rejects a missing hub or game host before any network call
	// instead of letting the malformed URL fail downstream.
	Strict bool `mapstructure:"strict"`
	// ReleaseOnFailure quits the remote session when a later step fails.
	ReleaseOnFailure bool `mapstructure:"release_on_failure"`
}

// DefaultConfig returns a Config with every optional setting at its default
// and both hosts unset.
func DefaultConfig() Config {
	return Config{
		HubPort: DefaultHubPort,
		HubPath: DefaultHubPath,
		Browser: DefaultBrowser,
	}
}

// LoadConfig reads the configuration from the environment through getenv,
// typically os.Getenv. The hosts are taken as-is; see Validate.
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	cfg.HubHost = getenv(EnvHubHost)
	cfg.GameHost = getenv(EnvGameHost)
	cfg.HubProxy = getenv(EnvHubProxy)
	cfg.FirefoxArgs = getenv(EnvFirefoxArgs)
	cfg.FirefoxLogLevel = getenv(EnvFirefoxLogLevel)
	if v := getenv(EnvHubPath); v != "" {
		cfg.HubPath = v
	}
	if v := getenv(EnvBrowser); v != "" {
		cfg.Browser = v
	}

	var err error
	if v := getenv(EnvHubPort); v != "" {
		if cfg.HubPort, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("parsing %s=%q: %w", EnvHubPort, v, err)
		}
	}
	if v := getenv(EnvPageLoadTimeout); v != "" {
		if cfg.PageLoadTimeout, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("parsing %s=%q: %w", EnvPageLoadTimeout, v, err)
		}
	}
	if v := getenv(EnvStrict); v != "" {
		if cfg.Strict, err = strconv.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("parsing %s=%q: %w", EnvStrict, v, err)
		}
	}
	if v := getenv(EnvReleaseOnFailure); v != "" {
		if cfg.ReleaseOnFailure, err = strconv.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("parsing %s=%q: %w", EnvReleaseOnFailure, v, err)
		}
	}
	return cfg, nil
}

// Validate checks that both hosts are present and the hub port is usable.
func (c Config) Validate() error {
	if c.HubHost == "" {
		return ErrMissingHubHost
	}
	if c.GameHost == "" {
		return ErrMissingGameHost
	}
	if c.HubPort <= 0 || c.HubPort > 65535 {
		return fmt.Errorf("%s=%d is out of range", EnvHubPort, c.HubPort)
	}
	return nil
}

// HubURL returns the WebDriver endpoint, http://<hub>:4444/wd/hub by default.
// An empty HubHost yields http://:4444/wd/hub. HubPath gets a leading slash
// if it lacks one.
func (c Config) HubURL() string {
	path := c.HubPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + net.JoinHostPort(c.HubHost, strconv.Itoa(c.HubPort)) + path
}

// GameURL returns the page to open, http://<game>/.
func (c Config) GameURL() string {
	return "http://" + c.GameHost + "/"
}

// Capabilities returns the desired capabilities sent on session creation.
func (c Config) Capabilities() selenium.Capabilities {
	caps := selenium.Capabilities{"browserName": c.Browser}
	if c.Browser != "firefox" {
		return caps
	}
	ff := firefox.Capabilities{Args: firefox.ParseArgs(c.FirefoxArgs)}
	if c.FirefoxLogLevel != "" {
		ff.Log = &firefox.Log{Level: firefox.LogLevel(c.FirefoxLogLevel)}
	}
	if !ff.IsZero() {
		caps.AddFirefox(ff)
	}
	return caps
}
