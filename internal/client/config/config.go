package config

import (
	"context"
	"time"
)

const EnvProduction = "production"

// Config holds runtime settings for the CraveCart client.
type Config struct {
	APIBaseURL string `env:"CRAVECART_API_URL,overwrite"`
	NATSURL    string `env:"CRAVECART_NATS_URL,overwrite"`
	DBPath     string `env:"CRAVECART_DB_PATH,overwrite"`

	// Environment selects cookie attributes; see Production.
	Environment string `env:"CRAVECART_ENV,overwrite"`

	// RefreshRetention is how long a refresh token is kept after Set.
	RefreshRetention time.Duration `env:"CRAVECART_REFRESH_RETENTION,overwrite"`

	PollInterval  time.Duration `env:"CRAVECART_POLL_INTERVAL,overwrite"`
	ReconnectWait time.Duration `env:"CRAVECART_RECONNECT_WAIT,overwrite"`
	MaxReconnects int           `env:"CRAVECART_MAX_RECONNECTS,overwrite"`

	// NearbyRadius is used when the nearby command gets no radius.
	NearbyRadius float64 `env:"CRAVECART_NEARBY_RADIUS,overwrite"`

	// StartLatitude and StartLongitude seed the simulated position.
	StartLatitude  float64 `env:"CRAVECART_START_LAT,overwrite"`
	StartLongitude float64 `env:"CRAVECART_START_LON,overwrite"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT,overwrite"`

	// Local runs the hub in process over a memory bus.
	Local bool `env:"CRAVECART_LOCAL,overwrite"`
}

// LoadDefaults populates c with development defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://127.0.0.1:8080"
	c.NATSURL = "nats://127.0.0.1:4222"
	c.DBPath = "cravecart.db"
	c.Environment = "development"
	c.RefreshRetention = 7 * 24 * time.Hour
	c.PollInterval = 5 * time.Second
	c.ReconnectWait = 2 * time.Second
	c.MaxReconnects = 5
	c.NearbyRadius = 1000
	c.StartLatitude = 40.7128
	c.StartLongitude = -74.0060
}

func (c *Config) Production() bool {
	return c.Environment == EnvProduction
}

// LoadConfig applies defaults, then the JSON file, the environment and the
// flags found in args (os.Args[1:] in production). Later sources win.
func LoadConfig(ctx context.Context, args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(ctx, cfg, nil); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
