package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cravecart/cravecart/internal/flagx"
	"github.com/cravecart/cravecart/internal/timex"
)

// JsonConfig is the on-disk shape. Pointer fields tell "absent" apart from
// a zero value so a partial file only overrides what it names.
type JsonConfig struct {
	APIBaseURL       *string         `json:"api_base_url"`
	NATSURL          *string         `json:"nats_url"`
	DBPath           *string         `json:"db_path"`
	Environment      *string         `json:"environment"`
	RefreshRetention *timex.Duration `json:"refresh_retention"`
	PollInterval     *timex.Duration `json:"poll_interval"`
	ReconnectWait    *timex.Duration `json:"reconnect_wait"`
	MaxReconnects    *int            `json:"max_reconnects"`
	NearbyRadius     *float64        `json:"nearby_radius"`
	StartLatitude    *float64        `json:"start_latitude"`
	StartLongitude   *float64        `json:"start_longitude"`
	OTLPEndpoint     *string         `json:"otlp_endpoint"`
	Local            *bool           `json:"local"`
}

func parseJson(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setIf(&cfg.APIBaseURL, jc.APIBaseURL)
	setIf(&cfg.NATSURL, jc.NATSURL)
	setIf(&cfg.DBPath, jc.DBPath)
	setIf(&cfg.Environment, jc.Environment)
	setIf(&cfg.MaxReconnects, jc.MaxReconnects)
	setIf(&cfg.NearbyRadius, jc.NearbyRadius)
	setIf(&cfg.StartLatitude, jc.StartLatitude)
	setIf(&cfg.StartLongitude, jc.StartLongitude)
	setIf(&cfg.OTLPEndpoint, jc.OTLPEndpoint)
	setIf(&cfg.Local, jc.Local)
	if jc.RefreshRetention != nil {
		cfg.RefreshRetention = jc.RefreshRetention.Duration
	}
	if jc.PollInterval != nil {
		cfg.PollInterval = jc.PollInterval.Duration
	}
	if jc.ReconnectWait != nil {
		cfg.ReconnectWait = jc.ReconnectWait.Duration
	}
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
