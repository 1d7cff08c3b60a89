package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cravecart/cravecart/internal/flagx"
	"github.com/cravecart/cravecart/internal/timex"
)

// JsonConfig is the on-disk shape. Durations accept "15m" or nanoseconds.
type JsonConfig struct {
	HTTPAddr                     *string         `json:"http_addr"`
	DatabaseDSN                  *string         `json:"database_dsn"`
	SecretKey                    *string         `json:"secret_key"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	NATSURL                      *string         `json:"nats_url"`
	ServiceToken                 *string         `json:"service_token"`
	HistorySize                  *int            `json:"history_size"`
	AdminEmails                  []string        `json:"admin_emails"`
	CORSOrigins                  []string        `json:"cors_origins"`
	RateLimit                    *int            `json:"rate_limit"`
	TokenSweepInterval           *timex.Duration `json:"token_sweep_interval"`
	OTLPEndpoint                 *string         `json:"otlp_endpoint"`
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

	setIf(&cfg.HTTPAddr, jc.HTTPAddr)
	setIf(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setIf(&cfg.SecretKey, jc.SecretKey)
	setIf(&cfg.NATSURL, jc.NATSURL)
	setIf(&cfg.ServiceToken, jc.ServiceToken)
	setIf(&cfg.HistorySize, jc.HistorySize)
	setIf(&cfg.RateLimit, jc.RateLimit)
	setIf(&cfg.OTLPEndpoint, jc.OTLPEndpoint)
	if jc.AdminEmails != nil {
		cfg.AdminEmails = jc.AdminEmails
	}
	if jc.CORSOrigins != nil {
		cfg.CORSOrigins = jc.CORSOrigins
	}
	setDuration(&cfg.AccessTokenValidityDuration, jc.AccessTokenValidityDuration)
	setDuration(&cfg.RefreshTokenValidityDuration, jc.RefreshTokenValidityDuration)
	setDuration(&cfg.TokenSweepInterval, jc.TokenSweepInterval)
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
