package config

import (
	"flag"
	"fmt"

	"github.com/cravecart/cravecart/internal/flagx"
)

// parseFlags ignores flags it does not own, so the REPL and the config
// loader can share one command line.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-n", "-d", "-e", "-i", "-r", "-lat", "-lon", "-local"})

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.StringVar(&cfg.APIBaseURL, "a", cfg.APIBaseURL, "base URL of the REST API")
	fs.StringVar(&cfg.NATSURL, "n", cfg.NATSURL, "NATS URL of the realtime channel")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "path of the local SQLite database")
	fs.StringVar(&cfg.Environment, "e", cfg.Environment, "environment name")
	fs.DurationVar(&cfg.PollInterval, "i", cfg.PollInterval, "location poll interval")
	fs.Float64Var(&cfg.NearbyRadius, "r", cfg.NearbyRadius, "default nearby radius in meters")
	fs.Float64Var(&cfg.StartLatitude, "lat", cfg.StartLatitude, "simulated start latitude")
	fs.Float64Var(&cfg.StartLongitude, "lon", cfg.StartLongitude, "simulated start longitude")
	fs.BoolVar(&cfg.Local, "local", cfg.Local, "use an in-process hub")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	return nil
}
