// Package config loads runtime configuration for the CraveCart client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Environment variables (CRAVECART_*), see parseEnv.
//  4. Command-line flags, which override everything else.
//
// Supported flags
//
//	-a string     base URL of the REST API
//	-n string     NATS URL of the realtime channel
//	-d string     path of the local SQLite database
//	-e string     environment name ("production" enables Secure cookies)
//	-i duration   location poll interval
//	-r float      default nearby radius in meters
//	-local        run against an in-process hub instead of NATS
//
// # JSON schema
//
// Durations use timex.Duration, so "5s" and integer nanoseconds both work:
//
//	{
//	  "api_base_url": "http://127.0.0.1:8080",
//	  "nats_url": "nats://127.0.0.1:4222",
//	  "db_path": "cravecart.db",
//	  "environment": "development",
//	  "refresh_retention": "168h",
//	  "poll_interval": "5s",
//	  "reconnect_wait": "2s",
//	  "max_reconnects": 5,
//	  "nearby_radius": 1000
//	}
package config
