package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar names the environment variable holding the YAML config path.
const PathEnvVar = "THREATWATCH_CONFIG"

// envPrefix marks generic overrides: THREATWATCH_SOURCES__TRAFFIC__TIMEOUT
// maps to sources.traffic.timeout.
const envPrefix = "threatwatch_"

var envMappings = map[string]string{
	"auth_enabled":        "auth.enabled",
	"auth_username":       "auth.username",
	"auth_password":       "auth.password",
	"jwt_secret":          "auth.jwt_secret",
	"jwt_expiry":          "auth.jwt_expiry",
	"log_level":           "logging.level",
	"log_format":          "logging.format",
	"camera_uri":          "camera.uri",
	"camera_transport":    "camera.transport",
	"http_port":           "server.port",
	"grpc_port":           "grpc.port",
	"wsdot_access_code":   "sources.traffic.access_code",
	"home_latitude":       "home.latitude",
	"home_longitude":      "home.longitude",
	"home_timezone":       "home.timezone",
	"sensitivity":         "motion.sensitivity_threshold",
	"min_contours":        "motion.min_contours",
	"motion_window":       "threat.motion_window",
	"weather_counties":    "sources.weather.counties",
	"crime_url":           "sources.crime.url",
	"snapshot_dir":        "camera.snapshot_dir",
	"schedule_enabled":    "schedule.enabled",
	"circuit_breaker":     "breaker.enabled",
	"hazard_outage_limit": "sources.hazard.outage_threshold",
}

// Load builds the configuration. path may be empty, in which case
// THREATWATCH_CONFIG is consulted; a missing file is not an error.
// A .env file in the working directory is applied to the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps an environment variable name to a koanf path.
// Unknown names return "" and are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	if strings.HasPrefix(key, envPrefix) && key != strings.ToLower(PathEnvVar) {
		return strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "__", ".")
	}
	return ""
}

var listPaths = []string{
	"sources.weather.counties",
	"sources.traffic.major_keywords",
	"sources.crime.keywords",
	"sources.geopolitical.exclude_keywords",
}

// splitListFields turns comma-separated environment values into slices.
// Values that already arrived as lists from YAML are left alone.
func splitListFields(k *koanf.Koanf) error {
	for _, path := range listPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		items := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		if err := k.Set(path, items); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
