// Package config reads settings from a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"zoneplane/internal/allocator"
)

// Config holds every runtime setting.
type Config struct {
	DBPath string
	Port   string

	SubnetSeed  string
	SubnetLimit string
	ZoneSize    int

	LogLevel  string
	LogFormat string

	EtcdEndpoints []string
	EtcdEventTTL  time.Duration
	AuthzFile     string

	AutoConverge         bool
	AutoConvergeInterval time.Duration

	AllocMaxRetries int
}

// Load reads the given .env files (".env" when none are named) and then the
// environment. A missing .env file is not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults for unset keys.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Config{
		DBPath:      or(getenv("DB_PATH"), "zoneplane.db"),
		Port:        or(getenv("PORT"), "8080"),
		SubnetSeed:  or(getenv("SUBNET_SEED"), allocator.DefaultSeed),
		SubnetLimit: or(getenv("SUBNET_LIMIT"), allocator.DefaultLimit),
		LogLevel:    or(getenv("LOG_LEVEL"), "info"),
		LogFormat:   or(getenv("LOG_FORMAT"), "text"),
		AuthzFile:   getenv("AUTHZ_FILE"),
	}

	var err error
	if c.ZoneSize, err = intVar(getenv, "ZONE_SIZE", allocator.DefaultZoneSize); err != nil {
		return Config{}, err
	}
	if c.AllocMaxRetries, err = intVar(getenv, "ALLOC_MAX_RETRIES", 5); err != nil {
		return Config{}, err
	}
	if c.EtcdEventTTL, err = durationVar(getenv, "ETCD_EVENT_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if c.AutoConvergeInterval, err = durationVar(getenv, "AUTO_CONVERGE_INTERVAL", 5*time.Second); err != nil {
		return Config{}, err
	}
	if v := getenv("AUTO_CONVERGE"); v != "" {
		if c.AutoConverge, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("AUTO_CONVERGE: %w", err)
		}
	}
	for _, ep := range strings.Split(getenv("ETCD_ENDPOINTS"), ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			c.EtcdEndpoints = append(c.EtcdEndpoints, ep)
		}
	}

	if _, err := allocator.NewSubnetAllocator(c.SubnetSeed, c.SubnetLimit, c.ZoneSize); err != nil {
		return Config{}, fmt.Errorf("subnet settings: %w", err)
	}
	if c.AllocMaxRetries < 1 {
		return Config{}, fmt.Errorf("ALLOC_MAX_RETRIES must be at least 1, got %d", c.AllocMaxRetries)
	}
	return c, nil
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intVar(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func durationVar(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
