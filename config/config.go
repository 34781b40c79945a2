package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Zones      []ZoneConfig     `yaml:"zones"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// TrackingConfig holds the thresholds driving status classification and ETA
// estimation.
type TrackingConfig struct {
	StalenessMinutes      int           `yaml:"staleness_minutes"`
	DelayThresholdMinutes int           `yaml:"delay_threshold_minutes"`
	ArrivalRadiusKm       float64       `yaml:"arrival_radius_km"`
	ETAFloorSpeedKmh      float64       `yaml:"eta_floor_speed_kmh"`
	ArrivedTimeoutMinutes int           `yaml:"arrived_timeout_minutes"`
	SweepIntervalSeconds  int           `yaml:"sweep_interval_seconds"`
	Staleness             time.Duration `yaml:"-"`
	DelayThreshold        time.Duration `yaml:"-"`
	ArrivedTimeout        time.Duration `yaml:"-"`
	SweepInterval         time.Duration `yaml:"-"`
}

// ZoneConfig describes one named circular zone (commune) used for coarse
// location labeling on the dashboard map.
type ZoneConfig struct {
	Name     string  `yaml:"name"`
	Lat      float64 `yaml:"lat"`
	Lng      float64 `yaml:"lng"`
	RadiusKm float64 `yaml:"radius_km"`
}

// DefaultZones covers the communes the fleet operates in. Used when the
// config file does not define its own zone list.
func DefaultZones() []ZoneConfig {
	return []ZoneConfig{
		{Name: "Cocody", Lat: 5.3473, Lng: -3.9875, RadiusKm: 3.0},
		{Name: "Yopougon", Lat: 5.3365, Lng: -4.0872, RadiusKm: 3.0},
		{Name: "Abobo", Lat: 5.4235, Lng: -4.0196, RadiusKm: 3.0},
		{Name: "Adjamé", Lat: 5.3567, Lng: -4.0239, RadiusKm: 3.0},
		{Name: "Plateau", Lat: 5.3223, Lng: -4.0415, RadiusKm: 3.0},
		{Name: "Treichville", Lat: 5.2947, Lng: -4.0093, RadiusKm: 3.0},
		{Name: "Marcory", Lat: 5.2886, Lng: -3.9863, RadiusKm: 3.0},
		{Name: "Koumassi", Lat: 5.2975, Lng: -3.9489, RadiusKm: 3.0},
	}
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills in zero-valued fields. Exposed so tests can build a
// Config literal and still get the operational thresholds.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 4
	}

	if cfg.Tracking.StalenessMinutes <= 0 {
		cfg.Tracking.StalenessMinutes = 5
	}
	if cfg.Tracking.DelayThresholdMinutes <= 0 {
		cfg.Tracking.DelayThresholdMinutes = 10
	}
	if cfg.Tracking.ArrivalRadiusKm <= 0 {
		cfg.Tracking.ArrivalRadiusKm = 0.5
	}
	if cfg.Tracking.ETAFloorSpeedKmh <= 0 {
		cfg.Tracking.ETAFloorSpeedKmh = 5
	}
	if cfg.Tracking.ArrivedTimeoutMinutes <= 0 {
		cfg.Tracking.ArrivedTimeoutMinutes = 15
	}
	if cfg.Tracking.SweepIntervalSeconds <= 0 {
		cfg.Tracking.SweepIntervalSeconds = 60
	}
	cfg.Tracking.Staleness = time.Duration(cfg.Tracking.StalenessMinutes) * time.Minute
	cfg.Tracking.DelayThreshold = time.Duration(cfg.Tracking.DelayThresholdMinutes) * time.Minute
	cfg.Tracking.ArrivedTimeout = time.Duration(cfg.Tracking.ArrivedTimeoutMinutes) * time.Minute
	cfg.Tracking.SweepInterval = time.Duration(cfg.Tracking.SweepIntervalSeconds) * time.Second

	if len(cfg.Zones) == 0 {
		cfg.Zones = DefaultZones()
	}
}
