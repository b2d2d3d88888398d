package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-camviewer/internal/broker"
	"github.com/technosupport/ts-camviewer/internal/data"
	"github.com/technosupport/ts-camviewer/internal/platform/paths"
)

var ErrNoCameras = errors.New("no cameras configured")

type Config struct {
	ClientID    string        `yaml:"client_id"`
	HTTPAddr    string        `yaml:"http_addr"`
	MediaRoot   string        `yaml:"media_root"`
	TestPattern bool          `yaml:"test_pattern"`
	Log         LogConfig     `yaml:"log"`
	Broker      broker.Config `yaml:"broker"`
	Storage     data.Config   `yaml:"storage"`
	Ingest      IngestConfig  `yaml:"ingest"`
	Persist     PersistConfig `yaml:"persist"`
	Supervisor  SupervisorCfg `yaml:"supervisor"`
	Shutdown    ShutdownCfg   `yaml:"shutdown"`
	Cameras     []Camera      `yaml:"cameras"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type IngestConfig struct {
	QueueSize           int           `yaml:"queue_size"`
	CacheSize           int           `yaml:"cache_size"`
	DedupSize           int           `yaml:"dedup_size"`
	DedupTTL            time.Duration `yaml:"dedup_ttl"`
	IdleWait            time.Duration `yaml:"idle_wait"`
	DiagnosticsInterval time.Duration `yaml:"diagnostics_interval"`
}

type PersistConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	BatchPause time.Duration `yaml:"batch_pause"`
}

type SupervisorCfg struct {
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	HealthCheck  time.Duration `yaml:"health_check"`
}

type ShutdownCfg struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns a config with every tunable set; Load layers the file and
// the environment on top of it.
func Default() Config {
	return Config{
		HTTPAddr: "127.0.0.1:8090",
		Log:      LogConfig{Level: "info"},
		Broker: broker.Config{
			Kind:   "mqtt",
			URL:    "tcp://localhost:1883",
			Prefix: "rtsp_client",
		},
		Storage: data.Config{
			Driver:      data.DriverSQLite,
			BusyTimeout: 5 * time.Second,
			SSLMode:     "disable",
			Port:        5432,
		},
		Ingest: IngestConfig{
			QueueSize:           1000,
			CacheSize:           200,
			DedupSize:           4096,
			DedupTTL:            10 * time.Minute,
			IdleWait:            5 * time.Second,
			DiagnosticsInterval: 30 * time.Second,
		},
		Persist: PersistConfig{
			BatchSize:  10,
			BatchPause: 100 * time.Millisecond,
		},
		Supervisor: SupervisorCfg{
			ReadyTimeout: 10 * time.Second,
			HealthCheck:  5 * time.Second,
		},
		Shutdown: ShutdownCfg{Timeout: 5 * time.Second},
	}
}

// Load reads the YAML file at path over the defaults, then applies env
// overrides, fills strategy ladders and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(&cfg)
	cfg.finalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&cfg.ClientID, "CAMVIEW_CLIENT_ID")
	setString(&cfg.HTTPAddr, "CAMVIEW_HTTP_ADDR")
	setString(&cfg.MediaRoot, "CAMVIEW_MEDIA_ROOT")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Broker.Kind, "BROKER_KIND")
	setString(&cfg.Broker.URL, "BROKER_URL")
	setString(&cfg.Broker.Username, "BROKER_USERNAME")
	setString(&cfg.Broker.Password, "BROKER_PASSWORD")
	setString(&cfg.Storage.Driver, "DB_DRIVER")
	setString(&cfg.Storage.Path, "DB_PATH")
	setString(&cfg.Storage.Host, "DB_HOST")
	setString(&cfg.Storage.User, "DB_USER")
	setString(&cfg.Storage.Password, "DB_PASSWORD")
	setString(&cfg.Storage.Name, "DB_NAME")
	setString(&cfg.Storage.SSLMode, "DB_SSLMODE")

	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Storage.Port = port
		}
	}
}

func (c *Config) finalize() {
	if c.ClientID == "" {
		c.ClientID = "camviewer-" + uuid.NewString()[:8]
	}
	if c.Broker.ClientID == "" {
		c.Broker.ClientID = c.ClientID
	}
	if (c.Storage.Driver == data.DriverSQLite || c.Storage.Driver == "") && c.Storage.Path == "" {
		c.Storage.Path = paths.DefaultDatabasePath()
	}
	for i := range c.Cameras {
		c.Cameras[i].Name = strings.TrimSpace(c.Cameras[i].Name)
		if len(c.Cameras[i].Strategies) == 0 {
			c.Cameras[i].Strategies = DefaultStrategies()
		}
	}
	if c.TestPattern && c.Camera(TestPatternName) == nil {
		c.Cameras = append(c.Cameras, TestPatternCamera())
	}
}

// Validate requires at least one uniquely named camera with renderable
// strategy templates.
func (c Config) Validate() error {
	if len(c.Cameras) == 0 {
		return ErrNoCameras
	}
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.Name == "" {
			return errors.New("camera with empty name")
		}
		if seen[cam.Name] {
			return fmt.Errorf("duplicate camera %q", cam.Name)
		}
		seen[cam.Name] = true
		if cam.Endpoint == "" {
			return fmt.Errorf("camera %q: missing endpoint", cam.Name)
		}
		for _, s := range cam.Strategies {
			if _, err := s.Render(cam.Endpoint); err != nil {
				return fmt.Errorf("camera %q: %w", cam.Name, err)
			}
		}
	}
	if c.Persist.BatchSize <= 0 {
		return errors.New("persist.batch_size must be positive")
	}
	if c.Supervisor.ReadyTimeout <= 0 || c.Supervisor.HealthCheck <= 0 {
		return errors.New("supervisor timeouts must be positive")
	}
	return nil
}

// Camera looks up a descriptor by name.
func (c Config) Camera(name string) *Camera {
	for i := range c.Cameras {
		if c.Cameras[i].Name == name {
			return &c.Cameras[i]
		}
	}
	return nil
}

// CameraNames lists configured cameras in config order.
func (c Config) CameraNames() []string {
	names := make([]string, 0, len(c.Cameras))
	for _, cam := range c.Cameras {
		names = append(names, cam.Name)
	}
	return names
}
