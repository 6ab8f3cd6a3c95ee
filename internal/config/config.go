package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Detector  DetectorConfig  `yaml:"detector"`
	Model     ModelConfig     `yaml:"model"`
	Directory DirectoryConfig `yaml:"directory"`
	Session   SessionConfig   `yaml:"session"`
	HTTP      HTTPConfig      `yaml:"http"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

type SourceConfig struct {
	Primary     string        `yaml:"primary"`      // pipeline string, .sdp file or ffmpeg:<input>
	Fallback    string        `yaml:"fallback"`     // device index or path, e.g. "0" or /dev/video0
	ReadTimeout time.Duration `yaml:"read_timeout"` // one polling interval
	MaxMisses   int           `yaml:"max_misses"`   // consecutive empty reads before the source is declared lost
}

type DetectorConfig struct {
	Backend string  `yaml:"backend"` // pigo or cascade
	Model   string  `yaml:"model"`   // cascade file; empty searches the well-known locations
	MinSize int     `yaml:"min_size"`
	Quality float64 `yaml:"quality"` // pigo detection score cutoff
}

type ModelConfig struct {
	Path           string  `yaml:"path"`
	AcceptBelow    float64 `yaml:"accept_below"`
	Radius         int     `yaml:"radius"`
	Neighbors      int     `yaml:"neighbors"`
	GridX          int     `yaml:"grid_x"`
	GridY          int     `yaml:"grid_y"`
	RejectDistance float64 `yaml:"reject_distance"`
	IndexMin       int     `yaml:"index_min"` // 0 keeps exact search
}

type DirectoryConfig struct {
	DSN string `yaml:"dsn"`
}

type SessionConfig struct {
	DefaultLabel  int           `yaml:"default_label"`
	MaxLabel      int           `yaml:"max_label"`
	EventInterval time.Duration `yaml:"event_interval"`
	SnapshotDir   string        `yaml:"snapshot_dir"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Prefix   string `yaml:"prefix"` // topics are <prefix>/<device>/{control,response,events}
	Device   string `yaml:"device"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the appliance defaults.
func Default() Config {
	return Config{
		Source: SourceConfig{
			Primary:     "/tmp/yuyv.sdp",
			Fallback:    "0",
			ReadTimeout: 33 * time.Millisecond,
			MaxMisses:   150,
		},
		Detector: DetectorConfig{
			Backend: "pigo",
			MinSize: 80,
			Quality: 5.0,
		},
		Model: ModelConfig{
			Path:           "./face_recognition_model.yml",
			AcceptBelow:    80.0,
			Radius:         1,
			Neighbors:      8,
			GridX:          4,
			GridY:          4,
			RejectDistance: 8.0,
		},
		Directory: DirectoryConfig{
			DSN: "./XL_URK_Database.db",
		},
		Session: SessionConfig{
			DefaultLabel:  1,
			MaxLabel:      5,
			EventInterval: time.Second,
		},
		MQTT: MQTTConfig{
			Prefix: "facegate",
			Device: hostname(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "appliance"
	}
	return h
}

// Load builds the configuration from defaults, an optional YAML file and the environment.
// A missing file at the given path is an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Source.Primary = envString("FACEGATE_SOURCE", c.Source.Primary)
	c.Source.Fallback = envString("FACEGATE_FALLBACK", c.Source.Fallback)
	c.Source.ReadTimeout = envDuration("FACEGATE_READ_TIMEOUT", c.Source.ReadTimeout)
	c.Source.MaxMisses = envInt("FACEGATE_MAX_MISSES", c.Source.MaxMisses)

	c.Detector.Backend = envString("FACEGATE_DETECTOR", c.Detector.Backend)
	c.Detector.Model = envString("FACEGATE_DETECTOR_MODEL", c.Detector.Model)
	c.Detector.MinSize = envInt("FACEGATE_MIN_FACE", c.Detector.MinSize)

	c.Model.Path = envString("FACEGATE_MODEL_PATH", c.Model.Path)
	c.Model.AcceptBelow = envFloat("FACEGATE_ACCEPT_BELOW", c.Model.AcceptBelow)
	c.Model.IndexMin = envInt("FACEGATE_INDEX_MIN", c.Model.IndexMin)

	c.Directory.DSN = envString("FACEGATE_DB", c.Directory.DSN)

	c.Session.EventInterval = envDuration("FACEGATE_EVENT_INTERVAL", c.Session.EventInterval)
	c.Session.SnapshotDir = envString("FACEGATE_SNAPSHOT_DIR", c.Session.SnapshotDir)

	c.HTTP.Addr = envString("FACEGATE_HTTP_ADDR", c.HTTP.Addr)

	c.MQTT.Broker = envString("FACEGATE_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = envString("FACEGATE_MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Device = envString("FACEGATE_DEVICE", c.MQTT.Device)

	c.Storage.Endpoint = envString("FACEGATE_S3_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKey = envString("FACEGATE_S3_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = envString("FACEGATE_S3_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.Bucket = envString("FACEGATE_S3_BUCKET", c.Storage.Bucket)
	c.Storage.UseSSL = envBool("FACEGATE_S3_SSL", c.Storage.UseSSL)

	c.Log.Level = envString("FACEGATE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("FACEGATE_LOG_FORMAT", c.Log.Format)
}

// Validate rejects values the session cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Source.Primary == "" && c.Source.Fallback == "" {
		errs = append(errs, errors.New("source: primary or fallback is required"))
	}
	if c.Source.ReadTimeout <= 0 {
		errs = append(errs, errors.New("source.read_timeout must be positive"))
	}
	if c.Source.MaxMisses < 1 {
		errs = append(errs, errors.New("source.max_misses must be at least 1"))
	}
	if c.Detector.MinSize < 1 {
		errs = append(errs, errors.New("detector.min_size must be at least 1"))
	}
	if c.Model.AcceptBelow <= 0 {
		errs = append(errs, errors.New("model.accept_below must be positive"))
	}
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.Session.MaxLabel < 1 || c.Session.MaxLabel > 9 {
		errs = append(errs, fmt.Errorf("session.max_label must be within 1..9, got %d", c.Session.MaxLabel))
	}
	if c.Session.DefaultLabel < 0 {
		errs = append(errs, errors.New("session.default_label must be non-negative"))
	}
	return errors.Join(errs...)
}

func envString(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}
