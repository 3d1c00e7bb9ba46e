package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envTelegramKey = "WEATHERLOGGER_TELEGRAM_KEY"
	envDBPassword  = "WEATHERLOGGER_DB_PASSWORD"
)

type telegram struct {
	Key    string `yaml:"key"`
	Debug  bool   `yaml:"debug"`
	Enable bool   `yaml:"enable"`
}

type Database struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Sensor selects the driver and where it sits on the I2C bus.
type Sensor struct {
	Driver  string `yaml:"driver"`
	Bus     string `yaml:"bus"`
	Address uint16 `yaml:"address"`
}

// Sample is the sampling configuration shared read-only by the sampler and
// the HTTP handler.
type Sample struct {
	Interval time.Duration `yaml:"interval"`
}

// Minutes is the interval as reported in the X-sampleTime header.
func (s Sample) Minutes() int64 {
	return int64(s.Interval / time.Minute)
}

type Storage struct {
	Dir       string    `yaml:"dir"`
	Files     [2]string `yaml:"files"`
	Threshold int64     `yaml:"threshold"`
}

type Clock struct {
	Server         string        `yaml:"server"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	Timeout        time.Duration `yaml:"timeout"`
	Epoch          time.Time     `yaml:"epoch"`
	SetSystemClock bool          `yaml:"set_system_clock"`
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	Root            string        `yaml:"root"`
	DefaultDocument string        `yaml:"default_document"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	ConnTimeout     time.Duration `yaml:"conn_timeout"`
}

type Config struct {
	LogLevel string    `yaml:"log_level"`
	Sample   Sample    `yaml:"sample"`
	Sensor   Sensor    `yaml:"sensor"`
	Storage  Storage   `yaml:"storage"`
	Clock    Clock     `yaml:"clock"`
	HTTP     HTTP      `yaml:"http"`
	Database *Database `yaml:"database"`
	Telegram telegram  `yaml:"telegram"`
}

// Default returns the configuration the logger runs with when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Sample:   Sample{Interval: 5 * time.Minute},
		Sensor: Sensor{
			Driver:  "sht21",
			Address: 0x40,
		},
		Storage: Storage{
			Dir:       ".",
			Files:     [2]string{"values1.dat", "values2.dat"},
			Threshold: 6000,
		},
		Clock: Clock{
			Server:       "pool.ntp.org",
			SyncInterval: time.Minute,
			Timeout:      5 * time.Second,
			Epoch:        time.Unix(0, 0).UTC(),
		},
		HTTP: HTTP{
			Addr:            ":80",
			Root:            ".",
			DefaultDocument: "index.html",
			PollTimeout:     time.Second,
			ConnTimeout:     10 * time.Second,
		},
	}
}

// NewConfig reads a YAML file on top of Default and applies environment
// overrides. A .env file next to the process is loaded first when present.
func NewConfig(f string) (*Config, error) {
	conf := Default()
	if f != "" {
		rawConf, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("cannot open a Config: %w", err)
		}
		err = yaml.Unmarshal(rawConf, conf)
		if err != nil {
			return nil, fmt.Errorf("cannot unmarshall a Config: %w", err)
		}
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot load .env: %w", err)
	}
	conf.applyEnv()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envTelegramKey); v != "" {
		c.Telegram.Key = v
	}
	if v := os.Getenv(envDBPassword); v != "" && c.Database != nil {
		c.Database.Password = v
	}
}

// Validate rejects values the tasks cannot run with.
func (c *Config) Validate() error {
	if c.Sample.Interval <= 0 {
		return fmt.Errorf("sample interval must be positive, got %s", c.Sample.Interval)
	}
	if c.Storage.Threshold <= 0 {
		return fmt.Errorf("storage threshold must be positive, got %d", c.Storage.Threshold)
	}
	if c.Storage.Files[0] == "" || c.Storage.Files[1] == "" || c.Storage.Files[0] == c.Storage.Files[1] {
		return fmt.Errorf("storage needs two distinct file names, got %q", c.Storage.Files)
	}
	if c.Clock.SyncInterval <= 0 {
		return fmt.Errorf("clock sync interval must be positive, got %s", c.Clock.SyncInterval)
	}
	switch c.Sensor.Driver {
	case "sht21", "bme280":
	default:
		return fmt.Errorf("unknown sensor driver %q", c.Sensor.Driver)
	}
	if c.Telegram.Enable && c.Telegram.Key == "" {
		return fmt.Errorf("telegram enabled without a key")
	}
	return nil
}
