package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   struct {
			Path       string `yaml:"path"`
			MaxSizeMB  int    `yaml:"maxSizeMb"`
			MaxBackups int    `yaml:"maxBackups"`
			MaxAgeDays int    `yaml:"maxAgeDays"`
			Compress   bool   `yaml:"compress"`
		} `yaml:"file"`
	} `yaml:"log"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Ephemeral struct {
		Backend string `yaml:"backend"` // redis | memory
	} `yaml:"ephemeral"`

	DevTools struct {
		URL    string `yaml:"url"`
		Target string `yaml:"target"`
	} `yaml:"devtools"`

	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`

	Recorder Recorder `yaml:"recorder"`
}

// Recorder 录制器相关配置
type Recorder struct {
	SkipPasswords        bool                `yaml:"skipPasswords"`
	ScreenshotThrottleMS int64               `yaml:"screenshotThrottleMs"`
	ScreenshotRetries    int                 `yaml:"screenshotRetries"`
	ScreenshotBackoffMS  int                 `yaml:"screenshotBackoffMs"`
	PollIntervalMS       int                 `yaml:"pollIntervalMs"`
	DebounceMS           int                 `yaml:"debounceMs"`
	SiteWatchers         map[string][]string `yaml:"siteWatchers"`
}

// PollInterval 导航轮询间隔
func (r Recorder) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

// ScreenshotBackoff 截图重试的基础退避
func (r Recorder) ScreenshotBackoff() time.Duration {
	return time.Duration(r.ScreenshotBackoffMS) * time.Millisecond
}

// Debounce 站点输入防抖间隔
func (r Recorder) Debounce() time.Duration {
	return time.Duration(r.DebounceMS) * time.Millisecond
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "recorder.sqlite3"
	c.Sqlite.Prefix = "recorder_"
	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File.Path = "logs/recorder.log"
	c.Redis.Addr = "127.0.0.1:6379"
	c.Redis.Prefix = "recorder"
	c.Ephemeral.Backend = "redis"
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.HTTP.Listen = "127.0.0.1:8123"
	c.Recorder = Recorder{
		SkipPasswords:        true,
		ScreenshotThrottleMS: 700,
		ScreenshotRetries:    3,
		ScreenshotBackoffMS:  100,
		PollIntervalMS:       1000,
		DebounceMS:           1000,
		SiteWatchers: map[string][]string{
			"www.youtube.com": {
				"input#search",
				"ytd-searchbox",
				`input[name="search_query"]`,
			},
			"www.instagram.com": {
				`input[placeholder*="Search"]`,
				`input[type="text"][aria-label*="Search"]`,
			},
			"m.youtube.com": {
				`input[type="text"]`,
			},
		},
	}
	return c
}

// Load 读取 YAML 配置并覆盖默认值，路径为空或文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Ephemeral.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown ephemeral backend %q", c.Ephemeral.Backend)
	}
	if c.Recorder.ScreenshotThrottleMS < 0 {
		return fmt.Errorf("recorder.screenshotThrottleMs must not be negative")
	}
	if c.Recorder.ScreenshotRetries < 0 {
		return fmt.Errorf("recorder.screenshotRetries must not be negative")
	}
	if c.Recorder.ScreenshotBackoffMS <= 0 {
		return fmt.Errorf("recorder.screenshotBackoffMs must be greater than zero")
	}
	if c.Recorder.PollIntervalMS <= 0 {
		return fmt.Errorf("recorder.pollIntervalMs must be greater than zero")
	}
	if c.Recorder.DebounceMS <= 0 {
		return fmt.Errorf("recorder.debounceMs must be greater than zero")
	}
	return nil
}
