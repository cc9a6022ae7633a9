package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Caia-Tech/classroom-archive/pkg/logging"
)

// Config holds complete application configuration
type Config struct {
	// Logging configuration
	Logging *logging.LogConfig `yaml:"logging"`

	// Root directory for per-community output
	OutputDir string `yaml:"output_dir"`

	// Browser session used by the extractor
	Browser BrowserConfig `yaml:"browser"`

	// Download phase settings
	Download DownloadConfig `yaml:"download"`

	// Git snapshots of each extraction
	Archive ArchiveConfig `yaml:"archive"`

	// Report server
	Server ServerConfig `yaml:"server"`
}

// BrowserConfig holds browser automation settings
type BrowserConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Headless          bool          `yaml:"headless"`
	UserAgent         string        `yaml:"user_agent"`
	ExecPath          string        `yaml:"exec_path"` // empty uses the chromedp lookup
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	CourseSettle      time.Duration `yaml:"course_settle"` // wait after a course page loads
	LessonSettle      time.Duration `yaml:"lesson_settle"` // wait for lesson page hydration
	CookiesPath       string        `yaml:"cookies_path"`
}

// DownloadConfig holds acquisition settings
type DownloadConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	YtDlpPath          string        `yaml:"yt_dlp_path"`
	FFmpegPath         string        `yaml:"ffmpeg_path"`
	Referer            string        `yaml:"referer"`
	CookiesFromBrowser string        `yaml:"cookies_from_browser"`
	HTTPTimeout        time.Duration `yaml:"http_timeout"`
	MaxRedirects       int           `yaml:"max_redirects"`
	UserAgent          string        `yaml:"user_agent"`
	KillGrace          time.Duration `yaml:"kill_grace"`    // wait between interrupt and kill for child processes
	HostInterval       time.Duration `yaml:"host_interval"` // minimum spacing of direct transfers to one host
}

// ArchiveConfig holds snapshot repository settings
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// ServerConfig holds report server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Default returns a complete default configuration
func Default() *Config {
	return &Config{
		Logging:   logging.DefaultLogConfig(),
		OutputDir: "./output",
		Browser: BrowserConfig{
			BaseURL:           "https://www.skool.com",
			Headless:          true,
			UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			NavigationTimeout: 45 * time.Second,
			CourseSettle:      2 * time.Second,
			LessonSettle:      3 * time.Second,
			CookiesPath:       "cookies.json",
		},
		Download: DownloadConfig{
			Concurrency:  3,
			YtDlpPath:    "yt-dlp",
			FFmpegPath:   "ffmpeg",
			Referer:      "https://www.skool.com/",
			HTTPTimeout:  30 * time.Second,
			MaxRedirects: 5,
			UserAgent:    "Mozilla/5.0",
			KillGrace:    5 * time.Second,
			HostInterval: 250 * time.Millisecond,
		},
		Archive: ArchiveConfig{
			Enabled:     false,
			AuthorName:  "classroom-archive",
			AuthorEmail: "archive@localhost",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
	}
}

// Load builds configuration from defaults, then the YAML file at path (if
// path is non-empty), then a .env file in the working directory (if one
// exists), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if cfg.Logging == nil {
			cfg.Logging = logging.DefaultLogConfig()
		}
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SKOOL_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("YT_DLP_PATH"); v != "" {
		c.Download.YtDlpPath = v
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		c.Download.FFmpegPath = v
	}
	if v := os.Getenv("SKOOL_COOKIES_PATH"); v != "" {
		c.Browser.CookiesPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOWNLOAD_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DOWNLOAD_CONCURRENCY %q: %w", v, err)
		}
		c.Download.Concurrency = n
	}
	return nil
}

// Validate clamps numeric settings and rejects unusable paths.
func (c *Config) Validate() error {
	if c.Download.Concurrency < 1 {
		c.Download.Concurrency = 1
	}
	if c.Download.MaxRedirects < 0 {
		c.Download.MaxRedirects = 0
	}
	if c.Download.HostInterval < 0 {
		c.Download.HostInterval = 0
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = Default().Browser.NavigationTimeout
	}
	switch {
	case c.OutputDir == "":
		return errors.New("output_dir must not be empty")
	case c.Download.YtDlpPath == "":
		return errors.New("download.yt_dlp_path must not be empty")
	case c.Download.FFmpegPath == "":
		return errors.New("download.ffmpeg_path must not be empty")
	case c.Browser.BaseURL == "":
		return errors.New("browser.base_url must not be empty")
	}
	return nil
}
