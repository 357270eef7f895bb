package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/Vector/vector-leads-pipeline/geosearch"
	"github.com/Vector/vector-leads-pipeline/pipeline"
	"github.com/Vector/vector-leads-pipeline/querygen"
	"github.com/Vector/vector-leads-pipeline/scheduler"
	"github.com/Vector/vector-leads-pipeline/scraper"
	"github.com/Vector/vector-leads-pipeline/tlmt"
	"github.com/Vector/vector-leads-pipeline/tlmt/gonoop"
	"github.com/Vector/vector-leads-pipeline/tlmt/goposthog"
)

const (
	RunModeWeb = iota + 1
	RunModeDatabase
	RunModeInstallPlaywright
)

// Event backends.
const (
	EventsMemory   = "memory"
	EventsPostgres = "postgres"
	EventsRedis    = "redis"
)

const envPrefix = "LEADS"

var (
	ErrInvalidRunMode = errors.New("invalid run mode")
)

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type Config struct {
	RunMode int `mapstructure:"-"`

	Addr       string `mapstructure:"addr"`
	APIKey     string `mapstructure:"api_key"`
	Dsn        string `mapstructure:"dsn"`
	DataFolder string `mapstructure:"data_folder"`
	Worker     bool   `mapstructure:"worker"`

	Log       LogConfig        `mapstructure:"log"`
	Events    EventsConfig     `mapstructure:"events"`
	Scheduler scheduler.Config `mapstructure:"scheduler"`
	Pipeline  pipeline.Config  `mapstructure:"pipeline"`
	Scrape    ScrapeConfig     `mapstructure:"scrape"`
	QueryGen  querygen.Config  `mapstructure:"querygen"`
	GeoSearch geosearch.Config `mapstructure:"geosearch"`
	Dedup     DedupConfig      `mapstructure:"dedup"`
	Outreach  OutreachConfig   `mapstructure:"outreach"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EventsConfig struct {
	// Backend is memory, postgres or redis. Empty picks postgres when a
	// DSN is set and memory otherwise.
	Backend      string        `mapstructure:"backend"`
	Heartbeat    time.Duration `mapstructure:"heartbeat"`
	RedisChannel string        `mapstructure:"redis_channel"`
}

type ScrapeConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	JS               bool          `mapstructure:"js"`
	Proxies          []string      `mapstructure:"proxies"`
	ProxiesFile      string        `mapstructure:"proxies_file"`
	ExitOnInactivity time.Duration `mapstructure:"exit_on_inactivity"`
}

type DedupConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

type OutreachConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	Disabled        bool   `mapstructure:"disabled"`
	PosthogKey      string `mapstructure:"posthog_key"`
	PosthogEndpoint string `mapstructure:"posthog_endpoint"`
}

// ParseConfig reads flags from args, then LEADS_* environment variables
// and an optional config.yaml. Flags win over the environment, the
// environment wins over the file.
func ParseConfig(args []string) (*Config, error) {
	if os.Getenv("PLAYWRIGHT_INSTALL_ONLY") == "1" {
		return &Config{RunMode: RunModeInstallPlaywright}, nil
	}

	fs := pflag.NewFlagSet("leads", pflag.ContinueOnError)

	configFile := fs.String("config", "", "path to a config file [default: ./config.yaml when present]")
	fs.String("addr", ":8080", "address to listen on for the API")
	fs.String("dsn", "", "postgres connection string; sqlite in the data folder is used when empty")
	fs.String("data-folder", "webdata", "data folder for the sqlite store")
	fs.Bool("worker", false, "run the scheduler only, without the API (requires dsn)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "json", "log format (json or console)")
	fs.String("events", "", "event backend (memory, postgres, redis)")
	fs.Int("concurrency", 3, "maximum tasks running at once")
	fs.Int("scrape-concurrency", 4, "scrapemate concurrency per chunk")
	fs.Bool("js", false, "render pages with playwright")
	fs.StringSlice("proxies", nil, "comma separated proxies, e.g. socks5://localhost:9050")
	fs.String("proxies-file", "", "file with one proxy per line, added to --proxies")

	if err := fs.Parse(args); err != nil {
		return nil, eris.Wrap(err, "config: parse flags")
	}

	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	bindings := map[string]string{
		"addr":                     "addr",
		"dsn":                      "dsn",
		"data_folder":              "data-folder",
		"worker":                   "worker",
		"log.level":                "log-level",
		"log.format":               "log-format",
		"events.backend":           "events",
		"scheduler.max_concurrent": "concurrency",
		"scrape.concurrency":       "scrape-concurrency",
		"scrape.js":                "js",
		"scrape.proxies":           "proxies",
		"scrape.proxies_file":      "proxies-file",
	}

	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, eris.Wrapf(err, "config: bind flag %s", flag)
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("events.heartbeat", "15s")
	v.SetDefault("events.redis_channel", "leads:task_events")
	v.SetDefault("scheduler.poll_interval", "5s")
	v.SetDefault("scheduler.stuck_timeout", "10m")
	v.SetDefault("scheduler.recovery_batch", 10)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.stop_timeout", "30s")
	v.SetDefault("pipeline.max_queries", pipeline.DefaultMaxQueries)
	v.SetDefault("pipeline.scrape_fanout", pipeline.DefaultScrapeFanout)
	v.SetDefault("scrape.exit_on_inactivity", "2m")
	v.SetDefault("querygen.provider", querygen.ProviderOpenAI)
	v.SetDefault("querygen.api_key", "")
	v.SetDefault("querygen.model", "")
	v.SetDefault("querygen.base_url", "")
	v.SetDefault("querygen.temperature", 0.2)
	v.SetDefault("querygen.max_retries", 2)
	v.SetDefault("geosearch.base_url", "")
	v.SetDefault("geosearch.api_key", "")
	v.SetDefault("geosearch.requests_per_sec", 5)
	v.SetDefault("geosearch.timeout", "30s")
	v.SetDefault("geosearch.max_elapsed", "1m")
	v.SetDefault("geosearch.limit", 20)
	v.SetDefault("dedup.batch_size", 1000)
	v.SetDefault("outreach.enabled", false)
	v.SetDefault("telemetry.disabled", false)
	v.SetDefault("telemetry.posthog_key", "")
	v.SetDefault("telemetry.posthog_endpoint", "https://eu.i.posthog.com")
}

func (c *Config) finalize() error {
	if c.Scheduler.MaxConcurrent < 1 {
		return eris.New("config: concurrency must be greater than 0")
	}

	if c.Scrape.Concurrency < 1 {
		return eris.New("config: scrape concurrency must be greater than 0")
	}

	if c.Scrape.ProxiesFile != "" {
		proxies, err := scraper.LoadProxies(c.Scrape.ProxiesFile)
		if err != nil {
			return err
		}

		c.Scrape.Proxies = append(c.Scrape.Proxies, proxies...)
	}

	if c.Events.Backend == "" {
		c.Events.Backend = EventsMemory
		if c.Dsn != "" {
			c.Events.Backend = EventsPostgres
		}
	}

	switch c.Events.Backend {
	case EventsMemory, EventsRedis:
	case EventsPostgres:
		if c.Dsn == "" {
			return eris.New("config: postgres events require a dsn")
		}
	default:
		return eris.Errorf("config: unknown events backend %q", c.Events.Backend)
	}

	// several processes share one database only through postgres
	if c.Worker && c.Dsn == "" {
		return eris.New("config: worker mode requires a dsn")
	}

	if c.Worker && c.Events.Backend == EventsMemory {
		return eris.New("config: worker mode needs postgres or redis events to reach the API")
	}

	if os.Getenv("DISABLE_TELEMETRY") == "1" {
		c.Telemetry.Disabled = true
	}

	if c.Worker {
		c.RunMode = RunModeDatabase
	} else {
		c.RunMode = RunModeWeb
	}

	return nil
}

// InitLogger builds the process logger and installs it as the zap global.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, eris.Wrap(err, "config: parse log level")
		}

		zapCfg.Level.SetLevel(level)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}

	zap.ReplaceGlobals(logger)

	return logger, nil
}

var (
	telemetryOnce sync.Once
	telemetry     tlmt.Telemetry
)

// Telemetry returns the process wide sender. Without a PostHog key it
// never sends anything.
func Telemetry(cfg TelemetryConfig) tlmt.Telemetry {
	telemetryOnce.Do(func() {
		if cfg.Disabled || cfg.PosthogKey == "" {
			telemetry = gonoop.New()

			return
		}

		val, err := goposthog.New(cfg.PosthogKey, cfg.PosthogEndpoint)
		if err != nil || val == nil {
			telemetry = gonoop.New()

			return
		}

		telemetry = val
	})

	return telemetry
}

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

func banner(messages []string, width int) string {
	if width <= 0 {
		var err error

		width, _, err = term.GetSize(int(os.Stderr.Fd()))
		if err != nil {
			width = 80
		}
	}

	width = max(width, 20)
	contentWidth := width - 4

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, message := range messages {
		for _, line := range wrapText(message, contentWidth) {
			padding := max(contentWidth-runewidth.StringWidth(line), 0)
			builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", padding)))
		}
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

// Banner prints the startup summary to stderr.
func Banner(cfg *Config) {
	store := "sqlite (" + cfg.DataFolder + ")"
	if cfg.Dsn != "" {
		store = "postgres"
	}

	mode := "api + scheduler on " + cfg.Addr
	if cfg.RunMode == RunModeDatabase {
		mode = "scheduler only"
	}

	fmt.Fprintln(os.Stderr, banner([]string{
		"📇 Lead pipeline",
		"mode: " + mode,
		"store: " + store + ", events: " + cfg.Events.Backend,
		fmt.Sprintf("concurrency: %d tasks, scrape fan-out %d", cfg.Scheduler.MaxConcurrent, cfg.Pipeline.ScrapeFanout),
	}, 0))
}
