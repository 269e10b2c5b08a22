// Package config loads the rollcall configuration file.
//
// Resolution order for the file: an explicit path, then $ROLLCALL_CONFIG,
// then /data/alliances.yaml and /app/config/alliances.yaml. With no file
// found and none requested, defaults are used. A .env file in the working
// directory is loaded first so its variables can feed the overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rollcall/internal/identity"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "ROLLCALL_CONFIG"

// FallbackPaths are tried in order when no path is given.
var FallbackPaths = []string{"/data/alliances.yaml", "/app/config/alliances.yaml"}

// Config is the full configuration.
type Config struct {
	DataRoot  string          `yaml:"data_root" validate:"required"`
	Log       LogConfig       `yaml:"log"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Matching  identity.Config `yaml:"matching"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Detail    DetailConfig    `yaml:"detail"`
	HTTP      HTTPConfig      `yaml:"http"`
	Reports   ReportConfig    `yaml:"reports"`
	Alliances []Alliance      `yaml:"alliances" validate:"unique=ID,dive"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// WebhookConfig configures outbound notifications.
type WebhookConfig struct {
	URL           string  `yaml:"url" validate:"omitempty,url"`
	AdminURL      string  `yaml:"admin_url" validate:"omitempty,url"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gt=0"`
	Burst         int     `yaml:"burst" validate:"gte=1"`
	Concurrency   int     `yaml:"concurrency" validate:"gte=1"`
}

// ScheduleConfig holds cron expressions with a seconds field. An empty
// expression disables the job.
type ScheduleConfig struct {
	Sync         string `yaml:"sync"`
	DailyReport  string `yaml:"daily_report"`
	WeeklyReport string `yaml:"weekly_report"`
	Detail       string `yaml:"detail"`
	SyncOnStart  bool   `yaml:"sync_on_start"`
}

// DetailConfig configures the member detail worker.
type DetailConfig struct {
	IntervalHours  int    `yaml:"interval_hours" validate:"gte=1"`
	PerRun         int    `yaml:"per_run" validate:"gte=1"`
	BackoffMinutes int    `yaml:"backoff_minutes" validate:"gte=1"`
	URLTemplate    string `yaml:"url_template"`
}

// HTTPConfig configures the command endpoint.
type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// ReportConfig tunes rendered reports.
type ReportConfig struct {
	TopN int `yaml:"top_n" validate:"gte=1"`
}

// Alliance describes one tracked alliance.
type Alliance struct {
	ID         string   `yaml:"id" validate:"required"`
	Name       string   `yaml:"name"`
	TestMode   bool     `yaml:"test_mode"`
	RosterFile string   `yaml:"roster_file"`
	TestDir    string   `yaml:"test_dir"`
	GuildIDs   []string `yaml:"guild_ids"`
	WebhookURL string   `yaml:"webhook_url" validate:"omitempty,url"`
}

// DisplayName returns the alliance name, or its id when unnamed.
func (a Alliance) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataRoot: "./data",
		Log:      LogConfig{Level: "info", Format: "text"},
		Webhook:  WebhookConfig{RatePerSecond: 1, Burst: 5, Concurrency: 4},
		Matching: identity.DefaultConfig(),
		Schedule: ScheduleConfig{
			Sync:         "0 */15 * * * *",
			DailyReport:  "0 5 0 * * *",
			WeeklyReport: "0 10 0 * * MON",
			Detail:       "0 */5 * * * *",
		},
		Detail:    DetailConfig{IntervalHours: 60, PerRun: 1, BackoffMinutes: 30},
		HTTP:      HTTPConfig{Addr: ":8000"},
		Reports:   ReportConfig{TopN: 10},
		Alliances: []Alliance{},
	}
}

// Load reads, overrides and validates the configuration. An explicit path
// that does not exist is an error; a missing fallback is not.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ignoring unreadable .env file", "error", err)
	}

	cfg := Default()

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if resolved != "" {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", resolved, err)
		}
		cfg.Path = resolved
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if explicit {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}
	for _, p := range FallbackPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, a := range c.Alliances {
		if a.TestMode && a.TestDir == "" {
			return fmt.Errorf("invalid config: alliance %s: test_mode requires test_dir", a.ID)
		}
	}
	return nil
}

// Alliance returns the configured alliance with id.
func (c *Config) Alliance(id string) (Alliance, bool) {
	for _, a := range c.Alliances {
		if a.ID == id {
			return a, true
		}
	}
	return Alliance{}, false
}

// AlliancesForGuild returns the alliances a chat guild is linked to.
func (c *Config) AlliancesForGuild(guildID string) []Alliance {
	var out []Alliance
	for _, a := range c.Alliances {
		for _, g := range a.GuildIDs {
			if g == guildID {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// WebhookFor returns the alliance's webhook URL, falling back to the
// global one.
func (c *Config) WebhookFor(allianceID string) string {
	if a, ok := c.Alliance(allianceID); ok && a.WebhookURL != "" {
		return a.WebhookURL
	}
	return c.Webhook.URL
}

// SlogLevel maps Log.Level to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
