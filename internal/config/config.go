package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("invalid config")

const (
	DefaultRTMEndpoint = "https://api.rememberthemilk.com/services/rest/"
	DefaultLogFile     = "today.log"
)

// LogConfig selects level, encoding and destination for the logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info error"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
	// File receives log output. The dashboard owns the terminal, so the
	// run command never logs to stderr.
	File string `yaml:"file" json:"file"`
}

// CalendarSource is one named ICS calendar.
type CalendarSource struct {
	Name string `yaml:"name" json:"name" validate:"required"`
	// Calendar is a local file path or an http(s) URL.
	Calendar string `yaml:"calendar" json:"calendar" validate:"required"`
	// Color is a named terminal color ("deepskyblue3") or a hex triplet.
	Color string `yaml:"color" json:"color"`
}

type CalendarConfig struct {
	// Refresh is a cron-style schedule string (e.g. "@every 10m").
	Refresh string `yaml:"refresh" json:"refresh" validate:"schedule"`
	// ViewTTL is how long a built event view is reused.
	ViewTTL time.Duration `yaml:"view_ttl" json:"view_ttl" validate:"gte=0"`
	// HorizonDays is the number of future days to expand and display.
	HorizonDays int              `yaml:"horizon_days" json:"horizon_days" validate:"gte=1,lte=366"`
	Sources     []CalendarSource `yaml:"sources" json:"sources" validate:"unique=Name,dive"`
}

type TasksConfig struct {
	Refresh      string `yaml:"refresh" json:"refresh" validate:"schedule"`
	APIKey       string `yaml:"api_key" json:"api_key"`
	SharedSecret string `yaml:"shared_secret" json:"shared_secret" validate:"required_with=APIKey"`
	Token        string `yaml:"token" json:"token"`
	Endpoint     string `yaml:"endpoint" json:"endpoint" validate:"omitempty,url"`
	// RequiredLists are list names fetched individually each cycle.
	RequiredLists []string `yaml:"required_lists" json:"required_lists" validate:"dive,required"`
	// MinRequestSpacing is the minimum time between two API calls.
	MinRequestSpacing time.Duration `yaml:"min_request_spacing" json:"min_request_spacing" validate:"gte=0"`
}

// Enabled reports whether credentials for the task source are configured.
func (t TasksConfig) Enabled() bool {
	return t.APIKey != "" && t.SharedSecret != "" && t.Token != ""
}

// Replacement is a literal find/replace applied to transit descriptions.
type Replacement struct {
	Find    string `yaml:"find" json:"find" validate:"required"`
	Replace string `yaml:"replace" json:"replace"`
}

// TransitFeed is one schedule database and the journeys of interest in it.
type TransitFeed struct {
	Name           string        `yaml:"name" json:"name"`
	Database       string        `yaml:"database" json:"database" validate:"required"`
	DepartureStops []string      `yaml:"departure_stops" json:"departure_stops" validate:"min=1,dive,required"`
	ArrivalStops   []string      `yaml:"arrival_stops" json:"arrival_stops" validate:"min=1,dive,required"`
	Color          string        `yaml:"color" json:"color"`
	Replace        []Replacement `yaml:"replace" json:"replace" validate:"dive"`
}

type TransitConfig struct {
	Refresh string `yaml:"refresh" json:"refresh" validate:"schedule"`
	// ExtractMaxAge is how old extracted schedule data may get before it
	// is queried again.
	ExtractMaxAge time.Duration `yaml:"extract_max_age" json:"extract_max_age" validate:"gte=0"`
	Feeds         []TransitFeed `yaml:"feeds" json:"feeds" validate:"dive"`
}

// BasicAuth protects the status endpoint. Both fields must be set.
type BasicAuth struct {
	Username string `yaml:"username" json:"username" validate:"required_with=Password"`
	Password string `yaml:"password" json:"password" validate:"required_with=Username"`
}

// StatusConfig configures the optional read-only HTTP status endpoint.
type StatusConfig struct {
	// Listen is a host:port; empty disables the endpoint.
	Listen    string     `yaml:"listen" json:"listen" validate:"omitempty,hostname_port"`
	BasicAuth *BasicAuth `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA timezone used for display. Empty means the
	// system local zone.
	Timezone string `yaml:"timezone" json:"timezone" validate:"omitempty,timezone"`

	Log      LogConfig      `yaml:"log" json:"log"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Tasks    TasksConfig    `yaml:"tasks" json:"tasks"`
	Transit  TransitConfig  `yaml:"transit" json:"transit"`
	Status   StatusConfig   `yaml:"status" json:"status"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			File:   DefaultLogFile,
		},
		Calendar: CalendarConfig{
			Refresh:     "@every 10m",
			ViewTTL:     15 * time.Second,
			HorizonDays: 7,
			Sources:     []CalendarSource{},
		},
		Tasks: TasksConfig{
			Refresh:           "@every 1m",
			Endpoint:          DefaultRTMEndpoint,
			RequiredLists:     []string{},
			MinRequestSpacing: time.Second,
		},
		Transit: TransitConfig{
			Refresh:       "@every 10s",
			ExtractMaxAge: 24 * time.Hour,
			Feeds:         []TransitFeed{},
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}

	if c.Calendar.Refresh == "" {
		c.Calendar.Refresh = def.Calendar.Refresh
	}
	if c.Calendar.ViewTTL == 0 {
		c.Calendar.ViewTTL = def.Calendar.ViewTTL
	}
	if c.Calendar.HorizonDays <= 0 {
		c.Calendar.HorizonDays = def.Calendar.HorizonDays
	}
	if c.Calendar.Sources == nil {
		c.Calendar.Sources = []CalendarSource{}
	}
	for i := range c.Calendar.Sources {
		if c.Calendar.Sources[i].Color == "" {
			c.Calendar.Sources[i].Color = "white"
		}
	}

	if c.Tasks.Refresh == "" {
		c.Tasks.Refresh = def.Tasks.Refresh
	}
	if c.Tasks.Endpoint == "" {
		c.Tasks.Endpoint = def.Tasks.Endpoint
	}
	if c.Tasks.MinRequestSpacing == 0 {
		c.Tasks.MinRequestSpacing = def.Tasks.MinRequestSpacing
	}
	if c.Tasks.RequiredLists == nil {
		c.Tasks.RequiredLists = []string{}
	}

	if c.Transit.Refresh == "" {
		c.Transit.Refresh = def.Transit.Refresh
	}
	if c.Transit.ExtractMaxAge == 0 {
		c.Transit.ExtractMaxAge = def.Transit.ExtractMaxAge
	}
	if c.Transit.Feeds == nil {
		c.Transit.Feeds = []TransitFeed{}
	}
	for i := range c.Transit.Feeds {
		f := &c.Transit.Feeds[i]
		if f.Name == "" {
			f.Name = filepath.Base(f.Database)
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		spec := fl.Field().String()
		if spec == "" {
			return true
		}
		_, err := cron.ParseStandard(spec)
		return err == nil
	})
	return v
}

// Validate checks field constraints. The returned error wraps ErrInvalid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalid, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Location resolves Timezone, falling back to the system zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// OverrideDatabases points the transit feeds at the given database files.
// With one configured feed, that feed is repeated for every path;
// otherwise the number of paths must match the number of feeds.
func (c *Config) OverrideDatabases(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	feeds := c.Transit.Feeds
	switch {
	case len(feeds) == 1:
		out := make([]TransitFeed, 0, len(paths))
		for _, p := range paths {
			f := feeds[0]
			f.Database = p
			f.Name = filepath.Base(p)
			out = append(out, f)
		}
		c.Transit.Feeds = out
	case len(feeds) == len(paths):
		for i, p := range paths {
			c.Transit.Feeds[i].Database = p
		}
	default:
		return fmt.Errorf("%w: %d transit databases given for %d configured feeds", ErrInvalid, len(paths), len(feeds))
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600, since the file holds the
//     task source credentials.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".today-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save. The
// auth command uses it to store a freshly obtained token.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
