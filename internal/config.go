package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/spamm/internal/component"
	"github.com/starford/spamm/internal/fitservice"
	"github.com/starford/spamm/internal/sampler"
	"github.com/starford/spamm/internal/templates"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App              ApplicationConfig                `yaml:"app"`
	SQLite           SQLiteConfig                     `yaml:"sqlite"`
	Auth             AuthConfig                       `yaml:"auth"`
	Templates        TemplatesConfig                  `yaml:"templates"`
	Sampler          sampler.Config                   `yaml:"sampler"`
	NuclearContinuum component.NuclearContinuumConfig `yaml:"nuclear_continuum"`
	HostGalaxy       component.HostGalaxyConfig       `yaml:"host_galaxy"`
	FeForest         component.FeForestConfig         `yaml:"fe_forest"`
	BalmerContinuum  component.BalmerContinuumConfig  `yaml:"balmer_continuum"`
	Extinction       component.ExtinctionConfig       `yaml:"extinction"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Templates.Validate(); err != nil {
		return err
	}
	return c.ValidateFit()
}

// ValidateFit validates only the sections a fit needs: the sampler, the
// component priors and the template sets they reference.
func (c *Config) ValidateFit() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"sampler", &c.Sampler},
		{"nuclear_continuum", &c.NuclearContinuum},
		{"host_galaxy", &c.HostGalaxy},
		{"fe_forest", &c.FeForest},
		{"balmer_continuum", &c.BalmerContinuum},
		{"extinction", &c.Extinction},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// FitSettings returns the component priors and sampler defaults handed to
// the fit service.
func (c *Config) FitSettings() fitservice.Settings {
	return fitservice.Settings{
		NuclearContinuum: c.NuclearContinuum,
		HostGalaxy:       c.HostGalaxy,
		FeForest:         c.FeForest,
		BalmerContinuum:  c.BalmerContinuum,
		Extinction:       c.Extinction,
		Sampler:          c.Sampler,
	}
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// TemplatesConfig locates the template library and its named sets.
type TemplatesConfig struct {
	Root  string         `yaml:"root"`
	Watch bool           `yaml:"watch"`
	Sets  templates.Sets `yaml:"sets"`
}

// Validate validates the templates configuration.
func (c *TemplatesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Sets, validation.By(func(any) error {
			for kind, sets := range c.Sets {
				for name, list := range sets {
					if list == "" {
						return fmt.Errorf("set %s/%s has no list file", kind, name)
					}
				}
			}
			return nil
		})),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	settings := fitservice.DefaultSettings()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./spamm.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Templates: TemplatesConfig{
			Root:  "./templates",
			Watch: true,
			Sets: templates.Sets{
				"host_galaxy": {"default": "host/list.txt"},
				"fe_forest":   {"default": "fe/list.txt"},
			},
		},
		Sampler:          settings.Sampler,
		NuclearContinuum: settings.NuclearContinuum,
		HostGalaxy:       settings.HostGalaxy,
		FeForest:         settings.FeForest,
		BalmerContinuum:  settings.BalmerContinuum,
		Extinction:       settings.Extinction,
	}
}
