package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Catalog  CatalogConfig     `yaml:"catalog"`
	Incoming IncomingConfig    `yaml:"incoming"`
	Studies  StudiesConfig     `yaml:"studies"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Catalog.Validate(); err != nil {
		return err
	}
	if err := c.Incoming.Validate(); err != nil {
		return err
	}
	if err := c.Studies.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
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

// CatalogConfig locates the SQLite scan catalog. Only one process may write
// the catalog at a time; LockPath defaults to Path + ".lock".
type CatalogConfig struct {
	Path     string `yaml:"path"`
	LockPath string `yaml:"lock_path"`
}

// Lock returns the lock file path.
func (c *CatalogConfig) Lock() string {
	if c.LockPath != "" {
		return c.LockPath
	}
	return c.Path + ".lock"
}

// Validate validates the catalog configuration.
func (c *CatalogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// IncomingConfig is the scanner export directory that gets catalogued and
// watched. A file is catalogued once it has seen no writes for Settle.
type IncomingConfig struct {
	Path   string        `yaml:"path"`
	Watch  bool          `yaml:"watch"`
	Settle time.Duration `yaml:"settle"`
}

// Validate validates the incoming configuration.
func (c *IncomingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Settle, validation.Min(time.Duration(0)), validation.Max(time.Minute)),
	)
}

// StudiesConfig is the directory holding one YAML file per study.
type StudiesConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the studies configuration.
func (c *StudiesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
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
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Catalog: CatalogConfig{
			Path: "./mrtrack.db",
		},
		Incoming: IncomingConfig{
			Path:   "./incoming",
			Watch:  true,
			Settle: 2 * time.Second,
		},
		Studies: StudiesConfig{
			Dir: "./studies",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
