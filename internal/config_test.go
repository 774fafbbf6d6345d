package internal

import (
	"strings"
	"testing"
	"time"

	"github.com/starford/mrtrack/pkg/config"
)

func TestAuthConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AuthConfig
		enabled bool
		errSub  string
	}{
		{name: "disabled", cfg: AuthConfig{Mode: AuthModeDisabled}},
		{name: "empty mode defaults to disabled", cfg: AuthConfig{}},
		{name: "token", cfg: AuthConfig{Mode: AuthModeToken, Token: "s3cret"}, enabled: true},
		{name: "token without value", cfg: AuthConfig{Mode: AuthModeToken}, errSub: "token is empty"},
		{name: "unknown mode", cfg: AuthConfig{Mode: "ldap", Token: "x"}, errSub: "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.errSub != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errSub) {
					t.Fatalf("err = %v, want it to mention %q", err, tt.errSub)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if tt.cfg.Mode == "" {
				t.Error("mode left empty after Validate")
			}
			if tt.cfg.AuthEnabled() != tt.enabled {
				t.Errorf("AuthEnabled = %v, want %v", tt.cfg.AuthEnabled(), tt.enabled)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "auth checked", mutate: func(c *Config) { c.Auth = AuthConfig{Mode: AuthModeToken} }, wantErr: true},
		{name: "incoming required", mutate: func(c *Config) { c.Incoming.Path = "" }, wantErr: true},
		{name: "studies required", mutate: func(c *Config) { c.Studies.Dir = "" }, wantErr: true},
		{name: "catalog required", mutate: func(c *Config) { c.Catalog.Path = "" }, wantErr: true},
		{name: "port range", mutate: func(c *Config) { c.App.HTTP.Port = 70000 }, wantErr: true},
		{name: "negative settle", mutate: func(c *Config) { c.Incoming.Settle = -time.Second }, wantErr: true},
		{name: "settle over a minute", mutate: func(c *Config) { c.Incoming.Settle = 2 * time.Minute }, wantErr: true},
		{name: "zero settle", mutate: func(c *Config) { c.Incoming.Settle = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCatalogConfig_LockDefaultsNextToDB(t *testing.T) {
	cfg := CatalogConfig{Path: "/var/lib/mrtrack/catalog.db"}
	if got := cfg.Lock(); got != "/var/lib/mrtrack/catalog.db.lock" {
		t.Errorf("lock = %q", got)
	}
	cfg.LockPath = "/run/mrtrack.lock"
	if got := cfg.Lock(); got != "/run/mrtrack.lock" {
		t.Errorf("lock = %q", got)
	}
}

func TestConfig_DecodeYAML(t *testing.T) {
	t.Setenv("MRTRACK_TEST_TOKEN", "abc")
	doc := `
app:
  log_level: debug
  http:
    port: 9090
catalog:
  path: /tmp/mr.db
incoming:
  path: /srv/incoming
  watch: true
  settle: 1500ms
studies:
  dir: /etc/mrtrack/studies
auth:
  mode: token
  token: ${MRTRACK_TEST_TOKEN}
`
	cfg := NewDefaultConfig()
	if err := config.Decode([]byte(doc), cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Incoming.Settle != 1500*time.Millisecond {
		t.Errorf("settle = %v", cfg.Incoming.Settle)
	}
	if cfg.Auth.Token != "abc" || !cfg.Auth.AuthEnabled() {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.App.HTTP.Address() != ":9090" {
		t.Errorf("address = %q", cfg.App.HTTP.Address())
	}
}
