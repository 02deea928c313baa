package memberid

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMembershipGroup = "mitglieder"
	defaultAppValidity     = 72 * time.Hour
	defaultFetchTimeout    = 5 * time.Second
	defaultMaxFieldLength  = 64
)

// Environment variables consulted by FromEnv and LoadConfig.
const (
	EnvJWKSURL         = "JWKS_URL"
	EnvAudience        = "EXPECTED_AUDIENCE"
	EnvSigningKey      = "QR_PRIVATE_KEY_HEX"
	EnvMembershipGroup = "MEMBERSHIP_GROUP"
	EnvAppValidity     = "APP_VALIDITY"
	EnvFetchTimeout    = "JWKS_FETCH_TIMEOUT"
)

// Config holds every setting the credential pipeline consumes.
type Config struct {
	JWKSURL         string        `yaml:"jwks_url"`
	Audience        string        `yaml:"audience"`
	SigningKeyHex   string        `yaml:"signing_key_hex"`
	MembershipGroup string        `yaml:"membership_group"`
	AppValidity     time.Duration `yaml:"app_validity"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	ClockSkew       time.Duration `yaml:"clock_skew"`
	MaxFieldLength  int           `yaml:"max_field_length"`
	CoalesceFetches bool          `yaml:"coalesce_fetches"`
}

// normalize sets default values for optional fields.
func (c *Config) normalize() {
	c.JWKSURL = strings.TrimSpace(c.JWKSURL)
	c.Audience = strings.TrimSpace(c.Audience)
	c.SigningKeyHex = strings.TrimSpace(c.SigningKeyHex)
	if c.MembershipGroup == "" {
		c.MembershipGroup = defaultMembershipGroup
	}
	if c.AppValidity <= 0 {
		c.AppValidity = defaultAppValidity
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.ClockSkew < 0 {
		c.ClockSkew = 0
	}
	if c.MaxFieldLength <= 0 {
		c.MaxFieldLength = defaultMaxFieldLength
	}
}

// validate ensures the configuration is usable.
func (c Config) validate() error {
	if err := c.validateUpstream(); err != nil {
		return err
	}
	if c.SigningKeyHex == "" {
		return newError(ErrCodeConfig, errors.New("signing key is required"))
	}
	return nil
}

// validateUpstream checks the settings the token verifier needs.
func (c Config) validateUpstream() error {
	switch {
	case c.JWKSURL == "":
		return newError(ErrCodeConfig, errors.New("jwks url is required"))
	case c.Audience == "":
		return newError(ErrCodeConfig, errors.New("expected audience is required"))
	}
	return nil
}

// Validate normalizes a copy of c and reports the first missing required setting.
func (c Config) Validate() error {
	c.normalize()
	return c.validate()
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

// LoadConfig reads a YAML config file and applies environment overrides on top.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, newError(ErrCodeConfig, fmt.Errorf("read %s: %w", path, err))
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, newError(ErrCodeConfig, fmt.Errorf("parse %s: %w", path, err))
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvJWKSURL); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv(EnvAudience); v != "" {
		cfg.Audience = v
	}
	if v := os.Getenv(EnvSigningKey); v != "" {
		cfg.SigningKeyHex = v
	}
	if v := os.Getenv(EnvMembershipGroup); v != "" {
		cfg.MembershipGroup = v
	}
	if v := os.Getenv(EnvAppValidity); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return newError(ErrCodeConfig, fmt.Errorf("%s: %w", EnvAppValidity, err))
		}
		cfg.AppValidity = d
	}
	if v := os.Getenv(EnvFetchTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return newError(ErrCodeConfig, fmt.Errorf("%s: %w", EnvFetchTimeout, err))
		}
		cfg.FetchTimeout = d
	}
	return nil
}
