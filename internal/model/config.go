package model

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrConfig marks configuration errors detected before any side effect
var ErrConfig = errors.New("invalid configuration")

// Config holds the complete qverify configuration
type Config struct {
	Input         string          `yaml:"input" mapstructure:"input"`
	OutputDir     string          `yaml:"output_dir" mapstructure:"output_dir"`
	TargetVersion string          `yaml:"target_version" mapstructure:"target_version"`
	Endpoint      EndpointConfig  `yaml:"endpoint" mapstructure:"endpoint"`
	Source        SourceConfig    `yaml:"source" mapstructure:"source"`
	Provision     ProvisionConfig `yaml:"provision" mapstructure:"provision"`
	Verify        VerifyConfig    `yaml:"verify" mapstructure:"verify"`
	Suppress      SuppressConfig  `yaml:"suppress" mapstructure:"suppress"`
	Cache         CacheConfig     `yaml:"cache" mapstructure:"cache"`
}

// EndpointConfig is an externally supplied database endpoint
type EndpointConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// SourceConfig controls statement extraction
type SourceConfig struct {
	BoltPort        int    `yaml:"bolt_port" mapstructure:"bolt_port"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	CSVSkipHeader   bool   `yaml:"csv_skip_header" mapstructure:"csv_skip_header"`
	CSVMaxFieldSize int    `yaml:"csv_max_field_size" mapstructure:"csv_max_field_size"`
	MaxLineSize     int    `yaml:"max_line_size" mapstructure:"max_line_size"`
}

// ProvisionConfig controls the ephemeral database container
type ProvisionConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Edition        string        `yaml:"edition" mapstructure:"edition"` // community or enterprise
	Image          string        `yaml:"image" mapstructure:"image"`     // overrides neo4j:<version>[-enterprise]
	BoltPort       int           `yaml:"bolt_port" mapstructure:"bolt_port"`
	HTTPPort       int           `yaml:"http_port" mapstructure:"http_port"`
	Plugins        bool          `yaml:"plugins" mapstructure:"plugins"`
	HealthInterval time.Duration `yaml:"health_interval" mapstructure:"health_interval"`
	HealthTimeout  time.Duration `yaml:"health_timeout" mapstructure:"health_timeout"`
	StrictHealth   bool          `yaml:"strict_health" mapstructure:"strict_health"`
	Keep           bool          `yaml:"keep" mapstructure:"keep"`
}

// VerifyConfig controls the verification engine
type VerifyConfig struct {
	Workers          int           `yaml:"workers" mapstructure:"workers"`
	RateLimit        float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // statements per second, 0 disables
	RateBurst        int           `yaml:"rate_burst" mapstructure:"rate_burst"`
	StatementTimeout time.Duration `yaml:"statement_timeout" mapstructure:"statement_timeout"`
}

// SuppressConfig selects the notification codes excluded from reports
type SuppressConfig struct {
	Defaults bool     `yaml:"defaults" mapstructure:"defaults"`
	Codes    []string `yaml:"codes" mapstructure:"codes"`
}

// CacheConfig controls the analysis outcome cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	cacheDir := ".qverify-cache"
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".qverify", "cache")
	}

	return &Config{
		OutputDir: ".",
		Endpoint: EndpointConfig{
			Username: "neo4j",
		},
		Source: SourceConfig{
			BoltPort:        7687,
			Prefix:          "query",
			CSVMaxFieldSize: 256 << 20,
			MaxLineSize:     64 << 20,
		},
		Provision: ProvisionConfig{
			Edition:        "community",
			BoltPort:       7687,
			HTTPPort:       7474,
			Plugins:        true,
			HealthInterval: 5 * time.Second,
			HealthTimeout:  300 * time.Second,
		},
		Verify: VerifyConfig{
			Workers:          1,
			RateBurst:        1,
			StatementTimeout: 30 * time.Second,
		},
		Suppress: SuppressConfig{
			Defaults: true,
		},
		Cache: CacheConfig{
			Dir: cacheDir,
			TTL: 7 * 24 * time.Hour,
		},
	}
}

// SuppressionSet builds the immutable suppression set for this run
func (c *Config) SuppressionSet() SuppressionSet {
	var codes []string
	if c.Suppress.Defaults {
		codes = append(codes, DefaultSuppressedCodes...)
	}
	codes = append(codes, c.Suppress.Codes...)
	return NewSuppressionSet(codes...)
}

// Validate runs the pre-flight checks. Every returned error wraps ErrConfig.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Input) == "" {
		return errors.Wrap(ErrConfig, "input path is required")
	}

	hasEndpoint := c.Endpoint.URI != ""
	switch {
	case hasEndpoint && c.Provision.Enabled:
		return errors.Wrap(ErrConfig, "an external endpoint (--uri) and a provisioned instance (--provision) are mutually exclusive")
	case !hasEndpoint && !c.Provision.Enabled:
		return errors.Wrap(ErrConfig, "either an external endpoint (--uri) or a provisioned instance (--provision) is required")
	}

	if c.Provision.Enabled {
		if c.TargetVersion == "" && c.Provision.Image == "" {
			return errors.Wrap(ErrConfig, "provisioning requires a target version (--neo4j-version) or an image")
		}
		switch c.Provision.Edition {
		case "community", "enterprise":
		default:
			return errors.Wrapf(ErrConfig, "unknown edition %q (community, enterprise)", c.Provision.Edition)
		}
		if err := validatePort("provision.bolt_port", c.Provision.BoltPort); err != nil {
			return err
		}
		if err := validatePort("provision.http_port", c.Provision.HTTPPort); err != nil {
			return err
		}
		if c.Provision.BoltPort == c.Provision.HTTPPort {
			return errors.Wrap(ErrConfig, "provision.bolt_port and provision.http_port must differ")
		}
		if c.Provision.HealthInterval <= 0 || c.Provision.HealthTimeout <= 0 {
			return errors.Wrap(ErrConfig, "health interval and timeout must be positive")
		}
	}

	if err := validatePort("source.bolt_port", c.Source.BoltPort); err != nil {
		return err
	}
	if c.Verify.Workers < 1 {
		return errors.Wrapf(ErrConfig, "verify.workers must be at least 1, got %d", c.Verify.Workers)
	}
	if c.Verify.RateLimit < 0 {
		return errors.Wrapf(ErrConfig, "verify.rate_limit must not be negative, got %v", c.Verify.RateLimit)
	}
	return nil
}

// MajorVersion returns the leading numeric component of a version such as
// 5.26.0 or 2025.01, or 0 when there is none
func MajorVersion(version string) int {
	major, _, _ := strings.Cut(strings.TrimSpace(version), ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return n
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return errors.Wrapf(ErrConfig, "%s out of range: %d", name, port)
	}
	return nil
}
