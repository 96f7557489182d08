// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mailing list relay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultPollIntervalSec is how often list mailboxes are polled.
const defaultPollIntervalSec = 60

// Config holds the complete application configuration.
type Config struct {
	// Domain identifies this relay instance. It stamps outgoing
	// messages and is matched against incoming ones to break loops.
	Domain string `yaml:"domain"`

	Database  DatabaseConfig  `yaml:"database"`
	Poll      PollConfig      `yaml:"poll"`
	Folders   FoldersConfig   `yaml:"folders"`
	Transport TransportConfig `yaml:"transport"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	SES       SESConfig       `yaml:"ses"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PollConfig holds mailbox polling configuration.
type PollConfig struct {
	IntervalSec int `yaml:"interval_sec"`
}

// FoldersConfig names the IMAP folders processed messages are filed into.
type FoldersConfig struct {
	Processed string `yaml:"processed"`
	Sent      string `yaml:"sent"`
	Bounces   string `yaml:"bounces"`
	Denied    string `yaml:"denied"`
	Duplicate string `yaml:"duplicate"`
}

// TransportConfig selects the outgoing delivery mechanism.
type TransportConfig struct {
	// Name is one of "smtp", "ses", or "stdout".
	Name string `yaml:"name"`
}

// SMTPConfig holds smarthost configuration for the SMTP transport.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// TLS is one of "implicit", "starttls", or "off".
	TLS string `yaml:"tls"`

	// Hostname is announced in EHLO.
	Hostname string `yaml:"hostname"`
}

// SESConfig holds AWS SES API configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// TLSConfig holds client-side TLS options for IMAP and SMTP connections.
type TLSConfig struct {
	// CAFile points at a PEM bundle of additional trusted roots.
	CAFile string `yaml:"ca_file"`

	// InsecureSkipVerify disables certificate verification. Development
	// only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, cfg.validate()
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, cfg.validate()
}

// SESConfigured returns true if the SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// SMTPConfigured returns true if the smarthost address is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Database.Path = "castmail2list.db"
	c.Poll.IntervalSec = defaultPollIntervalSec
	c.Folders.Processed = "Processed"
	c.Folders.Sent = "Sent"
	c.Folders.Bounces = "Bounces"
	c.Folders.Denied = "Denied"
	c.Folders.Duplicate = "Duplicate"
	c.Transport.Name = "stdout"
	c.SMTP.Port = 465
	c.SMTP.TLS = "implicit"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("LIST_DOMAIN"); v != "" {
		c.Domain = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("POLL_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			c.Poll.IntervalSec = sec
		}
	}

	if v := os.Getenv("FOLDER_PROCESSED"); v != "" {
		c.Folders.Processed = v
	}
	if v := os.Getenv("FOLDER_SENT"); v != "" {
		c.Folders.Sent = v
	}
	if v := os.Getenv("FOLDER_BOUNCES"); v != "" {
		c.Folders.Bounces = v
	}
	if v := os.Getenv("FOLDER_DENIED"); v != "" {
		c.Folders.Denied = v
	}
	if v := os.Getenv("FOLDER_DUPLICATE"); v != "" {
		c.Folders.Duplicate = v
	}

	if v := os.Getenv("TRANSPORT"); v != "" {
		c.Transport.Name = strings.ToLower(v)
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_TLS"); v != "" {
		c.SMTP.TLS = strings.ToLower(v)
	}
	if v := os.Getenv("SMTP_HOSTNAME"); v != "" {
		c.SMTP.Hostname = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}

	if v := os.Getenv("TLS_CA_FILE"); v != "" {
		c.TLS.CAFile = v
	}
	if v := os.Getenv("TLS_INSECURE_SKIP_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.TLS.InsecureSkipVerify = b
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// validate rejects configurations the relay cannot run with.
func (c *Config) validate() error {
	if c.Domain == "" {
		return fmt.Errorf("domain is required (set LIST_DOMAIN or domain in the config file)")
	}

	switch c.Transport.Name {
	case "smtp":
		if !c.SMTPConfigured() {
			return fmt.Errorf("smtp transport selected but smtp.host is not set")
		}
	case "ses":
		if !c.SESConfigured() {
			return fmt.Errorf("ses transport selected but ses.region is not set")
		}
	case "stdout":
	default:
		return fmt.Errorf("unknown transport %q", c.Transport.Name)
	}

	if c.Poll.IntervalSec <= 0 {
		return fmt.Errorf("poll interval must be positive, got %d", c.Poll.IntervalSec)
	}

	return nil
}
