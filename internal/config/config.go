// Package config loads firm and transport settings from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults used when neither the YAML file nor the environment provides a value.
const (
	DefaultClioBaseURL      = "https://app.clio.com/api/v4"
	DefaultClioAuthorizeURL = "https://app.clio.com/oauth/authorize"
	DefaultClioTokenURL     = "https://app.clio.com/oauth/token"

	defaultInOfficeLink = "https://calendly.com/richards-law/in-office-consultation"
	defaultVirtualLink  = "https://calendly.com/richards-law/virtual-consultation"
)

// Config holds the full application configuration.
type Config struct {
	Firm       FirmConfig       `yaml:"firm"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Clio       ClioConfig       `yaml:"clio"`
}

// FirmConfig identifies the law firm in outbound mail and documents.
type FirmConfig struct {
	Name         string `yaml:"name"`
	Tagline      string `yaml:"tagline"`
	FromEmail    string `yaml:"from_email"`
	FromName     string `yaml:"from_name"`
	AttorneyName string `yaml:"attorney_name"`
}

// SchedulingConfig holds the consultation scheduling links.
type SchedulingConfig struct {
	InOfficeLink string `yaml:"in_office_link"`
	VirtualLink  string `yaml:"virtual_link"`
}

// SMTPConfig configures the outbound mail transport. When Username or
// Password is empty the notifier runs in preview mode and nothing is sent.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ClioConfig holds the case-management API endpoints. Overridable so tests
// and staging environments can point at a different host.
type ClioConfig struct {
	BaseURL      string `yaml:"base_url"`
	AuthorizeURL string `yaml:"authorize_url"`
	TokenURL     string `yaml:"token_url"`
}

// Load reads the YAML file at path (INTAKE_CONFIG or intake.yaml by default),
// fills in defaults, and applies environment overrides. A missing file is not
// an error: the defaults plus environment are enough to run.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("INTAKE_CONFIG")
	}
	if path == "" {
		path = "intake.yaml"
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Run on defaults.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Firm.Name == "" {
		c.Firm.Name = "Richards & Law"
	}
	if c.Firm.Tagline == "" {
		c.Firm.Tagline = "Personal Injury Attorneys"
	}
	if c.Firm.FromEmail == "" {
		c.Firm.FromEmail = "info@richardslaw.com"
	}
	if c.Firm.FromName == "" {
		c.Firm.FromName = c.Firm.Name
	}
	if c.Firm.AttorneyName == "" {
		c.Firm.AttorneyName = "Andrew Richards"
	}
	if c.Scheduling.InOfficeLink == "" {
		c.Scheduling.InOfficeLink = defaultInOfficeLink
	}
	if c.Scheduling.VirtualLink == "" {
		c.Scheduling.VirtualLink = defaultVirtualLink
	}
	if c.SMTP.Host == "" {
		c.SMTP.Host = "smtp.gmail.com"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Clio.BaseURL == "" {
		c.Clio.BaseURL = DefaultClioBaseURL
	}
	if c.Clio.AuthorizeURL == "" {
		c.Clio.AuthorizeURL = DefaultClioAuthorizeURL
	}
	if c.Clio.TokenURL == "" {
		c.Clio.TokenURL = DefaultClioTokenURL
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("FROM_EMAIL"); v != "" {
		c.Firm.FromEmail = v
	}
	if v := os.Getenv("FROM_NAME"); v != "" {
		c.Firm.FromName = v
	}
	if v := os.Getenv("CLIO_BASE_URL"); v != "" {
		c.Clio.BaseURL = v
	}
	if v := os.Getenv("CLIO_TOKEN_URL"); v != "" {
		c.Clio.TokenURL = v
	}
	if v := os.Getenv("IN_OFFICE_SCHEDULING_LINK"); v != "" {
		c.Scheduling.InOfficeLink = v
	}
	if v := os.Getenv("VIRTUAL_SCHEDULING_LINK"); v != "" {
		c.Scheduling.VirtualLink = v
	}
}
