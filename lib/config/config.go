// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/sealed"
)

// EnvironmentVariable names the config file when no --config flag is
// given.
const EnvironmentVariable = "JENKINS_PROXY_CONFIG"

// Config is the jenkins-proxy configuration.
type Config struct {
	// Listen is the HTTP listen address for webhooks and manual builds.
	Listen string `yaml:"listen"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	Jenkins     JenkinsConfig     `yaml:"jenkins"`
	GitHub      GitHubConfig      `yaml:"github"`
	Store       StoreConfig       `yaml:"store"`
	Poller      PollerConfig      `yaml:"poller"`
	Credentials CredentialsConfig `yaml:"credentials"`

	// Defaults are inherited by every profile that leaves the field
	// empty.
	Defaults ProfileDefaults `yaml:"defaults"`

	Profiles []ProfileConfig `yaml:"profiles"`
}

// JenkinsConfig locates and authenticates to Jenkins.
type JenkinsConfig struct {
	BaseURL  string `yaml:"base_url"`
	User     string `yaml:"user"`
	APIToken string `yaml:"api_token"`

	// CrumbIssuer sends a CSRF crumb with every POST.
	CrumbIssuer bool `yaml:"crumb_issuer"`
}

// GitHubConfig authenticates to GitHub and verifies its webhooks.
type GitHubConfig struct {
	// BaseURL defaults to https://api.github.com.
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	// WebhookSecret verifies X-Hub-Signature-256. Empty accepts
	// unsigned deliveries.
	WebhookSecret string `yaml:"webhook_secret"`

	UserAgent string `yaml:"user_agent"`
}

// StoreConfig configures the durable task database.
type StoreConfig struct {
	Path string `yaml:"path"`

	// PayloadCompression is zstd (default), lz4 or none.
	PayloadCompression string `yaml:"payload_compression"`
}

// PollerConfig tunes the lifecycle poller's requeue delays.
type PollerConfig struct {
	ShortDelay time.Duration `yaml:"short_delay"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// CredentialsConfig points at an age-sealed credentials file.
type CredentialsConfig struct {
	// IdentityFile holds the age X25519 identity that decrypts
	// SealedFile.
	IdentityFile string `yaml:"identity_file"`
	SealedFile   string `yaml:"sealed_file"`
}

// ProfileDefaults are profile fields shared by every profile.
type ProfileDefaults struct {
	TriggerPhrase  string            `yaml:"trigger_phrase"`
	NotifyEndpoint string            `yaml:"notify_endpoint"`
	Members        map[string]string `yaml:"members"`
}

// ProfileConfig is one monitored repository.
type ProfileConfig struct {
	Owner          string                   `yaml:"owner"`
	Name           string                   `yaml:"name"`
	Projects       []string                 `yaml:"projects"`
	Queue          string                   `yaml:"queue"`
	RefHooks       map[string]RefHookConfig `yaml:"ref_hooks"`
	TriggerPhrase  string                   `yaml:"trigger_phrase"`
	NotifyEndpoint string                   `yaml:"notify_endpoint"`
	Members        map[string]string        `yaml:"members"`
	Schedules      []ScheduleConfig         `yaml:"schedules"`
}

// RefHookConfig is the action for pushes to one ref.
type RefHookConfig struct {
	BuildBranch string `yaml:"build_branch"`
}

// ScheduleConfig builds Branch whenever Cron fires.
type ScheduleConfig struct {
	Cron   string `yaml:"cron"`
	Branch string `yaml:"branch"`
}

// Default returns the configuration used for anything the file does
// not set.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		Jenkins: JenkinsConfig{
			BaseURL:     "http://localhost:8081",
			CrumbIssuer: true,
		},
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
		},
		Store: StoreConfig{
			Path:               "jenkins-proxy.db",
			PayloadCompression: "zstd",
		},
		Poller: PollerConfig{
			ShortDelay: 5 * time.Second,
			RetryDelay: time.Second,
		},
		Defaults: ProfileDefaults{
			TriggerPhrase: "jenkins test this",
		},
	}
}

// Load loads the file named by JENKINS_PROXY_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads the configuration at path on top of [Default]. The
// format is chosen by extension. The result is not validated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := cfg.loadLegacy(data); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in secret and
// path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	for _, field := range []*string{
		&c.Listen,
		&c.Jenkins.BaseURL,
		&c.Jenkins.User,
		&c.Jenkins.APIToken,
		&c.GitHub.BaseURL,
		&c.GitHub.Token,
		&c.GitHub.WebhookSecret,
		&c.Store.Path,
		&c.Credentials.IdentityFile,
		&c.Credentials.SealedFile,
		&c.Defaults.NotifyEndpoint,
	} {
		*field = expandVars(*field, vars)
	}
	for index := range c.Profiles {
		c.Profiles[index].NotifyEndpoint = expandVars(c.Profiles[index].NotifyEndpoint, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, preferring
// vars over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Credentials are secrets that may be supplied sealed instead of in
// the config file.
type Credentials struct {
	GitHubToken     string `yaml:"github_token"`
	JenkinsAPIToken string `yaml:"jenkins_api_token"`
	WebhookSecret   string `yaml:"webhook_secret"`

	// SlackEndpoint replaces the default notification endpoint.
	SlackEndpoint string `yaml:"slack_endpoint"`
}

// ApplyCredentials overrides config values with every non-empty
// credential.
func (c *Config) ApplyCredentials(credentials Credentials) {
	if credentials.GitHubToken != "" {
		c.GitHub.Token = credentials.GitHubToken
	}
	if credentials.JenkinsAPIToken != "" {
		c.Jenkins.APIToken = credentials.JenkinsAPIToken
	}
	if credentials.WebhookSecret != "" {
		c.GitHub.WebhookSecret = credentials.WebhookSecret
	}
	if credentials.SlackEndpoint != "" {
		c.Defaults.NotifyEndpoint = credentials.SlackEndpoint
	}
}

// UnsealCredentials decrypts the sealed credentials file, when one is
// configured, and applies it with ApplyCredentials.
func (c *Config) UnsealCredentials() error {
	if c.Credentials.SealedFile == "" {
		return nil
	}
	plaintext, err := sealed.UnsealFile(c.Credentials.IdentityFile, c.Credentials.SealedFile)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	var credentials Credentials
	if err := yaml.Unmarshal(plaintext, &credentials); err != nil {
		return fmt.Errorf("credentials: parsing %s: %w", c.Credentials.SealedFile, err)
	}
	c.ApplyCredentials(credentials)
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("jenkins.base_url", c.Jenkins.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("github.base_url", c.GitHub.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.GitHub.Token == "" {
		errs = append(errs, errors.New("github.token is required"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	switch c.Store.PayloadCompression {
	case "", "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("store.payload_compression must be zstd, lz4 or none, got %q", c.Store.PayloadCompression))
	}
	if c.Poller.ShortDelay < 0 || c.Poller.RetryDelay < 0 {
		errs = append(errs, errors.New("poller delays must not be negative"))
	}
	if (c.Credentials.IdentityFile == "") != (c.Credentials.SealedFile == "") {
		errs = append(errs, errors.New("credentials.identity_file and credentials.sealed_file must be set together"))
	}
	if len(c.Profiles) == 0 {
		errs = append(errs, errors.New("at least one profile is required"))
	}
	if _, err := profile.NewRegistry(c.ProfileList()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateURL(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL, got %q", field, value)
	}
	return nil
}

// ProfileList converts the configured profiles, filling empty fields
// from Defaults.
func (c *Config) ProfileList() []profile.Profile {
	profiles := make([]profile.Profile, 0, len(c.Profiles))
	for _, pc := range c.Profiles {
		converted := profile.Profile{
			Owner:          pc.Owner,
			Name:           pc.Name,
			Projects:       pc.Projects,
			Queue:          pc.Queue,
			TriggerPhrase:  pc.TriggerPhrase,
			NotifyEndpoint: pc.NotifyEndpoint,
			Members:        make(map[string]string),
		}
		if converted.TriggerPhrase == "" {
			converted.TriggerPhrase = c.Defaults.TriggerPhrase
		}
		if converted.NotifyEndpoint == "" {
			converted.NotifyEndpoint = c.Defaults.NotifyEndpoint
		}
		for login, mention := range c.Defaults.Members {
			converted.Members[login] = mention
		}
		for login, mention := range pc.Members {
			converted.Members[login] = mention
		}
		if len(pc.RefHooks) > 0 {
			converted.RefHooks = make(map[string]profile.RefHook, len(pc.RefHooks))
			for ref, hook := range pc.RefHooks {
				converted.RefHooks[ref] = profile.RefHook{BuildBranch: hook.BuildBranch}
			}
		}
		for _, schedule := range pc.Schedules {
			converted.Schedules = append(converted.Schedules, profile.Schedule{
				Cron:   schedule.Cron,
				Branch: schedule.Branch,
			})
		}
		profiles = append(profiles, converted)
	}
	return profiles
}

// Registry builds the profile registry.
func (c *Config) Registry() (*profile.Registry, error) {
	return profile.NewRegistry(c.ProfileList())
}
