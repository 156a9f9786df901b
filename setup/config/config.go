package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Sentinel is the top-level configuration for the moderation orchestrator.
// Each section owns its own defaults and verification.
type Sentinel struct {
	Global     Global     `yaml:"global"`
	Quota      Quota      `yaml:"quota"`
	Scan       Scan       `yaml:"scan"`
	URLCheck   URLCheck   `yaml:"url_check"`
	Classifier Classifier `yaml:"classifier"`
	Webhook    Webhook    `yaml:"webhook"`
}

type Global struct {
	// Logging level passed to logrus: one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Report non-actionable upstream failures to Sentry when a DSN is set.
	SentryDSN string `yaml:"sentry_dsn"`
}

func (c *Global) Defaults() {
	c.LogLevel = "info"
}

func (c *Global) Verify(configErrs *ConfigErrors) {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %q", "global.log_level", c.LogLevel))
	}
}

func (c *Sentinel) Defaults() {
	c.Global.Defaults()
	c.Quota.Defaults()
	c.Scan.Defaults()
	c.URLCheck.Defaults()
	c.Classifier.Defaults()
	c.Webhook.Defaults()
}

func (c *Sentinel) Verify(configErrs *ConfigErrors) {
	c.Global.Verify(configErrs)
	c.Quota.Verify(configErrs)
	c.Scan.Verify(configErrs)
	c.URLCheck.Verify(configErrs)
	c.Classifier.Verify(configErrs)
	c.Webhook.Verify(configErrs)
}

// Load reads and verifies a YAML config file, applying defaults for any
// section left unset.
func Load(path string) (*Sentinel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return loadConfig(data)
}

func loadConfig(data []byte) (*Sentinel, error) {
	var c Sentinel
	c.Defaults()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	var configErrs ConfigErrors
	c.Verify(&configErrs)
	if len(configErrs) > 0 {
		return nil, configErrs
	}
	return &c, nil
}

// ConfigErrors collects problems found during Verify so that all of them can
// be reported at once instead of one per restart.
type ConfigErrors []string

func (errs *ConfigErrors) Add(str string) {
	*errs = append(*errs, str)
}

func (errs ConfigErrors) Error() string {
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Sprintf(
		"%s (and %d other problems)", errs[0], len(errs)-1,
	)
}

// checkNotEmpty verifies the given value is not empty in the configuration.
// If it is, adds an error to the list.
func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}

// checkPositive verifies the given value is positive (zero included)
// in the configuration. If it is not, adds an error to the list.
func checkPositive(configErrs *ConfigErrors, key string, value int64) {
	if value < 0 {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %d", key, value))
	}
}
