package config

type Scan struct {
	// Base URL of the file scanning service, e.g.
	// https://www.virustotal.com/api/v3
	BaseURL string `yaml:"base_url"`

	// API key sent with every request to the scanning service.
	APIKey string `yaml:"api_key"`

	// Timeout in seconds applied to a single submit or poll HTTP call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// How many times to poll an analysis before giving up on it.
	PollMaxAttempts int `yaml:"poll_max_attempts"`

	// Delay in seconds between poll attempts.
	PollDelaySeconds int `yaml:"poll_delay_seconds"`

	// The maximum artifact size in bytes accepted for scanning.
	// Note: if max_file_size_bytes is set to 0, the size is unlimited.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`
}

// DefaultMaxScanSizeBytes matches the upload ceiling of the scanning
// service's basic tier (32MB).
var DefaultMaxScanSizeBytes = int64(33554432)

func (c *Scan) Defaults() {
	c.BaseURL = "https://www.virustotal.com/api/v3"
	c.RequestTimeoutSeconds = 30
	c.PollMaxAttempts = 20
	c.PollDelaySeconds = 3
	c.MaxFileSizeBytes = DefaultMaxScanSizeBytes
}

func (c *Scan) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "scan.base_url", c.BaseURL)
	checkNotEmpty(configErrs, "scan.api_key", c.APIKey)
	checkPositive(configErrs, "scan.request_timeout_seconds", int64(c.RequestTimeoutSeconds))
	checkPositive(configErrs, "scan.poll_max_attempts", int64(c.PollMaxAttempts))
	checkPositive(configErrs, "scan.poll_delay_seconds", int64(c.PollDelaySeconds))
	checkPositive(configErrs, "scan.max_file_size_bytes", c.MaxFileSizeBytes)
}
