package config

type URLCheck struct {
	// Endpoint of the URL reputation service, e.g.
	// https://safebrowsing.googleapis.com/v4/threatMatches:find
	APIURL string `yaml:"api_url"`

	// API key appended to lookup requests.
	APIKey string `yaml:"api_key"`

	// Timeout in seconds applied to a single lookup.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// How long, in seconds, a clean verdict for a URL may be reused before
	// the reputation service is asked again. Threat verdicts are never cached.
	CleanCacheTTLSeconds int `yaml:"clean_cache_ttl_seconds"`
}

func (c *URLCheck) Defaults() {
	c.APIURL = "https://safebrowsing.googleapis.com/v4/threatMatches:find"
	c.RequestTimeoutSeconds = 30
	c.CleanCacheTTLSeconds = 300
}

func (c *URLCheck) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "url_check.api_url", c.APIURL)
	checkNotEmpty(configErrs, "url_check.api_key", c.APIKey)
	checkPositive(configErrs, "url_check.request_timeout_seconds", int64(c.RequestTimeoutSeconds))
	checkPositive(configErrs, "url_check.clean_cache_ttl_seconds", int64(c.CleanCacheTTLSeconds))
}

type Classifier struct {
	// Endpoint of the spam classifier's scoring API. The classifier runs as
	// its own process; this service only ever sees scores, never the model.
	ScoreURL string `yaml:"score_url"`

	// Timeout in seconds applied to a single scoring call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

func (c *Classifier) Defaults() {
	c.ScoreURL = "http://localhost:8500/score"
	c.RequestTimeoutSeconds = 10
}

func (c *Classifier) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "classifier.score_url", c.ScoreURL)
	checkPositive(configErrs, "classifier.request_timeout_seconds", int64(c.RequestTimeoutSeconds))
}
