package config

type Webhook struct {
	// Address the HTTP entrypoint listens on.
	ListenAddress string `yaml:"listen_address"`

	// URL moderation actions (deletes, notifications) are POSTed back to.
	// When empty, actions are logged and dropped.
	ActionCallbackURL string `yaml:"action_callback_url"`

	// Rate-limiting options for the ingest endpoint.
	RateLimiting RateLimiting `yaml:"rate_limiting"`
}

func (c *Webhook) Defaults() {
	c.ListenAddress = ":8480"
	c.RateLimiting.Defaults()
}

func (c *Webhook) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "webhook.listen_address", c.ListenAddress)
	c.RateLimiting.Verify(configErrs)
}

type RateLimiting struct {
	// Is rate limiting enabled or disabled?
	Enabled bool `yaml:"enabled"`

	// How many "slots" a sender can take up before further messages from
	// them are dropped instead of evaluated.
	Threshold int64 `yaml:"threshold"`

	// The cooloff period in milliseconds after which those slots will
	// be given back.
	CooloffMS int64 `yaml:"cooloff_ms"`
}

func (r *RateLimiting) Defaults() {
	r.Enabled = true
	r.Threshold = 20
	r.CooloffMS = 1000
}

func (r *RateLimiting) Verify(configErrs *ConfigErrors) {
	if r.Enabled {
		checkPositive(configErrs, "webhook.rate_limiting.threshold", r.Threshold)
		checkPositive(configErrs, "webhook.rate_limiting.cooloff_ms", r.CooloffMS)
	}
}
