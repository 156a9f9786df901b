package config

type Quota struct {
	// The number of scan submissions allowed per window. The public scanning
	// API allows 4 requests per minute on the free tier.
	Capacity int `yaml:"capacity"`

	// The length of the replenishment window in seconds. Every window the
	// budget resets to Capacity regardless of how much of it was used.
	WindowSeconds int `yaml:"window_seconds"`

	// How long the dispatch worker sleeps, in milliseconds, when the queue is
	// empty or the budget is exhausted before looking again.
	IdlePollMS int `yaml:"idle_poll_ms"`
}

func (c *Quota) Defaults() {
	c.Capacity = 4
	c.WindowSeconds = 60
	c.IdlePollMS = 250
}

func (c *Quota) Verify(configErrs *ConfigErrors) {
	checkPositive(configErrs, "quota.capacity", int64(c.Capacity))
	checkPositive(configErrs, "quota.window_seconds", int64(c.WindowSeconds))
	checkPositive(configErrs, "quota.idle_poll_ms", int64(c.IdlePollMS))
}
