package webhook

import (
	"net/http"
	"sync"
	"time"

	"github.com/matrix-org/util"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/agentivy/sentinel/setup/config"
)

var (
	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "webhook",
			Name:      "rate_limit_rejections",
			Help:      "Total number of ingest events dropped by per-sender rate limiting",
		},
		[]string{"endpoint"},
	)
	rateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "webhook",
			Name:      "rate_limit_allowed",
			Help:      "Total number of ingest events allowed by per-sender rate limiting",
		},
		[]string{"endpoint"},
	)
)

var registerRateLimiterMetrics sync.Once

func init() {
	registerRateLimiterMetrics.Do(func() {
		prometheus.MustRegister(rateLimitRejections, rateLimitAllowed)
	})
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimits throttles ingest traffic per sender with a token bucket: a
// sender gets a burst of `threshold` events, refilled over the cooloff
// period. A flooding sender has their overflow dropped while everyone else's
// messages keep being evaluated.
type RateLimits struct {
	limits      map[string]*limiterEntry
	mutex       sync.RWMutex
	enabled     bool
	threshold   int64
	cooloff     time.Duration
	cleanupDone chan struct{}
}

func NewRateLimits(cfg *config.RateLimiting) *RateLimits {
	l := &RateLimits{
		limits:      make(map[string]*limiterEntry),
		enabled:     cfg.Enabled,
		threshold:   cfg.Threshold,
		cooloff:     time.Duration(cfg.CooloffMS) * time.Millisecond,
		cleanupDone: make(chan struct{}),
	}
	if l.enabled {
		go l.clean()
	}
	return l
}

// clean drops limiter entries for senders not seen in the last minute so a
// long-running process does not accumulate one entry per sender ever seen.
func (l *RateLimits) clean() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-l.cleanupDone:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Minute)

			l.mutex.RLock()
			keysToCheck := make([]string, 0, len(l.limits))
			for key := range l.limits {
				keysToCheck = append(keysToCheck, key)
			}
			l.mutex.RUnlock()

			for _, key := range keysToCheck {
				l.mutex.Lock()
				entry, exists := l.limits[key]
				if exists && entry.lastSeen.Before(cutoff) {
					delete(l.limits, key)
				}
				l.mutex.Unlock()
			}
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call multiple times.
func (l *RateLimits) Stop() {
	if l.enabled && l.cleanupDone != nil {
		select {
		case <-l.cleanupDone:
		default:
			close(l.cleanupDone)
		}
	}
}

// Limit reports whether the sender has exhausted their budget. It returns
// nil when the request may proceed, or the 429 response to send back.
func (l *RateLimits) Limit(req *http.Request, sender string) *util.JSONResponse {
	endpoint := endpointLabel(req)

	if !l.enabled {
		rateLimitAllowed.WithLabelValues(endpoint).Inc()
		return nil
	}

	limiter, block := l.getLimiter(sender)
	if block || (limiter != nil && !limiter.Allow()) {
		rateLimitRejections.WithLabelValues(endpoint).Inc()
		return &util.JSONResponse{
			Code: http.StatusTooManyRequests,
			JSON: errorBody{Error: "you are sending too many messages too quickly"},
		}
	}

	rateLimitAllowed.WithLabelValues(endpoint).Inc()
	return nil
}

// getLimiter returns the sender's token bucket, creating it on first sight.
// The refill rate is threshold tokens per cooloff period, with a burst of
// threshold. A non-positive threshold blocks everything; a non-positive
// cooloff disables limiting.
func (l *RateLimits) getLimiter(key string) (*rate.Limiter, bool) {
	if l.threshold <= 0 {
		return nil, true
	}
	if l.cooloff <= 0 {
		return nil, false
	}

	tokensPerSecond := rate.Limit(float64(l.threshold) * float64(time.Second) / float64(l.cooloff))

	l.mutex.Lock()
	defer l.mutex.Unlock()

	entry, ok := l.limits[key]
	if ok {
		entry.lastSeen = time.Now()
		return entry.limiter, false
	}

	limiter := rate.NewLimiter(tokensPerSecond, int(l.threshold))
	l.limits[key] = &limiterEntry{
		limiter:  limiter,
		lastSeen: time.Now(),
	}
	return limiter, false
}

func endpointLabel(req *http.Request) string {
	if req == nil || req.URL == nil {
		return "unknown"
	}
	return req.URL.Path
}
