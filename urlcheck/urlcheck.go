package urlcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/agentivy/sentinel/setup/config"
)

// threatTypes is everything we ask the reputation service about.
var threatTypes = []string{
	"MALWARE",
	"SOCIAL_ENGINEERING",
	"UNWANTED_SOFTWARE",
	"POTENTIALLY_HARMFUL_APPLICATION",
	"THREAT_TYPE_UNSPECIFIED",
}

type lookupRequest struct {
	Client struct {
		ClientID      string `json:"clientId"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
	ThreatInfo struct {
		ThreatTypes      []string `json:"threatTypes"`
		PlatformTypes    []string `json:"platformTypes"`
		ThreatEntryTypes []string `json:"threatEntryTypes"`
		ThreatEntries    []struct {
			URL string `json:"url"`
		} `json:"threatEntries"`
	} `json:"threatInfo"`
}

// Checker looks URLs up against a Safe Browsing-shaped reputation service.
// Clean verdicts are cached for a short TTL so a link pasted repeatedly into
// a busy group does not hammer the service; threats are always re-fetched.
type Checker struct {
	client *http.Client
	apiURL string
	cache  *gocache.Cache
}

func NewChecker(cfg *config.URLCheck) *Checker {
	ttl := time.Duration(cfg.CleanCacheTTLSeconds) * time.Second
	return &Checker{
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
		apiURL: cfg.APIURL + "?key=" + cfg.APIKey,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// Check returns the threat types matched for the given URL; an empty slice
// means the URL is clean.
func (c *Checker) Check(ctx context.Context, link string) ([]string, error) {
	if _, found := c.cache.Get(link); found {
		return nil, nil
	}

	payload := lookupRequest{}
	payload.Client.ClientID = "sentinel"
	payload.Client.ClientVersion = "0.1"
	payload.ThreatInfo.ThreatTypes = threatTypes
	payload.ThreatInfo.PlatformTypes = []string{"ANY_PLATFORM"}
	payload.ThreatInfo.ThreatEntryTypes = []string{"URL"}
	payload.ThreatInfo.ThreatEntries = []struct {
		URL string `json:"url"`
	}{{URL: link}}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding lookup: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building lookup: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("url reputation lookup: %w", err)
	}
	defer resp.Body.Close() // nolint: errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("url reputation lookup returned HTTP %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading lookup response: %w", err)
	}

	var threats []string
	for _, match := range gjson.GetBytes(raw, "matches").Array() {
		if threat := match.Get("threatType").String(); threat != "" {
			threats = append(threats, threat)
		}
	}
	if len(threats) == 0 {
		c.cache.SetDefault(link, struct{}{})
		return nil, nil
	}

	log.WithFields(log.Fields{
		"url":     link,
		"threats": threats,
	}).Info("URL flagged by reputation service")
	return threats, nil
}
