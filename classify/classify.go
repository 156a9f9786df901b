package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/agentivy/sentinel/setup/config"
)

// Scorer rates how spammy a piece of text is, in [0,1]. The model behind it
// lives in its own process; this side only ever sees scores.
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// HTTPScorer talks to the classifier's scoring endpoint.
type HTTPScorer struct {
	client   *http.Client
	scoreURL string
}

func NewHTTPScorer(cfg *config.Classifier) *HTTPScorer {
	return &HTTPScorer{
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
		scoreURL: cfg.ScoreURL,
	}
}

func (s *HTTPScorer) Score(ctx context.Context, text string) (float64, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return 0, fmt.Errorf("encoding score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.scoreURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("scoring text: %w", err)
	}
	defer resp.Body.Close() // nolint: errcheck
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("classifier returned HTTP %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading score response: %w", err)
	}

	score := gjson.GetBytes(raw, "score")
	if !score.Exists() {
		return 0, fmt.Errorf("classifier response has no score field")
	}
	v := score.Float()
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("classifier score %v out of range", v)
	}
	return v, nil
}
