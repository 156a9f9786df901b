package scan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/agentivy/sentinel/internal/hashutil"
	"github.com/agentivy/sentinel/internal/quota"
	"github.com/agentivy/sentinel/setup/config"
)

var scanOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "scan",
		Name:      "outcomes_total",
		Help:      "Total number of scan jobs by terminal outcome",
	},
	[]string{"outcome"},
)

var registerScanMetrics sync.Once

func init() {
	registerScanMetrics.Do(func() {
		prometheus.MustRegister(scanOutcomes)
	})
}

// Gateway talks to the external file/URL scanning service. Submissions are
// funnelled through the quota limiter; polling for results is free and goes
// straight out.
type Gateway struct {
	client          *http.Client
	baseURL         string
	apiKey          string
	limiter         *quota.Limiter
	maxFileSize     int64
	pollMaxAttempts int
	pollDelay       time.Duration
}

func NewGateway(cfg *config.Scan, limiter *quota.Limiter) *Gateway {
	return &Gateway{
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		limiter:         limiter,
		maxFileSize:     cfg.MaxFileSizeBytes,
		pollMaxAttempts: cfg.PollMaxAttempts,
		pollDelay:       time.Duration(cfg.PollDelaySeconds) * time.Second,
	}
}

// Submit validates the artifact, then sends it to the scanning service via
// the quota limiter and returns the job handle to poll with. Validation
// failures (unsupported type, encrypted archive, oversize) are detected
// locally and never consume quota.
func (g *Gateway) Submit(ctx context.Context, a Artifact) (*Job, error) {
	if !Accepted(a) {
		return nil, fmt.Errorf("%q: %w", a.Ext(), ErrUnsupportedType)
	}

	var hashes hashutil.Hashes
	ref := a.URL
	if a.Kind == ArtifactFile {
		if g.maxFileSize > 0 && int64(len(a.Content)) > g.maxFileSize {
			return nil, fmt.Errorf("%d bytes exceeds the %d byte scan limit: %w",
				len(a.Content), g.maxFileSize, ErrUnsupportedType)
		}
		if ArchiveEncrypted(a) {
			return nil, fmt.Errorf("%q: %w", a.Filename, ErrPasswordProtected)
		}
		hashes = hashutil.SumBytes(a.Content)
		ref = a.Filename
	}

	v, err := g.limiter.Submit(ctx, string(a.Kind), func(ctx context.Context) (interface{}, error) {
		if a.Kind == ArtifactURL {
			return g.submitURL(ctx, a.URL)
		}
		return g.submitFile(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:          v.(string),
		Kind:        a.Kind,
		ArtifactRef: ref,
		Hashes:      hashes,
		State:       StateSubmitted,
		SubmittedAt: time.Now(),
	}
	log.WithFields(log.Fields{
		"job_id":   job.ID,
		"kind":     job.Kind,
		"artifact": job.ArtifactRef,
	}).Debug("Artifact submitted for scanning")
	return job, nil
}

func (g *Gateway) submitFile(ctx context.Context, a Artifact) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", a.Filename)
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if _, err = part.Write(a.Content); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if err = w.Close(); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return g.analysisID(req)
}

func (g *Gateway) submitURL(ctx context.Context, target string) (string, error) {
	form := url.Values{"url": {target}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/urls",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building url submission: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return g.analysisID(req)
}

// analysisID executes a submission request and pulls the job handle out of
// the response.
func (g *Gateway) analysisID(req *http.Request) (string, error) {
	req.Header.Set("x-apikey", g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting artifact: %w: %v", ErrTransport, err)
	}
	defer resp.Body.Close() // nolint: errcheck
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading submission response: %w: %v", ErrTransport, err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("submission returned HTTP %d: %w", resp.StatusCode, ErrTransport)
	}
	id := gjson.GetBytes(raw, "data.id").String()
	if id == "" {
		return "", fmt.Errorf("submission response has no analysis id: %w", ErrMalformedReport)
	}
	return id, nil
}

// Poll asks the scanning service for the job's analysis until it reports
// completed, short-circuiting on the first completed answer. It drives the
// job's state machine: Completed on success, TimedOut when the attempt
// budget runs out, Failed on transport or payload problems.
func (g *Gateway) Poll(ctx context.Context, job *Job) (Report, error) {
	if job.State.Terminal() {
		return Report{}, fmt.Errorf("scan job %s already finished as %s", job.ID, job.State)
	}

	for attempt := 0; attempt < g.pollMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				_ = job.advance(StateFailed)
				return Report{}, ctx.Err()
			case <-time.After(g.pollDelay):
			}
		}

		job.Attempts++
		raw, err := g.fetchAnalysis(ctx, job.ID)
		if err != nil {
			_ = job.advance(StateFailed)
			scanOutcomes.WithLabelValues("transport_error").Inc()
			return Report{}, err
		}

		status := gjson.GetBytes(raw, "data.attributes.status").String()
		if status != "completed" {
			_ = job.advance(StatePolling)
			log.WithFields(log.Fields{
				"job_id":  job.ID,
				"attempt": job.Attempts,
				"status":  status,
			}).Debug("Analysis not ready yet")
			continue
		}

		report, err := g.completedReport(job, raw)
		if err != nil {
			_ = job.advance(StateFailed)
			scanOutcomes.WithLabelValues("malformed").Inc()
			return Report{}, err
		}
		_ = job.advance(StateCompleted)
		scanOutcomes.WithLabelValues("completed").Inc()
		return report, nil
	}

	_ = job.advance(StateTimedOut)
	scanOutcomes.WithLabelValues("timed_out").Inc()
	return Report{}, fmt.Errorf("job %s after %d attempts: %w", job.ID, job.Attempts, ErrTimedOut)
}

func (g *Gateway) fetchAnalysis(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/analyses/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("building poll request: %w", err)
	}
	req.Header.Set("x-apikey", g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling analysis: %w: %v", ErrTransport, err)
	}
	defer resp.Body.Close() // nolint: errcheck
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("poll returned HTTP %d: %w", resp.StatusCode, ErrTransport)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading poll response: %w: %v", ErrTransport, err)
	}
	return raw, nil
}

// completedReport normalizes a completed payload and cross-checks the
// reported digests against what we submitted. A digest mismatch means the
// report describes some other object, so it is treated as malformed.
func (g *Gateway) completedReport(job *Job, raw []byte) (Report, error) {
	verdict, err := Normalize(raw)
	if err != nil {
		return Report{}, err
	}
	md5sum, sha1sum, sha256sum := reportFileInfo(raw)
	if job.Kind == ArtifactFile && sha256sum != "" && job.Hashes.SHA256 != "" && sha256sum != job.Hashes.SHA256 {
		return Report{}, fmt.Errorf("report sha256 %s does not match submitted artifact: %w",
			sha256sum, ErrMalformedReport)
	}
	return Report{
		Verdict:  verdict,
		FileInfo: hashutil.Hashes{MD5: md5sum, SHA1: sha1sum, SHA256: sha256sum},
	}, nil
}
