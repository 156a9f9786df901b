package webhook

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/agentivy/sentinel/moderation"
	"github.com/agentivy/sentinel/scan"
	"github.com/agentivy/sentinel/setup/config"
	"github.com/agentivy/sentinel/store"
)

type fakeProcessor struct {
	decision moderation.Decision
	err      error
	msgs     []moderation.Message
}

func (f *fakeProcessor) ProcessMessage(ctx context.Context, msg moderation.Message) (moderation.Decision, error) {
	f.msgs = append(f.msgs, msg)
	if f.err != nil {
		return moderation.Decision{}, f.err
	}
	return f.decision, nil
}

type fakeScanner struct {
	report    scan.Report
	submitErr error
	pollErr   error
	submitted []scan.Artifact
}

func (f *fakeScanner) Submit(ctx context.Context, a scan.Artifact) (*scan.Job, error) {
	f.submitted = append(f.submitted, a)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &scan.Job{ID: "adhoc-1", Kind: a.Kind, State: scan.StateSubmitted}, nil
}

func (f *fakeScanner) Poll(ctx context.Context, job *scan.Job) (scan.Report, error) {
	if f.pollErr != nil {
		return scan.Report{}, f.pollErr
	}
	return f.report, nil
}

func serverFixture(t *testing.T, processor MessageProcessor, scanner Scanner, cfgStore store.ConfigStore, rl *config.RateLimiting) *httptest.Server {
	t.Helper()
	if rl == nil {
		rl = &config.RateLimiting{} // disabled
	}
	limits := NewRateLimits(rl)
	t.Cleanup(limits.Stop)

	router := NewRouter()
	Setup(router, processor, scanner, cfgStore, limits)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close() // nolint: errcheck
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.String()
}

func TestIngest(t *testing.T) {
	processor := &fakeProcessor{decision: moderation.Decision{
		Action:  moderation.ActionFlag,
		Reasons: []string{moderation.ReasonSpam},
	}}
	srv := serverFixture(t, processor, &fakeScanner{}, store.NewMemoryStore(), nil)

	resp := postJSON(t, srv.URL+"/api/v1/ingest", `{
		"group_id": 42,
		"message_id": 7,
		"sender": "someone",
		"sender_id": 1001,
		"text": "limited offer!!!"
	}`)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "flag", gjson.Get(body, "action").String())
	assert.Equal(t, moderation.ReasonSpam, gjson.Get(body, "reasons.0").String())

	require.Len(t, processor.msgs, 1)
	assert.Equal(t, int64(42), processor.msgs[0].GroupID)
	assert.Equal(t, "someone", processor.msgs[0].Sender)
}

func TestIngestWithAttachment(t *testing.T) {
	processor := &fakeProcessor{decision: moderation.Decision{Action: moderation.ActionAllow}}
	srv := serverFixture(t, processor, &fakeScanner{}, store.NewMemoryStore(), nil)

	// Attachment content travels base64-encoded: "TVo=" is "MZ".
	resp := postJSON(t, srv.URL+"/api/v1/ingest", `{
		"group_id": 42,
		"sender": "someone",
		"attachment": {"filename": "tool.exe", "content": "TVo="}
	}`)
	readBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, processor.msgs, 1)
	require.NotNil(t, processor.msgs[0].Attachment)
	assert.Equal(t, "tool.exe", processor.msgs[0].Attachment.Filename)
	assert.Equal(t, []byte("MZ"), processor.msgs[0].Attachment.Content)
}

func TestIngestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"group_id": `},
		{"missing group", `{"sender": "someone"}`},
		{"missing sender", `{"group_id": 42}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			processor := &fakeProcessor{}
			srv := serverFixture(t, processor, &fakeScanner{}, store.NewMemoryStore(), nil)

			resp := postJSON(t, srv.URL+"/api/v1/ingest", tc.body)
			readBody(t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, processor.msgs)
		})
	}
}

func TestIngestUnknownGroup(t *testing.T) {
	processor := &fakeProcessor{err: fmt.Errorf("reading group policy: %w", store.ErrUnknownGroup)}
	srv := serverFixture(t, processor, &fakeScanner{}, store.NewMemoryStore(), nil)

	resp := postJSON(t, srv.URL+"/api/v1/ingest", `{"group_id": 999, "sender": "x"}`)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateGroupProvisionsTheGroup(t *testing.T) {
	// A fresh store knows no groups; registration over the API is what makes
	// the rest of the surface usable.
	s := store.NewMemoryStore()
	srv := serverFixture(t, &fakeProcessor{decision: moderation.Decision{Action: moderation.ActionAllow}}, &fakeScanner{}, s, nil)

	resp, err := http.Get(srv.URL + "/api/v1/groups/42/history")
	require.NoError(t, err)
	readBody(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/groups", `{"group_id": 42, "name": "demo group", "admin_id": 1001}`)
	readBody(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The group starts with the default policy and is fully addressable.
	policy, err := s.GetPolicy(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, store.SensitivityModerate, policy.SpamSensitivity)

	resp, err = http.Get(srv.URL + "/api/v1/groups/42/history")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = putJSON(t, srv.URL+"/api/v1/groups/42/policy", `{"requester_id": 1001, "auto_delete": true}`)
	readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Registering again is a no-op, not an error.
	resp = postJSON(t, srv.URL+"/api/v1/groups", `{"group_id": 42, "name": "demo group", "admin_id": 1001}`)
	readBody(t, resp)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	policy, err = s.GetPolicy(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, policy.AutoDelete, "re-registration must not reset policy")
}

func TestCreateGroupValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"group_id": `},
		{"missing group", `{"name": "g", "admin_id": 1001}`},
		{"missing admin", `{"group_id": 42, "name": "g"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			srv := serverFixture(t, &fakeProcessor{}, &fakeScanner{}, s, nil)

			resp := postJSON(t, srv.URL+"/api/v1/groups", tc.body)
			readBody(t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestIngestRateLimitsPerSender(t *testing.T) {
	processor := &fakeProcessor{decision: moderation.Decision{Action: moderation.ActionAllow}}
	srv := serverFixture(t, processor, &fakeScanner{}, store.NewMemoryStore(), &config.RateLimiting{
		Enabled:   true,
		Threshold: 2,
		CooloffMS: int64(time.Hour / time.Millisecond),
	})

	send := func(senderID int64) int {
		resp := postJSON(t, srv.URL+"/api/v1/ingest",
			fmt.Sprintf(`{"group_id": 42, "sender": "s", "sender_id": %d}`, senderID))
		readBody(t, resp)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, send(1001))
	assert.Equal(t, http.StatusOK, send(1001))
	assert.Equal(t, http.StatusTooManyRequests, send(1001))

	// Another sender still has their own budget.
	assert.Equal(t, http.StatusOK, send(2002))

	assert.Len(t, processor.msgs, 3, "throttled messages never reach the pipeline")
}

func TestScanURL(t *testing.T) {
	scanner := &fakeScanner{report: scan.Report{Verdict: scan.Verdict{
		Malicious:    6,
		Harmless:     4,
		TotalEngines: 10,
		FlaggedRatio: 0.6,
	}}}
	srv := serverFixture(t, &fakeProcessor{}, scanner, store.NewMemoryStore(), nil)

	resp := postJSON(t, srv.URL+"/api/v1/scan/url", `{"url": "https://evil.example"}`)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, gjson.Get(body, "hit").Bool())
	assert.Equal(t, int64(6), gjson.Get(body, "malicious").Int())
	assert.Equal(t, 0.6, gjson.Get(body, "flagged_ratio").Float())

	require.Len(t, scanner.submitted, 1)
	assert.Equal(t, scan.ArtifactURL, scanner.submitted[0].Kind)
	assert.Equal(t, "https://evil.example", scanner.submitted[0].URL)
}

func TestScanURLFailureCodes(t *testing.T) {
	tests := []struct {
		name      string
		submitErr error
		pollErr   error
		wantCode  int
	}{
		{
			name:      "unsupported type is the caller's mistake",
			submitErr: fmt.Errorf("%q: %w", "xyz", scan.ErrUnsupportedType),
			wantCode:  http.StatusBadRequest,
		},
		{
			name:     "poll timeout",
			pollErr:  fmt.Errorf("job adhoc-1 after 20 attempts: %w", scan.ErrTimedOut),
			wantCode: http.StatusGatewayTimeout,
		},
		{
			name:      "upstream transport failure",
			submitErr: fmt.Errorf("submitting artifact: %w", scan.ErrTransport),
			wantCode:  http.StatusBadGateway,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scanner := &fakeScanner{submitErr: tc.submitErr, pollErr: tc.pollErr}
			srv := serverFixture(t, &fakeProcessor{}, scanner, store.NewMemoryStore(), nil)

			resp := postJSON(t, srv.URL+"/api/v1/scan/url", `{"url": "https://somewhere.example"}`)
			readBody(t, resp)
			assert.Equal(t, tc.wantCode, resp.StatusCode)
		})
	}
}

func TestScanFile(t *testing.T) {
	scanner := &fakeScanner{report: scan.Report{Verdict: scan.Verdict{
		Harmless:     10,
		TotalEngines: 10,
	}}}
	srv := serverFixture(t, &fakeProcessor{}, scanner, store.NewMemoryStore(), nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(srv.URL+"/api/v1/scan/file", w.FormDataContentType(), &buf)
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, gjson.Get(body, "hit").Bool())

	require.Len(t, scanner.submitted, 1)
	assert.Equal(t, scan.ArtifactFile, scanner.submitted[0].Kind)
	assert.Equal(t, "report.pdf", scanner.submitted[0].Filename)
	assert.Equal(t, []byte("%PDF-1.4"), scanner.submitted[0].Content)
}

func TestScanFileWithoutUpload(t *testing.T) {
	srv := serverFixture(t, &fakeProcessor{}, &fakeScanner{}, store.NewMemoryStore(), nil)

	resp := postJSON(t, srv.URL+"/api/v1/scan/file", `{}`)
	readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateGroup(ctx, 42, "g", 1001))
	require.NoError(t, s.AppendLog(ctx, 42, store.LogEntry{Action: "Removed", User: "spammer", MessageExcerpt: "first"}))
	require.NoError(t, s.AppendLog(ctx, 42, store.LogEntry{Action: "Flagged", User: "someone", MessageExcerpt: "second"}))
	srv := serverFixture(t, &fakeProcessor{}, &fakeScanner{}, s, nil)

	resp, err := http.Get(srv.URL + "/api/v1/groups/42/history")
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	entries := gjson.Get(body, "entries").Array()
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "Flagged", entries[0].Get("action").String())
	assert.Equal(t, "Removed", entries[1].Get("action").String())
}

func TestHistoryErrors(t *testing.T) {
	srv := serverFixture(t, &fakeProcessor{}, &fakeScanner{}, store.NewMemoryStore(), nil)

	resp, err := http.Get(srv.URL + "/api/v1/groups/999/history")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/groups/not-a-number/history")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func putJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestUpdatePolicy(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateGroup(ctx, 42, "g", 1001))
	srv := serverFixture(t, &fakeProcessor{}, &fakeScanner{}, s, nil)

	resp := putJSON(t, srv.URL+"/api/v1/groups/42/policy", `{
		"requester_id": 1001,
		"auto_delete": true,
		"sensitivity": "high",
		"add_blacklist_keyword": "airdrop"
	}`)
	readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	policy, err := s.GetPolicy(ctx, 42)
	require.NoError(t, err)
	assert.True(t, policy.AutoDelete)
	assert.Equal(t, store.SensitivityHigh, policy.SpamSensitivity)
	assert.Equal(t, []string{"airdrop"}, policy.BlacklistKeywords)
}

func TestUpdatePolicyAuthz(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateGroup(ctx, 42, "g", 1001))
	require.NoError(t, s.UpdatePolicy(ctx, 42, store.PolicyUpdate{AddModerator: "alice"}))
	srv := serverFixture(t, &fakeProcessor{}, &fakeScanner{}, s, nil)

	// A stranger may not touch policy.
	resp := putJSON(t, srv.URL+"/api/v1/groups/42/policy", `{"requester_id": 555, "auto_delete": true}`)
	readBody(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	policy, err := s.GetPolicy(ctx, 42)
	require.NoError(t, err)
	assert.False(t, policy.AutoDelete)

	// A moderator may.
	resp = putJSON(t, srv.URL+"/api/v1/groups/42/policy", `{
		"requester_username": "alice",
		"pause_scan": true
	}`)
	readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	policy, err = s.GetPolicy(ctx, 42)
	require.NoError(t, err)
	assert.True(t, policy.PauseScan)
}

func TestUpdatePolicyValidation(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateGroup(context.Background(), 42, "g", 1001))
	srv := serverFixture(t, &fakeProcessor{}, &fakeScanner{}, s, nil)

	resp := putJSON(t, srv.URL+"/api/v1/groups/42/policy", `{"requester_id": 1001, "sensitivity": "extreme"}`)
	readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = putJSON(t, srv.URL+"/api/v1/groups/999/policy", `{"requester_id": 1001}`)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := serverFixture(t, &fakeProcessor{}, &fakeScanner{}, store.NewMemoryStore(), nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "sentinel_")
}
