package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/matrix-org/util"

	"github.com/agentivy/sentinel/moderation"
	"github.com/agentivy/sentinel/scan"
	"github.com/agentivy/sentinel/store"
)

type createGroupRequest struct {
	GroupID int64  `json:"group_id"`
	Name    string `json:"name"`
	AdminID int64  `json:"admin_id"`
}

// CreateGroup registers a group so its messages can be moderated. The group
// starts with the default policy; registering twice is harmless.
func CreateGroup(req *http.Request, cfgStore store.ConfigStore) util.JSONResponse {
	var body createGroupRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "invalid group payload"}}
	}
	if body.GroupID == 0 {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "group_id is required"}}
	}
	if body.AdminID == 0 {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "admin_id is required"}}
	}

	if err := cfgStore.CreateGroup(req.Context(), body.GroupID, body.Name, body.AdminID); err != nil {
		util.GetLogger(req.Context()).WithError(err).Error("CreateGroup failed")
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: errorBody{Error: "internal server error"}}
	}
	return util.JSONResponse{Code: http.StatusCreated, JSON: struct{}{}}
}

type ingestRequest struct {
	GroupID    int64             `json:"group_id"`
	MessageID  int64             `json:"message_id"`
	Sender     string            `json:"sender"`
	SenderID   int64             `json:"sender_id"`
	Text       string            `json:"text"`
	Attachment *ingestAttachment `json:"attachment,omitempty"`
}

type ingestAttachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

type decisionResponse struct {
	Action  moderation.Action `json:"action"`
	Reasons []string          `json:"reasons,omitempty"`
}

// Ingest runs one inbound message through the full pipeline and reports the
// decision taken. Senders over their rate budget get a 429 and the message
// is dropped, not queued.
func Ingest(req *http.Request, processor MessageProcessor, limits *RateLimits) util.JSONResponse {
	var body ingestRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "invalid ingest payload"}}
	}
	if body.GroupID == 0 {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "group_id is required"}}
	}
	if body.Sender == "" {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "sender is required"}}
	}

	sender := body.Sender
	if body.SenderID != 0 {
		sender = strconv.FormatInt(body.SenderID, 10)
	}
	if resp := limits.Limit(req, sender); resp != nil {
		return *resp
	}

	msg := moderation.Message{
		GroupID:   body.GroupID,
		MessageID: body.MessageID,
		Sender:    body.Sender,
		SenderID:  body.SenderID,
		Text:      body.Text,
	}
	if body.Attachment != nil {
		msg.Attachment = &moderation.Attachment{
			Filename: body.Attachment.Filename,
			Content:  body.Attachment.Content,
		}
	}

	decision, err := processor.ProcessMessage(req.Context(), msg)
	if err != nil {
		if errors.Is(err, store.ErrUnknownGroup) {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: errorBody{Error: "group is not registered"}}
		}
		util.GetLogger(req.Context()).WithError(err).Error("ProcessMessage failed")
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: errorBody{Error: "internal server error"}}
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: decisionResponse{
		Action:  decision.Action,
		Reasons: decision.Reasons,
	}}
}

type scanURLRequest struct {
	URL string `json:"url"`
}

type scanReportResponse struct {
	Malicious    int     `json:"malicious"`
	Suspicious   int     `json:"suspicious"`
	Harmless     int     `json:"harmless"`
	Undetected   int     `json:"undetected"`
	TotalEngines int     `json:"total_engines"`
	FlaggedRatio float64 `json:"flagged_ratio"`
	Hit          bool    `json:"hit"`
	SHA256       string  `json:"sha256,omitempty"`
}

// ScanURL submits a single URL for an ad-hoc scan and waits for the verdict.
func ScanURL(req *http.Request, scanner Scanner) util.JSONResponse {
	var body scanURLRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "invalid scan payload"}}
	}
	if body.URL == "" {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "url is required"}}
	}
	return runScan(req, scanner, scan.Artifact{Kind: scan.ArtifactURL, URL: body.URL})
}

// ScanFile accepts a multipart upload under the "file" field and runs it
// through an ad-hoc scan.
func ScanFile(req *http.Request, scanner Scanner) util.JSONResponse {
	file, header, err := req.FormFile("file")
	if err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "multipart upload with a \"file\" field is required"}}
	}
	defer file.Close() // nolint: errcheck

	content, err := io.ReadAll(file)
	if err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "reading upload failed"}}
	}
	return runScan(req, scanner, scan.Artifact{
		Kind:     scan.ArtifactFile,
		Filename: header.Filename,
		Content:  content,
	})
}

func runScan(req *http.Request, scanner Scanner, a scan.Artifact) util.JSONResponse {
	job, err := scanner.Submit(req.Context(), a)
	if err != nil {
		return scanFailure(req, err)
	}
	report, err := scanner.Poll(req.Context(), job)
	if err != nil {
		return scanFailure(req, err)
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: scanReportResponse{
		Malicious:    report.Verdict.Malicious,
		Suspicious:   report.Verdict.Suspicious,
		Harmless:     report.Verdict.Harmless,
		Undetected:   report.Verdict.Undetected,
		TotalEngines: report.Verdict.TotalEngines,
		FlaggedRatio: report.Verdict.FlaggedRatio,
		Hit:          report.Verdict.Hit(),
		SHA256:       report.FileInfo.SHA256,
	}}
}

// scanFailure maps scan errors to HTTP codes: caller mistakes are 400s,
// the upstream running out of time is a 504, anything else is a 502.
func scanFailure(req *http.Request, err error) util.JSONResponse {
	switch {
	case scan.UserActionable(err):
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: err.Error()}}
	case errors.Is(err, scan.ErrTimedOut):
		return util.JSONResponse{Code: http.StatusGatewayTimeout, JSON: errorBody{Error: "scan did not complete in time"}}
	default:
		util.GetLogger(req.Context()).WithError(err).Error("Ad-hoc scan failed")
		return util.JSONResponse{Code: http.StatusBadGateway, JSON: errorBody{Error: "scanning service unavailable"}}
	}
}

type historyEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	Action         string    `json:"action"`
	User           string    `json:"user"`
	MessageExcerpt string    `json:"message_excerpt"`
}

type historyResponse struct {
	Entries []historyEntry `json:"entries"`
}

// History returns a group's moderation log, newest first.
func History(req *http.Request, audit store.AuditLog) util.JSONResponse {
	groupID, resp := groupIDFrom(req)
	if resp != nil {
		return *resp
	}

	entries, err := audit.History(req.Context(), groupID)
	if err != nil {
		if errors.Is(err, store.ErrUnknownGroup) {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: errorBody{Error: "group is not registered"}}
		}
		util.GetLogger(req.Context()).WithError(err).Error("History failed")
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: errorBody{Error: "internal server error"}}
	}

	out := historyResponse{Entries: make([]historyEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, historyEntry{
			Timestamp:      e.Timestamp,
			Action:         e.Action,
			User:           e.User,
			MessageExcerpt: e.MessageExcerpt,
		})
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: out}
}

type policyUpdateRequest struct {
	RequesterID       int64  `json:"requester_id"`
	RequesterUsername string `json:"requester_username"`

	AutoDelete   *bool   `json:"auto_delete,omitempty"`
	NotifyAdmins *bool   `json:"notify_admins,omitempty"`
	NotifyUsers  *bool   `json:"notify_users,omitempty"`
	PauseScan    *bool   `json:"pause_scan,omitempty"`
	Sensitivity  *string `json:"sensitivity,omitempty"`

	AddBlacklistUser       string `json:"add_blacklist_user,omitempty"`
	RemoveBlacklistUser    string `json:"remove_blacklist_user,omitempty"`
	AddBlacklistKeyword    string `json:"add_blacklist_keyword,omitempty"`
	RemoveBlacklistKeyword string `json:"remove_blacklist_keyword,omitempty"`
	AddWhitelistUser       string `json:"add_whitelist_user,omitempty"`
	AddModerator           string `json:"add_moderator,omitempty"`
	AddSkipFileExt         string `json:"add_skip_file_ext,omitempty"`
	AddSkipURLPrefix       string `json:"add_skip_url_prefix,omitempty"`
}

// UpdatePolicy applies a field-wise policy change. Only the group's admin or
// one of its moderators may change policy.
func UpdatePolicy(req *http.Request, cfgStore store.ConfigStore) util.JSONResponse {
	groupID, resp := groupIDFrom(req)
	if resp != nil {
		return *resp
	}

	var body policyUpdateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "invalid policy payload"}}
	}

	allowed, err := cfgStore.IsAdmin(req.Context(), groupID, body.RequesterID)
	if err != nil {
		if errors.Is(err, store.ErrUnknownGroup) {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: errorBody{Error: "group is not registered"}}
		}
		util.GetLogger(req.Context()).WithError(err).Error("IsAdmin failed")
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: errorBody{Error: "internal server error"}}
	}
	if !allowed && body.RequesterUsername != "" {
		allowed, err = cfgStore.IsModerator(req.Context(), groupID, body.RequesterUsername)
		if err != nil {
			util.GetLogger(req.Context()).WithError(err).Error("IsModerator failed")
			return util.JSONResponse{Code: http.StatusInternalServerError, JSON: errorBody{Error: "internal server error"}}
		}
	}
	if !allowed {
		return util.JSONResponse{Code: http.StatusForbidden, JSON: errorBody{Error: "only the group admin or a moderator may change policy"}}
	}

	update := store.PolicyUpdate{
		AutoDelete:   body.AutoDelete,
		NotifyAdmins: body.NotifyAdmins,
		NotifyUsers:  body.NotifyUsers,
		PauseScan:    body.PauseScan,

		AddBlacklistUser:       body.AddBlacklistUser,
		RemoveBlacklistUser:    body.RemoveBlacklistUser,
		AddBlacklistKeyword:    body.AddBlacklistKeyword,
		RemoveBlacklistKeyword: body.RemoveBlacklistKeyword,
		AddWhitelistUser:       body.AddWhitelistUser,
		AddModerator:           body.AddModerator,
		AddSkipFileExt:         body.AddSkipFileExt,
		AddSkipURLPrefix:       body.AddSkipURLPrefix,
	}
	if body.Sensitivity != nil {
		s := store.Sensitivity(*body.Sensitivity)
		if !s.Valid() {
			return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "sensitivity must be low, moderate or high"}}
		}
		update.Sensitivity = &s
	}

	if err := cfgStore.UpdatePolicy(req.Context(), groupID, update); err != nil {
		util.GetLogger(req.Context()).WithError(err).Error("UpdatePolicy failed")
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: errorBody{Error: "internal server error"}}
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: struct{}{}}
}

func groupIDFrom(req *http.Request) (int64, *util.JSONResponse) {
	raw := mux.Vars(req)["groupID"]
	groupID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &util.JSONResponse{Code: http.StatusBadRequest, JSON: errorBody{Error: "groupID must be an integer"}}
	}
	return groupID, nil
}
